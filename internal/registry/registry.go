// Package registry implements the service discovery and selection fabric: a
// singleton registry of remote STT/TTS/LLM backends, continuously probed for
// liveness in parallel, serving best-of-capability lookups to the
// orchestrator and speech agent.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mrwong99/lokutor/internal/observe"
)

// Capability identifies one of the service kinds the registry tracks.
type Capability string

const (
	CapabilitySTT Capability = "STT"
	CapabilityTTS Capability = "TTS"
	CapabilityLLM Capability = "LLM"

	// CapabilityWakeWord completes the capability enumeration. Wake-word
	// engines are local model files constructed directly at startup rather
	// than listed in the remote-service manifest,
	// but deployments with a networked detector may register one here.
	CapabilityWakeWord Capability = "WAKEWORD"
)

// Prober is implemented by any service adapter capable of a liveness check.
// pkg/provider/{llm,stt,tts}.Provider all satisfy this.
type Prober interface {
	CheckAvailability(ctx context.Context) bool
	ConfigString() string
}

// Record is one tracked service definition together with its most recently
// observed liveness. Available reflects the result of the most recent
// completed probe round; it is stale between rounds by design.
type Record struct {
	Name       string
	Capability Capability
	Priority   int
	Instance   Prober
	Endpoint   string
	Available  bool

	insertionOrder int
}

// probeTimeout bounds the generic TCP-connect default probe.
const probeTimeout = 2 * time.Second

// probeInterval is the background scanner's re-probe cadence.
const probeInterval = 3 * time.Second

// Registry is the singleton service discovery fabric. The zero value is not
// usable; construct with [New]. Registry is safe for concurrent use: the
// records map is guarded by mu, probe goroutines read definitions without
// the lock and write results with it.
type Registry struct {
	logger  *slog.Logger
	metrics *observe.Metrics

	mu      sync.Mutex
	records map[string]*Record // keyed by capability+name

	stop      chan struct{}
	scanDone  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

var (
	instance     *Registry
	instanceOnce sync.Once
)

// New constructs a Registry with no services registered. Prefer [Get] for
// the process-wide singleton instance; New exists for tests that need an
// isolated registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		records: make(map[string]*Record),
	}
}

// Get returns the process-wide Registry singleton, constructing it on first
// call with double-checked initialization.
func Get(logger *slog.Logger) *Registry {
	instanceOnce.Do(func() {
		instance = New(logger)
	})
	return instance
}

// SetMetrics attaches a metrics instance. Probe outcomes and availability
// transitions are recorded against it. Must be called before Start.
func (r *Registry) SetMetrics(m *observe.Metrics) { r.metrics = m }

// Register adds a service definition. Must be called before Start; entries
// registered after Start will not be probed until the registry is restarted.
func (r *Registry) Register(capability Capability, name string, priority int, instance Prober, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := recordKey(capability, name)
	r.records[key] = &Record{
		Name:           name,
		Capability:     capability,
		Priority:       priority,
		Instance:       instance,
		Endpoint:       endpoint,
		insertionOrder: len(r.records),
	}
}

func recordKey(capability Capability, name string) string {
	return string(capability) + "/" + name
}

// Start performs one synchronous round of probes, then launches a background
// scanner that re-probes every [probeInterval]. Idempotent: calling Start
// more than once has no additional effect.
func (r *Registry) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.probeRound(ctx)

		r.stop = make(chan struct{})
		r.scanDone = make(chan struct{})
		go r.scanLoop(ctx)
	})
}

func (r *Registry) scanLoop(ctx context.Context) {
	defer close(r.scanDone)
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probeRound(ctx)
		}
	}
}

// probeRound executes all probes concurrently (one goroutine per service)
// and updates the map under the lock, one atomic write per service.
func (r *Registry) probeRound(ctx context.Context) {
	r.mu.Lock()
	snapshot := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		snapshot = append(snapshot, rec)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, rec := range snapshot {
		wg.Go(func() {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			available := rec.Instance.CheckAvailability(probeCtx)

			changed := false
			r.mu.Lock()
			if cur, ok := r.records[recordKey(rec.Capability, rec.Name)]; ok {
				changed = cur.Available != available
				cur.Available = available
			}
			r.mu.Unlock()

			if changed {
				r.logger.Info("service availability changed",
					"capability", rec.Capability, "name", rec.Name, "available", available)
			}
			if r.metrics != nil {
				status := "up"
				if !available {
					status = "down"
					r.metrics.RecordProviderError(ctx, string(rec.Capability), rec.Name)
				}
				r.metrics.RecordProviderRequest(ctx, string(rec.Capability), rec.Name, status)
				if changed {
					delta := int64(1)
					if !available {
						delta = -1
					}
					r.metrics.SetAvailableServices(ctx, string(rec.Capability), delta)
				}
			}
		})
	}
	wg.Wait()
}

// Stop signals the background scanner and awaits its exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		if r.stop == nil {
			return
		}
		close(r.stop)
		<-r.scanDone
	})
}

// ErrNoneAvailable is logged (not returned) when [Registry.Best] finds no
// available record for a capability before terminating the process; exposed
// for tests that want to assert on the fatal path without calling os.Exit.
type ErrNoneAvailable struct {
	Capability Capability
	Table      string
}

func (e *ErrNoneAvailable) Error() string {
	return fmt.Sprintf("registry: no available %s provider\n%s", e.Capability, e.Table)
}

// Best returns the highest-priority available record for capability, ties
// broken by insertion order. If none is available, it logs the status table
// and terminates the process — the assistant has no meaningful
// degraded mode without its remote brains.
func (r *Registry) Best(capability Capability) Prober {
	rec, err := r.bestRecord(capability)
	if err != nil {
		r.logger.Error("no available provider for capability, terminating", "capability", capability)
		fmt.Fprintln(os.Stderr, err.Error())
		fmt.Fprintln(os.Stderr, "bring up local services with the docker compose stack and retry")
		os.Exit(1)
	}
	return rec.Instance
}

// BestAs resolves the best available instance for capability and asserts it
// to T, the concrete provider interface (e.g. llm.Provider, tts.Provider)
// the caller needs. Panics if the registered instance does not implement T
// — a programmer error (manifest entries are registered with the matching
// adapter type), not a runtime condition callers should recover from.
func BestAs[T any](r *Registry, capability Capability) T {
	instance := r.Best(capability)
	typed, ok := instance.(T)
	if !ok {
		panic(fmt.Sprintf("registry: %s instance %T does not implement requested interface", capability, instance))
	}
	return typed
}

// Available reports whether capability currently has at least one available
// record, without the fatal Best exit path — used by readiness checks that
// want to surface a degraded dependency over HTTP rather than terminate the
// process.
func (r *Registry) Available(capability Capability) bool {
	_, err := r.bestRecord(capability)
	return err == nil
}

// bestRecord is Best's non-fatal core, used directly by tests.
func (r *Registry) bestRecord(capability Capability) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*Record
	for _, rec := range r.records {
		if rec.Capability == capability {
			candidates = append(candidates, rec)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].insertionOrder < candidates[j].insertionOrder
	})

	for _, rec := range candidates {
		if rec.Available {
			return rec, nil
		}
	}
	return nil, &ErrNoneAvailable{Capability: capability, Table: r.statusTableLocked()}
}

// StatusTable renders the current state of every registered service as a
// human-readable table, used in the fatal diagnostic and available for
// operator-facing health checks.
func (r *Registry) StatusTable() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusTableLocked()
}

func (r *Registry) statusTableLocked() string {
	records := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Capability != records[j].Capability {
			return records[i].Capability < records[j].Capability
		}
		if records[i].Priority != records[j].Priority {
			return records[i].Priority > records[j].Priority
		}
		return records[i].insertionOrder < records[j].insertionOrder
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %-20s %-8s %-9s %-30s\n", "CAP", "NAME", "PRIORITY", "AVAILABLE", "ENDPOINT")
	for _, rec := range records {
		fmt.Fprintf(&b, "%-5s %-20s %-8d %-9v %-30s\n", rec.Capability, rec.Name, rec.Priority, rec.Available, rec.Endpoint)
	}
	return b.String()
}

// DefaultTCPProbe returns a [Prober]-compatible availability check that
// opens a TCP connection to host:port with a [probeTimeout] deadline;
// success means reachable. Adapters embed this for the generic probe
// contract and override CheckAvailability when they need the stronger
// 200-OK or model-presence checks.
func DefaultTCPProbe(ctx context.Context, hostport string) bool {
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
