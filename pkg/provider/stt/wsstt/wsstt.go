// Package wsstt implements an [stt.Provider] over a WebSocket recognizer
// wire contract: binary frames carry raw little-endian
// int16 PCM, the server emits JSON messages with a "text" field and anything
// else is ignored. A dedicated sender goroutine forwards captured frames as
// binary WebSocket frames; a receiver goroutine parses server JSON, strips
// known hallucination phrases, and republishes successive deltas.
package wsstt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/mrwong99/lokutor/internal/registry"
	"github.com/mrwong99/lokutor/internal/resilience"
	"github.com/mrwong99/lokutor/pkg/provider/stt"
	"github.com/mrwong99/lokutor/pkg/types"
)

// minResidualLength is the length (in runes) a cleaned transcript must
// exceed to be accepted as genuine recognizer output once known
// hallucination phrases are stripped.
const minResidualLength = 8

// hallucinationPhrases are fixed dataset-bias boilerplate phrases the
// reference Whisper-style backends are known to emit on silence or noise;
// they are stripped before the residual-length check.
var hallucinationPhrases = []string{
	"untertitelung des zdf für funk",
	"untertitel von stephan brunner",
	"copyright wdr",
	"das video wurde von der fragen community",
	"vielen dank fürs zuschauen",
	"thanks for watching",
	"thank you for watching",
	"subtitles by the amara.org community",
}

// serverMessage is the subset of the recognizer's JSON protocol this client
// understands; every other field is ignored.
type serverMessage struct {
	Text string `json:"text"`
}

// Provider implements stt.Provider over the recognizer's WebSocket endpoint.
type Provider struct {
	url        string
	httpClient *http.Client
	cb         *resilience.CircuitBreaker
}

// New constructs a Provider dialing wsURL (e.g. "ws://host:9000/stream") for
// each session and probing endpoint's host:port for liveness.
func New(wsURL string) *Provider {
	return &Provider{
		url:        wsURL,
		httpClient: &http.Client{},
		cb:         resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "stt." + wsURL}),
	}
}

// StartStream implements stt.Provider: it opens a new WebSocket connection
// through the provider's circuit breaker, launches the sender and receiver
// goroutines, and returns immediately. A recognizer that is repeatedly
// refusing connections trips the breaker so callers fail fast instead of
// waiting out the dial timeout on every utterance.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	var conn *websocket.Conn
	err := p.cb.Execute(func() error {
		c, _, dialErr := websocket.Dial(ctx, p.url, nil)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("wsstt: dial %s: %w", p.url, err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:    conn,
		ctx:     sessCtx,
		cancel:  cancel,
		deltas:  make(chan string, 32),
		audioIn: make(chan []byte, 64),
		onClose: cfg.OnClose,
	}

	if cfg.OnOpen != nil {
		cfg.OnOpen()
	}

	go s.sendLoop()
	go s.receiveLoop()

	return s, nil
}

// CheckAvailability opens a TCP connection to the WebSocket endpoint's host.
func (p *Provider) CheckAvailability(ctx context.Context) bool {
	hostport := wsHostPort(p.url)
	if hostport == "" {
		return false
	}
	return registry.DefaultTCPProbe(ctx, hostport)
}

// ConfigString implements stt.Provider.
func (p *Provider) ConfigString() string {
	return fmt.Sprintf("wsstt(url=%s)", p.url)
}

func wsHostPort(rawURL string) string {
	rest, ok := strings.CutPrefix(rawURL, "ws://")
	if !ok {
		rest, ok = strings.CutPrefix(rawURL, "wss://")
		if !ok {
			return ""
		}
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	if !strings.Contains(rest, ":") {
		rest += ":80"
	}
	return rest
}

// session implements stt.SessionHandle over one WebSocket connection.
type session struct {
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	deltas  chan string
	audioIn chan []byte

	onClose func()

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once

	cumulative string
}

// SendAudio queues chunk for the sender goroutine as a binary frame.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("wsstt: session closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	select {
	case s.audioIn <- cp:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Deltas returns the channel of successive transcript deltas.
func (s *session) Deltas() <-chan string { return s.deltas }

// SetKeywords is not supported by this reference transport.
func (s *session) SetKeywords([]types.KeywordBoost) error { return stt.ErrNotSupported }

// Close terminates the session: the sender stops, the socket closes, and
// OnClose fires exactly once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

// sendLoop forwards queued PCM chunks as binary WebSocket frames until the
// session is cancelled.
func (s *session) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.audioIn:
			if err := s.conn.Write(s.ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		}
	}
}

// receiveLoop reads JSON messages from the server, derives the delta suffix
// of the new cumulative transcript, and republishes it on deltas. It owns
// deltas and guarantees OnClose fires exactly once, after any OnOpen, on
// exit for any reason.
func (s *session) receiveLoop() {
	defer func() {
		close(s.deltas)
		s.Close()
		if s.onClose != nil {
			s.onClose()
		}
	}()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		cleaned := stripHallucinations(msg.Text)
		if len([]rune(cleaned)) <= minResidualLength {
			continue
		}

		delta := deltaSuffix(s.cumulative, cleaned)
		if delta == "" {
			continue
		}
		s.cumulative = cleaned

		select {
		case s.deltas <- delta:
		case <-s.ctx.Done():
			return
		}
	}
}

// stripHallucinations removes every occurrence of the known dataset-bias
// boilerplate phrases from text, case-insensitively, and trims the result.
func stripHallucinations(text string) string {
	cleaned := text
	lower := strings.ToLower(cleaned)
	for _, phrase := range hallucinationPhrases {
		for {
			idx := strings.Index(lower, phrase)
			if idx < 0 {
				break
			}
			cleaned = cleaned[:idx] + cleaned[idx+len(phrase):]
			lower = strings.ToLower(cleaned)
		}
	}
	return strings.TrimSpace(cleaned)
}

// deltaSuffix returns the tail of newCumulative beyond prevCumulative,
// verbatim — consumers reconstruct the full transcript by plain
// concatenation, so no whitespace is trimmed. If newCumulative does not
// extend prevCumulative (the recognizer revised its hypothesis rather than
// appending to it), the entire newCumulative is treated as the delta.
func deltaSuffix(prevCumulative, newCumulative string) string {
	if strings.HasPrefix(newCumulative, prevCumulative) {
		return newCumulative[len(prevCumulative):]
	}
	return newCumulative
}

var _ stt.Provider = (*Provider)(nil)
var _ stt.SessionHandle = (*session)(nil)
