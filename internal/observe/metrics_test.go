package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.STTDuration.Record(ctx, 0.5)
	m.LLMDuration.Record(ctx, 1.2)
	m.TTSDuration.Record(ctx, 0.3)
	m.TurnDuration.Record(ctx, 2.1)

	rm := collect(t, reader)

	for _, name := range []string{
		"lokutor.stt.duration",
		"lokutor.llm.duration",
		"lokutor.tts.duration",
		"lokutor.turn.duration",
	} {
		if findMetric(rm, name) == nil {
			t.Errorf("expected metric %q to be recorded", name)
		}
	}
}

func TestRecordProviderRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "stt", "whisper-remote", "ok")

	rm := collect(t, reader)
	data := findMetric(rm, "lokutor.provider.requests")
	if data == nil {
		t.Fatal("expected lokutor.provider.requests metric to exist")
	}

	sum, ok := data.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] data, got %T", data.Data)
	}
	if len(sum.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(sum.DataPoints))
	}
	dp := sum.DataPoints[0]
	if dp.Value != 1 {
		t.Errorf("expected value 1, got %d", dp.Value)
	}
	wantAttrs := attribute.NewSet(
		attribute.String("capability", "stt"),
		attribute.String("name", "whisper-remote"),
		attribute.String("status", "ok"),
	)
	if !dp.Attributes.Equals(&wantAttrs) {
		t.Errorf("unexpected attributes: %v", dp.Attributes)
	}
}

func TestRecordProviderError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderError(ctx, "llm", "ollama-local")

	rm := collect(t, reader)
	data := findMetric(rm, "lokutor.provider.errors")
	if data == nil {
		t.Fatal("expected lokutor.provider.errors metric to exist")
	}
	sum, ok := data.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] data, got %T", data.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected data points: %+v", sum.DataPoints)
	}
}

func TestRecordTurnCompleted(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurnCompleted(ctx)
	m.RecordTurnCompleted(ctx)

	rm := collect(t, reader)
	data := findMetric(rm, "lokutor.turns.completed")
	if data == nil {
		t.Fatal("expected lokutor.turns.completed metric to exist")
	}
	sum, ok := data.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] data, got %T", data.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
		t.Fatalf("expected cumulative value 2, got %+v", sum.DataPoints)
	}
}

func TestRecordSaneInputRejection(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSaneInputRejection(ctx)

	rm := collect(t, reader)
	if findMetric(rm, "lokutor.sane_input.rejections") == nil {
		t.Fatal("expected lokutor.sane_input.rejections metric to exist")
	}
}

func TestRecordInterrupt(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInterrupt(ctx)

	rm := collect(t, reader)
	if findMetric(rm, "lokutor.interrupts") == nil {
		t.Fatal("expected lokutor.interrupts metric to exist")
	}
}

func TestAvailableServicesGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SetAvailableServices(ctx, "tts", 3)
	m.SetAvailableServices(ctx, "tts", -1)

	rm := collect(t, reader)
	data := findMetric(rm, "lokutor.services.available")
	if data == nil {
		t.Fatal("expected lokutor.services.available metric to exist")
	}
	sum, ok := data.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] data, got %T", data.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
		t.Fatalf("expected cumulative value 2, got %+v", sum.DataPoints)
	}
}

func TestAttr(t *testing.T) {
	kv := Attr("key", "value")
	if kv.Key != "key" || kv.Value.AsString() != "value" {
		t.Errorf("unexpected attribute: %+v", kv)
	}
}
