package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	embmock "github.com/MrWong99/taleweaver/pkg/provider/embeddings/mock"
	"github.com/MrWong99/taleweaver/pkg/provider/llm"
	llmmock "github.com/MrWong99/taleweaver/pkg/provider/llm/mock"
)

func sumCounter(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: unexpected data type %T", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestInstrumentedLLMCountsRequests(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	inner := &llmmock.Provider{GenerateResponse: &llm.Response{Text: "ok"}}
	p := InstrumentLLM(inner, "ollama", m)

	if _, err := p.Generate(ctx, llm.Request{Prompt: "hi"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	rm := collect(t, reader)
	if got := sumCounter(t, rm, "taleweaver.provider.requests"); got != 1 {
		t.Errorf("provider requests = %d, want 1", got)
	}
	if got := sumCounter(t, rm, "taleweaver.provider.errors"); got != 0 {
		t.Errorf("provider errors = %d, want 0", got)
	}
}

func TestInstrumentedLLMCountsErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	inner := &llmmock.Provider{GenerateErr: errors.New("model offline")}
	p := InstrumentLLM(inner, "ollama", m)

	if _, err := p.Generate(ctx, llm.Request{Prompt: "hi"}); err == nil {
		t.Fatal("Generate should propagate the inner error")
	}

	rm := collect(t, reader)
	if got := sumCounter(t, rm, "taleweaver.provider.requests"); got != 1 {
		t.Errorf("provider requests = %d, want 1", got)
	}
	if got := sumCounter(t, rm, "taleweaver.provider.errors"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
}

func TestInstrumentedEmbedderRecordsDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	inner := &embmock.Provider{EmbedResult: []float32{1, 0}, DimensionsValue: 2}
	p := InstrumentEmbedder(inner, "ollama", m)

	if _, err := p.Embed(ctx, "a dusty tome"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := p.Dimensions(); got != 2 {
		t.Errorf("Dimensions = %d, want 2", got)
	}

	rm := collect(t, reader)
	hist := findMetric(rm, "taleweaver.embedding.duration")
	if hist == nil {
		t.Fatal("no embedding duration recorded")
	}
	data, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", hist.Data)
	}
	var count uint64
	for _, dp := range data.DataPoints {
		count += dp.Count
	}
	if count != 1 {
		t.Errorf("embedding duration observations = %d, want 1", count)
	}
	if got := sumCounter(t, rm, "taleweaver.provider.requests"); got != 1 {
		t.Errorf("provider requests = %d, want 1", got)
	}
}
