package observe

import (
	"context"
	"time"

	"github.com/MrWong99/taleweaver/pkg/provider/embeddings"
	"github.com/MrWong99/taleweaver/pkg/provider/llm"
)

// InstrumentedLLM wraps a generation provider and records a request counter
// per call, with the provider name, call kind and outcome as attributes.
type InstrumentedLLM struct {
	inner   llm.Provider
	name    string
	metrics *Metrics
}

var _ llm.Provider = (*InstrumentedLLM)(nil)

// InstrumentLLM wraps p so every Generate and GenerateStream call is counted
// under the given provider name. Wrap each provider before chaining so
// fallback traffic is attributed to the backend that actually served it.
func InstrumentLLM(p llm.Provider, name string, m *Metrics) *InstrumentedLLM {
	return &InstrumentedLLM{inner: p, name: name, metrics: m}
}

// Generate implements [llm.Provider].
func (i *InstrumentedLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := i.inner.Generate(ctx, req)
	i.record(ctx, "generate", err)
	return resp, err
}

// GenerateStream implements [llm.Provider].
func (i *InstrumentedLLM) GenerateStream(ctx context.Context, req llm.Request, emit func(chunk string) error) (*llm.Response, error) {
	resp, err := i.inner.GenerateStream(ctx, req, emit)
	i.record(ctx, "generate_stream", err)
	return resp, err
}

// CountTokens implements [llm.Provider]. Token counting is local, so it is
// not counted as a provider request.
func (i *InstrumentedLLM) CountTokens(text string) (int, error) {
	return i.inner.CountTokens(text)
}

// Capabilities implements [llm.Provider].
func (i *InstrumentedLLM) Capabilities() llm.Capabilities {
	return i.inner.Capabilities()
}

func (i *InstrumentedLLM) record(ctx context.Context, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		i.metrics.RecordProviderError(ctx, i.name, kind)
	}
	i.metrics.RecordProviderRequest(ctx, i.name, kind, status)
}

// InstrumentedEmbedder wraps an embeddings provider and records latency and
// request counters for each call.
type InstrumentedEmbedder struct {
	inner   embeddings.Provider
	name    string
	metrics *Metrics
}

var _ embeddings.Provider = (*InstrumentedEmbedder)(nil)

// InstrumentEmbedder wraps p so every Embed and EmbedBatch call records its
// latency and is counted under the given provider name.
func InstrumentEmbedder(p embeddings.Provider, name string, m *Metrics) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{inner: p, name: name, metrics: m}
}

// Embed implements [embeddings.Provider].
func (i *InstrumentedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := i.inner.Embed(ctx, text)
	i.record(ctx, "embed", start, err)
	return vec, err
}

// EmbedBatch implements [embeddings.Provider].
func (i *InstrumentedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := i.inner.EmbedBatch(ctx, texts)
	i.record(ctx, "embed_batch", start, err)
	return vecs, err
}

// Dimensions implements [embeddings.Provider].
func (i *InstrumentedEmbedder) Dimensions() int {
	return i.inner.Dimensions()
}

// ModelID implements [embeddings.Provider].
func (i *InstrumentedEmbedder) ModelID() string {
	return i.inner.ModelID()
}

func (i *InstrumentedEmbedder) record(ctx context.Context, kind string, start time.Time, err error) {
	i.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		i.metrics.RecordProviderError(ctx, i.name, kind)
	}
	i.metrics.RecordProviderRequest(ctx, i.name, kind, status)
}
