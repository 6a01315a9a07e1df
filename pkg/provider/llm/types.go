package llm

import "time"

// Request carries everything the model needs to narrate one prompt.
// Callers should treat a zero-value request as invalid; at minimum Prompt
// must be non-empty.
type Request struct {
	// Prompt is the fully assembled prompt text, sections already ordered.
	Prompt string

	// System is an optional high-priority instruction injected before the
	// prompt. Backends without a dedicated system slot prepend it.
	System string

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// TopP and TopK tune nucleus and top-k sampling. Zero means provider
	// default. Not every backend honours both.
	TopP float64
	TopK int

	// ContextLength requests a context window of this many tokens from
	// backends that let callers size it per request (Ollama's num_ctx).
	// Zero means provider default.
	ContextLength int

	// MaxTokens caps the number of tokens the model may generate.
	// Zero means provider default.
	MaxTokens int
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and differ between providers for the same text.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Response is the completed narration for one [Request].
type Response struct {
	// Text is the full narrative text.
	Text string

	// Model is the backend model that produced the text.
	Model string

	// Usage contains token accounting for this request/response pair.
	// Providers that do not report usage leave it zero.
	Usage Usage

	// Duration is the wall-clock generation time as reported by the
	// backend, or zero when unavailable.
	Duration time.Duration
}

// Capabilities describes what a generation backend supports.
type Capabilities struct {
	// ContextWindow is the maximum token count for prompt plus output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// response.
	MaxOutputTokens int

	// SupportsStreaming indicates the backend supports incremental output.
	SupportsStreaming bool
}
