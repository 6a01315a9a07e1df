// Package llm defines the Provider interface for narrative text generation
// backends.
//
// A provider wraps a remote or local model API (a local Ollama instance, the
// OpenAI API, or anything any-llm-go speaks to) and exposes a uniform
// prompt-in, narrative-out interface so the narration layer never couples to
// a specific SDK.
//
// Implementations must be safe for concurrent use. Each method should
// propagate context cancellation promptly: when ctx is cancelled the method
// must return as quickly as possible.
package llm

import "context"

// charsPerToken is the rough character-to-token ratio used by
// [EstimateTokens]. Good enough for budget checks; never used for billing.
const charsPerToken = 4

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// Generate sends req to the model and waits for the full narrative.
	// Returns an error if the request fails or ctx is cancelled before the
	// response arrives.
	Generate(ctx context.Context, req Request) (*Response, error)

	// GenerateStream sends req to the model and invokes emit for every text
	// chunk as it arrives, then returns the assembled response. A non-nil
	// error from emit aborts the stream and is returned verbatim.
	GenerateStream(ctx context.Context, req Request, emit func(chunk string) error) (*Response, error)

	// CountTokens estimates how many tokens text would consume in the
	// model's context window. The result need not be exact but should not
	// undercount; callers use it to enforce prompt budgets.
	CountTokens(text string) (int, error)

	// Capabilities returns static metadata about the underlying model. The
	// result is assumed constant for the lifetime of the Provider instance.
	Capabilities() Capabilities
}

// EstimateTokens approximates the token count of text by character length.
// Providers without a native tokeniser delegate to this.
func EstimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}
