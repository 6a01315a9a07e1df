// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the narration layer sends correct
// Requests and to feed controlled responses without a live model backend.
// All fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    GenerateResponse: &llm.Response{Text: "The tavern falls silent."},
//	}
//	resp, err := p.Generate(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/taleweaver/pkg/provider/llm"
)

// GenerateCall records a single invocation of Generate or GenerateStream.
type GenerateCall struct {
	// Ctx is the context passed to the method.
	Ctx context.Context
	// Req is the Request passed to the method.
	Req llm.Request
	// Streaming reports whether the call came in via GenerateStream.
	Streaming bool
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// GenerateResponse is returned by Generate and GenerateStream.
	// May be nil (returns nil, nil).
	GenerateResponse *llm.Response

	// GenerateErr, if non-nil, is returned as the error from Generate and
	// GenerateStream.
	GenerateErr error

	// GenerateFunc, if non-nil, is consulted before GenerateResponse so tests
	// can vary the reply per request or count attempts.
	GenerateFunc func(req llm.Request) (*llm.Response, error)

	// StreamChunks is the chunk sequence emitted by GenerateStream before it
	// returns GenerateResponse. When nil, the response text is emitted as a
	// single chunk.
	StreamChunks []string

	// TokenCount is returned by CountTokens. When zero, CountTokens falls
	// back to the character-length estimate.
	TokenCount int

	// CountTokensErr, if non-nil, is returned as the error from CountTokens.
	CountTokensErr error

	// CapabilitiesValue is returned by Capabilities.
	CapabilitiesValue llm.Capabilities

	// --- Call records (read after test) ---

	// GenerateCalls records every invocation of Generate and GenerateStream in order.
	GenerateCalls []GenerateCall

	// CountTokensCalls records every text passed to CountTokens in order.
	CountTokensCalls []string

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Generate records the call and returns GenerateResponse, GenerateErr.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	fn := p.GenerateFunc
	resp, err := p.GenerateResponse, p.GenerateErr
	p.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return resp, err
}

// GenerateStream records the call, emits StreamChunks (or the response text as
// one chunk) and returns GenerateResponse, GenerateErr.
func (p *Provider) GenerateStream(ctx context.Context, req llm.Request, emit func(chunk string) error) (*llm.Response, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req, Streaming: true})
	fn := p.GenerateFunc
	resp, genErr := p.GenerateResponse, p.GenerateErr
	chunks := make([]string, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.mu.Unlock()

	if fn != nil {
		resp, genErr = fn(req)
	}
	if genErr != nil {
		return nil, genErr
	}
	if len(chunks) == 0 && resp != nil {
		chunks = []string{resp.Text}
	}
	if emit != nil {
		for _, c := range chunks {
			if err := emit(c); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}

// CountTokens records the call and returns TokenCount, CountTokensErr.
func (p *Provider) CountTokens(text string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCalls = append(p.CountTokensCalls, text)
	if p.TokenCount == 0 && p.CountTokensErr == nil {
		return llm.EstimateTokens(text), nil
	}
	return p.TokenCount, p.CountTokensErr
}

// Capabilities records the call and returns CapabilitiesValue.
func (p *Provider) Capabilities() llm.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.CapabilitiesValue
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = nil
	p.CountTokensCalls = nil
	p.CapabilitiesCallCount = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
