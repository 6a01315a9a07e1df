// Package narrator turns assembled prompts into DM narrative.
//
// The gateway owns the failure policy for generation: any backend error is
// converted into a fixed fallback narrative so that a player's turn is never
// lost to a flaky model. Generation errors do not propagate past this package.
package narrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/taleweaver/pkg/provider/llm"
)

// FallbackNarrative is substituted whenever generation fails.
const FallbackNarrative = "The DM pauses, deep in thought about your action..."

// Outcome is the result of one narration call.
type Outcome struct {
	// Narrative is the DM response text. Never empty.
	Narrative string

	// ActionRequired reports whether the narrative asks the player to act.
	ActionRequired bool

	// DiceNeeded lists die rolls the narrative asked for.
	DiceNeeded []DiceRequest

	// Fallback reports that generation failed and [FallbackNarrative] was
	// substituted. Fallback outcomes carry no classification flags.
	Fallback bool

	// Model names the backend that produced the narrative, when known.
	Model string

	// Duration is the generation latency.
	Duration time.Duration
}

// Gateway wraps a generation provider with the fallback policy and response
// classification.
type Gateway struct {
	provider    llm.Provider
	classifier  Classifier
	logger      *slog.Logger
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// Option is a functional option for [New].
type Option func(*Gateway)

// WithLogger sets the logger for degraded-path warnings.
// Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithClassifier replaces the default [KeywordClassifier].
func WithClassifier(c Classifier) Option {
	return func(g *Gateway) { g.classifier = c }
}

// WithTemperature sets the sampling temperature passed to the provider.
// Defaults to 0.8.
func WithTemperature(t float64) Option {
	return func(g *Gateway) { g.temperature = t }
}

// WithMaxTokens caps the generated response length. Zero leaves the
// provider's default in place.
func WithMaxTokens(n int) Option {
	return func(g *Gateway) { g.maxTokens = n }
}

// WithTimeout bounds a single generation call. Generation dominates
// end-to-end latency, so expiry falls back like any other failure.
// Defaults to 120 seconds.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// New creates a [Gateway] around provider.
func New(provider llm.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider:    provider,
		classifier:  KeywordClassifier{},
		logger:      slog.Default(),
		temperature: 0.8,
		timeout:     120 * time.Second,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Narrate generates the DM response for prompt. It never returns an error:
// on any generation failure the fixed [FallbackNarrative] is returned with
// Fallback set and the cause logged.
func (g *Gateway) Narrate(ctx context.Context, prompt string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.provider.Generate(ctx, g.request(prompt))
	if err != nil {
		g.logger.Warn("generation failed, substituting fallback narrative", "error", err)
		return Outcome{
			Narrative: FallbackNarrative,
			Fallback:  true,
			Duration:  time.Since(start),
		}
	}
	return g.outcome(resp, time.Since(start))
}

// NarrateStream generates the DM response for prompt, forwarding chunks to
// emit as they arrive. Failures before or during the stream substitute the
// fallback narrative; emit is then called once with the full fallback text so
// the caller always displays something.
func (g *Gateway) NarrateStream(ctx context.Context, prompt string, emit func(chunk string) error) Outcome {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var streamed strings.Builder
	start := time.Now()
	resp, err := g.provider.GenerateStream(ctx, g.request(prompt), func(chunk string) error {
		streamed.WriteString(chunk)
		return emit(chunk)
	})
	if err != nil {
		g.logger.Warn("streamed generation failed, substituting fallback narrative",
			"error", err, "streamed_bytes", streamed.Len())
		if streamed.Len() == 0 && emit != nil {
			// Nothing reached the player yet; show the fallback instead.
			_ = emit(FallbackNarrative)
		}
		return Outcome{
			Narrative: FallbackNarrative,
			Fallback:  true,
			Duration:  time.Since(start),
		}
	}
	return g.outcome(resp, time.Since(start))
}

func (g *Gateway) request(prompt string) llm.Request {
	return llm.Request{
		Prompt:      prompt,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
}

func (g *Gateway) outcome(resp *llm.Response, elapsed time.Duration) Outcome {
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		g.logger.Warn("generation returned empty narrative, substituting fallback")
		return Outcome{
			Narrative: FallbackNarrative,
			Fallback:  true,
			Duration:  elapsed,
		}
	}

	c := g.classifier.Classify(text)
	return Outcome{
		Narrative:      text,
		ActionRequired: c.ActionRequired,
		DiceNeeded:     c.DiceNeeded,
		Model:          resp.Model,
		Duration:       elapsed,
	}
}
