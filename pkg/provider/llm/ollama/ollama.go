// Package ollama provides a narrative generation provider backed by a local
// Ollama server.
//
// Ollama (https://ollama.com) hosts local large language models. This package
// uses Ollama's native /api/generate endpoint for prompt completion, /api/tags
// for health checks, and /api/pull to fetch a missing model at startup.
//
// Example usage:
//
//	p, err := ollama.New("", "llama3.1") // connects to http://localhost:11434
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := p.Generate(ctx, llm.Request{Prompt: "Narrate the tavern scene."})
//
// Only standard library packages are used — no additional dependencies are
// required beyond Go's net/http and encoding/json.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/taleweaver/pkg/provider/llm"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// Ensure Provider implements the llm.Provider interface at compile time.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using a local Ollama server.
// It is safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client

	contextWindow int
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout       time.Duration
	contextWindow int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
// A zero or negative value means no timeout (the default). Local generation
// of long narratives can take minutes on modest hardware; choose generously.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithContextWindow declares the model's context window in tokens, reported
// via Capabilities. Defaults to 4096 when unset.
func WithContextWindow(tokens int) Option {
	return func(c *config) {
		c.contextWindow = tokens
	}
}

// New constructs a new Ollama Provider.
//
// baseURL is the base URL of the Ollama server (e.g., "http://localhost:11434").
// If empty, DefaultBaseURL is used. A trailing slash is stripped automatically.
//
// model is the Ollama model name to generate with (e.g., "llama3.1").
// It must not be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	contextWindow := cfg.contextWindow
	if contextWindow == 0 {
		contextWindow = 4096
	}

	return &Provider{
		baseURL:       baseURL,
		model:         model,
		httpClient:    httpClient,
		contextWindow: contextWindow,
	}, nil
}

// generateOptions is the nested options object for /api/generate.
// Zero-valued fields are omitted so the server applies its own defaults.
type generateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
}

// generateRequest is the JSON request body sent to Ollama's /api/generate endpoint.
type generateRequest struct {
	Model   string           `json:"model"`
	Prompt  string           `json:"prompt"`
	System  string           `json:"system,omitempty"`
	Stream  bool             `json:"stream"`
	Options *generateOptions `json:"options,omitempty"`
}

// generateResponse is one JSON object returned by /api/generate. In streaming
// mode the endpoint emits one object per chunk, terminated by done=true.
type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	TotalDuration   int64  `json:"total_duration"`
}

// Generate implements llm.Provider using a single non-streaming
// /api/generate call.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body, err := p.buildBody(req, false)
	if err != nil {
		return nil, fmt.Errorf("ollama: generate: %w", err)
	}

	resp, err := p.post(ctx, "/api/generate", body)
	if err != nil {
		return nil, fmt.Errorf("ollama: generate: %w", err)
	}
	defer resp.Body.Close()

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama: generate: decode response: %w", err)
	}
	return toResponse(result, result.Response), nil
}

// GenerateStream implements llm.Provider. It reads the NDJSON stream from
// /api/generate, invoking emit for every non-empty chunk until the object
// with done=true arrives.
func (p *Provider) GenerateStream(ctx context.Context, req llm.Request, emit func(chunk string) error) (*llm.Response, error) {
	body, err := p.buildBody(req, true)
	if err != nil {
		return nil, fmt.Errorf("ollama: generate stream: %w", err)
	}

	resp, err := p.post(ctx, "/api/generate", body)
	if err != nil {
		return nil, fmt.Errorf("ollama: generate stream: %w", err)
	}
	defer resp.Body.Close()

	var (
		text strings.Builder
		last generateResponse
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("ollama: generate stream: decode chunk: %w", err)
		}
		if chunk.Response != "" {
			text.WriteString(chunk.Response)
			if emit != nil {
				if err := emit(chunk.Response); err != nil {
					return nil, err
				}
			}
		}
		if chunk.Done {
			last = chunk
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ollama: generate stream: read: %w", err)
	}
	if !last.Done {
		return nil, fmt.Errorf("ollama: generate stream: stream ended without done marker")
	}
	return toResponse(last, text.String()), nil
}

// CountTokens implements llm.Provider with the character-length
// approximation; Ollama exposes no tokenisation endpoint.
func (p *Provider) CountTokens(text string) (int, error) {
	return llm.EstimateTokens(text), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		ContextWindow:     p.contextWindow,
		MaxOutputTokens:   p.contextWindow,
		SupportsStreaming: true,
	}
}

// ModelID returns the Ollama model name supplied at construction time.
func (p *Provider) ModelID() string {
	return p.model
}

// tagsResponse is the JSON response body returned by GET /api/tags.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Ping checks that the Ollama server is reachable by listing its models.
func (p *Provider) Ping(ctx context.Context) error {
	_, err := p.listModels(ctx)
	if err != nil {
		return fmt.Errorf("ollama: ping: %w", err)
	}
	return nil
}

// HasModel reports whether the configured model is already present on the
// server. Tag suffixes are ignored, so "llama3.1" matches "llama3.1:latest".
func (p *Provider) HasModel(ctx context.Context) (bool, error) {
	names, err := p.listModels(ctx)
	if err != nil {
		return false, fmt.Errorf("ollama: has model: %w", err)
	}
	want, _, _ := strings.Cut(p.model, ":")
	for _, name := range names {
		got, _, _ := strings.Cut(name, ":")
		if got == want {
			return true, nil
		}
	}
	return false, nil
}

// pullRequest is the JSON request body sent to Ollama's /api/pull endpoint.
type pullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// pullStatus is one JSON object of the /api/pull progress stream.
type pullStatus struct {
	Status    string `json:"status"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
}

// Pull downloads the configured model onto the server, invoking progress for
// every status update when non-nil. It blocks until the pull succeeds or
// fails; large models can take many minutes on a cold cache.
func (p *Provider) Pull(ctx context.Context, progress func(status string, completed, total int64)) error {
	body, err := json.Marshal(pullRequest{Model: p.model, Stream: true})
	if err != nil {
		return fmt.Errorf("ollama: pull: marshal request: %w", err)
	}

	resp, err := p.post(ctx, "/api/pull", body)
	if err != nil {
		return fmt.Errorf("ollama: pull: %w", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	success := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var st pullStatus
		if err := json.Unmarshal(line, &st); err != nil {
			return fmt.Errorf("ollama: pull: decode status: %w", err)
		}
		if progress != nil {
			progress(st.Status, st.Completed, st.Total)
		}
		if st.Status == "success" {
			success = true
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ollama: pull: read: %w", err)
	}
	if !success {
		return fmt.Errorf("ollama: pull: stream ended without success status")
	}
	return nil
}

// listModels fetches the model names known to the server via GET /api/tags.
func (p *Provider) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// buildBody marshals the /api/generate request body for req.
func (p *Provider) buildBody(req llm.Request, stream bool) ([]byte, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}
	opts := &generateOptions{
		Temperature: req.Temperature,
		NumCtx:      req.ContextLength,
		NumPredict:  req.MaxTokens,
		TopP:        req.TopP,
		TopK:        req.TopK,
	}
	if *opts == (generateOptions{}) {
		opts = nil
	}
	body, err := json.Marshal(generateRequest{
		Model:   p.model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  stream,
		Options: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

// post sends a JSON POST to the given Ollama API path and returns the raw
// response after verifying the status code. The caller closes the body.
func (p *Provider) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

// toResponse converts the final generate payload into an llm.Response.
func toResponse(last generateResponse, text string) *llm.Response {
	return &llm.Response{
		Text:  text,
		Model: last.Model,
		Usage: llm.Usage{
			PromptTokens:     last.PromptEvalCount,
			CompletionTokens: last.EvalCount,
			TotalTokens:      last.PromptEvalCount + last.EvalCount,
		},
		Duration: time.Duration(last.TotalDuration),
	}
}
