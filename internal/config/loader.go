package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] for fields left unset.
const (
	DefaultTopK         = 5
	DefaultRecentLimit  = 5
	DefaultPromptBudget = 8000
	DefaultShortTermCap = 50
	DefaultRetention    = 30 * 24 * time.Hour
	DefaultTemperature  = 0.8
	DefaultTimeout      = 120 * time.Second
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq"},
	"embeddings": {"ollama", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// envRef matches ${VAR} references. Bare $VAR is left alone so YAML content
// containing dollar signs survives expansion.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with the value of the environment
// variable VAR. Unset variables expand to the empty string.
func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(ref []byte) []byte {
		name := string(ref[2 : len(ref)-1])
		return []byte(os.Getenv(name))
	})
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} environment
// references, applies defaults and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued tunables with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Memory.TopK <= 0 {
		cfg.Memory.TopK = DefaultTopK
	}
	if cfg.Memory.RecentLimit <= 0 {
		cfg.Memory.RecentLimit = DefaultRecentLimit
	}
	if cfg.Memory.PromptBudget <= 0 {
		cfg.Memory.PromptBudget = DefaultPromptBudget
	}
	if cfg.Memory.ShortTermCap <= 0 {
		cfg.Memory.ShortTermCap = DefaultShortTermCap
	}
	if cfg.Memory.Retention == 0 {
		cfg.Memory.Retention = Duration(DefaultRetention)
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = DefaultTemperature
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = Duration(DefaultTimeout)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation. Unknown names only warn: they may be
	// third-party or self-hosted endpoints.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, f := range cfg.Providers.Fallbacks {
		validateProviderName("llm", f.Name)
		if f.Name == "" {
			errs = append(errs, errors.New("providers.fallbacks entries require a name"))
		}
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required; narration needs a generation backend"))
	}
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required; the semantic index needs an embeddings backend"))
	}

	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; using in-memory stores, nothing survives a restart")
	}

	if cfg.Memory.Retention < 0 {
		errs = append(errs, fmt.Errorf("memory.retention must not be negative, got %s", cfg.Memory.Retention.Std()))
	}
	if t := cfg.Generation.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Generation.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("generation.max_tokens must not be negative, got %d", cfg.Generation.MaxTokens))
	}
	if cfg.Generation.Timeout < 0 {
		errs = append(errs, fmt.Errorf("generation.timeout must not be negative, got %s", cfg.Generation.Timeout.Std()))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
