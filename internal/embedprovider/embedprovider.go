// Package embedprovider implements the embedding provider adapter. It
// exposes a single Embedder interface over Local, HuggingFace,
// OpenAI, OpenRouter, and Cozo backends, with shared concurrency gating,
// rate limiting, and retry/backoff policy for the remote HTTP variants.
package embedprovider

import (
	"context"
	"fmt"
	"time"
)

// Embedder computes dense embeddings for a batch of code snippets.
// Implementations return a slice the same length and order as input.
type Embedder interface {
	ComputeBatch(ctx context.Context, snippets []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// RetryConfig controls exponential backoff for retryable provider errors.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// BackoffForAttempt returns the delay before retrying a 1-based attempt
// number: attempt=1 means "the delay before the second try". Doubling is
// capped at 16 shifts to guard against overflow on extremely long retry
// sequences.
func (c RetryConfig) BackoffForAttempt(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 16 {
		shift = 16
	}
	backoff := c.InitialBackoff * time.Duration(uint64(1)<<uint(shift))
	if backoff > c.MaxBackoff || backoff < 0 {
		return c.MaxBackoff
	}
	return backoff
}

// Config is the provider-neutral configuration consumed by New. Fields
// irrelevant to a given Provider value are ignored.
type Config struct {
	Provider          string // local|huggingface|openai|openrouter|cozo
	Model             string
	Dimensions        int
	RequestDimensions int // 0 means "omit from request"
	InputType         string
	BaseURL           string
	APIKey            string
	MaxInFlight       int
	RequestsPerSecond float64
	MaxAttempts       int
	InitialBackoffMs  int
	MaxBackoffMs      int
	TimeoutSecs       int
}

// New selects and constructs the Embedder named by cfg.Provider.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "local":
		return NewLocal(cfg), nil
	case "huggingface":
		return NewHuggingFace(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "openrouter":
		return NewOpenRouter(cfg), nil
	case "cozo":
		return NewCozo(cfg), nil
	default:
		return nil, fmt.Errorf("embedprovider: unknown provider %q", cfg.Provider)
	}
}

func (c Config) retryConfig() RetryConfig {
	maxAttempts := c.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	initial := time.Duration(c.InitialBackoffMs) * time.Millisecond
	if initial <= 0 {
		initial = time.Millisecond
	}
	maxBackoff := time.Duration(c.MaxBackoffMs) * time.Millisecond
	if maxBackoff < initial {
		maxBackoff = initial
	}
	return RetryConfig{MaxAttempts: maxAttempts, InitialBackoff: initial, MaxBackoff: maxBackoff}
}
