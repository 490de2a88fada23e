// Package embedding provides the text embedding providers used to fill the vector cache.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kensa/internal/config"
)

// Provider maps text to a vector for a given model.
// Implementations must be deterministic for a fixed (model, text) pair or fail.
type Provider interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
	Name() string
}

// Kind classifies a provider failure for retry decisions.
type Kind string

// Failure kinds.
const (
	KindRateLimit    Kind = "rate-limit"
	KindUnavailable  Kind = "unavailable"
	KindInvalidInput Kind = "invalid-input"
)

// Retryable reports whether a failure of this kind may succeed on a later attempt.
func (k Kind) Retryable() bool {
	return k == KindRateLimit || k == KindUnavailable
}

// ProviderError is the classified failure of a single Embed call.
type ProviderError struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s embedding %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s embedding %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or KindUnavailable for unclassified errors.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnavailable
}

// Normalize trims text and collapses internal whitespace runs to single spaces.
// Cache keys and static tables are computed over the normalized form.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// NewProvider builds the provider named in cfg.
func NewProvider(cfg config.EmbeddingConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.ResolveAPIKey(),
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
			Logger:     logger,
		}), nil
	case "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
