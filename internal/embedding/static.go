package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hyperjump/kensa/pkg/utils"
)

// StaticProvider serves vectors from a fixed table keyed by normalized text.
// Unknown text is an invalid-input failure. Calls are counted so tests can assert
// that no fetch happened.
type StaticProvider struct {
	vectors map[string][]float32
	calls   atomic.Int64
}

// NewStaticProvider copies table, normalizing its keys.
func NewStaticProvider(table map[string][]float32) *StaticProvider {
	vectors := make(map[string][]float32, len(table))
	for text, v := range table {
		vectors[Normalize(text)] = append([]float32(nil), v...)
	}
	return &StaticProvider{vectors: vectors}
}

// Name implements Provider.
func (p *StaticProvider) Name() string {
	return "static"
}

// Embed implements Provider. The model id is ignored.
func (p *StaticProvider) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	p.calls.Add(1)
	v, ok := p.vectors[Normalize(text)]
	if !ok {
		return nil, &ProviderError{
			Provider: p.Name(),
			Kind:     KindInvalidInput,
			Err:      fmt.Errorf("no vector for %q", utils.Truncate(text, 40)),
		}
	}
	return append([]float32(nil), v...), nil
}

// Calls returns how many times Embed was invoked.
func (p *StaticProvider) Calls() int64 {
	return p.calls.Load()
}

// FailingProvider returns a fixed error for every call. Used to exercise retry policy.
type FailingProvider struct {
	Err   error
	calls atomic.Int64
}

// Name implements Provider.
func (p *FailingProvider) Name() string {
	return "failing"
}

// Embed implements Provider.
func (p *FailingProvider) Embed(context.Context, string, string) ([]float32, error) {
	p.calls.Add(1)
	if p.Err == nil {
		return nil, &ProviderError{Provider: p.Name(), Kind: KindUnavailable, Err: errors.New("unavailable")}
	}
	return nil, p.Err
}

// Calls returns how many times Embed was invoked.
func (p *FailingProvider) Calls() int64 {
	return p.calls.Load()
}
