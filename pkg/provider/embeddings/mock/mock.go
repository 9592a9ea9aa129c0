// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/lorekeep/lorekeep/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider. It returns a
// deterministic vector derived from the input text length, which is enough
// for wiring tests that only need stable, distinct vectors.
type Provider struct {
	mu sync.Mutex

	// Dim is the vector dimensionality. Defaults to 4 when zero.
	Dim int

	// Err, if non-nil, is returned from Embed and EmbedBatch.
	Err error

	// EmbedCalls records every text passed to Embed or EmbedBatch.
	EmbedCalls []string
}

// Compile-time interface assertion.
var _ embeddings.Provider = (*Provider)(nil)

func (p *Provider) dim() int {
	if p.Dim == 0 {
		return 4
	}
	return p.Dim
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vector(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dim() }

// vector derives a stable pseudo-embedding from text.
func (p *Provider) vector(text string) []float32 {
	v := make([]float32, p.dim())
	for i := range v {
		v[i] = float32((len(text)+i)%7) / 7
	}
	return v
}
