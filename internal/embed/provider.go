package embed

import (
	"context"
	"log/slog"
	"sync"
)

// Provider owns the process-wide encoder. The encoder is created on first
// use and replaced when the model id changes.
type Provider struct {
	mu        sync.Mutex
	model     string
	cacheSize int
	emb       Embedder
	closed    bool
}

// NewProvider creates a Provider for model. Nothing is loaded until Get.
func NewProvider(model string) *Provider {
	if model == "" {
		model = DefaultModel
	}
	return &Provider{model: model, cacheSize: DefaultEmbeddingCacheSize}
}

// Model returns the currently configured model id.
func (p *Provider) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

// Get returns the shared encoder, creating it if needed.
func (p *Provider) Get(ctx context.Context) (Embedder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, unavailable(p.model)
	}
	if p.emb != nil {
		return p.emb, nil
	}

	inner, err := New(p.model)
	if err != nil {
		return nil, err
	}
	p.emb = NewCachedEmbedder(inner, p.cacheSize)
	slog.Debug("encoder_loaded", slog.String("model", p.model), slog.Int("dim", inner.Dimensions()))
	return p.emb, nil
}

// Reload switches to model. The model is validated first; the previous
// encoder is closed only when the id actually changes.
func (p *Provider) Reload(model string) error {
	if model == "" {
		model = DefaultModel
	}
	if _, err := Dimensions(model); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if model == p.model {
		return nil
	}
	if p.emb != nil {
		_ = p.emb.Close()
		p.emb = nil
	}
	slog.Debug("encoder_reload", slog.String("from", p.model), slog.String("to", model))
	p.model = model
	return nil
}

// Close releases the encoder. Later Get calls fail.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.emb == nil {
		return nil
	}
	err := p.emb.Close()
	p.emb = nil
	return err
}
