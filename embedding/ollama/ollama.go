package ollama

import (
	"context"
	"errors"
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/flarexio/ragblade/embedding"
)

const DefaultBaseURL = "http://localhost:11434/api"

type provider struct {
	embed      chromem.EmbeddingFunc
	model      string
	dimensions int
}

func NewProvider(cfg embedding.Config) (embedding.Provider, error) {
	if cfg.Model == "" {
		return nil, errors.New("ollama model required")
	}

	if cfg.Dimensions <= 0 {
		return nil, errors.New("embedding dimensions required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &provider{
		embed:      chromem.NewEmbeddingFuncOllama(cfg.Model, baseURL),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (p *provider) Model() string {
	return p.model
}

func (p *provider) Dimensions() int {
	return p.dimensions
}

func (p *provider) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	if model != p.model {
		return nil, fmt.Errorf("%w: want %s, got %s", embedding.ErrModelMismatch, p.model, model)
	}

	return p.embed(ctx, text)
}
