package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/flarexio/ragblade/embedding"
)

const DefaultModel = "text-embedding-3-small"

type provider struct {
	client     openai.Client
	model      string
	dimensions int
}

func NewProvider(cfg embedding.Config) (embedding.Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key required")
	}

	if cfg.Dimensions <= 0 {
		return nil, errors.New("embedding dimensions required")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &provider{
		client:     openai.NewClient(opts...),
		model:      model,
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

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: openai.Int(int64(p.dimensions)),
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, embedding.ErrEmptyEmbedding
	}

	data := resp.Data[0].Embedding
	vec := make([]float32, len(data))
	for i, v := range data {
		vec[i] = float32(v)
	}

	return vec, nil
}
