// Package hash provides an offline embedding provider based on feature
// hashing. Texts sharing words land close together, which is enough for
// deterministic retrieval tests without a model server.
package hash

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/flarexio/ragblade/embedding"
)

const DefaultDimensions = 384

type provider struct {
	model      string
	dimensions int
}

func NewProvider(dimensions int) embedding.Provider {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}

	return &provider{
		model:      fmt.Sprintf("hash-%d", dimensions),
		dimensions: dimensions,
	}
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

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, embedding.ErrEmptyEmbedding
	}

	vec := make([]float64, p.dimensions)
	for i, token := range tokens {
		p.add(vec, token, 1)

		if i > 0 {
			p.add(vec, tokens[i-1]+" "+token, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}

	norm = math.Sqrt(norm)

	out := make([]float32, p.dimensions)
	for i, v := range vec {
		if norm > 0 {
			out[i] = float32(v / norm)
		}
	}

	return out, nil
}

func (p *provider) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(p.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}

	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
