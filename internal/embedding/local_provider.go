package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalProvider embeds text offline with a signed hashed bag of words.
// Identical text always yields an identical unit-length vector, and texts
// sharing tokens land close together under cosine similarity.
type LocalProvider struct {
	model      string
	dimensions int
}

// NewLocalProvider creates a local provider; non-positive dimensions fall
// back to 384
func NewLocalProvider(model string, dimensions int) *LocalProvider {
	if dimensions <= 0 {
		dimensions = 384
	}

	if model == "" {
		model = "hash-bow-v1"
	}

	return &LocalProvider{model: model, dimensions: dimensions}
}

func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out[i] = p.embed(text)
	}

	return out, nil
}

func (p *LocalProvider) embed(text string) []float32 {
	vec := make([]float32, p.dimensions)

	tokens := tokenize(text)
	for i, tok := range tokens {
		p.add(vec, tok, 1)

		if i > 0 {
			p.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}

	if norm == 0 {
		return vec
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}

	return vec
}

func (p *LocalProvider) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(p.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}

	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (p *LocalProvider) Dimensions() int { return p.dimensions }

func (p *LocalProvider) Model() string { return p.model }

func (p *LocalProvider) Name() string { return fmt.Sprintf("local:%s", p.model) }
