package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic feature-hashing embedder. It needs no
// model endpoint, which makes it the offline and test fallback: identical
// text always produces identical vectors, and related texts share hashed
// token buckets.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates an embedder with the given dimensionality
// (256 when dims <= 0).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

// Embed hashes unigrams and bigrams into a fixed-size vector and
// L2-normalizes it.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		vec[e.bucket(tok)]++
		if i+1 < len(tokens) {
			vec[e.bucket(tok+" "+tokens[i+1])] += 0.5
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// Dimensions returns the vector size.
func (e *HashEmbedder) Dimensions() int { return e.dims }

// Name identifies the scheme.
func (e *HashEmbedder) Name() string { return "feature-hash" }

func (e *HashEmbedder) bucket(token string) int {
	h := fnv.New64a()
	h.Write([]byte(token))
	return int(h.Sum64() % uint64(e.dims))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
