// Package vector is the semantic half of the search stack: an embedder
// turns chunk text into fixed-length vectors and a flat cosine index
// serves nearest-neighbor queries over them, persisted in SQLite.
package vector

import (
	"context"
	"errors"
)

// ErrEmbeddingUnavailable indicates the embedding backend could not be
// reached. Callers degrade the affected chunks to keyword-only search.
var ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

// Embedder converts text to vectors.
type Embedder interface {
	// Embed converts texts to vectors (batched for efficiency).
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimensionality.
	Dimensions() int

	// Name identifies the embedder.
	Name() string
}

// Trainable is implemented by embedders that build state from the corpus
// before they can embed (TF-IDF). The importer trains them over all chunk
// texts and the index persists their state for query-time reuse.
type Trainable interface {
	Train(documents []string) error
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}
