package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// TFIDF is a fully local TF-IDF embedder. It needs no model or network:
// the importer trains it over the chunk corpus and its vocabulary is
// persisted alongside the vectors so queries embed consistently later.
type TFIDF struct {
	vocabulary map[string]int // word -> index
	idf        []float32
	maxDims    int
	trained    bool
	mu         sync.RWMutex
}

// NewTFIDF creates a TF-IDF embedder with max vocabulary size.
func NewTFIDF(maxDims int) *TFIDF {
	if maxDims <= 0 {
		maxDims = 4096
	}
	return &TFIDF{
		vocabulary: make(map[string]int),
		maxDims:    maxDims,
	}
}

// Train builds the vocabulary and IDF table from a corpus.
func (t *TFIDF) Train(documents []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Document frequency per term
	df := make(map[string]int)
	for _, doc := range documents {
		seen := make(map[string]bool)
		for _, word := range tokenize(doc) {
			if !seen[word] {
				df[word]++
				seen[word] = true
			}
		}
	}

	// Keep the most frequent maxDims terms. Ties break on the word
	// itself so training is deterministic.
	type wordFreq struct {
		word string
		freq int
	}
	wf := make([]wordFreq, 0, len(df))
	for w, f := range df {
		wf = append(wf, wordFreq{w, f})
	}
	sort.Slice(wf, func(i, j int) bool {
		if wf[i].freq != wf[j].freq {
			return wf[i].freq > wf[j].freq
		}
		return wf[i].word < wf[j].word
	})
	if len(wf) > t.maxDims {
		wf = wf[:t.maxDims]
	}

	t.vocabulary = make(map[string]int, len(wf))
	t.idf = make([]float32, len(wf))
	n := float64(len(documents))
	for i, w := range wf {
		t.vocabulary[w.word] = i
		t.idf[i] = float32(math.Log(n / float64(w.freq)))
	}

	t.trained = true
	return nil
}

// Embed converts texts to L2-normalized TF-IDF vectors.
func (t *TFIDF) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.trained {
		return nil, fmt.Errorf("tfidf embedder not trained")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dims := len(t.vocabulary)
	vectors := make([][]float32, len(texts))

	for i, text := range texts {
		vec := make([]float32, dims)
		words := tokenize(text)

		tf := make(map[string]int)
		for _, w := range words {
			tf[w]++
		}
		for word, count := range tf {
			if idx, ok := t.vocabulary[word]; ok {
				tfVal := float32(count) / float32(len(words))
				vec[idx] = tfVal * t.idf[idx]
			}
		}

		var norm float32
		for _, v := range vec {
			norm += v * v
		}
		if norm > 0 {
			norm = float32(math.Sqrt(float64(norm)))
			for j := range vec {
				vec[j] /= norm
			}
		}
		vectors[i] = vec
	}

	return vectors, nil
}

// Dimensions returns the vocabulary size.
func (t *TFIDF) Dimensions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.vocabulary)
}

// Name returns the embedder name.
func (t *TFIDF) Name() string {
	return "tfidf"
}

type tfidfState struct {
	Vocabulary map[string]int `json:"vocabulary"`
	IDF        []float32      `json:"idf"`
	MaxDims    int            `json:"max_dims"`
}

// Marshal serializes the trained vocabulary for persistence.
func (t *TFIDF) Marshal() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.trained {
		return nil, fmt.Errorf("tfidf embedder not trained")
	}
	return json.Marshal(tfidfState{
		Vocabulary: t.vocabulary,
		IDF:        t.idf,
		MaxDims:    t.maxDims,
	})
}

// Unmarshal restores a persisted vocabulary.
func (t *TFIDF) Unmarshal(data []byte) error {
	var state tfidfState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("tfidf state: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vocabulary = state.Vocabulary
	t.idf = state.IDF
	if state.MaxDims > 0 {
		t.maxDims = state.MaxDims
	}
	t.trained = len(t.vocabulary) > 0
	return nil
}

// tokenize splits text into lowercase words.
func tokenize(text string) []string {
	var words []string
	var word strings.Builder

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
		} else if word.Len() > 0 {
			words = append(words, word.String())
			word.Reset()
		}
	}
	if word.Len() > 0 {
		words = append(words, word.String())
	}
	return words
}
