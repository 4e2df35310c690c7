package vector

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tfidfCorpus = []string{
	"go channels move values between goroutines",
	"goroutines are lightweight threads managed by the go runtime",
	"sqlite is an embedded relational database",
	"relational databases use sql for queries",
	"sourdough bread needs a long fermentation",
}

func TestTFIDFRequiresTraining(t *testing.T) {
	emb := NewTFIDF(100)
	_, err := emb.Embed(context.Background(), []string{"anything"})
	require.Error(t, err)
}

func TestTFIDFEmbedNormalized(t *testing.T) {
	emb := NewTFIDF(100)
	require.NoError(t, emb.Train(tfidfCorpus))

	vecs, err := emb.Embed(context.Background(), tfidfCorpus)
	require.NoError(t, err)
	require.Len(t, vecs, len(tfidfCorpus))

	for _, vec := range vecs {
		require.Len(t, vec, emb.Dimensions())
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	}
}

func TestTFIDFSimilarTextsScoreHigher(t *testing.T) {
	emb := NewTFIDF(100)
	require.NoError(t, emb.Train(tfidfCorpus))

	vecs, err := emb.Embed(context.Background(), []string{
		"goroutines and channels in go",
		"goroutines are managed by the runtime",
		"baking sourdough bread",
	})
	require.NoError(t, err)

	related := cosine(vecs[0], vecs[1])
	unrelated := cosine(vecs[0], vecs[2])
	assert.Greater(t, related, unrelated)
}

func TestTFIDFVocabularyCap(t *testing.T) {
	emb := NewTFIDF(3)
	require.NoError(t, emb.Train(tfidfCorpus))
	assert.Equal(t, 3, emb.Dimensions())
}

func TestTFIDFTrainDeterministic(t *testing.T) {
	a := NewTFIDF(50)
	b := NewTFIDF(50)
	require.NoError(t, a.Train(tfidfCorpus))
	require.NoError(t, b.Train(tfidfCorpus))

	va, err := a.Embed(context.Background(), []string{"relational database queries"})
	require.NoError(t, err)
	vb, err := b.Embed(context.Background(), []string{"relational database queries"})
	require.NoError(t, err)
	assert.Equal(t, va, vb)
}

func TestTFIDFMarshalRoundTrip(t *testing.T) {
	emb := NewTFIDF(50)
	require.NoError(t, emb.Train(tfidfCorpus))

	state, err := emb.Marshal()
	require.NoError(t, err)

	restored := NewTFIDF(50)
	require.NoError(t, restored.Unmarshal(state))
	assert.Equal(t, emb.Dimensions(), restored.Dimensions())

	query := []string{"embedded sqlite database"}
	want, err := emb.Embed(context.Background(), query)
	require.NoError(t, err)
	got, err := restored.Embed(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world"}, tokenize("Hello, World!"))
	assert.Equal(t, []string{"go1", "21"}, tokenize("go1.21"))
	assert.Empty(t, tokenize("...!!!"))
}
