package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, "tfidf", cfg.Vector.EmbedProvider)
	assert.Equal(t, 0.3, cfg.Search.KeywordWeight)
	assert.Equal(t, 0.7, cfg.Search.SemanticWeight)
	assert.Equal(t, 2000, cfg.Chunk.Size)
	assert.Equal(t, 200, cfg.Chunk.Overlap)
	assert.Equal(t, 4, cfg.Import.Workers)
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"chunk": {"size": 500}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Chunk.Size)
	assert.Equal(t, 200, cfg.Chunk.Overlap)
	assert.Equal(t, "tfidf", cfg.Vector.EmbedProvider)
}

func TestLoadRejectsBadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"search": {"keyword_weight": 0.5, "semantic_weight": 0.9}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1")
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"vector": {"embed_provider": "quantum"}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsOverlapNotSmallerThanSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"chunk": {"size": 100, "overlap": 100}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvVarExpansionInAPIKey(t *testing.T) {
	t.Setenv("CHATFIND_TEST_KEY", "sk-secret")
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"vector": {"embed_provider": "openai", "openai": {"api_key": "${CHATFIND_TEST_KEY}"}}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Vector.OpenAI)
	assert.Equal(t, "sk-secret", cfg.Vector.OpenAI.APIKey)
}

func TestDataDirEnvOverride(t *testing.T) {
	t.Setenv("CHATFIND_DATA_DIR", "/custom/dir")
	assert.Equal(t, "/custom/dir", DefaultDataDir())
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	assert.Equal(t, filepath.Join("/data", "conversations.db"), cfg.StorePath())
	assert.Equal(t, filepath.Join("/data", "vectors.db"), cfg.VectorPath())

	cfg.Store.Path = "/elsewhere/s.db"
	cfg.Vector.Path = "/elsewhere/v.db"
	assert.Equal(t, "/elsewhere/s.db", cfg.StorePath())
	assert.Equal(t, "/elsewhere/v.db", cfg.VectorPath())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := Default()
	cfg.Chunk.Size = 1234
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, loaded.Chunk.Size)
}

func TestTildeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "archive"), expandTilde("~/archive"))
	assert.Equal(t, "/abs/path", expandTilde("/abs/path"))
}
