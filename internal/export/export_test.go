package export

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `[
  {
    "id": "conv-1",
    "title": "Hello thread",
    "create_time": 1700000000.5,
    "update_time": 1700000100.5,
    "current_node": "n2",
    "mapping": {
      "n1": {
        "id": "n1",
        "parent": null,
        "message": {
          "author": {"role": "user"},
          "create_time": 1700000000.5,
          "content": {"content_type": "text", "parts": ["hello", {"asset_pointer": "file://img"}, "world"]},
          "metadata": {}
        }
      },
      "n2": {
        "id": "n2",
        "parent": "n1",
        "message": {
          "author": {"role": "assistant"},
          "create_time": 1700000001.5,
          "content": {"content_type": "text", "parts": ["hi"]},
          "metadata": {"model_slug": "gpt-4o"}
        }
      }
    }
  },
  {
    "id": "conv-2",
    "title": "",
    "mapping": {
      "root": {"id": "root", "parent": null, "message": null}
    }
  }
]`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func TestReadArchiveBareManifest(t *testing.T) {
	path := writeFile(t, "conversations.json", sampleManifest)

	convs, err := ReadArchive(path)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	c := convs[0]
	assert.Equal(t, "conv-1", c.ID)
	assert.Equal(t, "Hello thread", c.Title)
	assert.Equal(t, "n2", c.CurrentNode)
	assert.Equal(t, 1700000000.5, c.CreateTime)
	require.Len(t, c.Nodes, 2)

	n1 := c.Nodes["n1"]
	assert.Equal(t, "user", n1.Role)
	assert.Equal(t, "hello\nworld", n1.Text) // non-string parts dropped
	assert.Empty(t, n1.Parent)

	n2 := c.Nodes["n2"]
	assert.Equal(t, "n1", n2.Parent)
	assert.Equal(t, "gpt-4o", n2.ModelSlug)
}

func TestReadArchiveZip(t *testing.T) {
	path := writeZip(t, map[string]string{
		"chat.html":          "<html></html>",
		"conversations.json": sampleManifest,
	})

	convs, err := ReadArchive(path)
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}

func TestReadArchiveZipWithoutManifest(t *testing.T) {
	path := writeZip(t, map[string]string{"other.json": "[]"})

	_, err := ReadArchive(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArchive))
}

func TestReadArchiveMalformedManifest(t *testing.T) {
	path := writeFile(t, "conversations.json", `{"not": "an array"}`)

	_, err := ReadArchive(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArchive))
}

func TestReadArchiveMissingFile(t *testing.T) {
	_, err := ReadArchive(filepath.Join(t.TempDir(), "nope.zip"))
	require.Error(t, err)
}

func TestUntitledDefault(t *testing.T) {
	path := writeFile(t, "conversations.json", sampleManifest)

	convs, err := ReadArchive(path)
	require.NoError(t, err)
	assert.Equal(t, "Untitled", convs[1].Title)
}

func TestStructuralNodeHasNoRole(t *testing.T) {
	path := writeFile(t, "conversations.json", sampleManifest)

	convs, err := ReadArchive(path)
	require.NoError(t, err)
	root := convs[1].Nodes["root"]
	assert.Empty(t, root.Role)
	assert.Empty(t, root.Text)
}

func TestUserSystemMessageFlag(t *testing.T) {
	manifest := `[{"id":"c","title":"t","current_node":"n","mapping":{
		"n":{"id":"n","parent":null,"message":{
			"author":{"role":"system"},
			"content":{"content_type":"text","parts":["custom instructions"]},
			"metadata":{"is_user_system_message":true}}}}}]`
	path := writeFile(t, "conversations.json", manifest)

	convs, err := ReadArchive(path)
	require.NoError(t, err)
	assert.True(t, convs[0].Nodes["n"].UserSystem)
}
