package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatfind/internal/thread"
)

func testThread(messages ...string) *thread.Thread {
	t := &thread.Thread{ID: "conv-1", Title: "Test Conversation", CreateTime: 100}
	for i, content := range messages {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		t.Messages = append(t.Messages, thread.Message{
			Index:     i,
			Role:      role,
			Content:   content,
			Timestamp: float64(101 + i),
		})
	}
	return t
}

func TestSplitEmitsTitleChunkFirst(t *testing.T) {
	c := New(100, 10)
	chunks := c.Split(testThread("short message"))

	require.NotEmpty(t, chunks)
	assert.Equal(t, TitleIndex, chunks[0].MessageIndex)
	assert.Equal(t, "conv-1__title", chunks[0].ID)
	assert.Equal(t, "Test Conversation", chunks[0].Text)
	assert.Equal(t, float64(100), chunks[0].Timestamp)
}

func TestSplitShortMessageSingleChunk(t *testing.T) {
	c := New(100, 10)
	chunks := c.Split(testThread("short message"))

	require.Len(t, chunks, 2)
	assert.Equal(t, "short message", chunks[1].Text)
	assert.Equal(t, 0, chunks[1].MessageIndex)
	assert.Equal(t, "conv-1__m0_c0", chunks[1].ID)
}

func TestSplitLongMessageOverlaps(t *testing.T) {
	c := New(50, 10)
	content := strings.Repeat("abcdefghij", 20) // 200 runes
	chunks := c.Split(testThread(content))[1:]  // drop title chunk

	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch.Text)), 50)
		assert.Equal(t, i, ch.Index)
		if i > 0 {
			prev := chunks[i-1]
			// Consecutive windows share exactly the overlap.
			assert.Equal(t, prev.EndOffset-10, ch.StartOffset)
		}
	}
	assert.Equal(t, content, c.Reassemble(chunks))
}

func TestReassembleRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		size    int
		overlap int
		content string
	}{
		{"exact multiple", 10, 2, strings.Repeat("x", 26)},
		{"single chunk", 100, 10, "tiny"},
		{"empty message", 10, 2, ""},
		{"unicode", 8, 3, "héllo wörld — ünïcode çontent here"},
		{"boundary", 10, 0, strings.Repeat("y", 30)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(tc.size, tc.overlap)
			chunks := c.Split(testThread(tc.content))[1:]
			assert.Equal(t, tc.content, c.Reassemble(chunks))
		})
	}
}

func TestSplitDeterministic(t *testing.T) {
	c := New(40, 8)
	th := testThread(strings.Repeat("deterministic ", 30), "second message")

	first := c.Split(th)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Split(th))
	}
}

func TestSplitChunkIDsUniquePerThread(t *testing.T) {
	c := New(30, 5)
	chunks := c.Split(testThread(strings.Repeat("a", 100), strings.Repeat("b", 100)))

	seen := make(map[string]bool)
	for _, ch := range chunks {
		assert.False(t, seen[ch.ID], "duplicate chunk id %s", ch.ID)
		seen[ch.ID] = true
	}
}

func TestNewClampsBadParameters(t *testing.T) {
	c := New(0, 0)
	chunks := c.Split(testThread(strings.Repeat("z", 5000)))
	// Defaults apply; output still reassembles.
	assert.Equal(t, strings.Repeat("z", 5000), c.Reassemble(chunks[1:]))

	c = New(100, 100) // overlap >= size falls back to size/10
	chunks = c.Split(testThread(strings.Repeat("q", 500)))
	assert.Equal(t, strings.Repeat("q", 500), c.Reassemble(chunks[1:]))
}
