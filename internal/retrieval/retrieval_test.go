package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatfind/internal/chunker"
	"chatfind/internal/store"
	"chatfind/internal/thread"
)

func newFixture(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func storeConversation(t *testing.T, st *store.Store, id, title string, createTime float64, contents ...string) {
	t.Helper()
	th := &thread.Thread{ID: id, Title: title, CreateTime: createTime, ModelSlug: "gpt-4o"}
	for i, c := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		th.Messages = append(th.Messages, thread.Message{Index: i, Role: role, Content: c, Timestamp: createTime + float64(i)})
	}
	require.NoError(t, st.Replace(context.Background(), th, chunker.New(2000, 200).Split(th)))
}

func TestGetRendersTranscript(t *testing.T) {
	svc, st := newFixture(t)
	storeConversation(t, st, "c1", "Title", 100, "question", "answer")

	conv, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Title", conv.Title)
	assert.Equal(t, 2, conv.MessageCount)
	assert.Equal(t, "user: question\n\nassistant: answer", conv.Transcript)
	assert.False(t, conv.Truncated)
}

func TestGetNotFound(t *testing.T) {
	svc, _ := newFixture(t)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestGetTruncatesLongTranscript(t *testing.T) {
	svc, st := newFixture(t)
	storeConversation(t, st, "c1", "Long", 100, strings.Repeat("a", TranscriptCap+1000))

	conv, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, conv.Truncated)
	assert.Contains(t, conv.Transcript, "[transcript truncated]")
	assert.LessOrEqual(t, len([]rune(conv.Transcript)), TranscriptCap+len("\n\n[transcript truncated]"))
}

func TestListPagesThrough(t *testing.T) {
	svc, st := newFixture(t)
	for i := 1; i <= 3; i++ {
		storeConversation(t, st, fmt.Sprintf("c%d", i), "T", float64(i*100), "content")
	}

	page, err := svc.List(context.Background(), store.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 2)
	assert.Equal(t, "c3", page.Conversations[0].ID)
	require.NotEmpty(t, page.NextCursor)

	page, err = svc.List(context.Background(), store.ListOptions{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	assert.Empty(t, page.NextCursor)
}

func TestListEmptyArchiveIsNotAnError(t *testing.T) {
	svc, _ := newFixture(t)

	page, err := svc.List(context.Background(), store.ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, page.Conversations)
	assert.Empty(t, page.Conversations)
}

func TestSummarizeShortConversation(t *testing.T) {
	svc, st := newFixture(t)
	storeConversation(t, st, "c1", "Short", 100, "q", "a")

	sum, err := svc.Summarize(context.Background(), "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.MessageCount)
	require.Len(t, sum.Opening, 2)
	assert.Empty(t, sum.Closing) // everything fits in the opening window
}

func TestSummarizeLongConversation(t *testing.T) {
	svc, st := newFixture(t)
	contents := make([]string, 10)
	for i := range contents {
		contents[i] = fmt.Sprintf("message %d", i)
	}
	storeConversation(t, st, "c1", "Long", 100, contents...)

	sum, err := svc.Summarize(context.Background(), "c1", 0)
	require.NoError(t, err)
	require.Len(t, sum.Opening, 3)
	require.Len(t, sum.Closing, 3)
	assert.Equal(t, "message 0", sum.Opening[0].Content)
	assert.Equal(t, "message 9", sum.Closing[2].Content)
	assert.Equal(t, 7, sum.Closing[0].Index)
}

func TestSummarizeCustomEdgeCount(t *testing.T) {
	svc, st := newFixture(t)
	contents := make([]string, 10)
	for i := range contents {
		contents[i] = fmt.Sprintf("message %d", i)
	}
	storeConversation(t, st, "c1", "Long", 100, contents...)

	sum, err := svc.Summarize(context.Background(), "c1", 2)
	require.NoError(t, err)
	require.Len(t, sum.Opening, 2)
	require.Len(t, sum.Closing, 2)
	assert.Equal(t, 8, sum.Closing[0].Index)

	// Zero falls back to the default window.
	sum, err = svc.Summarize(context.Background(), "c1", 0)
	require.NoError(t, err)
	require.Len(t, sum.Opening, DefaultEdgeMessages)

	// A window wider than the conversation returns everything once.
	sum, err = svc.Summarize(context.Background(), "c1", 20)
	require.NoError(t, err)
	require.Len(t, sum.Opening, 10)
	assert.Empty(t, sum.Closing)
}

func TestSummarizeTrimsLongMessages(t *testing.T) {
	svc, st := newFixture(t)
	storeConversation(t, st, "c1", "T", 100, strings.Repeat("x", 1000))

	sum, err := svc.Summarize(context.Background(), "c1", 0)
	require.NoError(t, err)
	require.Len(t, sum.Opening, 1)
	assert.Len(t, []rune(sum.Opening[0].Content), summarySnippetLen+3)
}

func TestSummarizeNotFound(t *testing.T) {
	svc, _ := newFixture(t)

	_, err := svc.Summarize(context.Background(), "missing", 0)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRenderTranscriptEmpty(t *testing.T) {
	text, truncated := RenderTranscript(nil)
	assert.Empty(t, text)
	assert.False(t, truncated)
}
