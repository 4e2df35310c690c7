// Package retrieval serves stored conversations back out: full
// transcripts, paged listings, and compact context summaries.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"chatfind/internal/store"
	"chatfind/internal/thread"
)

// TranscriptCap bounds a rendered transcript. Anything longer is cut at
// the cap with a truncation marker so a single conversation cannot
// flood a tool response.
const TranscriptCap = 50000

// DefaultEdgeMessages is how many messages from each end of a
// conversation a context summary includes when the caller does not ask
// for a specific count.
const DefaultEdgeMessages = 3

// summarySnippetLen bounds each message preview inside a summary.
const summarySnippetLen = 300

// Service reads conversations out of the archive.
type Service struct {
	store *store.Store
}

// New creates a retrieval service over the given store.
func New(st *store.Store) *Service {
	return &Service{store: st}
}

// Conversation is a full conversation with its rendered transcript.
type Conversation struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	CreateTime   float64 `json:"create_time,omitempty"`
	UpdateTime   float64 `json:"update_time,omitempty"`
	MessageCount int     `json:"message_count"`
	ModelSlug    string  `json:"model_slug,omitempty"`
	Transcript   string  `json:"transcript"`
	Truncated    bool    `json:"truncated,omitempty"`
}

// Get returns one conversation with its transcript, or
// store.ErrNotFound when the id is unknown.
func (s *Service) Get(ctx context.Context, id string) (*Conversation, error) {
	conv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	transcript, truncated := RenderTranscript(conv.Messages)
	return &Conversation{
		ID:           conv.ID,
		Title:        conv.Title,
		CreateTime:   conv.CreateTime,
		UpdateTime:   conv.UpdateTime,
		MessageCount: conv.MessageCount,
		ModelSlug:    conv.ModelSlug,
		Transcript:   transcript,
		Truncated:    truncated,
	}, nil
}

// Page is one page of a conversation listing.
type Page struct {
	Conversations []store.Summary `json:"conversations"`
	NextCursor    string          `json:"next_cursor,omitempty"`
}

// List pages through conversations newest-first. An empty archive or an
// exhausted cursor yields an empty page, not an error.
func (s *Service) List(ctx context.Context, opts store.ListOptions) (*Page, error) {
	summaries, next, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []store.Summary{}
	}
	return &Page{Conversations: summaries, NextCursor: next}, nil
}

// MessagePreview is one trimmed message inside a context summary.
type MessagePreview struct {
	Index   int    `json:"index"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextSummary is a compact view of a conversation: metadata plus the
// opening and closing messages.
type ContextSummary struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	CreateTime   float64          `json:"create_time,omitempty"`
	UpdateTime   float64          `json:"update_time,omitempty"`
	MessageCount int              `json:"message_count"`
	ModelSlug    string           `json:"model_slug,omitempty"`
	Opening      []MessagePreview `json:"opening_messages"`
	Closing      []MessagePreview `json:"closing_messages,omitempty"`
}

// Summarize returns a context summary for one conversation with
// recentCount messages from each end; zero means DefaultEdgeMessages.
// The opening and closing windows never overlap: a short conversation
// appears entirely in the opening window.
func (s *Service) Summarize(ctx context.Context, id string, recentCount int) (*ContextSummary, error) {
	if recentCount <= 0 {
		recentCount = DefaultEdgeMessages
	}
	conv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := &ContextSummary{
		ID:           conv.ID,
		Title:        conv.Title,
		CreateTime:   conv.CreateTime,
		UpdateTime:   conv.UpdateTime,
		MessageCount: conv.MessageCount,
		ModelSlug:    conv.ModelSlug,
		Opening:      []MessagePreview{},
	}

	msgs := conv.Messages
	head := recentCount
	if head > len(msgs) {
		head = len(msgs)
	}
	for _, m := range msgs[:head] {
		summary.Opening = append(summary.Opening, preview(m))
	}
	tailStart := len(msgs) - recentCount
	if tailStart < head {
		tailStart = head
	}
	for _, m := range msgs[tailStart:] {
		summary.Closing = append(summary.Closing, preview(m))
	}
	return summary, nil
}

func preview(m thread.Message) MessagePreview {
	content := m.Content
	runes := []rune(content)
	if len(runes) > summarySnippetLen {
		content = string(runes[:summarySnippetLen]) + "..."
	}
	return MessagePreview{Index: m.Index, Role: m.Role, Content: content}
}

// RenderTranscript renders messages as "role: content" blocks separated
// by blank lines, capped at TranscriptCap runes. The second return
// reports whether the cap was hit.
func RenderTranscript(msgs []thread.Message) (string, bool) {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	text := b.String()
	runes := []rune(text)
	if len(runes) <= TranscriptCap {
		return text, false
	}
	return string(runes[:TranscriptCap]) + "\n\n[transcript truncated]", true
}
