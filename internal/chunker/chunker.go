// Package chunker splits canonical threads into bounded, overlapping text
// windows, the unit of both keyword and semantic indexing.
package chunker

import (
	"fmt"

	"chatfind/internal/thread"
)

// TitleIndex is the message index assigned to a conversation's title chunk.
// Titles are indexed as their own chunk so title-only matches still rank.
const TitleIndex = -1

// Chunk is one indexable text window. Offsets are rune offsets into the
// owning message's content; a chunk never spans a message boundary.
type Chunk struct {
	ID             string
	ConversationID string
	MessageIndex   int // TitleIndex for the title chunk
	Index          int // chunk index within the message
	StartOffset    int
	EndOffset      int
	Text           string
	Timestamp      float64
}

// Chunker produces deterministic chunk boundaries: the same message text
// always yields the same chunks, so re-indexing is stable.
type Chunker struct {
	size    int // target chunk size in runes
	overlap int // runes shared between consecutive chunks of a message
}

// New creates a chunker with the given size and overlap in characters.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = 2000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split produces the chunk sequence for a thread: one title chunk followed
// by the chunks of each message in order. Concatenating a message's chunk
// texts, dropping each subsequent chunk's leading overlap, reproduces the
// message content exactly.
func (c *Chunker) Split(t *thread.Thread) []Chunk {
	chunks := []Chunk{{
		ID:             fmt.Sprintf("%s__title", t.ID),
		ConversationID: t.ID,
		MessageIndex:   TitleIndex,
		Index:          0,
		StartOffset:    0,
		EndOffset:      len([]rune(t.Title)),
		Text:           t.Title,
		Timestamp:      t.CreateTime,
	}}

	for _, msg := range t.Messages {
		chunks = append(chunks, c.splitMessage(t.ID, msg)...)
	}
	return chunks
}

func (c *Chunker) splitMessage(convID string, msg thread.Message) []Chunk {
	runes := []rune(msg.Content)
	var out []Chunk

	step := c.size - c.overlap
	for start := 0; ; start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, Chunk{
			ID:             fmt.Sprintf("%s__m%d_c%d", convID, msg.Index, len(out)),
			ConversationID: convID,
			MessageIndex:   msg.Index,
			Index:          len(out),
			StartOffset:    start,
			EndOffset:      end,
			Text:           string(runes[start:end]),
			Timestamp:      msg.Timestamp,
		})
		if end == len(runes) {
			break
		}
	}
	return out
}

// Reassemble reconstructs a message's content from its chunks, accounting
// for the overlap between consecutive windows.
func (c *Chunker) Reassemble(chunks []Chunk) string {
	var runes []rune
	for i, ch := range chunks {
		text := []rune(ch.Text)
		if i > 0 {
			skip := c.overlap
			if skip > len(text) {
				skip = len(text)
			}
			text = text[skip:]
		}
		runes = append(runes, text...)
	}
	return string(runes)
}
