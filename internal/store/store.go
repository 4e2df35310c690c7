// Package store is the structured repository of conversations, messages
// and chunks, backed by SQLite with an FTS5 keyword index over chunk text.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"chatfind/internal/chunker"
	"chatfind/internal/database"
	"chatfind/internal/thread"
)

// ErrNotFound indicates the requested conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Store manages the conversation database.
type Store struct {
	db *sql.DB
}

// Conversation is a stored conversation with its full message sequence.
type Conversation struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	CreateTime   float64          `json:"create_time,omitempty"`
	UpdateTime   float64          `json:"update_time,omitempty"`
	MessageCount int              `json:"message_count"`
	ModelSlug    string           `json:"model_slug,omitempty"`
	Messages     []thread.Message `json:"messages,omitempty"`
}

// Summary is the listing form of a conversation, without messages.
type Summary struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	CreateTime   float64 `json:"create_time,omitempty"`
	MessageCount int     `json:"message_count"`
	ModelSlug    string  `json:"model_slug,omitempty"`
}

// New opens (creating if necessary) the store database at path.
func New(path string) (*Store, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-configured database handle. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for stats and maintenance queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Exists reports whether a conversation id is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: exists: %w", err)
	}
	return true, nil
}

// Replace writes a conversation and all of its messages and chunks in a
// single transaction, removing any prior rows for the same id first.
// Concurrent readers see either the old conversation or the new one,
// never a mix.
func (s *Store) Replace(ctx context.Context, t *thread.Thread, chunks []chunker.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin replace: %w", err)
	}
	defer tx.Rollback()

	if err := deleteConversationTx(ctx, tx, t.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, create_time, update_time, message_count, model_slug, full_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.CreateTime, t.UpdateTime, len(t.Messages), t.ModelSlug, fullText(t),
	); err != nil {
		return fmt.Errorf("store: insert conversation: %w", err)
	}

	msgStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (conversation_id, idx, role, content, timestamp, source_node_id)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare messages: %w", err)
	}
	defer msgStmt.Close()
	for _, m := range t.Messages {
		if _, err := msgStmt.ExecContext(ctx, t.ID, m.Index, m.Role, m.Content, m.Timestamp, m.SourceNodeID); err != nil {
			return fmt.Errorf("store: insert message %d: %w", m.Index, err)
		}
	}

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, conversation_id, message_idx, chunk_index, start_offset, end_offset, text, timestamp, embedding_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending')`)
	if err != nil {
		return fmt.Errorf("store: prepare chunks: %w", err)
	}
	defer chunkStmt.Close()
	for _, ch := range chunks {
		if _, err := chunkStmt.ExecContext(ctx, ch.ID, ch.ConversationID, ch.MessageIndex, ch.Index, ch.StartOffset, ch.EndOffset, ch.Text, ch.Timestamp); err != nil {
			return fmt.Errorf("store: insert chunk %s: %w", ch.ID, err)
		}
	}

	return tx.Commit()
}

// Delete removes a conversation and all of its rows.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin delete: %w", err)
	}
	defer tx.Rollback()
	if err := deleteConversationTx(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteConversationTx(ctx context.Context, tx *sql.Tx, id string) error {
	// Deletes run child-tables-first; the FTS triggers keep the indexes
	// in step within the same transaction.
	for _, q := range []string{
		`DELETE FROM chunks WHERE conversation_id = ?`,
		`DELETE FROM messages WHERE conversation_id = ?`,
		`DELETE FROM conversations WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("store: delete conversation %s: %w", id, err)
		}
	}
	return nil
}

// Get returns a conversation with its ordered messages.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	var modelSlug sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, create_time, update_time, message_count, model_slug
		FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Title, &conv.CreateTime, &conv.UpdateTime, &conv.MessageCount, &modelSlug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	conv.ModelSlug = modelSlug.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, role, content, timestamp, source_node_id
		FROM messages WHERE conversation_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m thread.Message
		if err := rows.Scan(&m.Index, &m.Role, &m.Content, &m.Timestamp, &m.SourceNodeID); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		conv.Messages = append(conv.Messages, m)
	}
	return &conv, rows.Err()
}

// MarkEmbeddingAbsent records that a chunk could not be embedded and is
// keyword-searchable only.
func (s *Store) MarkEmbeddingAbsent(ctx context.Context, chunkID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET embedding_state = 'absent' WHERE id = ?`, chunkID)
	if err != nil {
		return fmt.Errorf("store: mark embedding absent: %w", err)
	}
	return nil
}

// MarkEmbedded records that a chunk has a vector in the vector index.
func (s *Store) MarkEmbedded(ctx context.Context, chunkID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET embedding_state = 'done' WHERE id = ?`, chunkID)
	if err != nil {
		return fmt.Errorf("store: mark embedded: %w", err)
	}
	return nil
}

// ChunkTexts returns the text of every stored chunk. Used to train the
// local TF-IDF embedder over the whole corpus.
func (s *Store) ChunkTexts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT text FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: chunk texts: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("store: scan chunk text: %w", err)
		}
		texts = append(texts, t)
	}
	return texts, rows.Err()
}

// ChunkRow is a stored chunk joined with its conversation's create time.
type ChunkRow struct {
	ID             string
	ConversationID string
	MessageIndex   int
	Text           string
	CreateTime     float64
}

// AllChunks returns every stored chunk in deterministic order. Used to
// rebuild the vector index when the corpus-trained embedder changes.
func (s *Store) AllChunks(ctx context.Context) ([]ChunkRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ch.id, ch.conversation_id, ch.message_idx, ch.text, c.create_time
		FROM chunks ch
		JOIN conversations c ON c.id = ch.conversation_id
		ORDER BY ch.conversation_id, ch.message_idx, ch.chunk_index`)
	if err != nil {
		return nil, fmt.Errorf("store: all chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var r ChunkRow
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.MessageIndex, &r.Text, &r.CreateTime); err != nil {
			return nil, fmt.Errorf("store: scan chunk row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// fullText renders the whole thread for conversation-level keyword
// filtering in listings.
func fullText(t *thread.Thread) string {
	var b strings.Builder
	for i, m := range t.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
