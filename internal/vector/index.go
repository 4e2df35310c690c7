package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	_ "modernc.org/sqlite"
)

// Entry is one embedded chunk in the index.
type Entry struct {
	ChunkID        string
	ConversationID string
	MessageIndex   int
	CreateTime     float64 // conversation create time, for date filtering
	Text           string
	Embedding      []float32
}

// Hit is one nearest-neighbor match.
type Hit struct {
	ChunkID        string
	ConversationID string
	MessageIndex   int
	CreateTime     float64
	Text           string
	Similarity     float64 // cosine similarity, higher = closer
}

// Index is a flat cosine-similarity index over chunk embeddings,
// persisted in its own SQLite file and held in memory for queries. A
// personal archive stays small enough that a linear scan beats the
// bookkeeping of an approximate index.
type Index struct {
	db      *sql.DB
	mu      sync.RWMutex
	entries map[string]Entry // chunk id -> entry
}

// Open opens (creating if necessary) the vector database at path and
// loads all embeddings into memory.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vector: open database: %w", err)
	}

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vectors (
			chunk_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message_idx INTEGER NOT NULL,
			create_time REAL NOT NULL DEFAULT 0,
			text TEXT NOT NULL,
			embedding BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vectors_conversation ON vectors (conversation_id)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("vector: init schema: %w", err)
		}
	}

	idx := &Index{db: db, entries: make(map[string]Entry)}
	if err := idx.load(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) load() error {
	rows, err := idx.db.Query(`
		SELECT chunk_id, conversation_id, message_idx, create_time, text, embedding FROM vectors`)
	if err != nil {
		return fmt.Errorf("vector: load: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var blob []byte
		if err := rows.Scan(&e.ChunkID, &e.ConversationID, &e.MessageIndex, &e.CreateTime, &e.Text, &blob); err != nil {
			return fmt.Errorf("vector: scan entry: %w", err)
		}
		e.Embedding = decodeVector(blob)
		idx.entries[e.ChunkID] = e
	}
	return rows.Err()
}

// Close closes the underlying database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Count returns the number of embedded chunks.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Add upserts entries into the index in one transaction.
func (idx *Index) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vector: begin add: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO vectors (chunk_id, conversation_id, message_idx, create_time, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("vector: prepare add: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ChunkID, e.ConversationID, e.MessageIndex, e.CreateTime, e.Text, encodeVector(e.Embedding)); err != nil {
			return fmt.Errorf("vector: add %s: %w", e.ChunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vector: commit add: %w", err)
	}

	idx.mu.Lock()
	for _, e := range entries {
		idx.entries[e.ChunkID] = e
	}
	idx.mu.Unlock()
	return nil
}

// RemoveConversation deletes every entry belonging to a conversation.
func (idx *Index) RemoveConversation(ctx context.Context, conversationID string) error {
	if _, err := idx.db.ExecContext(ctx,
		`DELETE FROM vectors WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("vector: remove conversation %s: %w", conversationID, err)
	}

	idx.mu.Lock()
	for id, e := range idx.entries {
		if e.ConversationID == conversationID {
			delete(idx.entries, id)
		}
	}
	idx.mu.Unlock()
	return nil
}

// Search returns the k entries most similar to query by cosine
// similarity. Date bounds apply to the conversation create time; zero
// means unbounded. Ordering is deterministic: similarity descending,
// then chunk id ascending.
func (idx *Index) Search(ctx context.Context, query []float32, k int, after, before float64) ([]Hit, error) {
	if k <= 0 {
		k = 20
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make([]Hit, 0, len(idx.entries))
	for _, e := range idx.entries {
		if after > 0 && e.CreateTime < after {
			continue
		}
		if before > 0 && e.CreateTime > before {
			continue
		}
		if len(e.Embedding) != len(query) {
			continue
		}
		hits = append(hits, Hit{
			ChunkID:        e.ChunkID,
			ConversationID: e.ConversationID,
			MessageIndex:   e.MessageIndex,
			CreateTime:     e.CreateTime,
			Text:           e.Text,
			Similarity:     cosine(query, e.Embedding),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SaveEmbedderState persists the embedder identity and any trained state
// (the TF-IDF vocabulary) so queries embed with the same parameters.
func (idx *Index) SaveEmbedderState(ctx context.Context, name string, state []byte) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vector: begin save state: %w", err)
	}
	defer tx.Rollback()

	upsert := `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`
	if _, err := tx.ExecContext(ctx, upsert, "embedder_name", []byte(name)); err != nil {
		return fmt.Errorf("vector: save embedder name: %w", err)
	}
	if state != nil {
		if _, err := tx.ExecContext(ctx, upsert, "embedder_state", state); err != nil {
			return fmt.Errorf("vector: save embedder state: %w", err)
		}
	}
	return tx.Commit()
}

// LoadEmbedderState returns the persisted embedder name and state, or
// empty values when the index has never been written.
func (idx *Index) LoadEmbedderState(ctx context.Context) (name string, state []byte, err error) {
	var value []byte
	err = idx.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = 'embedder_name'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("vector: load embedder name: %w", err)
	}
	name = string(value)

	err = idx.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = 'embedder_state'`).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return name, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("vector: load embedder state: %w", err)
	}
	return name, state, nil
}

// cosine computes cosine similarity between two vectors of equal length.
func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// encodeVector packs a []float32 as little-endian bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks little-endian bytes into a []float32.
func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
