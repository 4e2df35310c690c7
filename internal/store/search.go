package store

import (
	"context"
	"fmt"
	"strings"
)

// KeywordHit is one chunk-level match from the FTS5 index.
type KeywordHit struct {
	ChunkID        string
	ConversationID string
	MessageIndex   int
	Title          string
	Text           string
	Rank           float64 // BM25 rank; more negative = more relevant
	CreateTime     float64 // conversation create time
}

// SearchChunks queries the chunk FTS5 index with BM25 ranking, joining
// each hit back to its conversation. Date bounds apply to the
// conversation's create time; zero means unbounded.
func (s *Store) SearchChunks(ctx context.Context, query string, limit int, after, before float64) ([]KeywordHit, error) {
	if limit <= 0 {
		limit = 20
	}

	fts := BuildFTSQuery(query)
	if fts == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT ch.id, ch.conversation_id, ch.message_idx, c.title, ch.text, f.rank, c.create_time
		FROM chunks_fts f
		JOIN chunks ch ON ch.rowid = f.rowid
		JOIN conversations c ON c.id = ch.conversation_id
		WHERE chunks_fts MATCH ?`
	args := []any{fts}

	if after > 0 {
		sqlQuery += ` AND c.create_time >= ?`
		args = append(args, after)
	}
	if before > 0 {
		sqlQuery += ` AND c.create_time <= ?`
		args = append(args, before)
	}
	sqlQuery += ` ORDER BY f.rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("store: keyword search: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := rows.Scan(&h.ChunkID, &h.ConversationID, &h.MessageIndex, &h.Title, &h.Text, &h.Rank, &h.CreateTime); err != nil {
			return nil, fmt.Errorf("store: scan keyword hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// BuildFTSQuery converts a user query string into an FTS5 MATCH
// expression. Terms are joined with OR for broad matching; characters
// with FTS5 syntax meaning are stripped.
func BuildFTSQuery(query string) string {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return ""
	}

	var terms []string
	for _, w := range words {
		if cleaned := cleanFTSTerm(w); cleaned != "" {
			terms = append(terms, cleaned)
		}
	}
	if len(terms) == 0 {
		return ""
	}
	return strings.Join(terms, " OR ")
}

// cleanFTSTerm removes characters that have special meaning in FTS5 queries.
func cleanFTSTerm(term string) string {
	var b strings.Builder
	for _, ch := range term {
		switch ch {
		case '"', '*', '(', ')', ':', '^', '{', '}', '+', '-':
			// skip special FTS5 characters
		default:
			b.WriteRune(ch)
		}
	}
	return strings.TrimSpace(b.String())
}
