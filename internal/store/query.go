package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// ListOptions filters and pages a conversation listing.
type ListOptions struct {
	Limit   int
	Keyword string  // FTS5 filter over title and full text
	After   float64 // create_time lower bound (unix seconds, 0 = unbounded)
	Before  float64 // create_time upper bound
	Cursor  string  // opaque cursor from a previous page
}

// cursor is the decoded form of the opaque pagination cursor. Encoding the
// last-seen sort key instead of an offset keeps pages stable under
// concurrent writes.
type cursor struct {
	CreateTime float64 `json:"t"`
	ID         string  `json:"id"`
}

// EncodeCursor builds the opaque cursor for the row after (createTime, id).
func EncodeCursor(createTime float64, id string) string {
	data, _ := json.Marshal(cursor{CreateTime: createTime, ID: id})
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("malformed cursor: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("malformed cursor: %w", err)
	}
	return c, nil
}

// List returns a page of conversation summaries ordered by creation time
// descending (ties broken by id ascending), plus the cursor for the next
// page. An empty next cursor means the listing is exhausted.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Summary, string, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	var (
		where []string
		args  []any
	)

	query := `
		SELECT c.id, c.title, c.create_time, c.message_count, c.model_slug
		FROM conversations c`

	if opts.Keyword != "" {
		fts := BuildFTSQuery(opts.Keyword)
		if fts == "" {
			return nil, "", nil
		}
		query += ` JOIN conversations_fts fts ON c.rowid = fts.rowid`
		where = append(where, `conversations_fts MATCH ?`)
		args = append(args, fts)
	}
	if opts.After > 0 {
		where = append(where, `c.create_time >= ?`)
		args = append(args, opts.After)
	}
	if opts.Before > 0 {
		where = append(where, `c.create_time <= ?`)
		args = append(args, opts.Before)
	}
	if opts.Cursor != "" {
		cur, err := decodeCursor(opts.Cursor)
		if err != nil {
			return nil, "", err
		}
		where = append(where, `(c.create_time < ? OR (c.create_time = ? AND c.id > ?))`)
		args = append(args, cur.CreateTime, cur.CreateTime, cur.ID)
	}

	for i, w := range where {
		if i == 0 {
			query += ` WHERE ` + w
		} else {
			query += ` AND ` + w
		}
	}
	query += ` ORDER BY c.create_time DESC, c.id ASC LIMIT ?`
	args = append(args, opts.Limit+1) // one extra row decides nextCursor

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var modelSlug sql.NullString
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.CreateTime, &sum.MessageCount, &modelSlug); err != nil {
			return nil, "", fmt.Errorf("store: scan summary: %w", err)
		}
		sum.ModelSlug = modelSlug.String
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
		last := out[len(out)-1]
		next = EncodeCursor(last.CreateTime, last.ID)
	}
	return out, next, nil
}

// Titles resolves conversation ids to titles in one query. Unknown ids
// are absent from the result map.
func (s *Store) Titles(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, title FROM conversations WHERE id IN (%s)`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: titles: %w", err)
	}
	defer rows.Close()

	titles := make(map[string]string, len(ids))
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("store: titles: %w", err)
		}
		titles[id] = title
	}
	return titles, rows.Err()
}

// ModelCount is one entry of the per-model conversation tally.
type ModelCount struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

// Stats summarizes the archive.
type Stats struct {
	Conversations     int          `json:"conversation_count"`
	Messages          int          `json:"message_count"`
	Chunks            int          `json:"chunk_count"`
	KeywordOnlyChunks int          `json:"keyword_only_chunks,omitempty"`
	EarliestTime      float64      `json:"earliest_time,omitempty"`
	LatestTime        float64      `json:"latest_time,omitempty"`
	Models            []ModelCount `json:"models,omitempty"`
}

// Stats returns archive-wide counts, the conversation date range and the
// most used models.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&st.Conversations); err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.Messages); err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.Chunks); err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE embedding_state = 'absent'`).Scan(&st.KeywordOnlyChunks); err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}

	var earliest, latest sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(create_time), MAX(create_time) FROM conversations WHERE create_time > 0`,
	).Scan(&earliest, &latest); err != nil {
		return nil, fmt.Errorf("store: stats date range: %w", err)
	}
	st.EarliestTime = earliest.Float64
	st.LatestTime = latest.Float64

	rows, err := s.db.QueryContext(ctx, `
		SELECT model_slug, COUNT(*) AS cnt FROM conversations
		WHERE model_slug IS NOT NULL AND model_slug != ''
		GROUP BY model_slug ORDER BY cnt DESC, model_slug ASC LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("store: stats models: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mc ModelCount
		if err := rows.Scan(&mc.Model, &mc.Count); err != nil {
			return nil, fmt.Errorf("store: scan model count: %w", err)
		}
		st.Models = append(st.Models, mc)
	}
	return st, rows.Err()
}

// ImportRun is one recorded invocation of the ingest pipeline.
type ImportRun struct {
	ID          string
	StartedAt   float64
	FinishedAt  float64
	ArchivePath string
	Found       int
	Imported    int
	Skipped     int
	Failed      int
	Messages    int
	Chunks      int
}

// RecordImportRun appends an import run to the audit log.
func (s *Store) RecordImportRun(ctx context.Context, run ImportRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_runs (id, started_at, finished_at, archive_path,
			conversations_found, conversations_imported, conversations_skipped,
			conversations_failed, messages_imported, chunks_written)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.FinishedAt, run.ArchivePath,
		run.Found, run.Imported, run.Skipped, run.Failed, run.Messages, run.Chunks)
	if err != nil {
		return fmt.Errorf("store: record import run: %w", err)
	}
	return nil
}
