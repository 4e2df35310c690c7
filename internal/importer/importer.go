// Package importer is the ingest pipeline: it reads an export archive,
// reconstructs each conversation's canonical thread, chunks it, and
// writes the store, keyword index and vector index. Conversations are
// processed independently so one malformed tree never aborts a run.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatfind/internal/chunker"
	"chatfind/internal/export"
	"chatfind/internal/store"
	"chatfind/internal/thread"
	"chatfind/internal/vector"
)

// Options tunes the pipeline.
type Options struct {
	Workers      int           // concurrent conversation imports
	EmbedRetries int           // retries per chunk batch before degrading
	EmbedTimeout time.Duration // overall embedding budget per chunk batch
}

// Importer orchestrates one import run.
type Importer struct {
	store    *store.Store
	vectors  *vector.Index
	embedder vector.Embedder
	chunker  *chunker.Chunker
	opts     Options
}

// Failure records why one conversation was not imported.
type Failure struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Reason         string `json:"reason"`
}

// Report summarizes an import run.
type Report struct {
	RunID          string    `json:"run_id"`
	ArchivePath    string    `json:"archive_path"`
	Found          int       `json:"found"`
	Imported       int       `json:"imported"`
	Skipped        int       `json:"skipped"`
	Failed         int       `json:"failed"`
	Messages       int       `json:"messages"`
	Chunks         int       `json:"chunks"`
	FallbackLeaves int       `json:"fallback_leaves,omitempty"` // conversations without a marked current leaf
	DegradedChunks int       `json:"degraded_chunks,omitempty"` // chunks left keyword-only
	EarliestTime   float64   `json:"earliest_time,omitempty"`
	LatestTime     float64   `json:"latest_time,omitempty"`
	Failures       []Failure `json:"failures,omitempty"`
}

// New creates an importer.
func New(st *store.Store, vectors *vector.Index, embedder vector.Embedder, ch *chunker.Chunker, opts Options) *Importer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.EmbedRetries < 0 {
		opts.EmbedRetries = 0
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 30 * time.Second
	}
	return &Importer{store: st, vectors: vectors, embedder: embedder, chunker: ch, opts: opts}
}

// imported is the unit handed from the store phase to the embed phase.
type imported struct {
	thread *thread.Thread
	chunks []chunker.Chunk
}

// Import runs the pipeline over the archive at path. With overwrite set,
// conversations already present are deleted and fully recreated; without
// it they are skipped, making a repeated import a no-op.
func (imp *Importer) Import(ctx context.Context, path string, overwrite bool) (*Report, error) {
	conversations, err := export.ReadArchive(path)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:       uuid.New().String(),
		ArchivePath: path,
		Found:       len(conversations),
	}
	started := time.Now()

	var (
		mu      sync.Mutex
		results []imported
		wg      sync.WaitGroup
		workCh  = make(chan export.Conversation)
	)

	for i := 0; i < imp.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for conv := range workCh {
				res, failure := imp.importOne(ctx, conv, overwrite)
				mu.Lock()
				switch {
				case failure != nil:
					report.Failed++
					report.Failures = append(report.Failures, *failure)
				case res == nil:
					report.Skipped++
				default:
					report.Imported++
					report.Messages += len(res.thread.Messages)
					report.Chunks += len(res.chunks)
					if res.thread.UsedFallback {
						report.FallbackLeaves++
					}
					if t := res.thread.CreateTime; t > 0 {
						if report.EarliestTime == 0 || t < report.EarliestTime {
							report.EarliestTime = t
						}
						if t > report.LatestTime {
							report.LatestTime = t
						}
					}
					results = append(results, *res)
				}
				mu.Unlock()
			}
		}()
	}

	for _, conv := range conversations {
		select {
		case workCh <- conv:
		case <-ctx.Done():
			close(workCh)
			wg.Wait()
			return report, ctx.Err()
		}
	}
	close(workCh)
	wg.Wait()

	if err := imp.embedPhase(ctx, results, report); err != nil {
		return report, err
	}

	run := store.ImportRun{
		ID:          report.RunID,
		StartedAt:   float64(started.UnixMilli()) / 1000,
		FinishedAt:  float64(time.Now().UnixMilli()) / 1000,
		ArchivePath: path,
		Found:       report.Found,
		Imported:    report.Imported,
		Skipped:     report.Skipped,
		Failed:      report.Failed,
		Messages:    report.Messages,
		Chunks:      report.Chunks,
	}
	if err := imp.store.RecordImportRun(ctx, run); err != nil {
		log.Printf("importer: failed to record import run: %v", err)
	}

	return report, nil
}

// importOne reconstructs, chunks and stores one conversation. It returns
// (nil, nil) for a skip, and never lets one conversation's failure
// propagate beyond its Failure record.
func (imp *Importer) importOne(ctx context.Context, conv export.Conversation, overwrite bool) (*imported, *Failure) {
	if conv.ID == "" {
		return nil, &Failure{Title: conv.Title, Reason: "missing conversation id"}
	}

	exists, err := imp.store.Exists(ctx, conv.ID)
	if err != nil {
		return nil, &Failure{ConversationID: conv.ID, Title: conv.Title, Reason: err.Error()}
	}
	if exists && !overwrite {
		return nil, nil
	}

	t, err := thread.Reconstruct(conv)
	if err != nil {
		if errors.Is(err, thread.ErrEmptyThread) {
			// Nothing displayable; not worth a failure entry.
			log.Printf("importer: conversation %q has no extractable messages, skipping", conv.Title)
			return nil, nil
		}
		return nil, &Failure{ConversationID: conv.ID, Title: conv.Title, Reason: err.Error()}
	}
	if t.UsedFallback {
		log.Printf("importer: conversation %q has no marked current leaf, using latest-timestamp leaf", conv.Title)
	}
	if t.OrphanRoot {
		log.Printf("importer: conversation %q has an orphaned parent reference on its canonical path", conv.Title)
	}

	chunks := imp.chunker.Split(t)

	// The store replace and the vector delete together make re-import
	// atomic per conversation: store rows swap in one transaction, and
	// stale vectors are gone before new ones are written.
	if exists {
		if err := imp.vectors.RemoveConversation(ctx, conv.ID); err != nil {
			return nil, &Failure{ConversationID: conv.ID, Title: conv.Title, Reason: err.Error()}
		}
	}
	if err := imp.store.Replace(ctx, t, chunks); err != nil {
		return nil, &Failure{ConversationID: conv.ID, Title: conv.Title, Reason: err.Error()}
	}

	return &imported{thread: t, chunks: chunks}, nil
}

// embedBatch is one conversation's worth of chunks queued for embedding.
type embedBatch struct {
	conversationID string
	createTime     float64
	chunkIDs       []string
	messageIdx     []int
	texts          []string
}

func batchFromImported(res imported) embedBatch {
	b := embedBatch{conversationID: res.thread.ID, createTime: res.thread.CreateTime}
	for _, ch := range res.chunks {
		b.chunkIDs = append(b.chunkIDs, ch.ID)
		b.messageIdx = append(b.messageIdx, ch.MessageIndex)
		b.texts = append(b.texts, ch.Text)
	}
	return b
}

// embedPhase writes vector entries for the imported conversations. For a
// corpus-trained embedder (TF-IDF) the vocabulary is rebuilt over the
// whole stored corpus and every chunk is re-embedded, so old and new
// vectors stay comparable; remote embedders only embed this run's
// chunks. Embedding failures degrade chunks to keyword-only; they never
// fail the run.
func (imp *Importer) embedPhase(ctx context.Context, results []imported, report *Report) error {
	if len(results) == 0 {
		return nil
	}

	var batches []embedBatch

	if trainable, ok := imp.embedder.(vector.Trainable); ok {
		rows, err := imp.store.AllChunks(ctx)
		if err != nil {
			return err
		}
		texts := make([]string, len(rows))
		for i, r := range rows {
			texts[i] = r.Text
		}
		if err := trainable.Train(texts); err != nil {
			return fmt.Errorf("importer: train embedder: %w", err)
		}
		state, err := trainable.Marshal()
		if err != nil {
			return fmt.Errorf("importer: marshal embedder state: %w", err)
		}
		if err := imp.vectors.SaveEmbedderState(ctx, imp.embedder.Name(), state); err != nil {
			return err
		}

		byConv := make(map[string]*embedBatch)
		var order []string
		for _, r := range rows {
			b, ok := byConv[r.ConversationID]
			if !ok {
				b = &embedBatch{conversationID: r.ConversationID, createTime: r.CreateTime}
				byConv[r.ConversationID] = b
				order = append(order, r.ConversationID)
			}
			b.chunkIDs = append(b.chunkIDs, r.ID)
			b.messageIdx = append(b.messageIdx, r.MessageIndex)
			b.texts = append(b.texts, r.Text)
		}
		for _, id := range order {
			batches = append(batches, *byConv[id])
		}
	} else {
		if err := imp.vectors.SaveEmbedderState(ctx, imp.embedder.Name(), nil); err != nil {
			return err
		}
		for _, res := range results {
			batches = append(batches, batchFromImported(res))
		}
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		workCh = make(chan embedBatch)
	)

	for i := 0; i < imp.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range workCh {
				degraded := imp.embedConversation(ctx, batch)
				if degraded > 0 {
					mu.Lock()
					report.DegradedChunks += degraded
					mu.Unlock()
				}
			}
		}()
	}

	for _, batch := range batches {
		select {
		case workCh <- batch:
		case <-ctx.Done():
			close(workCh)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(workCh)
	wg.Wait()
	return nil
}

// embedConversation embeds one conversation's chunks and writes them to
// the vector index. Returns the number of chunks degraded to
// keyword-only.
func (imp *Importer) embedConversation(ctx context.Context, batch embedBatch) int {
	vecs, err := imp.embedWithRetry(ctx, batch.texts)
	if err != nil {
		log.Printf("importer: embedding failed for conversation %s, keeping keyword-only: %v", batch.conversationID, err)
		for _, id := range batch.chunkIDs {
			if markErr := imp.store.MarkEmbeddingAbsent(ctx, id); markErr != nil {
				log.Printf("importer: %v", markErr)
			}
		}
		return len(batch.chunkIDs)
	}

	entries := make([]vector.Entry, len(batch.chunkIDs))
	for i := range batch.chunkIDs {
		entries[i] = vector.Entry{
			ChunkID:        batch.chunkIDs[i],
			ConversationID: batch.conversationID,
			MessageIndex:   batch.messageIdx[i],
			CreateTime:     batch.createTime,
			Text:           batch.texts[i],
			Embedding:      vecs[i],
		}
	}
	if err := imp.vectors.Add(ctx, entries); err != nil {
		log.Printf("importer: vector write failed for conversation %s: %v", batch.conversationID, err)
		return len(batch.chunkIDs)
	}

	for _, id := range batch.chunkIDs {
		if err := imp.store.MarkEmbedded(ctx, id); err != nil {
			log.Printf("importer: %v", err)
		}
	}
	return 0
}

// embedWithRetry retries a chunk batch a bounded number of times under an
// overall timeout, so a stalled model cannot hold up the whole import.
func (imp *Importer) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, imp.opts.EmbedTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= imp.opts.EmbedRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		vecs, err := imp.embedder.Embed(ctx, texts)
		if err == nil {
			if len(vecs) != len(texts) {
				return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
			}
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
