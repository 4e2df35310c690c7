// Package search is the hybrid search engine: it queries the keyword and
// semantic indexes concurrently, normalizes their scores to a common
// scale, and fuses the two result sets into one deterministic ranking.
package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"chatfind/internal/store"
	"chatfind/internal/vector"
)

// ErrUnavailable indicates both search branches failed.
var ErrUnavailable = errors.New("search unavailable: both index branches failed")

// Source labels where a hit came from.
const (
	SourceKeyword  = "keyword"
	SourceSemantic = "semantic"
	SourceBoth     = "both"
)

// Options filters one search call.
type Options struct {
	Limit  int
	After  float64 // conversation create_time lower bound, 0 = unbounded
	Before float64 // upper bound
}

// Hit is one ranked search result. At most one hit survives per
// (conversation, message) pair.
type Hit struct {
	ConversationID string  `json:"conversation_id"`
	Title          string  `json:"title"`
	MessageIndex   int     `json:"message_index"`
	ChunkID        string  `json:"chunk_id"`
	Snippet        string  `json:"snippet"`
	Source         string  `json:"source"`
	KeywordScore   float64 `json:"keyword_score"`
	SemanticScore  float64 `json:"semantic_score"`
	Combined       float64 `json:"combined_score"`
	CreateTime     float64 `json:"create_time,omitempty"`
}

// Config tunes the engine.
type Config struct {
	KeywordWeight   float64 // fused score weights; must sum to 1
	SemanticWeight  float64
	Timeout         time.Duration // shared budget for both branches
	OverfetchFactor int           // branch limit multiplier before merge
	DefaultLimit    int
	MaxLimit        int
}

// DefaultConfig mirrors the weights the archive was tuned with: semantic
// similarity dominates, keyword match confirms.
func DefaultConfig() Config {
	return Config{
		KeywordWeight:   0.3,
		SemanticWeight:  0.7,
		Timeout:         5 * time.Second,
		OverfetchFactor: 3,
		DefaultLimit:    20,
		MaxLimit:        100,
	}
}

// Engine fans a query out to both indexes and merges the results.
type Engine struct {
	store    *store.Store
	vectors  *vector.Index
	embedder vector.Embedder
	cfg      Config
}

// New creates a hybrid search engine.
func New(st *store.Store, vectors *vector.Index, embedder vector.Embedder, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.KeywordWeight <= 0 && cfg.SemanticWeight <= 0 {
		cfg.KeywordWeight = def.KeywordWeight
		cfg.SemanticWeight = def.SemanticWeight
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = def.OverfetchFactor
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	return &Engine{store: st, vectors: vectors, embedder: embedder, cfg: cfg}
}

// Search runs the keyword and semantic branches concurrently under a
// shared timeout, merges by (conversation, message), and returns up to
// opts.Limit hits ranked by fused score. A single failed branch degrades
// to the other; both failing returns ErrUnavailable.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Hit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}
	fetch := limit * e.cfg.OverfetchFactor

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var (
		wg          sync.WaitGroup
		keywordHits []store.KeywordHit
		keywordErr  error
		vectorHits  []vector.Hit
		semanticErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		keywordHits, keywordErr = e.store.SearchChunks(ctx, query, fetch, opts.After, opts.Before)
	}()
	go func() {
		defer wg.Done()
		vectorHits, semanticErr = e.semanticBranch(ctx, query, fetch, opts.After, opts.Before)
	}()
	wg.Wait()

	if keywordErr != nil && semanticErr != nil {
		return nil, fmt.Errorf("%w: keyword: %v; semantic: %v", ErrUnavailable, keywordErr, semanticErr)
	}
	if keywordErr != nil {
		log.Printf("search: keyword branch failed, continuing semantic-only: %v", keywordErr)
	}
	if semanticErr != nil {
		log.Printf("search: semantic branch failed, continuing keyword-only: %v", semanticErr)
	}

	hits := merge(keywordHits, vectorHits, e.cfg.KeywordWeight, e.cfg.SemanticWeight)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	e.fillTitles(ctx, hits)
	return hits, nil
}

// fillTitles resolves titles for semantic-only hits, which carry no
// title in the vector index. Lookup failure leaves the title blank and
// is not a search failure.
func (e *Engine) fillTitles(ctx context.Context, hits []Hit) {
	var missing []string
	for i := range hits {
		if hits[i].Title == "" {
			missing = append(missing, hits[i].ConversationID)
		}
	}
	if len(missing) == 0 {
		return
	}
	titles, err := e.store.Titles(ctx, missing)
	if err != nil {
		log.Printf("search: title lookup failed: %v", err)
		return
	}
	for i := range hits {
		if hits[i].Title == "" {
			hits[i].Title = titles[hits[i].ConversationID]
		}
	}
}

// semanticBranch embeds the query and searches the vector index. An
// empty index yields no hits rather than an error.
func (e *Engine) semanticBranch(ctx context.Context, query string, fetch int, after, before float64) ([]vector.Hit, error) {
	if e.vectors.Count() == 0 {
		return nil, nil
	}
	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	return e.vectors.Search(ctx, vecs[0], fetch, after, before)
}

// mergeKey identifies the unit of deduplication.
type mergeKey struct {
	conversationID string
	messageIndex   int
}

// merge fuses the two branches. Raw scores are normalized to [0,1]
// per branch, hits present in both branches are tagged and get a
// weighted sum, and at most the best-scoring chunk survives per
// (conversation, message). Ordering is fully deterministic: fused score
// descending, newer conversation first on ties, then conversation id
// and message index.
func merge(keywordHits []store.KeywordHit, vectorHits []vector.Hit, kwWeight, semWeight float64) []Hit {
	byKey := make(map[mergeKey]*Hit)

	for _, kh := range keywordHits {
		key := mergeKey{kh.ConversationID, kh.MessageIndex}
		score := normalizeBM25(kh.Rank)
		if existing, ok := byKey[key]; ok {
			if score > existing.KeywordScore {
				existing.KeywordScore = score
				existing.ChunkID = kh.ChunkID
				existing.Snippet = snippet(kh.Text)
			}
			continue
		}
		byKey[key] = &Hit{
			ConversationID: kh.ConversationID,
			Title:          kh.Title,
			MessageIndex:   kh.MessageIndex,
			ChunkID:        kh.ChunkID,
			Snippet:        snippet(kh.Text),
			Source:         SourceKeyword,
			KeywordScore:   score,
			CreateTime:     kh.CreateTime,
		}
	}

	for _, vh := range vectorHits {
		key := mergeKey{vh.ConversationID, vh.MessageIndex}
		score := normalizeCosine(vh.Similarity)
		if existing, ok := byKey[key]; ok {
			if score > existing.SemanticScore {
				existing.SemanticScore = score
				if existing.Source == SourceSemantic {
					existing.ChunkID = vh.ChunkID
					existing.Snippet = snippet(vh.Text)
				}
				// When a keyword match exists its snippet stays: exact
				// matches make the better preview.
			}
			if existing.Source == SourceKeyword {
				existing.Source = SourceBoth
			}
			continue
		}
		byKey[key] = &Hit{
			ConversationID: vh.ConversationID,
			MessageIndex:   vh.MessageIndex,
			ChunkID:        vh.ChunkID,
			Snippet:        snippet(vh.Text),
			Source:         SourceSemantic,
			SemanticScore:  score,
			CreateTime:     vh.CreateTime,
		}
	}

	out := make([]Hit, 0, len(byKey))
	for _, h := range byKey {
		h.Combined = kwWeight*h.KeywordScore + semWeight*h.SemanticScore
		out = append(out, *h)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Combined != out[j].Combined {
			return out[i].Combined > out[j].Combined
		}
		if out[i].CreateTime != out[j].CreateTime {
			return out[i].CreateTime > out[j].CreateTime
		}
		if out[i].ConversationID != out[j].ConversationID {
			return out[i].ConversationID < out[j].ConversationID
		}
		return out[i].MessageIndex < out[j].MessageIndex
	})
	return out
}

// normalizeBM25 maps an FTS5 BM25 rank (more negative = more relevant)
// onto [0,1].
func normalizeBM25(rank float64) float64 {
	score := math.Tanh(-rank / 10)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// normalizeCosine clamps cosine similarity onto [0,1]. Negative
// similarity carries no more signal than orthogonality for ranking.
func normalizeCosine(sim float64) float64 {
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// snippet trims a chunk text down to preview length.
func snippet(text string) string {
	const maxLen = 200
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
