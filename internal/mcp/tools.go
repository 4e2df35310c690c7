package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatfind/internal/search"
	"chatfind/internal/store"
)

// argumentError marks a tool-argument validation failure so it maps to
// JSON-RPC invalid-params instead of a generic server error.
type argumentError struct {
	field string
	msg   string
}

func (e *argumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.field, e.msg)
}

func asArgumentError(err error, target **argumentError) bool {
	return errors.As(err, target)
}

type toolHandler func(ctx context.Context, args json.RawMessage) (interface{}, error)

func (s *Server) toolHandlers() map[string]toolHandler {
	return map[string]toolHandler{
		"search_conversations": s.toolSearchConversations,
		"get_conversation":     s.toolGetConversation,
		"list_conversations":   s.toolListConversations,
		"get_context_summary":  s.toolGetContextSummary,
		"get_stats":            s.toolGetStats,
	}
}

func (s *Server) toolList() []Tool {
	return []Tool{
		{
			Name:        "search_conversations",
			Description: "Search archived conversations by meaning and keywords. Returns ranked matches with snippets.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query": {Type: "string", Description: "What to search for"},
					"limit": {Type: "integer", Description: "Maximum results (default 20, max 100)"},
					"after": {Type: "string", Description: "Only conversations created on or after this date (YYYY-MM-DD or RFC 3339)"},
					"before": {Type: "string", Description: "Only conversations created before this date (YYYY-MM-DD or RFC 3339)"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "get_conversation",
			Description: "Fetch one conversation's full transcript by id.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"conversation_id": {Type: "string", Description: "Conversation id from a search or listing"},
				},
				Required: []string{"conversation_id"},
			},
		},
		{
			Name:        "list_conversations",
			Description: "List archived conversations newest first, with optional keyword and date filters. Paged via cursor.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"limit":   {Type: "integer", Description: "Page size (default 20, max 100)"},
					"keyword": {Type: "string", Description: "Filter by words in title or content"},
					"after":   {Type: "string", Description: "Only conversations created on or after this date"},
					"before":  {Type: "string", Description: "Only conversations created before this date"},
					"cursor":  {Type: "string", Description: "Opaque cursor from a previous page"},
				},
			},
		},
		{
			Name:        "get_context_summary",
			Description: "Get a compact summary of one conversation: metadata plus its opening and closing messages.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"conversation_id": {Type: "string", Description: "Conversation id"},
					"recent_count":    {Type: "integer", Description: "Messages from each end of the conversation (default 3)"},
				},
				Required: []string{"conversation_id"},
			},
		},
		{
			Name:        "get_stats",
			Description: "Get archive-wide statistics: conversation, message and chunk counts, date range, and top models.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{},
			},
		},
	}
}

type searchConversationsArgs struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
	After  string `json:"after"`
	Before string `json:"before"`
}

func (s *Server) toolSearchConversations(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args searchConversationsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &argumentError{field: "arguments", msg: "malformed arguments"}
	}
	if args.Query == "" {
		return nil, &argumentError{field: "query", msg: "query is required"}
	}
	if args.Limit < 0 {
		return nil, &argumentError{field: "limit", msg: "limit must be positive"}
	}
	after, before, err := parseDateBounds(args.After, args.Before)
	if err != nil {
		return nil, err
	}

	hits, err := s.engine.Search(ctx, args.Query, search.Options{
		Limit:  args.Limit,
		After:  after,
		Before: before,
	})
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	return map[string]interface{}{
		"query":   args.Query,
		"results": hits,
		"count":   len(hits),
	}, nil
}

type conversationIDArgs struct {
	ConversationID string `json:"conversation_id"`
}

func (s *Server) toolGetConversation(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args conversationIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &argumentError{field: "arguments", msg: "malformed arguments"}
	}
	if args.ConversationID == "" {
		return nil, &argumentError{field: "conversation_id", msg: "conversation_id is required"}
	}
	conv, err := s.retrieval.Get(ctx, args.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("conversation not found: %s", args.ConversationID)
		}
		return nil, err
	}
	return conv, nil
}

type listConversationsArgs struct {
	Limit   int    `json:"limit"`
	Keyword string `json:"keyword"`
	After   string `json:"after"`
	Before  string `json:"before"`
	Cursor  string `json:"cursor"`
}

func (s *Server) toolListConversations(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args listConversationsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &argumentError{field: "arguments", msg: "malformed arguments"}
	}
	if args.Limit < 0 {
		return nil, &argumentError{field: "limit", msg: "limit must be positive"}
	}
	after, before, err := parseDateBounds(args.After, args.Before)
	if err != nil {
		return nil, err
	}
	page, err := s.retrieval.List(ctx, store.ListOptions{
		Limit:   args.Limit,
		Keyword: args.Keyword,
		After:   after,
		Before:  before,
		Cursor:  args.Cursor,
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

type contextSummaryArgs struct {
	ConversationID string `json:"conversation_id"`
	RecentCount    int    `json:"recent_count"`
}

func (s *Server) toolGetContextSummary(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args contextSummaryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &argumentError{field: "arguments", msg: "malformed arguments"}
	}
	if args.ConversationID == "" {
		return nil, &argumentError{field: "conversation_id", msg: "conversation_id is required"}
	}
	if args.RecentCount < 0 {
		return nil, &argumentError{field: "recent_count", msg: "recent_count must be positive"}
	}
	summary, err := s.retrieval.Summarize(ctx, args.ConversationID, args.RecentCount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("conversation not found: %s", args.ConversationID)
		}
		return nil, err
	}
	return summary, nil
}

func (s *Server) toolGetStats(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return s.store.Stats(ctx)
}

// parseDateBounds converts the after/before argument strings to unix
// seconds. Both "YYYY-MM-DD" and full RFC 3339 timestamps are accepted.
func parseDateBounds(after, before string) (float64, float64, error) {
	var afterT, beforeT float64
	if after != "" {
		t, err := parseDate(after)
		if err != nil {
			return 0, 0, &argumentError{field: "after", msg: err.Error()}
		}
		afterT = float64(t.Unix())
	}
	if before != "" {
		t, err := parseDate(before)
		if err != nil {
			return 0, 0, &argumentError{field: "before", msg: err.Error()}
		}
		beforeT = float64(t.Unix())
	}
	if afterT != 0 && beforeT != 0 && afterT >= beforeT {
		return 0, 0, &argumentError{field: "after", msg: "after must be earlier than before"}
	}
	return afterT, beforeT, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}
