// Package mcp exposes the archive to AI assistants over the Model
// Context Protocol: JSON-RPC 2.0 requests on stdin, responses on
// stdout, one message per line. All logging goes to stderr so the
// protocol stream stays clean.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"

	"chatfind/internal/retrieval"
	"chatfind/internal/search"
	"chatfind/internal/store"
	"chatfind/internal/version"
)

const protocolVersion = "2024-11-05"

// Server handles MCP protocol requests against the archive.
type Server struct {
	engine    *search.Engine
	retrieval *retrieval.Service
	store     *store.Store
	sessionID string
}

// NewServer creates an MCP server over the given search engine,
// retrieval service and store.
func NewServer(engine *search.Engine, svc *retrieval.Service, st *store.Store) *Server {
	s := &Server{
		engine:    engine,
		retrieval: svc,
		store:     st,
		sessionID: uuid.New().String(),
	}
	log.Printf("mcp: session ID: %s", s.sessionID)
	return s
}

// HandleRequest processes one JSON-RPC 2.0 message and returns the
// encoded response, or nil for notifications that need no reply.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	// Notifications carry no id and get no response.
	if req.ID == nil && strings.HasPrefix(req.Method, "notifications/") {
		return nil, nil
	}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result = initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    serverCapabilities{Tools: map[string]interface{}{}},
			ServerInfo:      serverInfo{Name: "chatfind", Version: version.Version},
		}
	case "initialized":
		if req.ID == nil {
			return nil, nil
		}
		result = map[string]interface{}{}
	case "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result = map[string]interface{}{"tools": s.toolList()}
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		var argErr *argumentError
		if asArgumentError(err, &argErr) {
			return s.errorResponse(req.ID, ErrCodeInvalidParams, argErr.Error(), map[string]string{"field": argErr.field})
		}
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

// handleToolsCall dispatches to a tool handler. Tool execution
// failures come back as isError results, not protocol errors, so the
// assistant sees the failure text.
func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var call toolsCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &argumentError{field: "params", msg: "malformed tools/call params"}
	}
	if call.Name == "" {
		return nil, &argumentError{field: "name", msg: "tool name is required"}
	}

	handler, ok := s.toolHandlers()[call.Name]
	if !ok {
		return nil, &argumentError{field: "name", msg: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := handler(ctx, args)
	if err != nil {
		var argErr *argumentError
		if asArgumentError(err, &argErr) {
			return nil, err
		}
		log.Printf("mcp: tool %s failed: %v", call.Name, err)
		return &ToolResult{
			Content: []ToolContent{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &ToolResult{Content: []ToolContent{{Type: "text", Text: string(payload)}}}, nil
}

func (s *Server) successResponse(id json.RawMessage, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	return json.Marshal(resp)
}

func (s *Server) errorResponse(id json.RawMessage, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
	}
	return json.Marshal(resp)
}

// maxLineBytes bounds one protocol message. Transcripts are capped well
// below this, so the limit only guards against runaway input.
const maxLineBytes = 10 * 1024 * 1024

// Serve reads newline-delimited JSON-RPC messages from r and writes
// responses to w until EOF or the context is canceled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp, err := s.HandleRequest(ctx, line)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		if resp == nil {
			continue
		}
		if _, err := out.Write(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := out.WriteByte('\n'); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("flush response: %w", err)
		}
	}
	return scanner.Err()
}
