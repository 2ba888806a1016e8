package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// UserIDFunc extracts the authenticated user's ID from a request context.
// The dispatcher never authenticates by itself; auth middleware runs first.
type UserIDFunc func(ctx context.Context) string

// RPCServer serves the MCP protocol as JSON-RPC 2.0 over HTTP POST, with an
// SSE endpoint announcing the message endpoint for streaming clients.
type RPCServer struct {
	server  *Server
	handler ToolHandler
	userID  UserIDFunc
}

// NewRPCServer creates the JSON-RPC dispatcher.
func NewRPCServer(server *Server, handler ToolHandler, userID UserIDFunc) *RPCServer {
	return &RPCServer{server: server, handler: handler, userID: userID}
}

// HandleMessage processes a single JSON-RPC request body. Transport-level
// problems (unreadable or unparseable body) are HTTP 400; method-level
// errors are HTTP 200 with a JSON-RPC error object.
func (s *RPCServer) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeResponse(w, http.StatusBadRequest, Response{
			Error: &Error{Code: CodeParseError, Message: "Parse error"},
		})
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, http.StatusBadRequest, Response{
			Error: &Error{Code: CodeParseError, Message: "Parse error"},
		})
		return
	}

	switch req.Method {
	case "initialize":
		writeResponse(w, http.StatusOK, Response{
			ID: req.ID,
			Result: map[string]any{
				"protocolVersion": ProtocolVersion,
				"capabilities": map[string]any{
					"tools": map[string]any{},
				},
				"serverInfo": map[string]any{
					"name":    s.server.name,
					"version": s.server.version,
				},
			},
		})
	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)
	case "tools/list":
		writeResponse(w, http.StatusOK, Response{
			ID:     req.ID,
			Result: map[string]any{"tools": s.server.Tools()},
		})
	case "tools/call":
		s.handleToolCall(w, r, req)
	default:
		writeResponse(w, http.StatusOK, Response{
			ID: req.ID,
			Error: &Error{
				Code:    CodeMethodNotFound,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		})
	}
}

func (s *RPCServer) handleToolCall(w http.ResponseWriter, r *http.Request, req Request) {
	var call ToolCall
	if err := json.Unmarshal(req.Params, &call); err != nil || call.Name == "" {
		writeResponse(w, http.StatusOK, Response{
			ID:    req.ID,
			Error: &Error{Code: CodeInvalidParams, Message: "Invalid params"},
		})
		return
	}

	result, err := s.invoke(r.Context(), call)
	if err != nil {
		log.Error().Err(err).Str("tool", call.Name).Msg("tool call failed")
		writeResponse(w, http.StatusOK, Response{
			ID:    req.ID,
			Error: &Error{Code: CodeInternalError, Message: "Internal error"},
		})
		return
	}

	writeResponse(w, http.StatusOK, Response{ID: req.ID, Result: result})
}

// invoke runs the tool handler, converting panics into errors so a broken
// tool cannot take down the server.
func (s *RPCServer) invoke(ctx context.Context, call ToolCall) (result ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.Name, rec)
		}
	}()
	return s.handler(ctx, call, s.userID(ctx))
}

// HandleSSE announces the message endpoint and holds the stream open until
// the client disconnects.
func (s *RPCServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "event: endpoint\ndata: /mcp\n\n")
	flusher.Flush()

	<-r.Context().Done()
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	resp.JSONRPC = "2.0"
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
