// Command mcp-stdio runs the MCP server over stdin/stdout for local use:
// no OAuth flow, the Oura credential comes from the OURA_TOKEN environment
// variable.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulseworks/oura-mcp/cmd/mcp-server/handlers"
	"github.com/pulseworks/oura-mcp/internal/config"
	"github.com/pulseworks/oura-mcp/internal/oauth"
	"github.com/pulseworks/oura-mcp/internal/storage"
	"github.com/pulseworks/oura-mcp/pkg/mcp"
)

const (
	serviceName    = "oura-mcp-stdio"
	serviceVersion = "v1.0.0"
	localUserID    = "local"
)

func main() {
	// stdout is the protocol channel, so logs go to stderr.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	config.LoadEnv(".env")

	ouraToken := os.Getenv("OURA_TOKEN")
	if ouraToken == "" {
		log.Fatal().Msg("OURA_TOKEN is required")
	}

	ctx := context.Background()
	store := storage.NewMemoryStore()
	defer store.Close()

	manager := oauth.NewManager(store, oauth.Config{})
	err := manager.UserTokens.Set(ctx, localUserID, oauth.UserToken{
		OuraToken: ouraToken,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("storing credential failed")
	}

	ouraHandler := handlers.NewOuraHandler(manager)
	server := mcp.NewServer(serviceName, serviceVersion)
	for _, tool := range ouraHandler.ListTools() {
		server.RegisterTool(tool)
	}

	if err := serve(ctx, server, ouraHandler); err != nil {
		log.Fatal().Err(err).Msg("stdio loop failed")
	}
}

// serve reads newline-delimited JSON-RPC requests from stdin and writes one
// response per line to stdout, until stdin closes.
func serve(ctx context.Context, server *mcp.Server, h *handlers.OuraHandler) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	out := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req mcp.Request
		if err := json.Unmarshal(line, &req); err != nil {
			respond(out, mcp.Response{Error: &mcp.Error{Code: mcp.CodeParseError, Message: "Parse error"}})
			continue
		}

		switch req.Method {
		case "initialize":
			respond(out, mcp.Response{ID: req.ID, Result: map[string]any{
				"protocolVersion": mcp.ProtocolVersion,
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": serviceName, "version": serviceVersion},
			}})
		case "notifications/initialized":
			// Notification, no response.
		case "tools/list":
			respond(out, mcp.Response{ID: req.ID, Result: map[string]any{"tools": server.Tools()}})
		case "tools/call":
			var call mcp.ToolCall
			if err := json.Unmarshal(req.Params, &call); err != nil || call.Name == "" {
				respond(out, mcp.Response{ID: req.ID, Error: &mcp.Error{Code: mcp.CodeInvalidParams, Message: "Invalid params"}})
				continue
			}
			result, err := h.HandleTool(ctx, call, localUserID)
			if err != nil {
				log.Error().Err(err).Str("tool", call.Name).Msg("tool call failed")
				respond(out, mcp.Response{ID: req.ID, Error: &mcp.Error{Code: mcp.CodeInternalError, Message: "Internal error"}})
				continue
			}
			respond(out, mcp.Response{ID: req.ID, Result: result})
		default:
			respond(out, mcp.Response{ID: req.ID, Error: &mcp.Error{
				Code:    mcp.CodeMethodNotFound,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			}})
		}
	}
	return scanner.Err()
}

func respond(out *json.Encoder, resp mcp.Response) {
	resp.JSONRPC = "2.0"
	if err := out.Encode(resp); err != nil {
		log.Error().Err(err).Msg("writing response failed")
	}
}
