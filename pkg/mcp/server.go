package mcp

import "context"

// ToolHandler executes a tool call on behalf of an authenticated user.
type ToolHandler func(ctx context.Context, call ToolCall, userID string) (ToolResult, error)

// Server holds the tool registry and server identity.
type Server struct {
	name    string
	version string
	tools   []Tool
}

// NewServer creates a server with the given identity.
func NewServer(name, version string) *Server {
	return &Server{name: name, version: version}
}

// RegisterTool adds a tool to the registry.
func (s *Server) RegisterTool(tool Tool) {
	s.tools = append(s.tools, tool)
}

// Tools returns the registered tools.
func (s *Server) Tools() []Tool {
	return s.tools
}
