package mcpservice

import "github.com/ggoodman/mcp-retail-demo/mcp"

// ServerOption configures a Server.
type ServerOption func(*Server)

// Server is the immutable description of one logical MCP server. It is
// safe to share across connections.
type Server struct {
	info         mcp.ImplementationInfo
	instructions string
	tools        *ToolsContainer
	resources    *ResourcesContainer
}

// NewServer builds a Server using functional options.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{info: mcp.ImplementationInfo{Name: "mcp-server", Version: "0.0.0"}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *Server) { s.info = info }
}

// WithInstructions sets human-readable instructions returned during initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *Server) { s.instructions = instr }
}

// WithTools sets the tool registry.
func WithTools(tc *ToolsContainer) ServerOption {
	return func(s *Server) { s.tools = tc }
}

// WithResources sets the resource registry.
func WithResources(rc *ResourcesContainer) ServerOption {
	return func(s *Server) { s.resources = rc }
}

func (s *Server) Info() mcp.ImplementationInfo { return s.info }
func (s *Server) Instructions() string { return s.instructions }
func (s *Server) Tools() *ToolsContainer { return s.tools }
func (s *Server) Resources() *ResourcesContainer { return s.resources }

// Capabilities reports what the server advertises during initialize.
func (s *Server) Capabilities() mcp.ServerCapabilities {
	var caps mcp.ServerCapabilities
	if s.tools != nil {
		caps.Tools = &mcp.ToolsServerCapability{}
	}
	if s.resources != nil {
		caps.Resources = &mcp.ResourcesServerCapability{ListChanged: true}
	}
	return caps
}
