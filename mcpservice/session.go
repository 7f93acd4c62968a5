package mcpservice

import (
	"errors"

	"github.com/ggoodman/mcp-retail-demo/mcp"
)

var (
	// ErrUnknownTool is returned by ToolsContainer.Call for unregistered names.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrUnknownResource is returned by ResourcesContainer.ReadResource for
	// unregistered URIs.
	ErrUnknownResource = errors.New("unknown resource")
)

// Session is the connection-scoped view passed to tool handlers. It is not
// the shopper session; that lives in the sessions package and is addressed
// by an explicit sessionId argument.
type Session interface {
	// ConnID is the transport connection id.
	ConnID() string
	// ClientInfo is what the client reported during initialize.
	ClientInfo() mcp.ImplementationInfo
	// ProtocolVersion is the negotiated protocol revision.
	ProtocolVersion() string
}

// StaticSession is a fixed Session, handy for tests and one-shot requests.
type StaticSession struct {
	ID      string
	Client  mcp.ImplementationInfo
	Version string
}

func (s StaticSession) ConnID() string                     { return s.ID }
func (s StaticSession) ClientInfo() mcp.ImplementationInfo { return s.Client }
func (s StaticSession) ProtocolVersion() string            { return s.Version }
