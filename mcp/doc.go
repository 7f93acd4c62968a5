// Package mcp contains the Model Context Protocol data types shared by the
// retail demo's transports and logical servers. It mirrors the wire
// representation (exported structs with json tags, string constants for
// method names) and holds no transport or dispatch logic.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod). Only the methods the demo servers answer are listed.
//
// # Widget Metadata
//
// Tools and resources carry an optional _meta object. Widget-capable hosts
// read well-known keys from it (MetaOutputTemplate, MetaToolInvoking, ...)
// to render an HTML template fetched with resources/read next to a tool
// result.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
//
// # Compatibility
//
// NegotiateProtocolVersion echoes a client's requested revision when it is in
// SupportedProtocolVersions and falls back to LatestProtocolVersion.
package mcp
