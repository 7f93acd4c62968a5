package mcp

// Capabilities
// ClientCapabilities advertises client features. The demo servers never call
// back into the client so the fields are recorded for logging only.
type ClientCapabilities struct {
	Roots *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"roots,omitempty"`
	Sampling    *struct{} `json:"sampling,omitempty"`
	Elicitation *struct{} `json:"elicitation,omitempty"`
}

// ServerCapabilities advertises server features.
type ServerCapabilities struct {
	Resources *ResourcesServerCapability `json:"resources,omitempty"`
	Tools     *ToolsServerCapability     `json:"tools,omitempty"`
}

// ToolsServerCapability is the tools entry of ServerCapabilities.
type ToolsServerCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ResourcesServerCapability is the resources entry of ServerCapabilities.
type ResourcesServerCapability struct {
	ListChanged bool `json:"listChanged"`
	Subscribe   bool `json:"subscribe"`
}

// ImplementationInfo describes the implementation name and version.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// Content types
const (
	ContentTypeText         = "text"
	ContentTypeResourceLink = "resource_link"
)

// ContentBlock is a typed content part of a message.
type ContentBlock struct {
	Type string `json:"type"`
	// For TextContent
	Text string `json:"text,omitzero"`
	// For ResourceLink
	URI         string `json:"uri,omitzero"`
	Name        string `json:"name,omitzero"`
	Description string `json:"description,omitzero"`
	MimeType    string `json:"mimeType,omitzero"`
}

// Tools
// Tool describes a callable tool and its input schema.
type Tool struct {
	Name        string           `json:"name"`
	Title       string           `json:"title,omitzero"`
	Description string           `json:"description,omitempty"`
	InputSchema ToolInputSchema  `json:"inputSchema"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
	// Meta carries host-specific presentation hints such as the strings shown
	// while the tool runs and the widget template rendered with its result.
	Meta map[string]any `json:"_meta,omitempty"`
}

// ToolInputSchema is a JSON-schema-like description of tool input.
type ToolInputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties"`
}

// SchemaProperty is a simplified schema node used in tool schemas.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitzero"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
	Minimum     *float64                  `json:"minimum,omitempty"`
}

// ToolAnnotations are behavioral hints for clients.
type ToolAnnotations struct {
	ReadOnlyHint    bool `json:"readOnlyHint,omitzero"`
	DestructiveHint bool `json:"destructiveHint,omitzero"`
	IdempotentHint  bool `json:"idempotentHint,omitzero"`
}

// Well-known tool and resource _meta keys understood by widget-capable hosts.
const (
	MetaOutputTemplate       = "openai/outputTemplate"
	MetaToolInvoking         = "openai/toolInvocation/invoking"
	MetaToolInvoked          = "openai/toolInvocation/invoked"
	MetaWidgetAccessible     = "openai/widgetAccessible"
	MetaResultCanProduceUI   = "openai/resultCanProduceWidget"
	MetaWidgetDescription    = "openai/widgetDescription"
	MetaWidgetPrefersBorder  = "openai/widgetPrefersBorder"
	MimeTypeSkybridgeHTML    = "text/html+skybridge"
	MimeTypeMarkdown         = "text/markdown"
	MimeTypePlainText        = "text/plain"
	ResourceURISchemeWidget  = "ui://widget/"
	ResourceURISchemeProduct = "product://"
)

// Resources
// Resource represents an addressable resource.
type Resource struct {
	URI         string         `json:"uri"`
	Name        string         `json:"name"`
	Title       string         `json:"title,omitzero"`
	Description string         `json:"description,omitzero"`
	MimeType    string         `json:"mimeType,omitzero"`
	Meta        map[string]any `json:"_meta,omitempty"`
}

// ResourceContents is the value of a resource read.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitzero"`
	// For TextResourceContents
	Text string `json:"text,omitzero"`
	// For BlobResourceContents
	Blob string         `json:"blob,omitzero"`
	Meta map[string]any `json:"_meta,omitempty"`
}

// LatestProtocolVersion is the latest version of the protocol.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists the protocol revisions the servers speak,
// newest first.
var SupportedProtocolVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

// NegotiateProtocolVersion returns requested when it is supported and the
// latest supported revision otherwise.
func NegotiateProtocolVersion(requested string) string {
	for _, v := range SupportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return LatestProtocolVersion
}
