// Package mcpservice builds logical MCP servers from declarative tool and
// resource lists. A Server is an immutable description (info, instructions,
// tools and resources) shared by every connection; the per-connection
// dispatcher in internal/engine reads from it.
//
// Quick start:
//
//	type greetArgs struct {
//	    Name string `json:"name" jsonschema:"description=Who to greet"`
//	}
//
//	tools := mcpservice.NewToolsContainer(
//	    mcpservice.NewTool("greet", func(ctx context.Context, s mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[greetArgs]) error {
//	        return w.AppendText("hello " + r.Args().Name)
//	    }, mcpservice.WithToolDescription("Say hello")),
//	)
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "greeter", Version: "1.0.0"}),
//	    mcpservice.WithTools(tools),
//	)
//
// Tool arguments are validated against the schema reflected from the argument
// struct before the handler runs. A handler that returns an error produces a
// tool result with isError set; only unknown tools and panics become
// protocol errors.
package mcpservice
