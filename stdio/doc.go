// Package stdio serves one logical MCP server over a pair of byte streams,
// normally the process's stdin and stdout. It is meant for running a single
// retail server as a subprocess of a desktop agent.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Framing          : newline-delimited JSON-RPC 2.0
//	Ordering         : messages are handled one at a time in arrival order
//	Notifications    : resources/list_changed when widgets are reloaded
//
// Example:
//
//	srv := retail.NewSearchServer(deps)
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
//
// Multi-client deployments use the SSE transport in streaminghttp instead.
package stdio
