// Package streaminghttp serves a logical MCP server over the HTTP+SSE
// transport.
//
// A client opens a stream with GET <prefix>. The handler allocates a
// connection id, builds a fresh engine for that connection and emits an
// "endpoint" event naming <prefix>/messages?sessionId=<id>. The client then
// POSTs JSON-RPC messages to that URL; each POST is answered 202 and the
// JSON-RPC response arrives later as a "message" event on the stream.
//
// # Connection lifetime
//
// The connection is registered while the GET is open and removed when it
// returns, whether from client disconnect, a write error or Close. Removal
// only flows that way: nothing else tears a connection down. A POST naming
// a removed connection gets 404 and never revives it. Handlers already
// running keep going on a detached context; their results are dropped.
//
// POST <prefix> is a stateless alternative that answers synchronously with
// application/json (204 for notifications), using a throwaway engine.
//
// Example (mount in net/http):
//
//	h := streaminghttp.New("/mcp", server)
//	mux := http.NewServeMux()
//	mux.Handle("/mcp", h)
//	mux.Handle("/mcp/messages", h)
//	http.ListenAndServe(":3000", mux)
package streaminghttp
