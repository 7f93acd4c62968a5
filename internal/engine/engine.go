package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ggoodman/mcp-retail-demo/internal/jsonrpc"
	"github.com/ggoodman/mcp-retail-demo/internal/logctx"
	"github.com/ggoodman/mcp-retail-demo/mcp"
	"github.com/ggoodman/mcp-retail-demo/mcpservice"
)

// Observer receives per-message outcomes. The metrics package implements it.
type Observer interface {
	ObserveMessage(server, method, outcome string)
	ObserveToolCall(server, tool, outcome string, dur time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveMessage(string, string, string)                  {}
func (nopObserver) ObserveToolCall(string, string, string, time.Duration) {}

// Message outcomes reported to the Observer.
const (
	OutcomeOK        = "ok"
	OutcomeToolError = "tool_error"
	OutcomeError     = "error"
	OutcomePanic     = "panic"
)

// Engine dispatches JSON-RPC messages for one connection to one logical
// server. It holds the handshake state negotiated by initialize and is
// safe for concurrent use, although transports feed it messages in order.
type Engine struct {
	srv      *mcpservice.Server
	name     string
	connID   string
	log      *slog.Logger
	observer Observer

	mu              sync.RWMutex
	initialized     bool
	clientInfo      mcp.ImplementationInfo
	protocolVersion string
}

var _ mcpservice.Session = (*Engine)(nil)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger. It is wrapped with logctx so context data is
// attached to every record.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithConnID sets the connection id reported to tool handlers.
func WithConnID(id string) EngineOption {
	return func(e *Engine) { e.connID = id }
}

// WithServerName labels log records and metrics with the logical server name.
func WithServerName(name string) EngineOption {
	return func(e *Engine) { e.name = name }
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// NewEngine returns an Engine serving srv.
func NewEngine(srv *mcpservice.Server, opts ...EngineOption) *Engine {
	e := &Engine{
		srv:      srv,
		name:     srv.Info().Name,
		log:      slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logctx.Wrap(e.log)
	return e
}

func (e *Engine) ConnID() string { return e.connID }

func (e *Engine) ClientInfo() mcp.ImplementationInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clientInfo
}

// ProtocolVersion returns the negotiated version, or the latest supported
// one before initialize.
func (e *Engine) ProtocolVersion() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.protocolVersion == "" {
		return mcp.LatestProtocolVersion
	}
	return e.protocolVersion
}

// Initialized reports whether the client sent notifications/initialized.
func (e *Engine) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// Handle processes one raw message and returns the response to send, or nil
// when the message is a notification or a client response. Invalid input
// always yields an error response; id is null when it could not be read.
func (e *Engine) Handle(ctx context.Context, raw []byte) *jsonrpc.Response {
	msg, rpcErr := jsonrpc.ParseMessage(raw)
	if rpcErr != nil {
		e.log.InfoContext(ctx, "engine.parse.fail", slog.Int("code", int(rpcErr.Code)), slog.String("err", rpcErr.Message))
		e.observer.ObserveMessage(e.name, "", OutcomeError)
		id := msg.ID
		if id == nil {
			id = jsonrpc.NullID()
		}
		return jsonrpc.NewErrorResponse(id, rpcErr.Code, rpcErr.Message, nil)
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: idString(msg.ID), Type: msg.Type()})

	switch msg.Type() {
	case "response":
		e.log.DebugContext(ctx, "engine.client_response.ignored")
		return nil
	case "notification":
		e.handleNotification(ctx, msg.AsRequest())
		return nil
	}
	return e.HandleRequest(ctx, msg.AsRequest())
}

func idString(id *jsonrpc.RequestID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func (e *Engine) handleNotification(ctx context.Context, n *jsonrpc.Request) {
	switch n.Method {
	case string(mcp.InitializedNotificationMethod):
		e.mu.Lock()
		e.initialized = true
		e.mu.Unlock()
		e.log.InfoContext(ctx, "engine.initialized")
	case string(mcp.CancelledNotificationMethod):
		// Requests on a connection run in order, so by the time this is
		// processed the referenced request has already completed.
		e.log.DebugContext(ctx, "engine.cancelled.ignored")
	default:
		e.log.DebugContext(ctx, "engine.notification.ignored")
	}
}

// HandleRequest dispatches a request that carries an id. It never returns
// nil. Panics in handlers are recovered and reported as internal errors.
func (e *Engine) HandleRequest(ctx context.Context, req *jsonrpc.Request) (res *jsonrpc.Response) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "engine.handle_request.panic",
				slog.String("err", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
				slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			e.observer.ObserveMessage(e.name, req.Method, OutcomePanic)
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil)
		}
	}()

	var err error
	switch req.Method {
	case string(mcp.InitializeMethod):
		res, err = e.handleInitialize(ctx, req)
	case string(mcp.PingMethod):
		res, err = jsonrpc.NewResultResponse(req.ID, mcp.EmptyResult{})
	case string(mcp.ToolsListMethod):
		res, err = e.handleToolsList(ctx, req)
	case string(mcp.ToolsCallMethod):
		res, err = e.handleToolCall(ctx, req)
	case string(mcp.ResourcesListMethod):
		res, err = e.handleResourcesList(ctx, req)
	case string(mcp.ResourcesReadMethod):
		res, err = e.handleResourcesRead(ctx, req)
	default:
		res = methodNotFound(req)
	}
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		e.observer.ObserveMessage(e.name, req.Method, OutcomeError)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil)
	}

	outcome := OutcomeOK
	if res.Error != nil {
		outcome = OutcomeError
		log.InfoContext(ctx, "engine.handle_request.error", slog.Int("code", int(res.Error.Code)), slog.String("err", res.Error.Message), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	} else {
		log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	}
	e.observer.ObserveMessage(e.name, req.Method, outcome)
	return res
}

func methodNotFound(req *jsonrpc.Request) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found: "+req.Method, nil)
}

func invalidParams(req *jsonrpc.Request, msg string) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, msg, nil)
}

// decodeParams unmarshals optional params. Absent or null params leave v
// untouched.
func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (e *Engine) handleInitialize(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.InitializeRequest
	if err := decodeParams(req.Params, &params); err != nil {
		return invalidParams(req, "Invalid params: "+err.Error()), nil
	}

	version := mcp.NegotiateProtocolVersion(params.ProtocolVersion)
	e.mu.Lock()
	e.clientInfo = params.ClientInfo
	e.protocolVersion = version
	e.mu.Unlock()

	e.log.InfoContext(ctx, "engine.initialize",
		slog.String("client_name", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.String("requested_version", params.ProtocolVersion),
		slog.String("protocol_version", version))

	return jsonrpc.NewResultResponse(req.ID, mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    e.srv.Capabilities(),
		ServerInfo:      e.srv.Info(),
		Instructions:    e.srv.Instructions(),
	})
}

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	tools := e.srv.Tools()
	if tools == nil {
		return methodNotFound(req), nil
	}
	var params mcp.ListToolsRequest
	if err := decodeParams(req.Params, &params); err != nil {
		return invalidParams(req, "Invalid params: "+err.Error()), nil
	}
	return jsonrpc.NewResultResponse(req.ID, mcp.ListToolsResult{Tools: tools.ListTools()})
}

func (e *Engine) handleToolCall(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	tools := e.srv.Tools()
	if tools == nil {
		return methodNotFound(req), nil
	}

	var params mcp.CallToolRequestReceived
	if len(req.Params) == 0 {
		return invalidParams(req, "Invalid params: missing params"), nil
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return invalidParams(req, "Invalid params: "+err.Error()), nil
	}
	if params.Name == "" {
		return invalidParams(req, "Invalid params: missing tool name"), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})
	start := time.Now()

	outcome := OutcomePanic
	defer func() {
		e.observer.ObserveToolCall(e.name, params.Name, outcome, time.Since(start))
	}()

	res, err := tools.Call(ctx, e, &params)
	if err != nil {
		if errors.Is(err, mcpservice.ErrUnknownTool) {
			outcome = OutcomeError
			return invalidParams(req, "Unknown tool: "+params.Name), nil
		}
		outcome = OutcomeError
		return nil, err
	}
	outcome = OutcomeOK
	if res.IsError {
		outcome = OutcomeToolError
		e.log.InfoContext(ctx, "engine.tool_call.error_result", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	}
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	resources := e.srv.Resources()
	if resources == nil {
		return methodNotFound(req), nil
	}
	var params mcp.ListResourcesRequest
	if err := decodeParams(req.Params, &params); err != nil {
		return invalidParams(req, "Invalid params: "+err.Error()), nil
	}
	return jsonrpc.NewResultResponse(req.ID, mcp.ListResourcesResult{Resources: resources.ListResources()})
}

func (e *Engine) handleResourcesRead(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	resources := e.srv.Resources()
	if resources == nil {
		return methodNotFound(req), nil
	}
	var params mcp.ReadResourceRequest
	if err := decodeParams(req.Params, &params); err != nil {
		return invalidParams(req, "Invalid params: "+err.Error()), nil
	}
	if params.URI == "" {
		return invalidParams(req, "Invalid params: missing uri"), nil
	}
	contents, err := resources.ReadResource(params.URI)
	if err != nil {
		if errors.Is(err, mcpservice.ErrUnknownResource) {
			return invalidParams(req, "Unknown resource: "+params.URI), nil
		}
		return nil, err
	}
	return jsonrpc.NewResultResponse(req.ID, mcp.ReadResourceResult{Contents: contents})
}

// ListChangedNotification builds notifications/resources/list_changed.
func ListChangedNotification() *jsonrpc.Request {
	n, _ := jsonrpc.NewNotification(string(mcp.ResourcesListChangedNotificationMethod), nil)
	return n
}
