package streaminghttp_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mcp-retail-demo/internal/jsonrpc"
	"github.com/ggoodman/mcp-retail-demo/mcp"
	"github.com/ggoodman/mcp-retail-demo/mcpservice"
	"github.com/ggoodman/mcp-retail-demo/streaminghttp"
	"github.com/jonboulle/clockwork"
)

type echoArgs struct {
	Text string `json:"text"`
}

type sseEvent struct {
	event   string
	data    []byte
	comment string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer() *mcpservice.Server {
	tools := mcpservice.NewToolsContainer(
		mcpservice.NewTool("echo", func(ctx context.Context, s mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
			return w.AppendText(r.Args().Text)
		}, mcpservice.WithToolDescription("Echo the text back")),
	)
	resources := mcpservice.NewResourcesContainer(
		mcpservice.TextResource(mcp.Resource{URI: "ui://widget/a.html", Name: "a", MimeType: mcp.MimeTypeSkybridgeHTML}, "<p>a</p>"),
	)
	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "echo-server", Version: "1.0.0"}),
		mcpservice.WithTools(tools),
		mcpservice.WithResources(resources),
	)
}

func mustServer(t *testing.T, srv *mcpservice.Server, opts ...streaminghttp.Option) (*httptest.Server, *streaminghttp.Handler) {
	t.Helper()
	opts = append([]streaminghttp.Option{streaminghttp.WithLogger(discardLogger()), streaminghttp.WithKeepAlive(0)}, opts...)
	h := streaminghttp.New("/mcp", srv, opts...)
	mux := http.NewServeMux()
	mux.Handle("/mcp", h)
	mux.Handle("/mcp/messages", h)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		h.Close()
		ts.Close()
	})
	return ts, h
}

type stream struct {
	resp     *http.Response
	events   chan sseEvent
	cancel   context.CancelFunc
	endpoint string
}

// openStream performs the GET and returns once the endpoint event arrived.
func openStream(t *testing.T, ts *httptest.Server) *stream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/mcp", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := ts.Client().Do(req)
	if err != nil {
		cancel()
		t.Fatalf("GET stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("GET stream status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		cancel()
		t.Fatalf("GET stream content type: %q", ct)
	}

	s := &stream{resp: resp, events: make(chan sseEvent, 16), cancel: cancel}
	go func() {
		defer close(s.events)
		br := bufio.NewReader(resp.Body)
		for {
			evt, err := readOneSSE(br)
			if err != nil {
				return
			}
			s.events <- evt
		}
	}()
	t.Cleanup(s.close)

	evt := s.next(t)
	if evt.event != "endpoint" {
		t.Fatalf("first event: want endpoint got %q", evt.event)
	}
	s.endpoint = string(evt.data)
	if !strings.HasPrefix(s.endpoint, "/mcp/messages?sessionId=") {
		t.Fatalf("unexpected endpoint %q", s.endpoint)
	}
	return s
}

func (s *stream) close() {
	s.cancel()
	_ = s.resp.Body.Close()
}

func (s *stream) next(t *testing.T) sseEvent {
	t.Helper()
	select {
	case evt, ok := <-s.events:
		if !ok {
			t.Fatalf("stream closed")
		}
		return evt
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for SSE event")
	}
	return sseEvent{}
}

func (s *stream) nextResponse(t *testing.T) jsonrpc.Response {
	t.Helper()
	for {
		evt := s.next(t)
		if evt.event != "message" {
			continue
		}
		var res jsonrpc.Response
		if err := json.Unmarshal(evt.data, &res); err != nil {
			t.Fatalf("decode message event: %v", err)
		}
		return res
	}
}

func readOneSSE(br *bufio.Reader) (sseEvent, error) {
	var (
		event   sseEvent
		dataBuf bytes.Buffer
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if dataBuf.Len() > 0 {
				event.data = append([]byte(nil), dataBuf.Bytes()...)
			}
			return event, nil
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			event.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimPrefix(line, "data: "))
		case strings.HasPrefix(line, ":"):
			event.comment = strings.TrimSpace(strings.TrimPrefix(line, ":"))
		}
	}
}

func post(t *testing.T, ts *httptest.Server, path, contentType, body string) *http.Response {
	t.Helper()
	resp, err := ts.Client().Post(ts.URL+path, contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestStreamRoundTrip(t *testing.T) {
	ts, h := mustServer(t, newTestServer())
	s := openStream(t, ts)

	if want, got := 1, h.ActiveConnections(); want != got {
		t.Fatalf("active connections: want %d got %d", want, got)
	}

	resp := post(t, ts, s.endpoint, "application/json", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`)
	if want, got := http.StatusAccepted, resp.StatusCode; want != got {
		t.Fatalf("POST status: want %d got %d", want, got)
	}
	res := s.nextResponse(t)
	if res.Error != nil {
		t.Fatalf("initialize failed: %+v", res.Error)
	}
	var init mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &init); err != nil {
		t.Fatalf("decode initialize: %v", err)
	}
	if want, got := "2025-03-26", init.ProtocolVersion; want != got {
		t.Fatalf("protocol version: want %s got %s", want, got)
	}

	resp = post(t, ts, s.endpoint, "application/json", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if want, got := http.StatusAccepted, resp.StatusCode; want != got {
		t.Fatalf("notification status: want %d got %d", want, got)
	}

	_ = post(t, ts, s.endpoint, "application/json", `{"jsonrpc":"2.0","id":"call-1","method":"tools/call","params":{"name":"echo","arguments":{"text":"hello"}}}`)
	res = s.nextResponse(t)
	if id, _ := json.Marshal(res.ID); string(id) != `"call-1"` {
		t.Fatalf("response id: got %s", id)
	}
	var call mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &call); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if want, got := "hello", call.Content[0].Text; want != got {
		t.Fatalf("echo: want %q got %q", want, got)
	}
}

func TestMessagesAreHandledInOrder(t *testing.T) {
	ts, _ := mustServer(t, newTestServer())
	s := openStream(t, ts)

	const n = 10
	for i := 0; i < n; i++ {
		body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"echo","arguments":{"text":"m%d"}}}`, i, i)
		if resp := post(t, ts, s.endpoint, "application/json", body); resp.StatusCode != http.StatusAccepted {
			t.Fatalf("POST %d status %d", i, resp.StatusCode)
		}
	}
	for i := 0; i < n; i++ {
		res := s.nextResponse(t)
		if id, _ := json.Marshal(res.ID); string(id) != fmt.Sprint(i) {
			t.Fatalf("response %d out of order: id %s", i, id)
		}
	}
}

func TestPostMessageValidation(t *testing.T) {
	ts, _ := mustServer(t, newTestServer())
	s := openStream(t, ts)

	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		want        int
	}{
		{name: "missing session id", path: "/mcp/messages", contentType: "application/json", body: `{}`, want: http.StatusBadRequest},
		{name: "unknown session", path: "/mcp/messages?sessionId=nope", contentType: "application/json", body: `{}`, want: http.StatusNotFound},
		{name: "wrong content type", path: s.endpoint, contentType: "text/plain", body: `{}`, want: http.StatusUnsupportedMediaType},
		{name: "body too large", path: s.endpoint, contentType: "application/json", body: strings.Repeat("x", 1<<20+16), want: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts, tt.path, tt.contentType, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status: want %d got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestInvalidJSONIsReportedOnStream(t *testing.T) {
	ts, _ := mustServer(t, newTestServer())
	s := openStream(t, ts)

	_ = post(t, ts, s.endpoint, "application/json", `{"jsonrpc":`)
	res := s.nextResponse(t)
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("expected parse error, got %+v", res)
	}
}

func TestDisconnectRemovesConnection(t *testing.T) {
	ts, h := mustServer(t, newTestServer())
	s := openStream(t, ts)
	endpoint := s.endpoint

	s.close()

	deadline := time.Now().Add(5 * time.Second)
	for h.ActiveConnections() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection still registered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for i := 0; i < 2; i++ {
		resp := post(t, ts, endpoint, "application/json", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
		if want, got := http.StatusNotFound, resp.StatusCode; want != got {
			t.Fatalf("POST after disconnect: want %d got %d", want, got)
		}
	}
	if got := h.ActiveConnections(); got != 0 {
		t.Fatalf("POST revived a closed connection")
	}
}

func TestCloseEndsStreams(t *testing.T) {
	ts, h := mustServer(t, newTestServer())
	s := openStream(t, ts)

	h.Close()
	select {
	case _, ok := <-s.events:
		if ok {
			// drain until closed
			for range s.events {
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stream still open after Close")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if want, got := http.StatusServiceUnavailable, resp.StatusCode; want != got {
		t.Fatalf("GET after Close: want %d got %d", want, got)
	}
}

func TestStreamRequiresEventStreamAccept(t *testing.T) {
	ts, h := mustServer(t, newTestServer())
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if want, got := http.StatusNotAcceptable, resp.StatusCode; want != got {
		t.Fatalf("status: want %d got %d", want, got)
	}
	if got := h.ActiveConnections(); got != 0 {
		t.Fatalf("rejected stream was registered")
	}
}

// plainWriter hides http.Flusher.
type plainWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *plainWriter) Header() http.Header         { return w.header }
func (w *plainWriter) Write(p []byte) (int, error) { return w.body.Write(p) }
func (w *plainWriter) WriteHeader(status int)      { w.status = status }

func TestStreamWithoutFlusherFails(t *testing.T) {
	h := streaminghttp.New("/mcp", newTestServer(), streaminghttp.WithLogger(discardLogger()))
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Accept", "text/event-stream")
	w := &plainWriter{header: http.Header{}}
	h.ServeHTTP(w, req)
	if want, got := http.StatusInternalServerError, w.status; want != got {
		t.Fatalf("status: want %d got %d", want, got)
	}
	if got := h.ActiveConnections(); got != 0 {
		t.Fatalf("connection registered without flusher")
	}
}

func TestStatelessPost(t *testing.T) {
	ts, _ := mustServer(t, newTestServer())

	resp := post(t, ts, "/mcp", "application/json", `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`)
	if want, got := http.StatusOK, resp.StatusCode; want != got {
		t.Fatalf("status: want %d got %d", want, got)
	}
	var res jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var list mcp.ListToolsResult
	if err := json.Unmarshal(res.Result, &list); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", list.Tools)
	}

	resp = post(t, ts, "/mcp", "application/json", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if want, got := http.StatusNoContent, resp.StatusCode; want != got {
		t.Fatalf("notification status: want %d got %d", want, got)
	}

	resp = post(t, ts, "/mcp", "text/plain", `{}`)
	if want, got := http.StatusUnsupportedMediaType, resp.StatusCode; want != got {
		t.Fatalf("content type status: want %d got %d", want, got)
	}
}

func TestResourceReplaceNotifiesStream(t *testing.T) {
	srv := newTestServer()
	ts, _ := mustServer(t, srv)
	s := openStream(t, ts)

	// Let the stream subscribe before triggering the change.
	_ = post(t, ts, s.endpoint, "application/json", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	_ = s.nextResponse(t)

	srv.Resources().Replace()
	evt := s.next(t)
	var n jsonrpc.Request
	if err := json.Unmarshal(evt.data, &n); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if want, got := string(mcp.ResourcesListChangedNotificationMethod), n.Method; want != got {
		t.Fatalf("method: want %s got %s", want, got)
	}
}

func TestKeepAliveComments(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ts, _ := mustServer(t, newTestServer(), streaminghttp.WithClock(clock), streaminghttp.WithKeepAlive(25*time.Second))
	s := openStream(t, ts)

	clock.BlockUntil(1)
	clock.Advance(25 * time.Second)

	evt := s.next(t)
	if want, got := "keepalive", evt.comment; want != got {
		t.Fatalf("comment: want %q got %q", want, got)
	}
}
