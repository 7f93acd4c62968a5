package multiplex_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-retail-demo/mcp"
	"github.com/ggoodman/mcp-retail-demo/mcpservice"
	"github.com/ggoodman/mcp-retail-demo/multiplex"
	"github.com/ggoodman/mcp-retail-demo/streaminghttp"
	"github.com/google/go-cmp/cmp"
)

type noArgs struct{}

func namedServer(name, tool string) *mcpservice.Server {
	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: name, Version: "1.0.0"}),
		mcpservice.WithTools(mcpservice.NewToolsContainer(
			mcpservice.NewTool(tool, func(ctx context.Context, s mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[noArgs]) error {
				return w.AppendText(name)
			}),
		)),
	)
}

func newMux(t *testing.T, opts ...multiplex.Option) (*multiplex.Mux, *httptest.Server) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]multiplex.Option{
		multiplex.WithLogger(log),
		multiplex.WithHandlerOptions(streaminghttp.WithKeepAlive(0)),
	}, opts...)
	m := multiplex.New(opts...)
	if _, err := m.Mount("/mcp", "auth", namedServer("auth-server", "login")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Mount("/mcp2", "search", namedServer("search-server", "find")); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(m)
	t.Cleanup(func() {
		m.Close()
		ts.Close()
	})
	return m, ts
}

func listTools(t *testing.T, url string) []string {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var body struct {
		Result mcp.ListToolsResult `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tool := range body.Result.Tools {
		names = append(names, tool.Name)
	}
	return names
}

func TestRoutesByExactPrefix(t *testing.T) {
	_, ts := newMux(t)

	if diff := cmp.Diff([]string{"login"}, listTools(t, ts.URL+"/mcp")); diff != "" {
		t.Fatalf("/mcp tools (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"find"}, listTools(t, ts.URL+"/mcp2")); diff != "" {
		t.Fatalf("/mcp2 tools (-want +got):\n%s", diff)
	}

	for _, path := range []string{"/mcp/extra", "/mcp3", "/", "/mcp2/"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: want 404 got %d", path, resp.StatusCode)
		}
	}
}

func TestMessagesPathIsPerMount(t *testing.T) {
	_, ts := newMux(t)

	// A connection id from one mount is meaningless on another.
	resp, err := http.Post(ts.URL+"/mcp2/messages?sessionId=nope", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 got %d", resp.StatusCode)
	}
}

func TestPreflightIsUniformAcrossMounts(t *testing.T) {
	_, ts := newMux(t)

	for _, path := range []string{"/mcp", "/mcp/messages", "/mcp2", "/mcp2/messages"} {
		req, _ := http.NewRequest(http.MethodOptions, ts.URL+path, nil)
		req.Header.Set("Origin", "https://chat.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d", path, resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://chat.example.com" {
			t.Errorf("%s: allow-origin %q", path, got)
		}
		if got := resp.Header.Get("Access-Control-Allow-Methods"); got != http.MethodPost {
			t.Errorf("%s: allow-methods %q", path, got)
		}
	}
}

func TestAllowedOriginsRestrictCORS(t *testing.T) {
	_, ts := newMux(t, multiplex.WithAllowedOrigins("https://ok.example.com"))

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/mcp", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

func TestFallbackServesUnmountedPaths(t *testing.T) {
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "fallback:"+r.URL.Path)
	})
	_, ts := newMux(t, multiplex.WithFallback(fallback))

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if want, got := "fallback:/health", string(body); want != got {
		t.Fatalf("want %q got %q", want, got)
	}
}

func TestMountValidation(t *testing.T) {
	m, _ := newMux(t)

	for _, prefix := range []string{"", "mcp", "/", "/mcp5/"} {
		if _, err := m.Mount(prefix, "x", namedServer("x", "x")); !errors.Is(err, multiplex.ErrInvalidPrefix) {
			t.Errorf("%q: want ErrInvalidPrefix, got %v", prefix, err)
		}
	}
	if _, err := m.Mount("/mcp2", "dup", namedServer("dup", "dup")); !errors.Is(err, multiplex.ErrDuplicateMount) {
		t.Fatalf("want ErrDuplicateMount, got %v", err)
	}
	// "/mcp/messages" collides with the messages path of "/mcp".
	if _, err := m.Mount("/mcp/messages", "dup", namedServer("dup", "dup")); !errors.Is(err, multiplex.ErrDuplicateMount) {
		t.Fatalf("want ErrDuplicateMount, got %v", err)
	}

	var got []string
	for _, mt := range m.Mounts() {
		got = append(got, mt.Prefix+"="+mt.Name)
	}
	if diff := cmp.Diff([]string{"/mcp=auth", "/mcp2=search"}, got); diff != "" {
		t.Fatalf("mounts (-want +got):\n%s", diff)
	}
}
