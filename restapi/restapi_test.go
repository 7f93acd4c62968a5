package restapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mcp-retail-demo/cart"
	"github.com/ggoodman/mcp-retail-demo/sessions"
	"github.com/ggoodman/mcp-retail-demo/sessions/memorystore"
	"github.com/ggoodman/mcp-retail-demo/widgets"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
)

type harness struct {
	store *memorystore.Store
	carts *cart.Store
	auto  *sessions.AutoAuthenticator
	clock clockwork.FakeClock
	ts    *httptest.Server
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := memorystore.New(memorystore.WithClock(clock))
	carts := cart.NewStore(cart.SingleItem)
	auto := sessions.NewAutoAuthenticator(store, sessions.WithAutoAuthClock(clock))
	t.Cleanup(auto.Stop)
	set, err := widgets.New()
	if err != nil {
		t.Fatalf("widgets.New: %v", err)
	}
	base := []Option{WithCarts(carts), WithWidgets(set), WithAutoAuth(auto), WithClock(clock)}
	h, err := New(store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &harness{store: store, carts: carts, auto: auto, clock: clock, ts: ts}
}

func (h *harness) do(t *testing.T, method, path, body string, hdr ...string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := h.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestSessionAuthenticate(t *testing.T) {
	h := newHarness(t)
	s, _ := h.store.Create(context.Background())

	resp, body := h.do(t, http.MethodPost, "/api/session/authenticate", `{"sessionId":"`+s.ID+`","email":"pat@example.com","name":"Pat"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if diff := cmp.Diff(map[string]bool{"success": true}, decode[map[string]bool](t, body)); diff != "" {
		t.Fatalf("body (-want +got):\n%s", diff)
	}

	_, body = h.do(t, http.MethodGet, "/api/session/"+s.ID, "")
	got := decode[sessionState](t, body)
	if !got.Authenticated || got.User.Name != "Pat" || got.User.Email != "pat@example.com" {
		t.Fatalf("session state: %+v", got)
	}
	if got.User.ID != "CUST-89234" {
		t.Fatalf("fixture id not kept: %q", got.User.ID)
	}
}

func TestSessionAuthenticateUnknownSession(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodPost, "/api/session/authenticate", `{"sessionId":"sess_missing"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404, got %d", resp.StatusCode)
	}
	if _, err := h.store.Get(context.Background(), "sess_missing"); err == nil {
		t.Fatalf("unknown session was created")
	}
}

func TestSessionAuthenticateCancelsAutoAuth(t *testing.T) {
	h := newHarness(t)
	s, _ := h.store.Create(context.Background())
	h.auto.Schedule(s.ID, time.Second, sessions.Identity{ID: "X", Name: "Auto"})

	h.do(t, http.MethodPost, "/api/session/authenticate", `{"sessionId":"`+s.ID+`","name":"Manual"}`)
	if h.auto.Pending() != 0 {
		t.Fatalf("auto sign-in still pending")
	}
}

func TestComponentAuthenticateCreatesSession(t *testing.T) {
	h := newHarness(t)
	id := sessions.NewID()

	resp, body := h.do(t, http.MethodPost, "/api/authenticate", `{"email":"a@b.com","password":"pw","sessionId":"`+id+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	out := decode[signedIn](t, body)
	if !out.Success || out.User.Name != "Lauren Bailey" {
		t.Fatalf("response: %+v", out)
	}
	s, err := h.store.Get(context.Background(), id)
	if err != nil || !s.Authenticated {
		t.Fatalf("session after sign-in: %+v, %v", s, err)
	}
}

func TestComponentAuthenticateRequiresCredentials(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodPost, "/api/authenticate", `{"email":"a@b.com","sessionId":"sess_x"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", resp.StatusCode)
	}
	if got := decode[failure](t, body); got.Error != msgMissingCredentials {
		t.Fatalf("error: %q", got.Error)
	}
}

func TestActionsFlow(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodPost, "/api/actions/authenticate", `{"email":"a@b.com"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing password: want 400, got %d", resp.StatusCode)
	}

	resp, body := h.do(t, http.MethodPost, "/api/actions/authenticate", `{"email":"a@b.com","password":"pw"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	in := decode[signedIn](t, body)
	if in.Message != "Successfully authenticated as Lauren Bailey" || !strings.HasPrefix(in.SessionID, sessions.IDPrefix) {
		t.Fatalf("sign-in: %+v", in)
	}

	resp, body = h.do(t, http.MethodGet, "/api/actions/profile?sessionId="+in.SessionID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile status %d", resp.StatusCode)
	}
	if p := decode[map[string]sessions.Identity](t, body); p["user"].Email != "lauren.bailey@gmail.com" {
		t.Fatalf("profile: %s", body)
	}

	_, body = h.do(t, http.MethodPost, "/api/actions/logout", `{"sessionId":"`+in.SessionID+`"}`)
	out := decode[map[string]any](t, body)
	if out["success"] != true || out["message"] != "Lauren Bailey has been signed out successfully." {
		t.Fatalf("logout: %s", body)
	}

	resp, body = h.do(t, http.MethodGet, "/api/actions/profile?sessionId="+in.SessionID, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("profile after logout: want 401, got %d", resp.StatusCode)
	}
	if got := decode[map[string]string](t, body); got["error"] != msgNotAuthenticated {
		t.Fatalf("error: %s", body)
	}

	_, body = h.do(t, http.MethodPost, "/api/actions/logout", `{"sessionId":"`+in.SessionID+`"}`)
	if out := decode[map[string]any](t, body); out["success"] != false || out["message"] != "No active session found." {
		t.Fatalf("second logout: %s", body)
	}
}

func TestCartReset(t *testing.T) {
	h := newHarness(t)
	if _, err := h.carts.Add(context.Background(), cart.DemoKey, cart.Item{ID: "1", Title: "Lamp", Price: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	resp, _ := h.do(t, http.MethodPost, "/api/cart/reset", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if n := len(h.carts.Get(context.Background(), cart.DemoKey).Items); n != 0 {
		t.Fatalf("cart still has %d items", n)
	}
}

func TestIndexUsesForwardedHeaders(t *testing.T) {
	h := newHarness(t, WithEndpoints(func() []Endpoint {
		return []Endpoint{{Name: "auth", Path: "/mcp"}, {Name: "search", Path: "/mcp2"}}
	}))
	_, body := h.do(t, http.MethodGet, "/", "", "X-Forwarded-Proto", "https", "X-Forwarded-Host", "shop.example.com")
	var idx struct {
		Endpoints map[string]string `json:"endpoints"`
		Servers   map[string]string `json:"servers"`
	}
	if err := json.Unmarshal(body, &idx); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if idx.Endpoints["mcp"] != "https://shop.example.com/mcp" {
		t.Fatalf("mcp endpoint: %q", idx.Endpoints["mcp"])
	}
	want := map[string]string{"auth": "https://shop.example.com/mcp", "search": "https://shop.example.com/mcp2"}
	if diff := cmp.Diff(want, idx.Servers); diff != "" {
		t.Fatalf("servers (-want +got):\n%s", diff)
	}
}

func TestStaticPages(t *testing.T) {
	h := newHarness(t, WithBaseURL("https://demo.example.com/"))

	_, body := h.do(t, http.MethodGet, "/health", "")
	if got := decode[map[string]string](t, body); got["status"] != "healthy" {
		t.Fatalf("health: %s", body)
	}

	_, body = h.do(t, http.MethodGet, "/openapi.json", "")
	doc := decode[map[string]any](t, body)
	servers := doc["servers"].([]any)
	if url := servers[0].(map[string]any)["url"]; url != "https://demo.example.com" {
		t.Fatalf("openapi server url: %v", url)
	}

	resp, body := h.do(t, http.MethodGet, "/privacy", "")
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("privacy content type %q", ct)
	}
	if !strings.Contains(string(body), "<h1>Privacy Policy</h1>") {
		t.Fatalf("privacy page not rendered from markdown:\n%s", body)
	}

	resp, body = h.do(t, http.MethodGet, "/components/"+widgets.Auth, "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "/api/authenticate") {
		t.Fatalf("auth component: %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodGet, "/components/missing.html", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing component: want 404, got %d", resp.StatusCode)
	}
}

func TestOpenAPIRequestBodiesMatchHandlers(t *testing.T) {
	h := newHarness(t)
	_, body := h.do(t, http.MethodGet, "/openapi.json", "")

	type schema struct {
		Type       string `json:"type"`
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	var doc struct {
		Paths map[string]map[string]struct {
			RequestBody *struct {
				Content map[string]struct {
					Schema schema `json:"schema"`
				} `json:"content"`
			} `json:"requestBody"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	bodySchema := func(path string) schema {
		t.Helper()
		op := doc.Paths[path]["post"]
		if op.RequestBody == nil {
			t.Fatalf("%s has no request body", path)
		}
		return op.RequestBody.Content["application/json"].Schema
	}

	auth := bodySchema("/api/actions/authenticate")
	if diff := cmp.Diff([]string{"email", "password"}, auth.Required); diff != "" {
		t.Fatalf("authenticate required (-want +got):\n%s", diff)
	}
	if auth.Properties["email"].Description != "Customer's email address" || auth.Properties["password"].Type != "string" {
		t.Fatalf("authenticate properties: %+v", auth.Properties)
	}

	logout := bodySchema("/api/actions/logout")
	if diff := cmp.Diff([]string{"sessionId"}, logout.Required); diff != "" {
		t.Fatalf("logout required (-want +got):\n%s", diff)
	}
	if _, ok := logout.Properties["sessionId"]; !ok || logout.Type != "object" {
		t.Fatalf("logout schema: %+v", logout)
	}
}
