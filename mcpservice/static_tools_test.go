package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-retail-demo/mcp"
	"github.com/google/go-cmp/cmp"
)

var testSession = StaticSession{ID: "conn-1", Version: mcp.LatestProtocolVersion}

type lookupArgs struct {
	SessionID string `json:"sessionId" jsonschema:"description=Session to look up"`
	Limit     int    `json:"limit,omitempty" jsonschema:"minimum=1"`
}

func newLookupTool(calls *int) StaticTool {
	return NewTool("lookup", func(ctx context.Context, s Session, w ToolResponseWriter, r *ToolRequest[lookupArgs]) error {
		*calls++
		if r.Args().SessionID == "boom" {
			return errors.New("lookup failed for boom")
		}
		if err := w.AppendText("found " + r.Args().SessionID); err != nil {
			return err
		}
		return w.SetStructured(map[string]any{"sessionId": r.Args().SessionID, "limit": r.Args().Limit})
	},
		WithToolTitle("Lookup"),
		WithToolDescription("look a session up"),
		WithToolInvocationStatus("Looking up...", "Looked up"),
		WithToolOutputTemplate("ui://widget/lookup.html"),
		WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: true}),
	)
}

func call(t *testing.T, c *ToolsContainer, name, args string) *mcp.CallToolResult {
	t.Helper()
	res, err := c.Call(context.Background(), testSession, &mcp.CallToolRequestReceived{Name: name, Arguments: json.RawMessage(args)})
	if err != nil {
		t.Fatalf("Call(%s): %v", name, err)
	}
	return res
}

func TestNewToolDescriptor(t *testing.T) {
	var calls int
	tool := newLookupTool(&calls)

	one := 1.0
	want := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]mcp.SchemaProperty{
			"sessionId": {Type: "string", Description: "Session to look up"},
			"limit":     {Type: "integer", Minimum: &one},
		},
		Required: []string{"sessionId"},
	}
	if diff := cmp.Diff(want, tool.Descriptor.InputSchema); diff != "" {
		t.Fatalf("unexpected schema (-want +got):\n%s", diff)
	}
	if got := tool.Descriptor.Meta[mcp.MetaOutputTemplate]; got != "ui://widget/lookup.html" {
		t.Fatalf("output template: got %v", got)
	}
	if got := tool.Descriptor.Meta[mcp.MetaToolInvoking]; got != "Looking up..." {
		t.Fatalf("invoking status: got %v", got)
	}
	if tool.Descriptor.Title != "Lookup" || tool.Descriptor.Annotations == nil || !tool.Descriptor.Annotations.ReadOnlyHint {
		t.Fatalf("unexpected descriptor: %+v", tool.Descriptor)
	}
}

func TestToolArgumentValidation(t *testing.T) {
	var calls int
	c := NewToolsContainer(newLookupTool(&calls))

	tests := []struct {
		name    string
		args    string
		wantMsg string
	}{
		{name: "missing required", args: `{}`, wantMsg: "invalid arguments: missing required property sessionId"},
		{name: "null required", args: `{"sessionId":null}`, wantMsg: "invalid arguments: missing required property sessionId"},
		{name: "empty arguments", args: ``, wantMsg: "invalid arguments: missing required property sessionId"},
		{name: "not an object", args: `["x"]`, wantMsg: "invalid arguments: expected a JSON object"},
		{name: "unknown field", args: `{"sessionId":"a","extra":1}`, wantMsg: "invalid arguments: json: unknown field \"extra\""},
		{name: "wrong type", args: `{"sessionId":7}`, wantMsg: "invalid arguments:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, c, "lookup", tt.args)
			if !res.IsError {
				t.Fatalf("expected error result")
			}
			if got := res.Content[0].Text; !strings.HasPrefix(got, tt.wantMsg) {
				t.Fatalf("message: want prefix %q got %q", tt.wantMsg, got)
			}
		})
	}
	if calls != 0 {
		t.Fatalf("handler ran %d times on invalid input", calls)
	}
}

func TestToolCallSuccessIsDeterministic(t *testing.T) {
	var calls int
	c := NewToolsContainer(newLookupTool(&calls))

	first := call(t, c, "lookup", `{"sessionId":"sess_1","limit":2}`)
	second := call(t, c, "lookup", `{"sessionId":"sess_1","limit":2}`)
	if first.IsError {
		t.Fatalf("unexpected error result: %+v", first)
	}
	if want, got := `{"limit":2,"sessionId":"sess_1"}`, string(first.StructuredContent); want != got {
		t.Fatalf("structured: want %s got %s", want, got)
	}
	if string(first.StructuredContent) != string(second.StructuredContent) {
		t.Fatalf("structured content differs between identical calls")
	}
	if want, got := "found sess_1", first.Content[0].Text; want != got {
		t.Fatalf("text: want %q got %q", want, got)
	}
}

func TestToolHandlerErrorBecomesErrorResult(t *testing.T) {
	var calls int
	c := NewToolsContainer(newLookupTool(&calls))

	res := call(t, c, "lookup", `{"sessionId":"boom"}`)
	if !res.IsError {
		t.Fatalf("expected error result")
	}
	if want, got := "lookup failed for boom", res.Content[0].Text; want != got {
		t.Fatalf("text: want %q got %q", want, got)
	}
	if want, got := `{"error":true,"message":"lookup failed for boom"}`, string(res.StructuredContent); want != got {
		t.Fatalf("structured: want %s got %s", want, got)
	}
}

func TestUnknownTool(t *testing.T) {
	c := NewToolsContainer()
	_, err := c.Call(context.Background(), testSession, &mcp.CallToolRequestReceived{Name: "nope"})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestToolsContainerOrderAndDuplicates(t *testing.T) {
	mk := func(name, desc string) StaticTool {
		return NewTool(name, func(ctx context.Context, s Session, w ToolResponseWriter, r *ToolRequest[struct{}]) error {
			return w.AppendText(desc)
		}, WithToolDescription(desc))
	}
	c := NewToolsContainer(mk("b", "first b"), mk("a", "a"), mk("b", "second b"))

	var names []string
	for _, tool := range c.ListTools() {
		names = append(names, tool.Name+":"+tool.Description)
	}
	if diff := cmp.Diff([]string{"b:second b", "a:a"}, names); diff != "" {
		t.Fatalf("unexpected listing (-want +got):\n%s", diff)
	}
	if _, ok := c.Describe("a"); !ok {
		t.Fatalf("Describe(a) missing")
	}
	if _, ok := c.Resolve("zzz"); ok {
		t.Fatalf("Resolve(zzz) should fail")
	}
	if got := call(t, c, "b", `{}`).Content[0].Text; got != "second b" {
		t.Fatalf("duplicate handler: got %q", got)
	}
}

func TestWriterRejectsWritesAfterResult(t *testing.T) {
	w := newToolResponseWriter(context.Background())
	_ = w.AppendText("a")
	_ = w.Result()
	if err := w.AppendText("b"); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if got := len(w.Result().Content); got != 1 {
		t.Fatalf("content length after finalize: %d", got)
	}
}
