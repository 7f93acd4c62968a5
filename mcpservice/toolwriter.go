package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-retail-demo/mcp"
)

// ToolResponseWriter lets a tool handler compose a CallToolResult.
//
// Notes:
//   - It is safe for concurrent use within a single request.
//   - Writes after Result are ignored and return ErrFinalized.
//   - Structured content is marshalled when set, so the same value always
//     yields the same bytes.
type ToolResponseWriter interface {
	AppendText(text string) error
	AppendBlocks(blocks ...mcp.ContentBlock) error
	SetStructured(v any) error
	SetError(isError bool)
	SetMeta(key string, v any)
	// Result finalizes and returns the accumulated result. It is idempotent.
	Result() *mcp.CallToolResult
}

// ErrFinalized is returned when writing after Result was called.
var ErrFinalized = errors.New("result already finalized")

type toolResponseWriter struct {
	ctx       context.Context
	mu        sync.Mutex
	finalized bool

	blocks     []mcp.ContentBlock
	structured json.RawMessage
	isError    bool
	meta       map[string]any
}

var _ ToolResponseWriter = (*toolResponseWriter)(nil)

func newToolResponseWriter(ctx context.Context) *toolResponseWriter {
	return &toolResponseWriter{ctx: ctx}
}

func (w *toolResponseWriter) AppendText(text string) error {
	if text == "" {
		return nil
	}
	return w.AppendBlocks(mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text})
}

func (w *toolResponseWriter) AppendBlocks(blocks ...mcp.ContentBlock) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return ErrFinalized
	}
	w.blocks = append(w.blocks, blocks...)
	return nil
}

func (w *toolResponseWriter) SetStructured(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding structured content: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return ErrFinalized
	}
	w.structured = b
	return nil
}

func (w *toolResponseWriter) SetError(isError bool) {
	w.mu.Lock()
	w.isError = isError
	w.mu.Unlock()
}

func (w *toolResponseWriter) SetMeta(key string, v any) {
	if key == "" {
		return
	}
	w.mu.Lock()
	if w.meta == nil {
		w.meta = make(map[string]any)
	}
	w.meta[key] = v
	w.mu.Unlock()
}

func (w *toolResponseWriter) Result() *mcp.CallToolResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	content := append([]mcp.ContentBlock{}, w.blocks...)
	return &mcp.CallToolResult{
		Content:           content,
		IsError:           w.isError,
		StructuredContent: append(json.RawMessage(nil), w.structured...),
		BaseMetadata:      mcp.BaseMetadata{Meta: cloneMeta(w.meta)},
	}
}

func cloneMeta(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// TextResult builds a successful result with a single text block.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

type errorPayload struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// ErrorResult builds the tool execution error result for msg: isError set,
// the message verbatim as text, and {"error":true,"message":msg} as
// structured content.
func ErrorResult(msg string) *mcp.CallToolResult {
	b, _ := json.Marshal(errorPayload{Error: true, Message: msg})
	return &mcp.CallToolResult{
		Content:           []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}},
		IsError:           true,
		StructuredContent: b,
	}
}

// Errorf is ErrorResult with formatting.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	return ErrorResult(fmt.Sprintf(format, a...))
}
