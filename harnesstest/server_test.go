package harnesstest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/klaviyo/incidentio-mcp/mcp"
)

func serveOnce(t *testing.T, srv *Server, input string) []string {
	t.Helper()
	var out strings.Builder
	if err := srv.Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	var lines []string
	for _, l := range strings.Split(out.String(), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func TestServer_DoubleEncodesToolPayload(t *testing.T) {
	srv := &Server{Tools: []Tool{
		NewTool("list_severities", "", func(struct{}) (any, error) {
			return map[string]any{"severities": []string{"critical"}}, nil
		}),
	}}

	input := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_severities","arguments":{}}}` + "\n"
	lines := serveOnce(t, srv, input)
	if len(lines) != 1 {
		t.Fatalf("expected 1 response, got %d", len(lines))
	}

	var resp struct {
		Result mcp.CallToolResult `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(resp.Result.Content) != 1 || resp.Result.Content[0].Type != "text" {
		t.Fatalf("unexpected content: %+v", resp.Result.Content)
	}

	// The text is itself a JSON document, per the envelope contract.
	var inner map[string]any
	if err := json.Unmarshal([]byte(resp.Result.Content[0].Text), &inner); err != nil {
		t.Fatalf("inner payload: %v", err)
	}
	if _, ok := inner["severities"]; !ok {
		t.Errorf("inner payload missing severities: %v", inner)
	}
}

func TestServer_UnknownMethodGetsErrorResponse(t *testing.T) {
	lines := serveOnce(t, &Server{}, `{"jsonrpc":"2.0","id":9,"method":"resources/list","params":{}}`+"\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 response, got %d", len(lines))
	}
	var resp struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected method-not-found error, got %s", lines[0])
	}
}

func TestServer_NotificationsGetNoReply(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
		`{"jsonrpc":"2.0","id":1,"method":"ping","params":{}}` + "\n"
	lines := serveOnce(t, &Server{}, input)
	if len(lines) != 1 {
		t.Fatalf("expected only the ping response, got %d lines", len(lines))
	}
}

func TestServer_ReverseBatchReordersResponses(t *testing.T) {
	srv := &Server{ReverseBatch: 2}
	input := `{"jsonrpc":"2.0","id":1,"method":"ping","params":{}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"ping","params":{}}` + "\n"
	lines := serveOnce(t, srv, input)
	if len(lines) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(lines))
	}
	var first struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if first.ID != 2 {
		t.Errorf("first flushed response has id %d, want 2", first.ID)
	}
}
