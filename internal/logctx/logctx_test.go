package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestHandler_AddsSessionAndRPCGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewTextHandler(&buf, nil)})

	ctx := WithSessionData(context.Background(), &SessionData{
		SessionID: "sess-123",
		Command:   "./bin/mcp-server",
	})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "tools/call", ID: "7"})

	log.InfoContext(ctx, "hello")

	out := buf.String()
	for _, want := range []string{"sess.id=sess-123", "sess.command=./bin/mcp-server", "rpc.method=tools/call", "rpc.id=7"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestHandler_PlainContextPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewTextHandler(&buf, nil)})

	log.Info("plain")

	out := buf.String()
	if strings.Contains(out, "sess.") || strings.Contains(out, "rpc.") {
		t.Errorf("unexpected enrichment on plain context: %s", out)
	}
}
