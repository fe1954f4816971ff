package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/klaviyo/incidentio-mcp/harnesstest"
	"github.com/klaviyo/incidentio-mcp/internal/jsonrpc"
	"github.com/klaviyo/incidentio-mcp/mcp"
	"github.com/klaviyo/incidentio-mcp/session"
)

// TestHelperProcess hosts the fake server when this test binary is
// re-executed as a child process. It is a no-op in normal test runs.
func TestHelperProcess(t *testing.T) {
	harnesstest.RunHelperProcess()
}

func startFake(t *testing.T, cfg harnesstest.Config) *session.Session {
	t.Helper()
	command, args, env, err := harnesstest.HelperCommand(cfg)
	if err != nil {
		t.Fatalf("HelperCommand: %v", err)
	}
	s := session.New(command, args, session.WithEnv(env), session.WithGracePeriod(2*time.Second))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_SpawnErrorForMissingExecutable(t *testing.T) {
	s := session.New("/definitely/not/a/real/binary", nil)
	err := s.Start(context.Background())

	var spawnErr *session.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("got %v, want *SpawnError", err)
	}
}

func TestSession_TransportRequiresRunningState(t *testing.T) {
	s := session.New("cat", nil)
	if _, err := s.Transport(); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("transport before start: %v, want ErrInvalidState", err)
	}
}

func TestSession_TransportTakenExactlyOnce(t *testing.T) {
	s := startFake(t, harnesstest.Config{})

	if _, err := s.Transport(); err != nil {
		t.Fatalf("first Transport: %v", err)
	}
	if _, err := s.Transport(); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("second Transport: %v, want ErrInvalidState", err)
	}
}

func TestSession_InitializeRoundTrip(t *testing.T) {
	s := startFake(t, harnesstest.Config{ServerName: "fake-incident-server"})
	tr, err := s.Transport()
	if err != nil {
		t.Fatalf("Transport: %v", err)
	}

	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(1), string(mcp.InitializeMethod), mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "t", Version: "1.0"},
	})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if err := jsonrpc.NewEncoder(tr).Encode(req); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	msg, err := jsonrpc.NewDecoder(tr).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	var res mcp.InitializeResult
	if err := json.Unmarshal(msg.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.ServerInfo.Name != "fake-incident-server" {
		t.Errorf("serverInfo.name = %q", res.ServerInfo.Name)
	}
}

func TestSession_StderrTextCaptured(t *testing.T) {
	s := startFake(t, harnesstest.Config{StderrBanner: "booting fake server"})

	deadline := time.Now().Add(3 * time.Second)
	for {
		if strings.Contains(s.StderrText(), "booting fake server") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("stderr not captured, got %q", s.StderrText())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSession_CloseIsIdempotentAndTerminates(t *testing.T) {
	s := startFake(t, harnesstest.Config{})
	tr, err := s.Transport()
	if err != nil {
		t.Fatalf("Transport: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := tr.Write([]byte("{}\n")); !errors.Is(err, session.ErrConnectionClosed) {
		t.Errorf("write after close: %v, want ErrConnectionClosed", err)
	}
	if _, err := tr.Read(make([]byte, 16)); !errors.Is(err, session.ErrConnectionClosed) {
		t.Errorf("read after close: %v, want ErrConnectionClosed", err)
	}
}

func TestSession_ContextCancellationKillsProcess(t *testing.T) {
	command, args, env, err := harnesstest.HelperCommand(harnesstest.Config{})
	if err != nil {
		t.Fatalf("HelperCommand: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := session.New(command, args, session.WithEnv(env))
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr, err := s.Transport()
	if err != nil {
		t.Fatalf("Transport: %v", err)
	}

	cancel()

	// The pipe tears down once the process is killed; reads observe
	// termination without Close ever being called.
	deadline := time.Now().Add(3 * time.Second)
	buf := make([]byte, 16)
	for {
		if _, err := tr.Read(buf); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("process still alive after context cancellation")
		}
	}
	_ = s.Close()
}
