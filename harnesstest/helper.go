package harnesstest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/klaviyo/incidentio-mcp/mcp"
)

// Environment variables used by the helper-process protocol. Tests
// re-exec their own binary with `-test.run=TestHelperProcess` so the
// harness gets a genuine child process without building a fixture
// binary first.
const (
	HelperEnv = "GO_WANT_HELPER_PROCESS"
	ConfigEnv = "FAKE_MCP_CONFIG"
)

// Config is the JSON-serializable description of a fake server for use
// in a test subprocess.
type Config struct {
	ServerName    string                `json:"server_name,omitempty"`
	Tools         []ToolConfig          `json:"tools,omitempty"`
	FailCalls     map[string]*CallError `json:"fail_calls,omitempty"`
	RawText       map[string]string     `json:"raw_text,omitempty"`
	ReverseBatch  int                   `json:"reverse_batch,omitempty"`
	GarbageBefore map[string]string     `json:"garbage_before,omitempty"`
	Mute          map[string]bool       `json:"mute,omitempty"`
	StopAfter     int                   `json:"stop_after,omitempty"`
	// StderrBanner is written to stderr at startup so tests can assert
	// stderr capture.
	StderrBanner string `json:"stderr_banner,omitempty"`
}

// ToolConfig describes a static tool that returns Payload verbatim as
// its domain payload.
type ToolConfig struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewServer builds a Server from a Config.
func NewServer(cfg Config) *Server {
	s := &Server{
		FailCalls:     cfg.FailCalls,
		RawText:       cfg.RawText,
		ReverseBatch:  cfg.ReverseBatch,
		GarbageBefore: cfg.GarbageBefore,
		Mute:          cfg.Mute,
		StopAfter:     cfg.StopAfter,
	}
	if cfg.ServerName != "" {
		s.Info.Name = cfg.ServerName
		s.Info.Version = "0.0.1"
	}
	for _, tc := range cfg.Tools {
		payload := tc.Payload
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		s.Tools = append(s.Tools, Tool{
			Descriptor: mcp.Tool{
				Name:        tc.Name,
				Description: tc.Description,
				InputSchema: mcp.ToolInputSchema{Type: "object"},
			},
			Handler: func(json.RawMessage) (any, error) {
				return payload, nil
			},
		})
	}
	return s
}

// RunHelperProcess is the body of the TestHelperProcess test function.
// It is a no-op unless HelperEnv is set, in which case it serves the
// configured fake server over stdin/stdout and exits the process.
func RunHelperProcess() {
	if os.Getenv(HelperEnv) != "1" {
		return
	}

	var cfg Config
	raw := os.Getenv(ConfigEnv)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			fmt.Fprintln(os.Stderr, "bad fake server config:", err)
			os.Exit(2)
		}
	}

	if cfg.StderrBanner != "" {
		fmt.Fprintln(os.Stderr, cfg.StderrBanner)
	}

	if err := NewServer(cfg).Serve(context.Background(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "fake server:", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// HelperCommand returns the command, args, and environment overlay that
// spawn the calling test binary as a fake server subprocess.
func HelperCommand(cfg Config) (command string, args []string, env map[string]string, err error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", nil, nil, fmt.Errorf("marshal fake server config: %w", err)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", nil, nil, fmt.Errorf("locate test binary: %w", err)
	}
	return exe, []string{"-test.run=TestHelperProcess", "--"}, map[string]string{
		HelperEnv: "1",
		ConfigEnv: string(raw),
	}, nil
}
