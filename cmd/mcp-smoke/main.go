// Command mcp-smoke spawns an MCP server binary and runs the canonical
// smoke sequence against it: initialize, tools/list, then one tool
// call. It replaces the pile of per-scenario scripts that each
// reimplemented subprocess spawning and line framing by hand.
//
// Configuration comes from the environment:
//
//	MCP_SERVER_CMD      command line of the server under test
//	                    (default "./bin/mcp-server")
//	INCIDENT_IO_API_KEY forwarded to the server when set
//	MCP_SMOKE_TIMEOUT   per-request deadline (default 30s)
//
// Flags select the tool call:
//
//	mcp-smoke -tool list_incidents -args '{"page_size":2}'
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/klaviyo/incidentio-mcp/harness"
	"github.com/klaviyo/incidentio-mcp/internal/logctx"
)

type config struct {
	ServerCmd string        `env:"MCP_SERVER_CMD,default=./bin/mcp-server"`
	APIKey    string        `env:"INCIDENT_IO_API_KEY"`
	Timeout   time.Duration `env:"MCP_SMOKE_TIMEOUT,default=30s"`
}

func main() {
	toolName := flag.String("tool", "list_incidents", "tool to invoke after listing")
	toolArgs := flag.String("args", `{"page_size":2}`, "JSON arguments for the tool call")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	var cfg config
	if err := envdecode.Decode(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(logctx.Handler{
		Handler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *toolName, json.RawMessage(*toolArgs)); err != nil {
		log.Error("smoke test failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, log *slog.Logger, toolName string, toolArgs json.RawMessage) error {
	parts := strings.Fields(cfg.ServerCmd)
	if len(parts) == 0 {
		return fmt.Errorf("MCP_SERVER_CMD is empty")
	}

	opts := []harness.Option{
		harness.WithLogger(log),
		harness.WithClientInfo("mcp-smoke", "1.0.0"),
		harness.WithCallTimeout(cfg.Timeout),
	}
	if cfg.APIKey != "" {
		opts = append(opts, harness.WithEnv(map[string]string{"INCIDENT_IO_API_KEY": cfg.APIKey}))
	}

	c, err := harness.Dial(ctx, parts[0], parts[1:], opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn("close", slog.String("err", err.Error()))
		}
	}()

	res, err := c.Initialize(ctx)
	if err != nil {
		return reportWithStderr(c, fmt.Errorf("initialize: %w", err))
	}
	fmt.Printf("server: %s v%s\n", res.ServerInfo.Name, res.ServerInfo.Version)

	tools, err := c.ListTools(ctx)
	if err != nil {
		return reportWithStderr(c, fmt.Errorf("tools/list: %w", err))
	}
	fmt.Printf("tools: %d\n", len(tools))
	for i, t := range tools {
		if i == 5 {
			fmt.Printf("  ... and %d more\n", len(tools)-5)
			break
		}
		fmt.Printf("  - %s: %s\n", t.Name, t.Description)
	}

	payload, err := c.CallTool(ctx, toolName, toolArgs)
	if err != nil {
		return reportWithStderr(c, fmt.Errorf("tools/call %s: %w", toolName, err))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		return err
	}
	fmt.Printf("%s:\n%s\n", toolName, pretty.String())
	return nil
}

// reportWithStderr attaches the server's stderr to a protocol failure;
// that is usually where the actual misconfiguration is written.
func reportWithStderr(c *harness.Client, err error) error {
	if txt := strings.TrimSpace(c.StderrText()); txt != "" {
		return fmt.Errorf("%w\nserver stderr:\n%s", err, txt)
	}
	return err
}
