package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/klaviyo/incidentio-mcp/dispatch"
	"github.com/klaviyo/incidentio-mcp/internal/jsonrpc"
	"github.com/klaviyo/incidentio-mcp/mcp"
	"github.com/klaviyo/incidentio-mcp/session"
)

// Client drives the tool-calling protocol over a dispatcher. It is safe
// for concurrent use once Initialize has completed.
type Client struct {
	d    *dispatch.Dispatcher
	sess *session.Session // nil unless constructed via Dial
	cfg  config

	initialized atomic.Bool
	serverInfo  mcp.ImplementationInfo
}

// NewClient wraps an existing dispatcher. Most callers want Dial.
func NewClient(d *dispatch.Dispatcher, opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{d: d, cfg: cfg}
}

// Dial spawns the server under test, wires up a session and dispatcher,
// and returns a Client ready for Initialize. Close tears all of it
// down.
func Dial(ctx context.Context, command string, args []string, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	sessOpts := []session.Option{session.WithLogger(cfg.log)}
	if cfg.env != nil {
		sessOpts = append(sessOpts, session.WithEnv(cfg.env))
	}
	if cfg.grace > 0 {
		sessOpts = append(sessOpts, session.WithGracePeriod(cfg.grace))
	}

	sess := session.New(command, args, sessOpts...)
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	t, err := sess.Transport()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}

	c := &Client{
		d:    dispatch.New(t, dispatch.WithLogger(cfg.log)),
		sess: sess,
		cfg:  cfg,
	}
	return c, nil
}

// ServerInfo returns the server identity reported during initialize.
func (c *Client) ServerInfo() mcp.ImplementationInfo { return c.serverInfo }

// StderrText returns the spawned server's accumulated stderr. Empty for
// clients built over an external dispatcher.
func (c *Client) StderrText() string {
	if c.sess == nil {
		return ""
	}
	return c.sess.StderrText()
}

// Close resolves all pending requests with the closed-connection error
// and terminates the spawned process, if any.
func (c *Client) Close() error {
	c.d.Close(nil)
	if c.sess != nil {
		return c.sess.Close()
	}
	return nil
}

// Initialize performs the initialize handshake followed by the
// initialized notification. It must complete before ListTools or
// CallTool may be used.
func (c *Client) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	params := mcp.InitializeRequest{
		ProtocolVersion: c.cfg.protocolVersion,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      c.cfg.clientInfo,
	}

	var res mcp.InitializeResult
	if err := c.call(ctx, mcp.InitializeMethod, params, &res); err != nil {
		return nil, err
	}

	if err := c.d.Notify(ctx, string(mcp.InitializedNotificationMethod), mcp.InitializedNotification{}); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	c.serverInfo = res.ServerInfo
	c.initialized.Store(true)
	c.cfg.log.InfoContext(ctx, "session initialized",
		slog.String("server", res.ServerInfo.Name),
		slog.String("version", res.ServerInfo.Version))
	return &res, nil
}

// ListTools returns the server's tool descriptors in server order.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if !c.initialized.Load() {
		return nil, fmt.Errorf("tools/list: %w", ErrNotInitialized)
	}
	var res mcp.ListToolsResult
	if err := c.call(ctx, mcp.ToolsListMethod, mcp.ListToolsRequest{}, &res); err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// CallTool invokes the named tool and returns its domain payload: the
// JSON document carried, re-encoded as a string, in content[0].text of
// the result envelope. A server-reported error yields *ToolError; an
// envelope that violates the double-encoding contract yields
// *MalformedResultError.
func (c *Client) CallTool(ctx context.Context, name string, args any) (json.RawMessage, error) {
	if !c.initialized.Load() {
		return nil, fmt.Errorf("tools/call %s: %w", name, ErrNotInitialized)
	}

	rawArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}
	params := mcp.CallToolRequest{Name: name, Arguments: rawArgs}

	resp, err := c.rawCall(ctx, mcp.ToolsCallMethod, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &ToolError{
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Data:    resp.Error.Data,
		}
	}

	var env mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &env); err != nil {
		return nil, &MalformedResultError{Reason: fmt.Sprintf("result is not a tool envelope: %v", err), Raw: resp.Result}
	}
	if len(env.Content) == 0 {
		return nil, &MalformedResultError{Reason: "envelope has no content", Raw: resp.Result}
	}
	text := env.Content[0].Text
	if env.IsError {
		return nil, &ToolError{Message: text}
	}
	if !json.Valid([]byte(text)) {
		return nil, &MalformedResultError{Reason: "content[0].text is not valid JSON", Raw: resp.Result}
	}
	return json.RawMessage(text), nil
}

// Ping sends the protocol's connectivity no-op.
func (c *Client) Ping(ctx context.Context) error {
	var res struct{}
	return c.call(ctx, mcp.PingMethod, mcp.PingRequest{}, &res)
}

// call issues a request and decodes a successful result into out. An
// error response becomes *RPCError.
func (c *Client) call(ctx context.Context, method mcp.Method, params, out any) error {
	resp, err := c.rawCall(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return &RPCError{Method: string(method), Code: resp.Error.Code, Msg: resp.Error.Message}
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) rawCall(ctx context.Context, method mcp.Method, params any) (*jsonrpc.Response, error) {
	if _, ok := ctx.Deadline(); !ok && c.cfg.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.callTimeout)
		defer cancel()
	}
	return c.d.Call(ctx, string(method), params)
}
