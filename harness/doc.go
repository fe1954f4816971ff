// Package harness implements the tool-calling protocol on top of the
// request dispatcher: the initialize handshake, tool discovery, and
// tool invocation with the double-JSON-encoded result envelope.
//
// The usual entry point is Dial, which spawns the server under test,
// wires a session and dispatcher, and returns a Client:
//
//	c, err := harness.Dial(ctx, "./bin/mcp-server", nil,
//	    harness.WithEnv(map[string]string{"INCIDENT_IO_API_KEY": key}),
//	)
//	if err != nil { ... }
//	defer c.Close()
//
//	if _, err := c.Initialize(ctx); err != nil { ... }
//	tools, err := c.ListTools(ctx)
//	payload, err := c.CallTool(ctx, "list_incidents", map[string]any{"page_size": 2})
//
// Tool payloads are returned as raw JSON; their domain meaning belongs
// to the server under test, not to the harness.
package harness
