package harness

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klaviyo/incidentio-mcp/internal/jsonrpc"
)

// ErrNotInitialized indicates a tools/list or tools/call was attempted
// before Initialize completed. The violating request is never written
// to the wire.
var ErrNotInitialized = errors.New("initialize has not completed")

// ToolError is a domain-level failure explicitly reported by the
// server, surfaced verbatim. The harness never retries these: tool
// calls such as incident creation are not safely idempotent.
type ToolError struct {
	Code    jsonrpc.ErrorCode
	Message string
	Data    json.RawMessage
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error %d: %s", e.Code, e.Message)
}

// MalformedResultError indicates a tools/call response whose envelope
// or inner payload did not have the contractual shape (missing content,
// or content[0].text that is not valid JSON). Unlike ToolError, this is
// a harness/server protocol bug, not a legitimate domain failure.
type MalformedResultError struct {
	Reason string
	// Raw is the outer JSON-RPC result for diagnostics.
	Raw json.RawMessage
}

func (e *MalformedResultError) Error() string {
	return fmt.Sprintf("malformed tool result: %s", e.Reason)
}

// RPCError wraps an error response to a non-tool request (initialize,
// tools/list, ping).
type RPCError struct {
	Method string
	Code   jsonrpc.ErrorCode
	Msg    string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed: rpc error %d: %s", e.Method, e.Code, e.Msg)
}
