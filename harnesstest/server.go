package harnesstest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klaviyo/incidentio-mcp/internal/jsonrpc"
	"github.com/klaviyo/incidentio-mcp/mcp"
)

// Server is a scriptable fake MCP server. The zero value serves an
// empty tool set under a default identity; populate the fault-injection
// fields to exercise harness failure paths.
type Server struct {
	Info  mcp.ImplementationInfo
	Tools []Tool

	// ReverseBatch buffers this many responses and flushes them in
	// reverse order, exercising id-based correlation.
	ReverseBatch int

	// GarbageBefore emits a raw non-JSON line immediately before the
	// response to the named method.
	GarbageBefore map[string]string

	// FailCalls forces a JSON-RPC error response for tools/call of the
	// named tool.
	FailCalls map[string]*CallError

	// RawText overrides content[0].text verbatim for the named tool,
	// bypassing the JSON re-encoding step. Use it to produce envelopes
	// whose inner payload is not valid JSON.
	RawText map[string]string

	// Mute lists methods that get no reply at all, for exercising
	// request timeouts.
	Mute map[string]bool

	// StopAfter makes Serve return after this many responses have been
	// written, simulating a server that dies mid-conversation.
	StopAfter int

	// Delay is applied before each response is written.
	Delay time.Duration
}

// CallError scripts a JSON-RPC error response for a tool call.
type CallError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Serve reads newline-delimited JSON-RPC requests from r and writes
// responses to w until EOF or ctx cancellation. Notifications are
// consumed without a reply. Malformed input lines are skipped, the way
// the servers this harness targets behave.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	dec := jsonrpc.NewDecoder(r)
	enc := jsonrpc.NewEncoder(w)

	var queue []*pendingReply
	written := 0

	flush := func() (bool, error) {
		for i := len(queue) - 1; i >= 0; i-- {
			if err := s.writeReply(enc, w, queue[i]); err != nil {
				return false, err
			}
			written++
			if s.StopAfter > 0 && written >= s.StopAfter {
				return true, nil
			}
		}
		queue = nil
		return false, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := dec.Next()
		if err != nil {
			var de *jsonrpc.DecodeError
			if errors.As(err, &de) {
				continue
			}
			if errors.Is(err, io.EOF) {
				_, ferr := flush()
				return ferr
			}
			return err
		}

		if msg.IsResponse() || msg.ID.IsNil() {
			// Responses are unexpected; notifications need no reply.
			continue
		}
		if s.Mute[msg.Method] {
			continue
		}

		queue = append(queue, s.handle(msg))
		if s.ReverseBatch > 1 && len(queue) < s.ReverseBatch {
			continue
		}
		stop, err := flush()
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

type pendingReply struct {
	resp    *jsonrpc.Response
	garbage string
}

func (s *Server) writeReply(enc *jsonrpc.Encoder, w io.Writer, p *pendingReply) error {
	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}
	if p.garbage != "" {
		if _, err := io.WriteString(w, p.garbage+"\n"); err != nil {
			return err
		}
	}
	return enc.Encode(p.resp)
}

func (s *Server) handle(msg *jsonrpc.AnyMessage) *pendingReply {
	reply := &pendingReply{garbage: s.GarbageBefore[msg.Method]}

	switch mcp.Method(msg.Method) {
	case mcp.InitializeMethod:
		info := s.Info
		if info.Name == "" {
			info = mcp.ImplementationInfo{Name: "harnesstest", Version: "0.0.1"}
		}
		reply.resp = s.result(msg.ID, mcp.InitializeResult{
			ProtocolVersion: mcp.LatestProtocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Tools: &struct {
					ListChanged bool `json:"listChanged"`
				}{},
			},
			ServerInfo: info,
		})
	case mcp.PingMethod:
		reply.resp = s.result(msg.ID, struct{}{})
	case mcp.ToolsListMethod:
		tools := make([]mcp.Tool, 0, len(s.Tools))
		for _, t := range s.Tools {
			tools = append(tools, t.Descriptor)
		}
		reply.resp = s.result(msg.ID, mcp.ListToolsResult{Tools: tools})
	case mcp.ToolsCallMethod:
		reply.resp = s.handleToolCall(msg)
	default:
		reply.resp = jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("unknown method %q", msg.Method))
	}
	return reply
}

func (s *Server) handleToolCall(msg *jsonrpc.AnyMessage) *jsonrpc.Response {
	var req mcp.CallToolRequest
	if err := json.Unmarshal(msg.Params, &req); err != nil {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, err.Error())
	}

	if ce, ok := s.FailCalls[req.Name]; ok {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCode(ce.Code), ce.Message)
	}

	if text, ok := s.RawText[req.Name]; ok {
		return s.result(msg.ID, mcp.CallToolResult{
			Content: []mcp.ContentBlock{{Type: "text", Text: text}},
		})
	}

	for _, t := range s.Tools {
		if t.Descriptor.Name != req.Name {
			continue
		}
		payload, err := t.Handler(req.Arguments)
		if err != nil {
			return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, err.Error())
		}
		inner, err := json.Marshal(payload)
		if err != nil {
			return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, err.Error())
		}
		return s.result(msg.ID, mcp.CallToolResult{
			Content: []mcp.ContentBlock{{Type: "text", Text: string(inner)}},
		})
	}

	return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("unknown tool %q", req.Name))
}

func (s *Server) result(id *jsonrpc.RequestID, v any) *jsonrpc.Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, err.Error())
	}
	return &jsonrpc.Response{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Result:         raw,
		ID:             id,
	}
}
