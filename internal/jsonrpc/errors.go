package jsonrpc

import "fmt"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// DecodeError reports a single wire line that could not be parsed as a
// JSON-RPC message. The surrounding stream remains usable; decoding
// resumes with the next line.
type DecodeError struct {
	// Line is the raw offending line, without its trailing newline.
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode line %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
