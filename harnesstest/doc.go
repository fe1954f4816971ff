// Package harnesstest provides an in-process fake MCP server for
// exercising the harness without a real server binary. It speaks the
// same newline-delimited JSON-RPC wire protocol over any reader/writer
// pair, including the double-JSON-encoded tool-result envelope, and can
// inject protocol faults (reordered responses, malformed lines,
// error responses) on demand.
package harnesstest
