// Package mcp defines the wire-level data types for the subset of the
// Model Context Protocol exercised by this harness: the initialize
// handshake and the tool-calling surface (tools/list, tools/call).
//
// The types mirror the protocol schema exactly and carry no behavior.
// Domain payloads returned by tools are deliberately left as raw JSON;
// the harness never interprets them.
package mcp
