package jsonrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Encoder writes newline-delimited JSON-RPC messages. Each message is
// serialized to exactly one line of UTF-8 JSON followed by '\n'.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v as a single framed line. v is any JSON-RPC message
// type (Request, Response).
func (e *Encoder) Encode(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	b = append(b, '\n')
	if _, err := e.w.Write(b); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited JSON-RPC messages from a byte stream.
// It buffers partial lines across reads, so a message split over several
// underlying reads, or several messages arriving in one read, both frame
// correctly. A trailing unterminated line at end of stream is discarded.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next message from the stream. A line that is not a
// valid JSON-RPC message yields a *DecodeError and leaves the stream
// positioned at the following line; callers should log it and keep
// pulling. Blank lines are skipped. io.EOF signals a clean end of
// stream.
func (d *Decoder) Next() (*AnyMessage, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// A partial line with no terminator is not a framed
				// message; drop it rather than guess.
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read line: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		var msg AnyMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, &DecodeError{Line: line, Err: err}
		}
		return &msg, nil
	}
}
