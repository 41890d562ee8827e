package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Encoder writes envelopes as newline-delimited JSON. Safe for use from
// multiple goroutines.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Send marshals params and writes one envelope line.
func (e *Encoder) Send(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("ipc: marshal %s params: %w", method, err)
	}
	line, err := json.Marshal(Envelope{Method: method, Params: raw})
	if err != nil {
		return fmt.Errorf("ipc: marshal %s envelope: %w", method, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(line); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}

// Decoder reads envelopes line by line.
type Decoder struct {
	s *bufio.Scanner
}

// NewDecoder wraps r. Lines up to 8 MiB are accepted to leave room for
// attachment payloads.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 8*1024*1024)
	return &Decoder{s: s}
}

// Next returns the next envelope, or io.EOF when the stream ends.
func (d *Decoder) Next() (Envelope, error) {
	for d.s.Scan() {
		line := d.s.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return Envelope{}, fmt.Errorf("ipc: decode envelope: %w", err)
		}
		return env, nil
	}
	if err := d.s.Err(); err != nil {
		return Envelope{}, err
	}
	return Envelope{}, io.EOF
}

// Unmarshal decodes an envelope's params into out.
func Unmarshal(env Envelope, out any) error {
	if len(env.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Params, out); err != nil {
		return fmt.Errorf("ipc: decode %s params: %w", env.Method, err)
	}
	return nil
}
