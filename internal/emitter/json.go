package emitter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/yairfalse/cloudmark/pkg/record"
)

// JSONEmitter writes each event as one JSON line.
type JSONEmitter struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
}

// NewJSONEmitter writes to w. Output is flushed after every event so a
// downstream reader sees findings as they happen.
func NewJSONEmitter(w io.Writer) *JSONEmitter {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &JSONEmitter{w: bw, enc: enc}
}

// Emit encodes the event.
func (e *JSONEmitter) Emit(_ context.Context, event record.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enc.Encode(event); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("flush event: %w", err)
	}
	return nil
}

// Close flushes buffered output. The underlying writer is left open.
func (e *JSONEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Flush()
}
