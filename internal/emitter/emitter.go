// Package emitter defines where generated events go.
package emitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/cloudmark/pkg/record"
)

// Emitter receives the events a run generates.
type Emitter interface {
	// Emit delivers one event. Events must not be modified.
	Emit(ctx context.Context, event record.Record) error

	// Close flushes and releases the sink.
	Close() error
}

// MultiEmitter delivers every event to each of its emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter fans out to emitters.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit stops at the first failing emitter.
func (m *MultiEmitter) Emit(ctx context.Context, event record.Record) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, event); err != nil {
			return fmt.Errorf("%T: %w", e, err)
		}
	}
	return nil
}

// Close closes every emitter and joins their errors.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}
