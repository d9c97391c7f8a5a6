package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// captureSink records flushed event batches.
type captureSink struct {
	batches [][]Event
	fail    error
}

func (s *captureSink) sink(_ context.Context, events []Event) error {
	if s.fail != nil {
		return s.fail
	}
	s.batches = append(s.batches, events)
	return nil
}

// TestEmitAssignsDefaults verifies IDs, timestamps, and levels are filled
// in.
func TestEmitAssignsDefaults(t *testing.T) {
	e := NewEmitter(EventsConfig{Enabled: true, BufferSize: 8}, nil, zerolog.Nop())
	e.Emit(Event{Type: EventTypeCommandCompleted, Message: "done"})

	pending := e.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected one pending event, got %d", len(pending))
	}
	ev := pending[0]
	if ev.ID == "" || ev.Timestamp.IsZero() || ev.Level != EventLevelInfo {
		t.Errorf("expected defaults assigned, got %+v", ev)
	}
}

// TestEmitDisabled verifies a disabled emitter buffers nothing.
func TestEmitDisabled(t *testing.T) {
	e := NewEmitter(EventsConfig{Enabled: false}, nil, zerolog.Nop())
	e.Emit(Event{Type: EventTypeCommandCompleted, Message: "done"})
	if len(e.Pending()) != 0 {
		t.Error("expected no events when disabled")
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Errorf("expected a disabled flush to be nil, got %v", err)
	}
}

// TestBufferOverflowDrops verifies events beyond the buffer size are
// dropped.
func TestBufferOverflowDrops(t *testing.T) {
	e := NewEmitter(EventsConfig{Enabled: true, BufferSize: 2}, nil, zerolog.Nop())
	for i := 0; i < 5; i++ {
		e.Emit(Event{Type: EventTypeCommandCompleted, Message: "x"})
	}
	if got := len(e.Pending()); got != 2 {
		t.Errorf("expected 2 buffered events, got %d", got)
	}
}

// TestFlushDeliversAndResets verifies flush hands the batch to the sink and
// clears the buffer.
func TestFlushDeliversAndResets(t *testing.T) {
	cs := &captureSink{}
	e := NewEmitter(EventsConfig{Enabled: true, BufferSize: 8}, cs.sink, zerolog.Nop())
	e.EmitCommandCompleted("version", 0, 5*time.Millisecond)
	e.EmitCommandCompleted("broken", 2, time.Millisecond)

	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(cs.batches) != 1 || len(cs.batches[0]) != 2 {
		t.Fatalf("expected one batch of two events, got %+v", cs.batches)
	}
	if len(e.Pending()) != 0 {
		t.Error("expected the buffer to be cleared")
	}

	first, second := cs.batches[0][0], cs.batches[0][1]
	if first.Type != EventTypeCommandCompleted || first.Level != EventLevelInfo {
		t.Errorf("unexpected success event %+v", first)
	}
	if second.Type != EventTypeCommandFailed || second.Level != EventLevelError {
		t.Errorf("unexpected failure event %+v", second)
	}

	// A second flush with nothing pending is a no-op.
	if err := e.Flush(context.Background()); err != nil {
		t.Errorf("expected an empty flush to be nil, got %v", err)
	}
	if len(cs.batches) != 1 {
		t.Errorf("expected no second batch, got %d", len(cs.batches))
	}
}

// TestFlushSinkFailure verifies sink errors surface from Flush.
func TestFlushSinkFailure(t *testing.T) {
	cs := &captureSink{fail: errors.New("collector unreachable")}
	e := NewEmitter(EventsConfig{Enabled: true, BufferSize: 8}, cs.sink, zerolog.Nop())
	e.EmitCommandCompleted("version", 0, time.Millisecond)

	if err := e.Flush(context.Background()); err == nil {
		t.Fatal("expected the sink failure to surface")
	}
}

// TestEmitHookFailedLevels verifies critical hook failures escalate the
// event level.
func TestEmitHookFailedLevels(t *testing.T) {
	e := NewEmitter(EventsConfig{Enabled: true, BufferSize: 8}, nil, zerolog.Nop())
	e.EmitHookFailed("p", "audit", false, errors.New("boom"))
	e.EmitHookFailed("p", "guard", true, errors.New("boom"))

	pending := e.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected two events, got %d", len(pending))
	}
	if pending[0].Level != EventLevelWarning {
		t.Errorf("expected a warning for a non-critical hook, got %s", pending[0].Level)
	}
	if pending[1].Level != EventLevelError {
		t.Errorf("expected an error for a critical hook, got %s", pending[1].Level)
	}
}
