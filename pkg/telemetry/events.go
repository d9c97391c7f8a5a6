package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one telemetry event recorded during a CLI invocation.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Command is the dispatched command path, if applicable.
	Command string `json:"command,omitempty"`

	// Plugin is the originating plugin, if applicable.
	Plugin string `json:"plugin,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]any `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeCommandStarted   = "command.started"
	EventTypeCommandCompleted = "command.completed"
	EventTypeCommandFailed    = "command.failed"
	EventTypeHookFailed       = "hook.failed"
	EventTypePluginInstalled  = "plugin.installed"
	EventTypePluginRemoved    = "plugin.removed"
	EventTypePolicyViolation  = "policy.violation"
	EventTypeRetryExhausted   = "retry.exhausted"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSink receives flushed events. The default sink writes them to the
// structured log at event level.
type EventSink func(ctx context.Context, events []Event) error

// Emitter buffers events during a dispatch and delivers them to the sink
// when the engine flushes at the end of the invocation. It implements
// core.Flusher.
type Emitter struct {
	config EventsConfig
	sink   EventSink
	logger zerolog.Logger

	mu      sync.Mutex
	pending []Event
	dropped int
}

// NewEmitter creates an event emitter. A nil sink logs flushed events.
func NewEmitter(cfg EventsConfig, sink EventSink, logger zerolog.Logger) *Emitter {
	e := &Emitter{
		config: cfg,
		sink:   sink,
		logger: logger,
	}
	if e.sink == nil {
		e.sink = e.logSink
	}
	return e
}

// Emit buffers an event, assigning an ID and timestamp when absent. Events
// beyond the buffer size are dropped and counted.
func (e *Emitter) Emit(event Event) {
	if !e.config.Enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.config.BufferSize > 0 && len(e.pending) >= e.config.BufferSize {
		e.dropped++
		return
	}
	e.pending = append(e.pending, event)
}

// EmitCommandCompleted buffers a command completion event.
func (e *Emitter) EmitCommandCompleted(command string, exitCode int, duration time.Duration) {
	eventType := EventTypeCommandCompleted
	level := EventLevelInfo
	if exitCode != 0 {
		eventType = EventTypeCommandFailed
		level = EventLevelError
	}
	e.Emit(Event{
		Type:    eventType,
		Command: command,
		Message: fmt.Sprintf("command %s exited with code %d", command, exitCode),
		Level:   level,
		Data: map[string]any{
			"exit_code": exitCode,
			"duration":  duration.Seconds(),
		},
	})
}

// EmitHookFailed buffers a plugin hook failure event.
func (e *Emitter) EmitHookFailed(plugin, hook string, critical bool, err error) {
	level := EventLevelWarning
	if critical {
		level = EventLevelError
	}
	e.Emit(Event{
		Type:    EventTypeHookFailed,
		Plugin:  plugin,
		Message: fmt.Sprintf("hook %s from plugin %s failed: %v", hook, plugin, err),
		Level:   level,
		Data: map[string]any{
			"hook":     hook,
			"critical": critical,
		},
	})
}

// Flush delivers all buffered events to the sink and resets the buffer.
func (e *Emitter) Flush(ctx context.Context) error {
	if !e.config.Enabled {
		return nil
	}

	e.mu.Lock()
	events := e.pending
	dropped := e.dropped
	e.pending = nil
	e.dropped = 0
	e.mu.Unlock()

	if dropped > 0 {
		e.logger.Warn().Int("dropped", dropped).Msg("event buffer overflowed, events dropped")
	}
	if len(events) == 0 {
		return nil
	}
	if err := e.sink(ctx, events); err != nil {
		return fmt.Errorf("failed to flush %d events: %w", len(events), err)
	}
	return nil
}

// Pending returns a copy of the unflushed events, for the status command.
func (e *Emitter) Pending() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.pending))
	copy(out, e.pending)
	return out
}

// logSink writes events to the structured log.
func (e *Emitter) logSink(_ context.Context, events []Event) error {
	for _, ev := range events {
		var entry *zerolog.Event
		switch ev.Level {
		case EventLevelError:
			entry = e.logger.Error()
		case EventLevelWarning:
			entry = e.logger.Warn()
		default:
			entry = e.logger.Debug()
		}
		entry.
			Str("event_id", ev.ID).
			Str("event_type", ev.Type).
			Time("event_time", ev.Timestamp).
			Interface("data", ev.Data).
			Msg(ev.Message)
	}
	return nil
}
