package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of engine event.
type EventKind string

const (
	EventTurnStart     EventKind = "turn_start"
	EventTurnEnd       EventKind = "turn_end"
	EventRoute         EventKind = "route"
	EventScout         EventKind = "scout"
	EventModelRequest  EventKind = "model_request"
	EventContinuation  EventKind = "continuation"
	EventAction        EventKind = "action"
	EventValidation    EventKind = "validation"
	EventTaskProgress  EventKind = "task_progress"
	EventLoopDetection EventKind = "loop_detection"
	EventTestResult    EventKind = "test_result"
	EventWarning       EventKind = "warning"
	EventError         EventKind = "error"
	EventSummaryStart  EventKind = "summary_start"
	EventSummaryEnd    EventKind = "summary_end"
)

// Event is a typed event emitted by the engine.
type Event struct {
	Kind           EventKind      `json:"kind"`
	Timestamp      time.Time      `json:"timestamp"`
	ConversationID string         `json:"conversation_id"`
	Data           map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers typed events to the host application via a channel.
// A nil *EventEmitter discards everything.
type EventEmitter struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewEventEmitter creates an EventEmitter with a buffered channel.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{ch: make(chan Event, bufferSize)}
}

// Emit sends an event to the channel. Events are dropped when the emitter
// is closed or the buffer is full.
func (e *EventEmitter) Emit(conversationID string, kind EventKind, data map[string]any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:           kind,
		Timestamp:      time.Now(),
		ConversationID: conversationID,
		Data:           data,
	}
	select {
	case e.ch <- event:
	default:
		// Channel full; drop event to avoid blocking the loop.
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
