package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one entry of a run's timeline.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	RunID     string                 `json:"run_id,omitempty"`
	ActionID  string                 `json:"action_id,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeActionStarted   = "action.started"
	EventTypeActionCompleted = "action.completed"
	EventTypeActionFailed    = "action.failed"
	EventTypeHookCompleted   = "hook.completed"
	EventTypeHookFailed      = "hook.failed"
	EventTypePolicyViolation = "policy.violation"
)

// Event levels, lowest first.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var levelRank = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// ErrPublisherClosed is returned by Publish after Shutdown.
var ErrPublisherClosed = errors.New("event publisher closed")

// EventSubscriber receives events.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher delivers events to subscribers in publish order, either
// inline or from one background goroutine when EnableAsync is set.
type EventPublisher struct {
	enabled bool

	mu      sync.RWMutex
	subs    []subscription
	filters []EventFilter
	closed  bool

	queue chan Event
	done  chan struct{}
}

// NewEventPublisher creates a publisher. A disabled publisher drops everything.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{enabled: cfg.Enabled}
	if cfg.Enabled && cfg.EnableAsync {
		if cfg.BufferSize <= 0 {
			return nil, fmt.Errorf("event buffer size must be positive, got %d", cfg.BufferSize)
		}
		ep.queue = make(chan Event, cfg.BufferSize)
		ep.done = make(chan struct{})
		go ep.drain()
	}
	return ep, nil
}

// Publish stamps event with an ID, timestamp and source when missing, and
// delivers it. In async mode a full buffer drops the event with an error.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Source == "" {
		event.Source = "engine"
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return ErrPublisherClosed
	}
	for _, f := range ep.filters {
		if !f(event) {
			return nil
		}
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, dropped %s", event.Type)
	}
}

// deliver must be called with mu held for reading.
func (ep *EventPublisher) deliver(event Event) {
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

func (ep *EventPublisher) drain() {
	defer close(ep.done)
	for event := range ep.queue {
		ep.mu.RLock()
		ep.deliver(event)
		ep.mu.RUnlock()
	}
}

// Subscribe registers fn for the events accepted by filter, or all events
// when filter is nil.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
}

// AddFilter drops every event rejected by filter before any subscriber sees it.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// Shutdown stops accepting events and waits until queued ones are delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.enabled {
		return nil
	}

	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	if ep.queue != nil {
		close(ep.queue)
	}
	ep.mu.Unlock()

	if ep.done == nil {
		return nil
	}
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// PublishRunStarted publishes run.started.
func (ep *EventPublisher) PublishRunStarted(runID, planID string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Level:   EventLevelInfo,
		Message: "Run started",
		Data:    map[string]interface{}{"plan_id": planID},
	})
}

// PublishRunCompleted publishes run.completed.
func (ep *EventPublisher) PublishRunCompleted(runID string, elapsed time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Level:   EventLevelInfo,
		Message: "Run completed",
		Data:    map[string]interface{}{"duration_ms": elapsed.Milliseconds()},
	})
}

// PublishRunFailed publishes run.failed.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		RunID:   runID,
		Level:   EventLevelError,
		Message: "Run failed: " + reason,
		Data:    map[string]interface{}{"reason": reason},
	})
}

// PublishActionStarted publishes action.started.
func (ep *EventPublisher) PublishActionStarted(runID, actionID, kind, target string) error {
	return ep.Publish(Event{
		Type:     EventTypeActionStarted,
		RunID:    runID,
		ActionID: actionID,
		Level:    EventLevelInfo,
		Message:  kind + " " + target,
		Data:     map[string]interface{}{"kind": kind, "target": target},
	})
}

// PublishActionCompleted publishes action.completed.
func (ep *EventPublisher) PublishActionCompleted(runID, actionID string, elapsed time.Duration) error {
	return ep.Publish(Event{
		Type:     EventTypeActionCompleted,
		RunID:    runID,
		ActionID: actionID,
		Level:    EventLevelInfo,
		Message:  "Action completed",
		Data:     map[string]interface{}{"duration_ms": elapsed.Milliseconds()},
	})
}

// PublishActionFailed publishes action.failed.
func (ep *EventPublisher) PublishActionFailed(runID, actionID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeActionFailed,
		RunID:    runID,
		ActionID: actionID,
		Level:    EventLevelError,
		Message:  "Action failed: " + reason,
		Data:     map[string]interface{}{"reason": reason},
	})
}

// PublishHook publishes hook.completed or hook.failed.
func (ep *EventPublisher) PublishHook(runID, hook string, err error) error {
	e := Event{
		Type:    EventTypeHookCompleted,
		RunID:   runID,
		Level:   EventLevelInfo,
		Message: "Hook " + hook + " completed",
		Data:    map[string]interface{}{"hook": hook},
	}
	if err != nil {
		e.Type = EventTypeHookFailed
		e.Level = EventLevelError
		e.Message = fmt.Sprintf("Hook %s failed: %v", hook, err)
	}
	return ep.Publish(e)
}

// PublishPolicyViolation publishes policy.violation. Critical and error
// severities map to the error level.
func (ep *EventPublisher) PublishPolicyViolation(policy, severity, reason string) error {
	level := EventLevelWarning
	switch severity {
	case "critical", "error":
		level = EventLevelError
	case "info":
		level = EventLevelInfo
	}
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		Level:   level,
		Message: "Policy violation: " + reason,
		Data:    map[string]interface{}{"policy": policy, "severity": severity},
	})
}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank[minLevel]
	return func(e Event) bool { return levelRank[e.Level] >= floor }
}

// FilterByType accepts events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// FilterByRunID accepts events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(e Event) bool { return e.RunID == runID }
}
