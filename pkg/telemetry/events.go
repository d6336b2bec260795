package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a progress notification about a job, a step or a sync.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// JobID is the associated job ID, if applicable.
	JobID string `json:"job_id,omitempty"`

	// StepID is the associated step ID, if applicable.
	StepID string `json:"step_id,omitempty"`

	// ComponentID is the associated component ID, if applicable.
	ComponentID string `json:"component_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants.
const (
	EventTypeJobStarted     = "job.started"
	EventTypeJobCompleted   = "job.completed"
	EventTypeJobFailed      = "job.failed"
	EventTypeStepTransition = "step.transition"
	EventTypeAssetSynced    = "asset.synced"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. In async mode a single
// goroutine delivers events in publish order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishJobStarted publishes a job started event.
func (ep *EventPublisher) PublishJobStarted(jobID, targetPath string, steps int) error {
	return ep.Publish(Event{
		Type:    EventTypeJobStarted,
		JobID:   jobID,
		Message: fmt.Sprintf("job %s started on %s", jobID, targetPath),
		Data: map[string]interface{}{
			"target": targetPath,
			"steps":  steps,
		},
	})
}

// PublishJobCompleted publishes a job completion event. Failed and
// compensated jobs are published at error level.
func (ep *EventPublisher) PublishJobCompleted(jobID, status string, duration time.Duration, reason string) error {
	event := Event{
		Type:    EventTypeJobCompleted,
		JobID:   jobID,
		Message: fmt.Sprintf("job %s %s in %s", jobID, status, duration.Round(time.Millisecond)),
		Data: map[string]interface{}{
			"status":      status,
			"duration_ms": duration.Milliseconds(),
		},
	}
	if reason != "" {
		event.Type = EventTypeJobFailed
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("job %s %s: %s", jobID, status, reason)
	}
	return ep.Publish(event)
}

// PublishStepTransition publishes a step status change.
func (ep *EventPublisher) PublishStepTransition(jobID, stepID, componentID, from, to string, reused bool) error {
	level := EventLevelInfo
	switch to {
	case "failed":
		level = EventLevelError
	case "compensating", "compensated":
		level = EventLevelWarning
	}
	message := fmt.Sprintf("%s: %s -> %s", stepID, from, to)
	if reused {
		message += " (reused)"
	}
	return ep.Publish(Event{
		Type:        EventTypeStepTransition,
		JobID:       jobID,
		StepID:      stepID,
		ComponentID: componentID,
		Level:       level,
		Message:     message,
		Data: map[string]interface{}{
			"from":   from,
			"to":     to,
			"reused": reused,
		},
	})
}

// PublishAssetSynced publishes one asset sync decision.
func (ep *EventPublisher) PublishAssetSynced(libraryID, path, action, reason string) error {
	level := EventLevelInfo
	if action == "conflict" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeAssetSynced,
		Level:   level,
		Message: fmt.Sprintf("%s %s/%s", action, libraryID, path),
		Data: map[string]interface{}{
			"library": libraryID,
			"path":    path,
			"action":  action,
			"reason":  reason,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents delivers buffered events until shutdown, then drains.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByJobID creates a filter that only allows events for a specific job.
func FilterByJobID(jobID string) EventFilter {
	return func(event Event) bool {
		return event.JobID == jobID
	}
}
