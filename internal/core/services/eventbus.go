package services

import (
	"log/slog"
	"sync"

	"genforge/internal/core/domain"
)

type EventType string

const (
	// EventTypeStatus marks job lifecycle transitions.
	EventTypeStatus EventType = "status"
	// EventTypeProgress carries cumulative backend output plus the job's
	// current adjusted line.
	EventTypeProgress EventType = "progress"
	// EventTypeCompleted is the single terminal notification per job.
	EventTypeCompleted EventType = "completed"
)

type Event struct {
	JobID     domain.JobID `json:"job_id"`
	File      string       `json:"file,omitempty"`
	Type      EventType    `json:"type"`
	Data      string       `json:"data"` // JSON payload or raw text
	Timestamp int64        `json:"timestamp"`
}

// EventBus fans job events out to per-job and global subscribers. Slow
// consumers never block publishers: each subscription is buffered and full
// channels drop.
type EventBus struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	subs    map[domain.JobID][]chan Event
	globals []chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.JobID][]chan Event),
	}
}

// Subscribe returns a channel that receives events for a specific job.
func (b *EventBus) Subscribe(jobID domain.JobID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.subs[jobID] = append(b.subs[jobID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[jobID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[jobID]) == 0 {
			delete(b.subs, jobID)
		}
	}

	return ch, unsub
}

// SubscribeGlobal returns a channel that receives every published event,
// regardless of job. Used by the firehose SSE endpoint.
func (b *EventBus) SubscribeGlobal() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.globals = append(b.globals, ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, sub := range b.globals {
			if sub == ch {
				close(ch)
				b.globals = append(b.globals[:i], b.globals[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish sends an event to the job's subscribers and all global ones.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
			// Full channel: drop rather than block the worker.
			b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID, "type", e.Type)
		}
	}
	for _, ch := range b.globals {
		select {
		case ch <- e:
		default:
			b.logger.Warn("global event channel full, dropping event", "job_id", e.JobID, "type", e.Type)
		}
	}
}
