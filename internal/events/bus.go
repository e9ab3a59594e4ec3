// Package events is a small in-process pub/sub bus feeding the SSE surface.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies an event on the bus.
type Type string

const (
	TypeChatStream            Type = "chat_stream"
	TypeTaskCompleted         Type = "task_completed"
	TypeModelDownloadStarted  Type = "model_download_started"
	TypeModelDownloadProgress Type = "model_download_progress"
	TypeModelDownloadFinished Type = "model_download_finished"
	TypeSchedulerCycle        Type = "scheduler_cycle"
)

// Event is one published notification.
type Event struct {
	Type    Type      `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// TaskCompletedPayload announces a task whose final step completed.
type TaskCompletedPayload struct {
	TaskID int64  `json:"task_id"`
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
}

// Bus fans events out to subscribers. Subscriber channels are bounded;
// publishing never blocks, a full subscriber drops the event instead.
type Bus struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty bus.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{log: log, subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel function must be
// called to release the subscription; the channel is closed afterwards.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers.
func (b *Bus) Publish(t Type, payload any) {
	ev := Event{Type: t, At: time.Now().UTC(), Payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Debug("dropping event for slow subscriber", "type", t, "subscriber", id)
		}
	}
}

// SubscriberCount reports how many subscribers are attached.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
