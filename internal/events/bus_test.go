package events

import (
	"log/slog"
	"testing"
	"time"
)

func newTestBus() *Bus {
	return NewBus(slog.New(slog.DiscardHandler))
}

func TestPublishSubscribe(t *testing.T) {
	b := newTestBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(TypeTaskCompleted, TaskCompletedPayload{TaskID: 1, Name: "Submit report"})

	select {
	case ev := <-ch:
		if ev.Type != TypeTaskCompleted {
			t.Errorf("type = %s, want %s", ev.Type, TypeTaskCompleted)
		}
		p, ok := ev.Payload.(TaskCompletedPayload)
		if !ok {
			t.Fatalf("payload type = %T", ev.Payload)
		}
		if p.TaskID != 1 || p.Name != "Submit report" {
			t.Errorf("payload = %+v", p)
		}
		if ev.At.IsZero() {
			t.Error("event timestamp is zero")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := newTestBus()
	ch, cancel := b.Subscribe()

	cancel()
	cancel() // second cancel must be safe

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}

	// Publishing with no subscribers must not panic.
	b.Publish(TypeSchedulerCycle, nil)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := newTestBus()
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ { // more than the buffer size
			b.Publish(TypeChatStream, i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	b := newTestBus()
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	b.Publish(TypeSchedulerCycle, nil)

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != TypeSchedulerCycle {
				t.Errorf("subscriber %d type = %s", i, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}
