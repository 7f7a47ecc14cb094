package feed

import (
	"context"
	"testing"
	"time"

	"github.com/attune-labs/attune/backend/internal/model/chat"
)

func messageEvent(sessionID, messageID string) Event {
	return Event{
		Type:      EventMessageInserted,
		SessionID: sessionID,
		Message:   &chat.Message{ID: messageID, SessionID: sessionID, AuthorID: "user-a", Body: "hi"},
	}
}

func recvEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case event, ok := <-events:
		if !ok {
			t.Fatalf("event channel closed unexpectedly")
		}
		return event
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func recvStatus(t *testing.T, status <-chan Status) Status {
	t.Helper()
	select {
	case s, ok := <-status:
		if !ok {
			t.Fatalf("status channel closed unexpectedly")
		}
		return s
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for status")
	}
	return ""
}

func TestBrokerConfirmsImmediately(t *testing.T) {
	broker := NewBroker()

	sub, err := broker.Subscribe(context.Background(), "s1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if got := recvStatus(t, sub.Status); got != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got)
	}
}

func TestBrokerFansOutToSessionSubscribers(t *testing.T) {
	broker := NewBroker()

	first, _ := broker.Subscribe(context.Background(), "s1")
	second, _ := broker.Subscribe(context.Background(), "s1")
	other, _ := broker.Subscribe(context.Background(), "s2")
	defer first.Unsubscribe()
	defer second.Unsubscribe()
	defer other.Unsubscribe()

	if err := broker.Publish(context.Background(), messageEvent("s1", "m1")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	for _, sub := range []*Subscription{first, second} {
		event := recvEvent(t, sub.Events)
		if event.Message == nil || event.Message.ID != "m1" {
			t.Fatalf("unexpected event: %+v", event)
		}
	}

	select {
	case event := <-other.Events:
		t.Fatalf("session s2 received foreign event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerUnsubscribeClosesChannels(t *testing.T) {
	broker := NewBroker()

	sub, _ := broker.Subscribe(context.Background(), "s1")
	recvStatus(t, sub.Status) // confirmed

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	if got := recvStatus(t, sub.Status); got != StatusClosed {
		t.Fatalf("expected closed status, got %s", got)
	}
	if _, ok := <-sub.Status; ok {
		t.Fatalf("expected status channel to be closed")
	}
	if _, ok := <-sub.Events; ok {
		t.Fatalf("expected events channel to be closed")
	}

	// Publishing afterwards must not panic or deliver anywhere.
	if err := broker.Publish(context.Background(), messageEvent("s1", "m1")); err != nil {
		t.Fatalf("publish after unsubscribe failed: %v", err)
	}
}

func TestBrokerContextCancelTearsDown(t *testing.T) {
	broker := NewBroker()

	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := broker.Subscribe(ctx, "s1")
	recvStatus(t, sub.Status)

	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("events channel not closed after context cancel")
		}
	}
}

func TestBrokerSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	broker := NewBroker()

	sub, _ := broker.Subscribe(context.Background(), "s1")
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Nobody drains sub.Events; overflow past the buffer must drop,
		// not block.
		for i := 0; i < subscriberEventBuffer+8; i++ {
			broker.Publish(context.Background(), messageEvent("s1", "m"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}
