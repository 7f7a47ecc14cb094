// Package feed carries database-style change notifications for a
// session. Sources are thin event relays: deduplication and ordering
// belong to the sync engine, not here.
package feed

import (
	"context"
	"sync"

	"github.com/attune-labs/attune/backend/internal/model/chat"
)

// EventType enumerates the change kinds a subscriber can observe.
type EventType string

const (
	EventMessageInserted     EventType = "message-inserted"
	EventParticipantInserted EventType = "participant-inserted"
	EventParticipantUpdated  EventType = "participant-updated"
)

// Event is one change notification. Exactly one of Message and
// Participant is set, according to Type.
type Event struct {
	Type        EventType         `json:"type"`
	SessionID   string            `json:"sessionId"`
	Message     *chat.Message     `json:"message,omitempty"`
	Participant *chat.Participant `json:"participant,omitempty"`
}

// Status reports subscription health to the consumer.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusError     Status = "error"
	StatusClosed    Status = "closed"
)

// Subscription is a live per-session event stream plus its status
// stream. Consumers must call Unsubscribe when done; afterwards both
// channels are closed.
type Subscription struct {
	Events <-chan Event
	Status <-chan Status

	once   sync.Once
	cancel func()
}

// NewSubscription assembles a subscription around existing channels.
// cancel runs at most once, on the first Unsubscribe call.
func NewSubscription(events <-chan Event, status <-chan Status, cancel func()) *Subscription {
	if cancel == nil {
		cancel = func() {}
	}
	return &Subscription{Events: events, Status: status, cancel: cancel}
}

// Unsubscribe detaches from the source. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Source hands out per-session subscriptions.
type Source interface {
	Subscribe(ctx context.Context, sessionID string) (*Subscription, error)
}

// Publisher pushes change events into the feed.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
