package feed

import (
	"context"
	"log"
	"sync"
)

const (
	subscriberEventBuffer  = 64
	subscriberStatusBuffer = 4
)

// Broker is the in-process feed used when no external transport is
// configured: the chat service publishes into it and every open session
// view subscribes to it. Publishing never blocks; a consumer that falls
// behind loses events and is expected to recover via its polling path.
type Broker struct {
	mu       sync.RWMutex
	sessions map[string]map[*brokerSub]struct{}
}

type brokerSub struct {
	events chan Event
	status chan Status
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{sessions: make(map[string]map[*brokerSub]struct{})}
}

// Subscribe registers a consumer for one session and confirms the
// subscription immediately. The subscription is also torn down when ctx
// is cancelled.
func (b *Broker) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	sub := &brokerSub{
		events: make(chan Event, subscriberEventBuffer),
		status: make(chan Status, subscriberStatusBuffer),
	}

	b.mu.Lock()
	subs, ok := b.sessions[sessionID]
	if !ok {
		subs = make(map[*brokerSub]struct{})
		b.sessions[sessionID] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()

	sub.status <- StatusConfirmed

	subscription := NewSubscription(sub.events, sub.status, func() { b.remove(sessionID, sub) })

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			subscription.Unsubscribe()
		}()
	}

	return subscription, nil
}

// Publish fans event out to every subscriber of its session.
func (b *Broker) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.sessions[event.SessionID] {
		select {
		case sub.events <- event:
		default:
			log.Printf("[feed] dropping event for slow subscriber, session=%s", event.SessionID)
		}
	}
	return nil
}

func (b *Broker) remove(sessionID string, sub *brokerSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	if _, present := subs[sub]; !present {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.sessions, sessionID)
	}

	select {
	case sub.status <- StatusClosed:
	default:
	}
	close(sub.events)
	close(sub.status)
}
