package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// NATSFeed bridges the feed to a NATS server so multiple backend
// instances can serve the same session. One subject per session keeps
// subscriptions narrowly scoped.
type NATSFeed struct {
	nc *nats.Conn
}

// ConnectNATS dials the server and returns a feed that is both a Source
// and a Publisher.
func ConnectNATS(url string) (*NATSFeed, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSFeed{nc: nc}, nil
}

// Close drops the underlying connection.
func (f *NATSFeed) Close() {
	if f.nc != nil {
		f.nc.Close()
	}
}

func sessionSubject(sessionID string) string {
	return fmt.Sprintf("attune.session.%s", sessionID)
}

// Publish sends event to the session's subject.
func (f *NATSFeed) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal feed event: %w", err)
	}
	if err := f.nc.Publish(sessionSubject(event.SessionID), data); err != nil {
		return fmt.Errorf("failed to publish feed event: %w", err)
	}
	return nil
}

// Subscribe attaches to the session's subject. The subscription is
// confirmed only after a server round-trip, so a confirmed status means
// the server really has the interest registered.
func (f *NATSFeed) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	events := make(chan Event, subscriberEventBuffer)
	status := make(chan Status, subscriberStatusBuffer)

	natsSub, err := f.nc.Subscribe(sessionSubject(sessionID), func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("[feed] dropping malformed event on %s: %v", msg.Subject, err)
			return
		}
		select {
		case events <- event:
		default:
			log.Printf("[feed] dropping event for slow subscriber, session=%s", sessionID)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to session feed: %w", err)
	}

	if err := f.nc.Flush(); err != nil {
		_ = natsSub.Unsubscribe()
		return nil, fmt.Errorf("failed to confirm session feed subscription: %w", err)
	}
	status <- StatusConfirmed

	// The channels are left open on cancel: the NATS callback may still
	// be delivering when Unsubscribe returns, and a send on a closed
	// channel would panic the client's dispatch goroutine.
	subscription := NewSubscription(events, status, func() {
		if err := natsSub.Unsubscribe(); err != nil {
			log.Printf("[feed] unsubscribe failed for session=%s: %v", sessionID, err)
		}
		select {
		case status <- StatusClosed:
		default:
		}
	})

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			subscription.Unsubscribe()
		}()
	}

	return subscription, nil
}
