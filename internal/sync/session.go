package sync

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/attune-labs/attune/backend/internal/feed"
	"github.com/attune-labs/attune/backend/internal/model/chat"
)

// SessionSync is one open session view. All transcript mutation happens
// on its private run loop, so push events and poll snapshots racing each
// other are serialized before they touch the ordered sequence.
type SessionSync struct {
	engine    *Engine
	sessionID string
	hooks     Hooks

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.RWMutex
	ordered   []chat.Message
	seen      map[string]struct{}
	mode      Mode
	watermark time.Time
}

func newSessionSync(ctx context.Context, engine *Engine, sessionID string, hooks Hooks) *SessionSync {
	loopCtx, cancel := context.WithCancel(ctx)
	return &SessionSync{
		engine:    engine,
		sessionID: sessionID,
		hooks:     hooks,
		ctx:       loopCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		seen:      make(map[string]struct{}),
		mode:      ModePushPending,
	}
}

// seed installs the initial history fetch without firing hooks: the
// caller renders the snapshot it gets from Messages, and hooks cover
// only what arrives afterwards.
func (s *SessionSync) seed(history []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range history {
		if _, dup := s.seen[msg.ID]; dup {
			continue
		}
		s.seen[msg.ID] = struct{}{}
		s.ordered = insertOrdered(s.ordered, msg)
		if msg.CreatedAt.After(s.watermark) {
			s.watermark = msg.CreatedAt
		}
	}
}

// Messages returns a copy of the current ordered sequence.
func (s *SessionSync) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]chat.Message, len(s.ordered))
	copy(copied, s.ordered)
	return copied
}

// Mode returns the current transport mode.
func (s *SessionSync) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Watermark returns the creation time of the newest accepted message.
func (s *SessionSync) Watermark() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark
}

// Close tears the view down: the poll timer stops, the subscription is
// released and the run loop exits before Close returns, so no hook can
// fire into a closed view.
func (s *SessionSync) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *SessionSync) run() {
	defer close(s.done)

	var (
		sub     *feed.Subscription
		eventsC <-chan feed.Event
		statusC <-chan feed.Status
		pollC   <-chan time.Time
		poll    *time.Ticker
	)
	defer func() {
		if poll != nil {
			poll.Stop()
		}
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	watchdog := time.NewTimer(s.engine.opts.WatchdogInterval)
	defer watchdog.Stop()

	enterDegraded := func(reason string) {
		if s.Mode() == ModeDegradedPolling {
			return
		}
		watchdog.Stop()
		if sub != nil {
			sub.Unsubscribe()
			sub, eventsC, statusC = nil, nil, nil
		}
		log.Printf("[sync] falling back to polling, session=%s reason=%s watermark=%s",
			s.sessionID, reason, s.Watermark().Format(time.RFC3339Nano))
		s.setMode(ModeDegradedPolling)
		// Immediate fetch closes any gap opened while push was failing;
		// the ticker keeps the view eventually consistent from here on.
		s.pollOnce()
		poll = time.NewTicker(s.engine.opts.PollInterval)
		pollC = poll.C
	}

	markPushAlive := func() {
		if s.Mode() != ModePushPending {
			return
		}
		watchdog.Stop()
		s.setMode(ModePushActive)
	}

	subscription, err := s.engine.source.Subscribe(s.ctx, s.sessionID)
	if err != nil {
		log.Printf("[sync] subscribe failed, session=%s: %v", s.sessionID, err)
		enterDegraded("subscribe-error")
	} else {
		sub = subscription
		eventsC = sub.Events
		statusC = sub.Status
	}

	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-eventsC:
			if !ok {
				eventsC = nil
				continue
			}
			// A real event is as good as a confirmation: some
			// transports deliver without ever confirming.
			markPushAlive()
			s.dispatch(event)

		case status, ok := <-statusC:
			if !ok {
				statusC = nil
				continue
			}
			switch status {
			case feed.StatusConfirmed:
				markPushAlive()
			case feed.StatusError:
				enterDegraded("subscription-error")
			case feed.StatusClosed:
				enterDegraded("subscription-closed")
			}

		case <-watchdog.C:
			if s.Mode() == ModePushPending {
				enterDegraded("watchdog-timeout")
			}

		case <-pollC:
			s.pollOnce()
		}
	}
}

func (s *SessionSync) dispatch(event feed.Event) {
	switch event.Type {
	case feed.EventMessageInserted:
		if event.Message != nil {
			s.reconcile([]chat.Message{*event.Message})
		}
	case feed.EventParticipantInserted, feed.EventParticipantUpdated:
		if event.Participant != nil && s.hooks.OnParticipant != nil {
			s.hooks.OnParticipant(*event.Participant)
		}
	}
}

// pollOnce re-fetches the full history and runs it through the same
// reconciliation path push events take. A failed fetch never tears the
// view down; the next tick retries.
func (s *SessionSync) pollOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, s.engine.opts.PollInterval)
	defer cancel()

	snapshot, err := s.engine.history.ListMessages(ctx, s.sessionID)
	if err != nil {
		log.Printf("[sync] poll fetch failed, session=%s: %v", s.sessionID, err)
		return
	}
	s.reconcile(snapshot)
}

// reconcile merges a batch into the ordered sequence: already-seen ids
// are dropped, new messages are merge-inserted at the position their
// creation time implies. Feeding the same batch twice is a no-op the
// second time.
func (s *SessionSync) reconcile(batch []chat.Message) {
	accepted := make([]chat.Message, 0, len(batch))

	s.mu.Lock()
	for _, msg := range batch {
		if msg.ID == "" {
			continue
		}
		if _, dup := s.seen[msg.ID]; dup {
			continue
		}
		s.seen[msg.ID] = struct{}{}
		s.ordered = insertOrdered(s.ordered, msg)
		if msg.CreatedAt.After(s.watermark) {
			s.watermark = msg.CreatedAt
		}
		accepted = append(accepted, msg)
	}
	s.mu.Unlock()

	if s.hooks.OnMessage != nil {
		for _, msg := range accepted {
			s.hooks.OnMessage(msg)
		}
	}
}

func (s *SessionSync) setMode(mode Mode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	if s.hooks.OnModeChange != nil {
		s.hooks.OnModeChange(mode)
	}
}

// insertOrdered places msg at the position implied by (creation time,
// id). Append is the fast path; out-of-order arrival, e.g. a poll
// snapshot racing a push event, shifts the tail.
func insertOrdered(ordered []chat.Message, msg chat.Message) []chat.Message {
	if n := len(ordered); n == 0 || ordered[n-1].Before(msg) {
		return append(ordered, msg)
	}
	at := sort.Search(len(ordered), func(i int) bool { return msg.Before(ordered[i]) })
	ordered = append(ordered, chat.Message{})
	copy(ordered[at+1:], ordered[at:])
	ordered[at] = msg
	return ordered
}
