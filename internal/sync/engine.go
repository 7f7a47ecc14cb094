// Package sync owns the client-facing view of a session transcript: it
// merges push events and poll snapshots into one ordered, deduplicated
// message sequence and tracks which transport is currently delivering.
package sync

import (
	"context"
	"time"

	"github.com/attune-labs/attune/backend/internal/feed"
	"github.com/attune-labs/attune/backend/internal/model/chat"
)

// Mode is the transport state of an open session view.
type Mode string

const (
	// ModePushPending: subscribed but not yet confirmed by the feed.
	ModePushPending Mode = "push-pending"
	// ModePushActive: the feed confirmed delivery.
	ModePushActive Mode = "push-active"
	// ModeDegradedPolling: push failed; full history is re-fetched on a
	// timer. There is no route back to push within a view's lifetime.
	ModeDegradedPolling Mode = "degraded-polling"
)

const (
	DefaultWatchdogInterval = 8 * time.Second
	DefaultPollInterval     = 5 * time.Second
)

// HistoryLister is the slice of the store the engine needs.
type HistoryLister interface {
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// Options tunes the two timers of the engine. Both were observed to be
// deployment-specific, so neither is a hard constant.
type Options struct {
	// WatchdogInterval bounds how long the engine waits in push-pending
	// for any sign of life from the feed before treating the
	// subscription as silently dead.
	WatchdogInterval time.Duration
	// PollInterval is the re-fetch cadence while degraded.
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = DefaultWatchdogInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Hooks are the engine's callbacks to the view layer. All hooks are
// invoked from the view's single event loop, never concurrently, and
// never after Close returns. Nil hooks are skipped.
type Hooks struct {
	// OnMessage fires once per accepted message, in transcript order of
	// acceptance.
	OnMessage func(chat.Message)
	// OnModeChange fires on every transport-mode transition.
	OnModeChange func(Mode)
	// OnParticipant relays participant inserts and updates untouched.
	OnParticipant func(chat.Participant)
}

// Engine opens synchronized session views. It is cheap and safe to
// share one engine across every open view.
type Engine struct {
	history HistoryLister
	source  feed.Source
	opts    Options
}

// NewEngine wires the engine to its store and feed collaborators.
func NewEngine(history HistoryLister, source feed.Source, opts Options) *Engine {
	return &Engine{history: history, source: source, opts: opts.withDefaults()}
}

// Open seeds a view from one full history fetch, then starts delivery.
// A failed seed fetch is returned to the caller; nothing is torn down
// because nothing was built. The returned handle must be closed when
// the view goes away.
func (e *Engine) Open(ctx context.Context, sessionID string, hooks Hooks) (*SessionSync, error) {
	seed, err := e.history.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s := newSessionSync(ctx, e, sessionID, hooks)
	s.seed(seed)

	go s.run()
	return s, nil
}
