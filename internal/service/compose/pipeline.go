// Package compose is the outbound message pipeline: classify the draft,
// optionally offer an I-statement rewrite, and commit exactly one of the
// two texts to the store.
package compose

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attune-labs/attune/backend/internal/model/chat"
	chatservice "github.com/attune-labs/attune/backend/internal/service/chat"
	toneservice "github.com/attune-labs/attune/backend/internal/service/tone"
)

var (
	ErrTextRequired     = errors.New("message text is required")
	ErrDraftNotFound    = errors.New("draft not found or expired")
	ErrDraftAlreadySent = errors.New("draft was already sent")
	ErrCommitInFlight   = errors.New("a commit for this draft is already in flight")
	ErrNoRewrite        = errors.New("no rewrite suggestion available for this draft")
)

// draftTTL bounds how long an uncommitted draft is kept around.
const draftTTL = 15 * time.Minute

// Classifier is the tone adapter surface the pipeline needs.
type Classifier interface {
	Classify(ctx context.Context, text string, contextWindow []chat.Message) toneservice.Result
}

// Rewriter is the phrase-rewriting collaborator surface.
type Rewriter interface {
	Enabled() bool
	Rewrite(ctx context.Context, text string) (string, error)
}

// Draft is a prepared, not-yet-sent message. The user picks between
// OriginalText and SuggestedRewrite; the pipeline never swaps one for
// the other on its own.
type Draft struct {
	ID               string            `json:"id"`
	SessionID        string            `json:"sessionId"`
	AuthorID         string            `json:"authorId"`
	OriginalText     string            `json:"originalText"`
	SuggestedRewrite string            `json:"suggestedRewrite,omitempty"`
	Tone             chat.ToneAnalysis `json:"tone"`
	Confidence       float64           `json:"confidence"`
	CreatedAt        time.Time         `json:"createdAt"`
}

type draftState int

const (
	draftPending draftState = iota
	draftCommitting
	draftCommitted
)

type draftRecord struct {
	draft Draft
	state draftState
}

// Pipeline prepares and commits outgoing messages. Each prepared draft
// is sendable exactly once; a second commit attempt while the first is
// in flight is rejected rather than queued.
type Pipeline struct {
	classifier Classifier
	rewriter   Rewriter
	chat       *chatservice.Service

	mu     sync.Mutex
	drafts map[string]*draftRecord
}

// NewPipeline wires the pipeline to its collaborators. rewriter may be
// nil when no rewrite model is configured.
func NewPipeline(classifier Classifier, rewriter Rewriter, chatSvc *chatservice.Service) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		rewriter:   rewriter,
		chat:       chatSvc,
		drafts:     make(map[string]*draftRecord),
	}
}

// PrepareSend classifies text and, only when asked, requests a rewrite
// suggestion. Classification always succeeds (the adapter degrades
// internally); a rewrite failure just leaves the suggestion empty.
func (p *Pipeline) PrepareSend(ctx context.Context, sessionID, authorID, text string, wantRewrite bool) (Draft, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Draft{}, ErrTextRequired
	}
	if _, err := p.chat.GetSession(ctx, sessionID); err != nil {
		return Draft{}, err
	}

	// Context window for the classifier; fine to classify without it.
	window, err := p.chat.Transcript(ctx, sessionID)
	if err != nil {
		log.Printf("[compose] context fetch failed, classifying without history: %v", err)
		window = nil
	}

	result := p.classifier.Classify(ctx, trimmed, window)

	suggestion := ""
	if wantRewrite && p.rewriter != nil && p.rewriter.Enabled() {
		rewritten, err := p.rewriter.Rewrite(ctx, trimmed)
		if err != nil {
			log.Printf("[compose] rewrite failed, offering original only: %v", err)
		} else {
			suggestion = rewritten
		}
	}

	draft := Draft{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		AuthorID:         authorID,
		OriginalText:     trimmed,
		SuggestedRewrite: suggestion,
		Tone:             result.Tone,
		Confidence:       result.Confidence,
		CreatedAt:        time.Now().UTC(),
	}

	p.mu.Lock()
	p.pruneLocked()
	p.drafts[draft.ID] = &draftRecord{draft: draft}
	p.mu.Unlock()

	return draft, nil
}

// CommitSend persists the chosen text of a prepared draft with its tone
// metadata. A store failure returns the draft to a sendable state so
// the user can retry; nothing is retried automatically.
func (p *Pipeline) CommitSend(ctx context.Context, draftID string, useRewrite bool) (chat.Message, error) {
	p.mu.Lock()
	record, ok := p.drafts[draftID]
	if !ok {
		p.mu.Unlock()
		return chat.Message{}, ErrDraftNotFound
	}
	switch record.state {
	case draftCommitted:
		p.mu.Unlock()
		return chat.Message{}, ErrDraftAlreadySent
	case draftCommitting:
		p.mu.Unlock()
		return chat.Message{}, ErrCommitInFlight
	}

	body := record.draft.OriginalText
	if useRewrite {
		if record.draft.SuggestedRewrite == "" {
			p.mu.Unlock()
			return chat.Message{}, ErrNoRewrite
		}
		body = record.draft.SuggestedRewrite
	}
	record.state = draftCommitting
	draft := record.draft
	p.mu.Unlock()

	saved, err := p.chat.SaveMessage(ctx, chat.Message{
		SessionID: draft.SessionID,
		AuthorID:  draft.AuthorID,
		Body:      body,
		Tone:      draft.Tone,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		record.state = draftPending
		return chat.Message{}, err
	}
	record.state = draftCommitted
	return saved, nil
}

// pruneLocked drops expired drafts. Committed records stick around for
// the TTL too, so a late duplicate commit still gets a clean rejection.
func (p *Pipeline) pruneLocked() {
	cutoff := time.Now().UTC().Add(-draftTTL)
	for id, record := range p.drafts {
		if record.draft.CreatedAt.Before(cutoff) && record.state != draftCommitting {
			delete(p.drafts, id)
		}
	}
}
