package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/attune-labs/attune/backend/internal/feed"
	"github.com/attune-labs/attune/backend/internal/model/chat"
	"github.com/attune-labs/attune/backend/internal/store"
)

var (
	ErrUserRequired     = errors.New("user id is required")
	ErrNicknameRequired = errors.New("nickname is required")
	ErrSessionFull      = errors.New("session already has two participants")
	ErrSessionClosed    = errors.New("session is closed")
	ErrNotParticipant   = errors.New("user is not a participant of this session")
)

// ErrSessionNotFound is re-exported so handlers depend on one package.
var ErrSessionNotFound = store.ErrSessionNotFound

const codeLength = 6

// Service owns session lifecycle and message persistence. After every
// successful write it publishes a change event so the other participant's
// sync engine sees the insert without polling.
type Service struct {
	store     store.Store
	publisher feed.Publisher
}

// NewService wires the service to its persistence and feed collaborators.
func NewService(st store.Store, publisher feed.Publisher) *Service {
	return &Service{store: st, publisher: publisher}
}

// CreateSession provisions a waiting session owned by userID and joins
// them as the first participant. The share code is what the second
// participant uses to join.
func (s *Service) CreateSession(ctx context.Context, userID, nickname string) (chat.Session, error) {
	if userID == "" {
		return chat.Session{}, ErrUserRequired
	}
	if strings.TrimSpace(nickname) == "" {
		return chat.Session{}, ErrNicknameRequired
	}

	var session chat.Session
	for attempt := 0; ; attempt++ {
		session = chat.Session{
			ID:        uuid.NewString(),
			Code:      newShareCode(),
			Status:    chat.StatusWaiting,
			CreatedBy: userID,
			CreatedAt: time.Now().UTC(),
		}

		created, err := s.store.CreateSession(ctx, session)
		if err == nil {
			session = created
			break
		}
		if errors.Is(err, store.ErrCodeTaken) && attempt < 4 {
			continue
		}
		return chat.Session{}, err
	}

	participant := chat.Participant{
		SessionID:  session.ID,
		UserID:     userID,
		Nickname:   strings.TrimSpace(nickname),
		IsActive:   true,
		LastSeenAt: time.Now().UTC(),
	}
	if err := s.store.UpsertParticipant(ctx, participant); err != nil {
		return chat.Session{}, err
	}

	s.publish(ctx, feed.Event{
		Type:        feed.EventParticipantInserted,
		SessionID:   session.ID,
		Participant: &participant,
	})
	return session, nil
}

// JoinSession adds a user to the session behind a share code. A second
// distinct participant moves the session from waiting to active; a third
// is rejected. Rejoining after a leave reactivates the existing row, so
// the one-row-per-(session,user) invariant holds.
func (s *Service) JoinSession(ctx context.Context, code, userID, nickname string) (chat.Session, error) {
	if userID == "" {
		return chat.Session{}, ErrUserRequired
	}
	if strings.TrimSpace(nickname) == "" {
		return chat.Session{}, ErrNicknameRequired
	}

	session, err := s.store.GetSessionByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return chat.Session{}, err
	}
	if session.Status == chat.StatusClosed {
		return chat.Session{}, ErrSessionClosed
	}

	active, err := s.store.ListActiveParticipants(ctx, session.ID)
	if err != nil {
		return chat.Session{}, err
	}

	rejoining := false
	for _, row := range active {
		if row.UserID == userID {
			rejoining = true
			break
		}
	}
	if !rejoining && len(active) >= 2 {
		return chat.Session{}, ErrSessionFull
	}

	participant := chat.Participant{
		SessionID:  session.ID,
		UserID:     userID,
		Nickname:   strings.TrimSpace(nickname),
		IsActive:   true,
		LastSeenAt: time.Now().UTC(),
	}
	if err := s.store.UpsertParticipant(ctx, participant); err != nil {
		return chat.Session{}, err
	}

	eventType := feed.EventParticipantInserted
	if rejoining {
		eventType = feed.EventParticipantUpdated
	}
	s.publish(ctx, feed.Event{Type: eventType, SessionID: session.ID, Participant: &participant})

	if session.Status == chat.StatusWaiting && !rejoining && len(active) >= 1 {
		if err := s.store.UpdateSessionStatus(ctx, session.ID, chat.StatusActive); err != nil {
			return chat.Session{}, err
		}
		session.Status = chat.StatusActive
	}
	return session, nil
}

// LeaveSession deactivates the participant row. When nobody is left
// active the session is closed.
func (s *Service) LeaveSession(ctx context.Context, sessionID, userID string) error {
	if err := s.store.DeactivateParticipant(ctx, sessionID, userID); err != nil {
		if errors.Is(err, store.ErrParticipantNotFound) {
			return ErrNotParticipant
		}
		return err
	}

	s.publish(ctx, feed.Event{
		Type:      feed.EventParticipantUpdated,
		SessionID: sessionID,
		Participant: &chat.Participant{
			SessionID:  sessionID,
			UserID:     userID,
			IsActive:   false,
			LastSeenAt: time.Now().UTC(),
		},
	})

	active, err := s.store.ListActiveParticipants(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return s.store.UpdateSessionStatus(ctx, sessionID, chat.StatusClosed)
	}
	return nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// Participants lists the active participants of a session.
func (s *Service) Participants(ctx context.Context, sessionID string) ([]chat.Participant, error) {
	return s.store.ListActiveParticipants(ctx, sessionID)
}

// SaveMessage persists one message and announces the insert on the
// feed. Store errors are returned to the caller unmodified so the UI can
// offer a retry; a feed publish failure is only logged, since polling
// covers delivery eventually.
func (s *Service) SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	if message.AuthorID == "" {
		return chat.Message{}, ErrUserRequired
	}

	saved, err := s.store.InsertMessage(ctx, message)
	if err != nil {
		return chat.Message{}, err
	}

	s.publish(ctx, feed.Event{
		Type:      feed.EventMessageInserted,
		SessionID: saved.SessionID,
		Message:   &saved,
	})
	return saved, nil
}

// Transcript returns stored messages for the provided session in
// creation order.
func (s *Service) Transcript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.ListMessages(ctx, sessionID)
}

func (s *Service) publish(ctx context.Context, event feed.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("[chat] feed publish failed, session=%s type=%s: %v", event.SessionID, event.Type, err)
	}
}

// newShareCode derives a short human-shareable code from uuid material.
func newShareCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return raw[:codeLength]
}
