package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attune-labs/attune/backend/internal/model/chat"
)

// MemoryStore keeps everything in process. It backs tests and
// single-instance deployments that do not need durability.
type MemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]chat.Session
	byCode       map[string]string
	participants map[string][]chat.Participant
	messages     map[string][]chat.Message
}

// NewMemory bootstraps an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]chat.Session),
		byCode:       make(map[string]string),
		participants: make(map[string][]chat.Participant),
		messages:     make(map[string][]chat.Message),
	}
}

// CreateSession persists a new session record.
func (s *MemoryStore) CreateSession(_ context.Context, session chat.Session) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byCode[session.Code]; taken {
		return chat.Session{}, ErrCodeTaken
	}

	s.sessions[session.ID] = session
	s.byCode[session.Code] = session.ID
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// GetSessionByCode retrieves a session by its share code.
func (s *MemoryStore) GetSessionByCode(_ context.Context, code string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, ok := s.byCode[code]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return s.sessions[sessionID], nil
}

// UpdateSessionStatus moves a session through its lifecycle.
func (s *MemoryStore) UpdateSessionStatus(_ context.Context, sessionID string, status chat.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.Status = status
	s.sessions[sessionID] = session
	return nil
}

// UpsertParticipant creates or replaces the (session, user) row.
func (s *MemoryStore) UpsertParticipant(_ context.Context, participant chat.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[participant.SessionID]; !ok {
		return ErrSessionNotFound
	}

	rows := s.participants[participant.SessionID]
	for i, row := range rows {
		if row.UserID == participant.UserID {
			rows[i] = participant
			return nil
		}
	}
	s.participants[participant.SessionID] = append(rows, participant)
	return nil
}

// ListActiveParticipants returns every active row for a session.
func (s *MemoryStore) ListActiveParticipants(_ context.Context, sessionID string) ([]chat.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}

	active := make([]chat.Participant, 0, 2)
	for _, row := range s.participants[sessionID] {
		if row.IsActive {
			active = append(active, row)
		}
	}
	return active, nil
}

// DeactivateParticipant flips the active flag; the row stays.
func (s *MemoryStore) DeactivateParticipant(_ context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.participants[sessionID]
	for i, row := range rows {
		if row.UserID == userID {
			rows[i].IsActive = false
			rows[i].LastSeenAt = time.Now().UTC()
			return nil
		}
	}
	return ErrParticipantNotFound
}

// InsertMessage assigns the id and creation timestamp, then appends.
func (s *MemoryStore) InsertMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)
	return message, nil
}

// ListMessages returns a copy of the transcript in (creation time, id)
// order.
func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	sort.SliceStable(copied, func(i, j int) bool { return copied[i].Before(copied[j]) })
	return copied, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
