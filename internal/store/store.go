// Package store persists sessions, participants and messages. It owns
// no retry or ordering logic beyond the list-order guarantee; change
// notification is layered on top by the chat service.
package store

import (
	"context"
	"errors"

	"github.com/attune-labs/attune/backend/internal/model/chat"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrCodeTaken           = errors.New("session code already in use")
)

// Store is the persistence boundary. ListMessages returns messages in
// (creation time, id) order; InsertMessage assigns the opaque id and
// creation timestamp.
type Store interface {
	CreateSession(ctx context.Context, session chat.Session) (chat.Session, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	GetSessionByCode(ctx context.Context, code string) (chat.Session, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status chat.SessionStatus) error

	UpsertParticipant(ctx context.Context, participant chat.Participant) error
	ListActiveParticipants(ctx context.Context, sessionID string) ([]chat.Participant, error)
	DeactivateParticipant(ctx context.Context, sessionID, userID string) error

	InsertMessage(ctx context.Context, message chat.Message) (chat.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)

	Close() error
}
