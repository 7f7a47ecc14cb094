package chat

import "time"

// SessionStatus tracks the lifecycle of a two-party conversation.
type SessionStatus string

const (
	StatusWaiting SessionStatus = "waiting"
	StatusActive  SessionStatus = "active"
	StatusClosed  SessionStatus = "closed"
)

// Session identifies one two-party conversation.
type Session struct {
	ID        string        `json:"id"`
	Code      string        `json:"code"`
	Status    SessionStatus `json:"status"`
	CreatedBy string        `json:"createdBy"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Participant records a user's membership in a session. At most one row
// exists per (session, user) pair; leaving flips IsActive rather than
// deleting the row.
type Participant struct {
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId"`
	Nickname   string    `json:"nickname"`
	IsActive   bool      `json:"isActive"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}
