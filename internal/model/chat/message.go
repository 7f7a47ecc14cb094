package chat

import "time"

// ToneAnalysis is the per-message emotional read attached at send time.
// Intensity runs 1-10; Sentiment, when present, runs -1..1.
type ToneAnalysis struct {
	Label        string   `json:"label"`
	Intensity    int      `json:"intensity"`
	Sentiment    *float64 `json:"sentiment,omitempty"`
	TriggerWords []string `json:"triggerWords,omitempty"`
}

// Message is immutable once created. The ID is assigned by the store on
// insert and must be treated as opaque by clients.
type Message struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionId"`
	AuthorID  string       `json:"authorId"`
	Body      string       `json:"body"`
	Tone      ToneAnalysis `json:"tone"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Before reports whether m sorts ahead of other in a session transcript.
// Creation time is the primary order; the opaque id breaks ties so the
// order is total and stable across delivery paths.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
