package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/attune-labs/attune/backend/internal/escalation"
	"github.com/attune-labs/attune/backend/internal/feed"
	"github.com/attune-labs/attune/backend/internal/model/chat"
	chatservice "github.com/attune-labs/attune/backend/internal/service/chat"
	"github.com/attune-labs/attune/backend/internal/service/compose"
	toneservice "github.com/attune-labs/attune/backend/internal/service/tone"
	"github.com/attune-labs/attune/backend/internal/store"
	syncengine "github.com/attune-labs/attune/backend/internal/sync"
)

func setupRouter(t *testing.T) (http.Handler, *chatservice.Service) {
	t.Helper()

	st := store.NewMemory()
	broker := feed.NewBroker()
	chatSvc := chatservice.NewService(st, broker)

	toneSvc, err := toneservice.NewService(context.Background(), nil, toneservice.Config{})
	if err != nil {
		t.Fatalf("tone service: %v", err)
	}
	pipeline := compose.NewPipeline(toneSvc, nil, chatSvc)
	engine := syncengine.NewEngine(st, broker, syncengine.Options{})
	detector := escalation.New(escalation.Config{})

	return NewRouter(chatSvc, pipeline, engine, detector, broker), chatSvc
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

func createSession(t *testing.T, router http.Handler) chat.Session {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/sessions", map[string]string{
		"userId": "user-a", "nickname": "Alex",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[chat.Session](t, rec)
}

func TestCreateSession(t *testing.T) {
	router, _ := setupRouter(t)

	session := createSession(t, router)
	if session.ID == "" || len(session.Code) != 6 {
		t.Fatalf("unexpected session payload: %+v", session)
	}
	if session.Status != chat.StatusWaiting {
		t.Fatalf("expected waiting, got %s", session.Status)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	router, _ := setupRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions", map[string]string{"nickname": "Alex"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing user, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString("{nope"))
	raw := httptest.NewRecorder()
	router.ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", raw.Code)
	}
}

func TestJoinSessionFlow(t *testing.T) {
	router, _ := setupRouter(t)
	session := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions/join", map[string]string{
		"code": session.Code, "userId": "user-b", "nickname": "Bao",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("join: status %d body %s", rec.Code, rec.Body.String())
	}
	joined := decodeBody[chat.Session](t, rec)
	if joined.Status != chat.StatusActive {
		t.Fatalf("expected active after second join, got %s", joined.Status)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/sessions/join", map[string]string{
		"code": session.Code, "userId": "user-c", "nickname": "Casey",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for third participant, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/sessions/join", map[string]string{
		"code": "ZZZZZZ", "userId": "user-b", "nickname": "Bao",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown code, got %d", rec.Code)
	}
}

func TestJoinClosedSession(t *testing.T) {
	router, _ := setupRouter(t)
	session := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/sessions/%s/leave", session.ID),
		map[string]string{"userId": "user-a"})
	if rec.Code != http.StatusOK {
		t.Fatalf("leave: status %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/sessions/join", map[string]string{
		"code": session.Code, "userId": "user-b", "nickname": "Bao",
	})
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410 joining a closed session, got %d", rec.Code)
	}
}

func TestLeaveByStranger(t *testing.T) {
	router, _ := setupRouter(t)
	session := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/sessions/%s/leave", session.ID),
		map[string]string{"userId": "stranger"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-participant, got %d", rec.Code)
	}
}

func TestListParticipants(t *testing.T) {
	router, _ := setupRouter(t)
	session := createSession(t, router)

	rec := doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/sessions/%s/participants", session.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("participants: status %d", rec.Code)
	}
	rows := decodeBody[[]chat.Participant](t, rec)
	if len(rows) != 1 || rows[0].UserID != "user-a" {
		t.Fatalf("unexpected participants: %+v", rows)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/sessions/missing/participants", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}
}

func TestPrepareAndCommitMessage(t *testing.T) {
	router, _ := setupRouter(t)
	session := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/messages/prepare", map[string]any{
		"sessionId": session.ID, "userId": "user-a", "text": "You never listen to me",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("prepare: status %d body %s", rec.Code, rec.Body.String())
	}
	draft := decodeBody[compose.Draft](t, rec)
	if draft.ID == "" {
		t.Fatalf("prepare returned no draft id")
	}
	if draft.Tone.Label != "blaming" {
		t.Fatalf("expected heuristic blaming read, got %s", draft.Tone.Label)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/messages/commit", map[string]any{
		"draftId": draft.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("commit: status %d body %s", rec.Code, rec.Body.String())
	}
	saved := decodeBody[chat.Message](t, rec)
	if saved.Body != "You never listen to me" || saved.Tone.Label != "blaming" {
		t.Fatalf("unexpected committed message: %+v", saved)
	}

	// The transcript read path sees the committed message.
	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/sessions/%s/messages", session.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	messages := decodeBody[[]chat.Message](t, rec)
	if len(messages) != 1 || messages[0].ID != saved.ID {
		t.Fatalf("unexpected transcript: %+v", messages)
	}

	// A second commit of the same draft is a conflict, not a duplicate.
	rec = doJSON(t, router, http.MethodPost, "/api/messages/commit", map[string]any{
		"draftId": draft.ID,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate commit, got %d", rec.Code)
	}
}

func TestPrepareValidation(t *testing.T) {
	router, _ := setupRouter(t)
	session := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/messages/prepare", map[string]any{
		"sessionId": session.ID, "userId": "user-a", "text": "   ",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty text, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/messages/prepare", map[string]any{
		"sessionId": "missing", "userId": "user-a", "text": "hello",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}
}

func TestCommitValidation(t *testing.T) {
	router, _ := setupRouter(t)
	session := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/messages/commit", map[string]any{
		"draftId": "ghost",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown draft, got %d", rec.Code)
	}

	// No rewriter is configured, so committing the rewrite is a 400.
	prep := doJSON(t, router, http.MethodPost, "/api/messages/prepare", map[string]any{
		"sessionId": session.ID, "userId": "user-a", "text": "hello", "requestRewrite": true,
	})
	draft := decodeBody[compose.Draft](t, prep)

	rec = doJSON(t, router, http.MethodPost, "/api/messages/commit", map[string]any{
		"draftId": draft.ID, "useRewrite": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 committing a missing rewrite, got %d", rec.Code)
	}
}

func TestCooldownActions(t *testing.T) {
	router, chatSvc := setupRouter(t)
	session := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/sessions/%s/cooldown", session.ID),
		map[string]string{"userId": "user-a", "action": "dismiss"})
	if rec.Code != http.StatusOK {
		t.Fatalf("dismiss: status %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/sessions/%s/cooldown", session.ID),
		map[string]string{"userId": "user-a", "action": "need-space"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("need-space: status %d body %s", rec.Code, rec.Body.String())
	}
	sent := decodeBody[chat.Message](t, rec)
	if sent.AuthorID != "user-a" || sent.Body == "" {
		t.Fatalf("unexpected pause message: %+v", sent)
	}

	transcript, err := chatSvc.Transcript(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(transcript) != 1 || transcript[0].Body != sent.Body {
		t.Fatalf("pause message not persisted: %+v", transcript)
	}

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/sessions/%s/cooldown", session.ID),
		map[string]string{"userId": "user-a", "action": "shout"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}
}
