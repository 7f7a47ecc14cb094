package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	analysis "github.com/attune-labs/attune/backend/internal/analysis/tone"
	"github.com/attune-labs/attune/backend/internal/model/chat"
	chatservice "github.com/attune-labs/attune/backend/internal/service/chat"
	"github.com/attune-labs/attune/backend/pkg/utils"
)

// needSpaceText is the canned message sent when a participant acts on a
// cooldown prompt instead of dismissing it.
const needSpaceText = "I need a little space to cool down. Can we pick this up again in a few minutes?"

// Handler exposes session lifecycle over HTTP.
type Handler struct {
	chatSvc *chatservice.Service
}

// New creates the session handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreate)
	r.Post("/sessions/join", h.handleJoin)
	r.Post("/sessions/{sessionID}/leave", h.handleLeave)
	r.Get("/sessions/{sessionID}/participants", h.handleParticipants)
	r.Post("/sessions/{sessionID}/cooldown", h.handleCooldown)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID   string `json:"userId"`
		Nickname string `json:"nickname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.UserID, payload.Nickname)
	if err != nil {
		if errors.Is(err, chatservice.ErrUserRequired) || errors.Is(err, chatservice.ErrNicknameRequired) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code     string `json:"code"`
		UserID   string `json:"userId"`
		Nickname string `json:"nickname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.JoinSession(r.Context(), payload.Code, payload.UserID, payload.Nickname)
	if err != nil {
		switch {
		case errors.Is(err, chatservice.ErrSessionNotFound):
			utils.RespondError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, chatservice.ErrSessionFull):
			utils.RespondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, chatservice.ErrSessionClosed):
			utils.RespondError(w, http.StatusGone, err.Error())
		case errors.Is(err, chatservice.ErrUserRequired), errors.Is(err, chatservice.ErrNicknameRequired):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		default:
			utils.RespondError(w, http.StatusInternalServerError, "failed to join session")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chatSvc.LeaveSession(r.Context(), sessionID, payload.UserID); err != nil {
		switch {
		case errors.Is(err, chatservice.ErrNotParticipant):
			utils.RespondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, chatservice.ErrSessionNotFound):
			utils.RespondError(w, http.StatusNotFound, "session not found")
		default:
			utils.RespondError(w, http.StatusInternalServerError, "failed to leave session")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (h *Handler) handleParticipants(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	participants, err := h.chatSvc.Participants(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to list participants")
		return
	}

	utils.RespondJSON(w, http.StatusOK, participants)
}

// handleCooldown acknowledges a cooldown prompt. "dismiss" just records
// the acknowledgement; "need-space" additionally sends the canned
// pause message on the user's behalf.
func (h *Handler) handleCooldown(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var payload struct {
		UserID string `json:"userId"`
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch payload.Action {
	case "dismiss":
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})

	case "need-space":
		reading := analysis.Analyze(needSpaceText)
		sentiment := reading.Sentiment
		message := chat.Message{
			SessionID: sessionID,
			AuthorID:  payload.UserID,
			Body:      needSpaceText,
			Tone: chat.ToneAnalysis{
				Label:     string(reading.Label),
				Intensity: reading.Intensity,
				Sentiment: &sentiment,
			},
		}
		saved, err := h.chatSvc.SaveMessage(r.Context(), message)
		if err != nil {
			if errors.Is(err, chatservice.ErrSessionNotFound) {
				utils.RespondError(w, http.StatusNotFound, "session not found")
				return
			}
			utils.RespondError(w, http.StatusInternalServerError, "failed to send pause message")
			return
		}
		utils.RespondJSON(w, http.StatusCreated, saved)

	default:
		utils.RespondError(w, http.StatusBadRequest, "action must be dismiss or need-space")
	}
}
