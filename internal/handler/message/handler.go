package message

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatservice "github.com/attune-labs/attune/backend/internal/service/chat"
	"github.com/attune-labs/attune/backend/internal/service/compose"
	"github.com/attune-labs/attune/backend/pkg/utils"
)

// Handler exposes the send pipeline and the poll-path transcript fetch.
type Handler struct {
	pipeline *compose.Pipeline
	chatSvc  *chatservice.Service
}

// New creates the message handler.
func New(pipeline *compose.Pipeline, chatSvc *chatservice.Service) *Handler {
	return &Handler{pipeline: pipeline, chatSvc: chatSvc}
}

// RegisterRoutes mounts the message routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/messages", h.handleList)
	r.Post("/messages/prepare", h.handlePrepare)
	r.Post("/messages/commit", h.handleCommit)
}

// handleList is the polling read path: the full ordered transcript.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.chatSvc.Transcript(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID      string `json:"sessionId"`
		UserID         string `json:"userId"`
		Text           string `json:"text"`
		RequestRewrite bool   `json:"requestRewrite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	draft, err := h.pipeline.PrepareSend(r.Context(), payload.SessionID, payload.UserID, payload.Text, payload.RequestRewrite)
	if err != nil {
		switch {
		case errors.Is(err, compose.ErrTextRequired):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, chatservice.ErrSessionNotFound):
			utils.RespondError(w, http.StatusNotFound, "session not found")
		default:
			utils.RespondError(w, http.StatusInternalServerError, "failed to prepare message")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, draft)
}

// handleCommit persists the chosen text of a draft. A failed insert is
// an actionable error for the client: the draft stays sendable and the
// user decides whether to retry.
func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DraftID    string `json:"draftId"`
		UseRewrite bool   `json:"useRewrite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	saved, err := h.pipeline.CommitSend(r.Context(), payload.DraftID, payload.UseRewrite)
	if err != nil {
		switch {
		case errors.Is(err, compose.ErrDraftNotFound):
			utils.RespondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, compose.ErrDraftAlreadySent), errors.Is(err, compose.ErrCommitInFlight):
			utils.RespondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, compose.ErrNoRewrite):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		default:
			utils.RespondError(w, http.StatusBadGateway, "message not sent, retry available")
		}
		return
	}

	utils.RespondJSON(w, http.StatusCreated, saved)
}
