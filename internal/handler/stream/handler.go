// Package stream serves a live session view over Server-Sent Events,
// backed by one sync engine handle per connected client.
package stream

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/attune-labs/attune/backend/internal/escalation"
	"github.com/attune-labs/attune/backend/internal/model/chat"
	syncengine "github.com/attune-labs/attune/backend/internal/sync"
	"github.com/attune-labs/attune/backend/pkg/utils"
)

// frameBuffer absorbs bursts between the engine loop and the SSE
// writer. A client slower than this loses frames instead of stalling
// the engine; the dropped count is logged.
const frameBuffer = 256

// Handler streams sync engine output to the browser.
type Handler struct {
	engine   *syncengine.Engine
	detector *escalation.Detector
}

// New creates the stream handler.
func New(engine *syncengine.Engine, detector *escalation.Detector) *Handler {
	return &Handler{engine: engine, detector: detector}
}

// RegisterRoutes mounts the stream route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

type streamFrame struct {
	message     *chat.Message
	participant *chat.Participant
	mode        syncengine.Mode
	modeChange  bool
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	frames := make(chan streamFrame, frameBuffer)
	push := func(frame streamFrame) {
		select {
		case frames <- frame:
		default:
			log.Printf("[stream] dropping frame for slow client, session=%s", sessionID)
		}
	}

	hooks := syncengine.Hooks{
		OnMessage: func(msg chat.Message) {
			push(streamFrame{message: &msg})
		},
		OnModeChange: func(mode syncengine.Mode) {
			push(streamFrame{mode: mode, modeChange: true})
		},
		OnParticipant: func(p chat.Participant) {
			push(streamFrame{participant: &p})
		},
	}

	handle, err := h.engine.Open(r.Context(), sessionID, hooks)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "failed to open session stream")
		return
	}
	defer handle.Close()

	utils.SetupSSEHeaders(w)

	// Initial state: connection mode first, then the seeded transcript.
	// The seen set keeps a message that raced the snapshot from being
	// rendered twice.
	seen := make(map[string]struct{})
	utils.SendSSEEvent(w, flusher, "status", map[string]string{"mode": string(handle.Mode())})
	for _, msg := range handle.Messages() {
		seen[msg.ID] = struct{}{}
		utils.SendSSEEvent(w, flusher, "message", msg)
	}

	log.Printf("[stream] opened session view, session=%s mode=%s", sessionID, handle.Mode())

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[stream] closing session view, session=%s", sessionID)
			return

		case frame := <-frames:
			switch {
			case frame.modeChange:
				utils.SendSSEEvent(w, flusher, "status", map[string]string{"mode": string(frame.mode)})

			case frame.participant != nil:
				utils.SendSSEEvent(w, flusher, "participant", frame.participant)

			case frame.message != nil:
				if _, dup := seen[frame.message.ID]; dup {
					continue
				}
				seen[frame.message.ID] = struct{}{}
				utils.SendSSEEvent(w, flusher, "message", frame.message)

				if result := h.detector.Evaluate(handle.Messages()); result.ShouldTriggerCooldown {
					utils.SendSSEEvent(w, flusher, "cooldown", result)
				}
			}
		}
	}
}
