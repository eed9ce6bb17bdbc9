package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/loqalabs/fateweaver/internal/conversation"
	"github.com/loqalabs/fateweaver/internal/pipeline"
	"github.com/loqalabs/fateweaver/internal/protocol"
	"github.com/loqalabs/fateweaver/internal/service"
)

const maxTurnBody = 64 << 10

type turnBody struct {
	Message string `json:"message"`
}

type historyBody struct {
	SessionID string              `json:"session_id"`
	Turns     []conversation.Turn `json:"turns"`
}

// turnHandler serves the session endpoints over the shared sessions.
type turnHandler struct {
	sessions *pipeline.Sessions
	logger   *slog.Logger
}

func (h *turnHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", h.handleCreate)
	mux.HandleFunc("POST /v1/sessions/{id}/turns", h.handleTurn)
	mux.HandleFunc("GET /v1/sessions/{id}/turns", h.handleHistory)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.handleDelete)
}

func (h *turnHandler) handleCreate(w http.ResponseWriter, _ *http.Request) {
	sess := h.sessions.Get(uuid.NewString())
	writeJSON(w, http.StatusCreated, historyBody{SessionID: sess.ID, Turns: []conversation.Turn{}})
}

func (h *turnHandler) handleTurn(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body turnBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.TurnReply{SessionID: id, Error: "invalid request body"})
		return
	}
	result, err := h.sessions.Get(id).Send(r.Context(), body.Message)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrEmptyMessage) {
			status = http.StatusBadRequest
		} else {
			h.logger.Warn("turn failed", slog.String("session_id", id), slog.String("error", err.Error()))
		}
		writeJSON(w, status, protocol.TurnReply{SessionID: id, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, service.ReplyFromResult(id, result))
}

func (h *turnHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := h.sessions.Lookup(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, protocol.TurnReply{SessionID: id, Error: "unknown session"})
		return
	}
	writeJSON(w, http.StatusOK, historyBody{SessionID: id, Turns: sess.History()})
}

func (h *turnHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	h.sessions.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
