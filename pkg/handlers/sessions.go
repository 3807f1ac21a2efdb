package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// createSessionBody is the request payload for session creation.
type createSessionBody struct {
	DBName string `json:"db_name,omitempty"`
}

// CreateSession handles POST /api/sessions.
func (h *QueryHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
	}

	s, err := h.svc.Sessions().Create(r.Context(), uuid.New(), body.DBName)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		writeError(w, h.logger, statusFromErr(err), "create_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusCreated, s); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// ListSessions handles GET /api/sessions with limit/offset paging.
func (h *QueryHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	sessions, err := h.svc.Sessions().ListAll(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		writeError(w, h.logger, statusFromErr(err), "list_failed", err.Error())
		return
	}
	total, err := h.svc.Sessions().Count(r.Context())
	if err != nil {
		h.logger.Error("failed to count sessions", zap.Error(err))
		writeError(w, h.logger, statusFromErr(err), "list_failed", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    total,
	}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// GetSession handles GET /api/sessions/{sid}.
func (h *QueryHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	s, err := h.svc.Sessions().Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, h.logger, statusFromErr(err), "get_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, s); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// DeleteSession handles DELETE /api/sessions/{sid}.
func (h *QueryHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.svc.Sessions().Delete(r.Context(), sessionID); err != nil {
		writeError(w, h.logger, statusFromErr(err), "delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
