package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/models"
	"github.com/easysql-ai/easysql-engine/pkg/services"
)

// eventBuffer bounds the SSE relay channel; the writer blocks when the
// consumer is slow.
const eventBuffer = 100

// QueryHandler serves the question lifecycle endpoints.
type QueryHandler struct {
	svc    *services.QueryService
	logger *zap.Logger
}

func NewQueryHandler(svc *services.QueryService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{svc: svc, logger: logger.Named("handlers")}
}

// RegisterRoutes registers all engine routes on the mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.CreateSession)
	mux.HandleFunc("GET /api/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/sessions/{sid}", h.GetSession)
	mux.HandleFunc("DELETE /api/sessions/{sid}", h.DeleteSession)
	mux.HandleFunc("POST /api/sessions/{sid}/query", h.Query)
	mux.HandleFunc("POST /api/sessions/{sid}/continue", h.Continue)
	mux.HandleFunc("POST /api/execute", h.Execute)
	mux.HandleFunc("POST /api/messages/{mid}/few-shot", h.PromoteFewShot)
	mux.HandleFunc("GET /healthz", h.Health)
}

// queryBody is the request payload for query and continue.
type queryBody struct {
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
	DBName   string `json:"db_name,omitempty"`
}

// Query handles POST /api/sessions/{sid}/query with an SSE stream.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	h.stream(w, r, func(emit func(models.StreamEvent)) (*services.Response, error) {
		return h.svc.Query(r.Context(), &services.QueryRequest{
			SessionID: &sessionID,
			DBName:    body.DBName,
			Question:  body.Question,
		}, emit)
	})
}

// Continue handles POST /api/sessions/{sid}/continue, resuming a session
// suspended on clarification.
func (h *QueryHandler) Continue(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if body.Answer == "" {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "answer is required")
		return
	}

	h.stream(w, r, func(emit func(models.StreamEvent)) (*services.Response, error) {
		return h.svc.Continue(r.Context(), sessionID, body.Answer, emit)
	})
}

// stream runs the operation in a goroutine and relays its events to the
// client as SSE frames, finishing with the response envelope.
func (h *QueryHandler) stream(w http.ResponseWriter, r *http.Request,
	run func(emit func(models.StreamEvent)) (*services.Response, error)) {

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.logger, http.StatusInternalServerError, "sse_unsupported", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events := make(chan models.StreamEvent, eventBuffer)
	envelope := make(chan *services.Response, 1)

	go func() {
		defer close(events)
		resp, err := run(func(e models.StreamEvent) { events <- e })
		if err != nil {
			events <- models.NewErrorEvent(err.Error())
			return
		}
		envelope <- resp
	}()

	for event := range events {
		h.writeSSE(w, flusher, event)
	}

	select {
	case resp := <-envelope:
		h.writeSSE(w, flusher, models.StreamEvent{Type: "envelope", Data: resp})
	default:
	}
}

func (h *QueryHandler) writeSSE(w http.ResponseWriter, flusher http.Flusher, event models.StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal stream event", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// Execute handles POST /api/execute.
func (h *QueryHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req services.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.SQL == "" {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "sql is required")
		return
	}

	resp, err := h.svc.Execute(r.Context(), &req)
	if err != nil {
		h.logger.Error("execute failed", zap.Error(err))
		writeError(w, h.logger, statusFromErr(err), "execute_failed", err.Error())
		return
	}

	code := http.StatusOK
	if resp.Status == "forbidden" {
		code = http.StatusForbidden
	}
	if err := WriteJSON(w, code, resp); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// PromoteFewShot handles POST /api/messages/{mid}/few-shot.
func (h *QueryHandler) PromoteFewShot(w http.ResponseWriter, r *http.Request) {
	messageID, err := uuid.Parse(r.PathValue("mid"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "invalid message id")
		return
	}

	id, err := h.svc.PromoteFewShot(r.Context(), messageID)
	if err != nil {
		writeError(w, h.logger, statusFromErr(err), "few_shot_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]string{"example_id": id}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// Health handles GET /healthz.
func (h *QueryHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func parseSessionID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("sid"))
	if err != nil {
		writeError(w, logger, http.StatusBadRequest, "bad_request", "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, logger *zap.Logger, code int, errorCode, message string) {
	if err := ErrorResponse(w, code, errorCode, message); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}
