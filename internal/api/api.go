// Package api exposes the assistants, threads, runs, files, and functions
// resources over a JSON HTTP surface compatible in shape with the OpenAI
// assistants API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/assistantd/assistantd/internal/files"
	"github.com/assistantd/assistantd/internal/observability"
	"github.com/assistantd/assistantd/internal/service"
	"github.com/assistantd/assistantd/internal/storage"
)

// Handler serves the v1 API.
type Handler struct {
	service *service.Service
	files   *files.Service
	logger  *observability.Logger
	metrics *observability.Metrics

	maxUploadBytes int64
}

// Options configures the handler.
type Options struct {
	Service *service.Service
	Files   *files.Service
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// MaxUploadBytes caps file upload size. Zero means 32 MiB.
	MaxUploadBytes int64
}

// NewHandler creates the API handler.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.LogConfig{})
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	return &Handler{
		service:        opts.Service,
		files:          opts.Files,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		maxUploadBytes: opts.MaxUploadBytes,
	}
}

// Routes builds the route table. Method and path matching use the stdlib
// mux patterns.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.health)

	mux.HandleFunc("POST /v1/assistants", h.createAssistant)
	mux.HandleFunc("GET /v1/assistants", h.listAssistants)
	mux.HandleFunc("GET /v1/assistants/{id}", h.getAssistant)
	mux.HandleFunc("POST /v1/assistants/{id}", h.updateAssistant)
	mux.HandleFunc("DELETE /v1/assistants/{id}", h.deleteAssistant)

	mux.HandleFunc("POST /v1/threads", h.createThread)
	mux.HandleFunc("GET /v1/threads/{id}", h.getThread)
	mux.HandleFunc("DELETE /v1/threads/{id}", h.deleteThread)
	mux.HandleFunc("POST /v1/threads/{id}/messages", h.createMessage)
	mux.HandleFunc("GET /v1/threads/{id}/messages", h.listMessages)

	mux.HandleFunc("POST /v1/threads/{id}/runs", h.createRun)
	mux.HandleFunc("GET /v1/threads/{id}/runs", h.listRuns)
	mux.HandleFunc("GET /v1/threads/{id}/runs/{run_id}", h.getRun)
	mux.HandleFunc("POST /v1/threads/{id}/runs/{run_id}/submit_tool_outputs", h.submitToolOutputs)
	mux.HandleFunc("POST /v1/threads/{id}/runs/{run_id}/cancel", h.cancelRun)
	mux.HandleFunc("GET /v1/threads/{id}/runs/{run_id}/steps", h.listRunSteps)

	mux.HandleFunc("POST /v1/files", h.uploadFile)
	mux.HandleFunc("GET /v1/files", h.listFiles)
	mux.HandleFunc("GET /v1/files/{id}", h.getFile)
	mux.HandleFunc("GET /v1/files/{id}/content", h.fileContent)
	mux.HandleFunc("DELETE /v1/files/{id}", h.deleteFile)

	mux.HandleFunc("POST /v1/functions", h.registerFunction)
	mux.HandleFunc("GET /v1/functions", h.listFunctions)
	mux.HandleFunc("DELETE /v1/functions/{id}", h.deleteFunction)

	var handler http.Handler = mux
	handler = h.requestID(handler)
	handler = h.observe(handler)
	return handler
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ownerID resolves the acting owner. There is no account system; callers
// scope their resources with a header.
func ownerID(r *http.Request) string {
	if owner := r.Header.Get("X-Owner-ID"); owner != "" {
		return owner
	}
	return "default"
}

// listEnvelope is the standard list response shape.
type listEnvelope struct {
	Object  string `json:"object"`
	Data    any    `json:"data"`
	HasMore bool   `json:"has_more"`
}

// deletedEnvelope acknowledges a deletion.
type deletedEnvelope struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode errors after the header is written mean the client went away.
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the error response body.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (h *Handler) jsonError(w http.ResponseWriter, status int, errType, message string) {
	var body apiError
	body.Error.Message = message
	body.Error.Type = errType
	h.writeJSON(w, status, body)
}

// respondError maps service and storage errors onto HTTP statuses.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case service.IsValidation(err):
		h.jsonError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	case errors.Is(err, storage.ErrNotFound):
		h.jsonError(w, http.StatusNotFound, "not_found_error", "resource not found")
	case errors.Is(err, storage.ErrAlreadyExists):
		h.jsonError(w, http.StatusConflict, "conflict_error", err.Error())
	case errors.Is(err, storage.ErrVersionConflict):
		h.jsonError(w, http.StatusConflict, "conflict_error", "resource changed concurrently, retry")
	default:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		h.jsonError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.jsonError(w, http.StatusBadRequest, "invalid_request_error", "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

// pagination reads limit/offset query parameters with bounds.
func pagination(r *http.Request) (limit, offset int) {
	limit = parseIntParam(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset = parseIntParam(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return val
}
