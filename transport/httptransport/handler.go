// Package httptransport exposes the sync engine over HTTP.
//
// The surface mirrors the engine's boundary operations: queueing
// operations, draining a user's queue, inspecting status and
// conflicts, resolving conflicts, and purging old records. Conflict
// detection happens during drain, never at queue time, so queueing
// endpoints only reject malformed or duplicate submissions.
package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	syncerrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/logging"
	"github.com/c0deZ3R0/go-sync-engine/syncengine"
)

// Handler serves the sync HTTP API.
type Handler struct {
	service *syncengine.Service
	opts    ServerOptions
	logger  *logging.Logger
}

// NewHandler creates a Handler over the given service.
func NewHandler(service *syncengine.Service, opts ServerOptions, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service: service,
		opts:    opts,
		logger:  logger.WithComponent("httptransport"),
	}
}

// Routes builds the router with all sync endpoints mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if h.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(h.opts.RequestTimeout))
	}
	if h.opts.RateLimitPerSecond > 0 {
		r.Use(RateLimit(h.opts.RateLimitPerSecond, h.opts.RateLimitBurst))
	}

	r.Route("/sync", func(r chi.Router) {
		r.Post("/operations", h.handleQueueOperation)
		r.Post("/operations/batch", h.handleQueueBatch)
		r.Post("/process/{userID}", h.handleProcess)
		r.Get("/status/{userID}", h.handleStatus)
		r.Get("/conflicts/{userID}", h.handleListConflicts)
		r.Post("/conflicts/{conflictID}/resolve", h.handleResolve)
		r.Post("/purge", h.handlePurge)
	})

	r.Get("/healthz", h.handleHealth)

	return r
}

func (h *Handler) handleQueueOperation(w http.ResponseWriter, r *http.Request) {
	var req syncengine.QueueRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	id, err := h.service.QueueOperation(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, queueResponse{
		OperationID: id,
		Status:      string(syncengine.StatusQueued),
	})
}

func (h *Handler) handleQueueBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []syncengine.QueueRequest
	if !h.decodeJSON(w, r, &reqs) {
		return
	}
	if len(reqs) == 0 {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "batch must not be empty"})
		return
	}

	results := h.service.QueueBatch(r.Context(), reqs)

	resp := batchResponse{Results: make([]batchItemResult, 0, len(results))}
	for _, res := range results {
		item := batchItemResult{OperationID: res.OperationID}
		if res.Err != nil {
			item.Error = res.Err.Error()
			resp.Failed++
		} else {
			resp.Queued++
		}
		resp.Results = append(resp.Results, item)
	}

	// Partial failures still queue the rest, so the batch as a whole
	// is accepted unless nothing made it through.
	status := http.StatusAccepted
	if resp.Queued == 0 {
		status = http.StatusBadRequest
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	result, err := h.service.ProcessUserQueue(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}

	status, err := h.service.GetSyncStatus(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}

	conflicts, err := h.service.ListConflicts(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []*syncengine.Conflict{}
	}

	h.writeJSON(w, http.StatusOK, conflicts)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	conflictID := chi.URLParam(r, "conflictID")

	var req resolveRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.ResolveConflict(r.Context(), conflictID, req.Strategy, req.MergedData)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	purged, err := h.service.PurgeOld(r.Context(), req.OlderThanDays)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, purgeResponse{OperationsPurged: purged})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON reads and decodes the request body, writing the error
// response itself on failure.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if h.opts.MaxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxRequestSize)
	}

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	resp := errorResponse{Error: err.Error()}
	if kind := syncerrors.KindOf(err); kind != "" {
		resp.Kind = string(kind)
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
