package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowforge/orchestrator/internal/deadletter"
	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/store"
	"github.com/flowforge/orchestrator/internal/worker"
)

// AdminHandler handles worker-registry and dead-letter-queue HTTP requests.
type AdminHandler struct {
	db  *store.DB
	dlq *deadletter.Store
}

// NewAdminHandler creates an admin handler over db and dlq.
func NewAdminHandler(db *store.DB, dlq *deadletter.Store) *AdminHandler {
	return &AdminHandler{db: db, dlq: dlq}
}

// ListWorkers handles GET /v1/admin/workers.
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := worker.ListWorkers(r.Context(), h.db)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list workers")
		respondError(w, http.StatusInternalServerError, "failed to list workers")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"workers": workers, "count": len(workers)})
}

// GetWorker handles GET /v1/admin/workers/{workerID}.
func (h *AdminHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")

	info, err := worker.GetWorker(r.Context(), h.db, workerID)
	if err != nil {
		if errors.Is(err, worker.ErrWorkerNotFound) {
			respondError(w, http.StatusNotFound, "worker not found")
			return
		}
		logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to get worker")
		respondError(w, http.StatusInternalServerError, "failed to get worker")
		return
	}

	respondJSON(w, http.StatusOK, info)
}

// ListDLQ handles GET /v1/admin/dlq.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	entries, err := h.dlq.List(r.Context(), r.URL.Query().Get("unreprocessed") == "true", 100)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list dead letters")
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// GetDLQEntry handles GET /v1/admin/dlq/{taskID}.
func (h *AdminHandler) GetDLQEntry(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	entry, err := h.dlq.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, deadletter.ErrNotFound) {
			respondError(w, http.StatusNotFound, "dead letter not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get dead letter")
		respondError(w, http.StatusInternalServerError, "failed to get dead letter")
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// ReprocessDLQ handles POST /v1/admin/dlq/{taskID}/reprocess.
func (h *AdminHandler) ReprocessDLQ(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	if err := h.dlq.Reprocess(r.Context(), taskID); err != nil {
		switch {
		case errors.Is(err, deadletter.ErrNotFound):
			respondError(w, http.StatusNotFound, "dead letter not found")
		case errors.Is(err, deadletter.ErrAlreadyReprocessed):
			respondError(w, http.StatusConflict, "dead letter already reprocessed")
		default:
			logger.Error().Err(err).Str("task_id", taskID).Msg("failed to reprocess dead letter")
			respondError(w, http.StatusInternalServerError, "failed to reprocess dead letter")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"message": "task re-queued", "task_id": taskID})
}

// ReprocessBatchRequest is the (empty) body of POST /v1/admin/dlq/reprocess.
type ReprocessBatchRequest struct{}

// ReprocessDLQBatch handles POST /v1/admin/dlq/reprocess, requeuing every
// unreprocessed dead-letter entry.
func (h *AdminHandler) ReprocessDLQBatch(w http.ResponseWriter, r *http.Request) {
	var req ReprocessBatchRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	count, err := h.dlq.ReprocessBatch(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to reprocess dead letter batch")
		respondError(w, http.StatusInternalServerError, "failed to reprocess dead letters")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"message": "dead letters re-queued", "reprocessed_count": count})
}
