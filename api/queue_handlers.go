package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/freightflow/invoice-mapping-service/internal/models"
	"github.com/freightflow/invoice-mapping-service/internal/queue"
)

const (
	defaultQueuePageSize = 50
	maxQueuePageSize     = 200
)

var queueStatuses = map[models.QueueStatus]bool{
	models.QueuePending:    true,
	models.QueueInProgress: true,
	models.QueueCompleted:  true,
	models.QueueSkipped:    true,
	models.QueueCancelled:  true,
}

var processingPaths = map[models.ProcessingPath]bool{
	models.PathAutoApprove:    true,
	models.PathQuickReview:    true,
	models.PathFullReview:     true,
	models.PathManualRequired: true,
}

// ListQueue returns review queue items ordered by priority, filtered by
// status, path and assignee.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	filter := queue.Filter{
		Assignee: r.URL.Query().Get("assignee"),
		Limit:    parseLimit(r, "limit", defaultQueuePageSize, maxQueuePageSize),
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.QueueStatus(strings.ToUpper(raw))
		if !queueStatuses[status] {
			h.sendError(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
		filter.Status = status
	}

	if raw := r.URL.Query().Get("path"); raw != "" {
		path := models.ProcessingPath(strings.ToUpper(raw))
		if !processingPaths[path] {
			h.sendError(w, http.StatusBadRequest, "unknown path: "+raw)
			return
		}
		filter.Path = path
	}

	items, err := h.queue.List(ctx, filter)
	if err != nil {
		h.logger.Error("api.queue.list_failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to list queue")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"count":   len(items),
		"items":   items,
	})
}

// AssignRequest is the body for claiming a queue item
type AssignRequest struct {
	Assignee string `json:"assignee"`
}

// AssignQueueItem claims a pending item for a reviewer. Claiming is
// atomic; the loser of a race gets a conflict.
func (h *Handler) AssignQueueItem(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid queue item id")
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Assignee == "" {
		h.sendError(w, http.StatusBadRequest, "assignee is required")
		return
	}

	item, err := h.queue.Assign(ctx, id, req.Assignee)
	if err != nil {
		h.respondQueueError(w, id, "assign", err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"item":    item,
	})
}

// CompleteRequest is the body for finishing a review
type CompleteRequest struct {
	FieldsReviewed int `json:"fieldsReviewed"`
	FieldsModified int `json:"fieldsModified"`
}

// CompleteQueueItem finishes an in-progress review, recording how many
// fields the reviewer touched.
func (h *Handler) CompleteQueueItem(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid queue item id")
		return
	}

	var req CompleteRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.FieldsReviewed < 0 || req.FieldsModified < 0 {
		h.sendError(w, http.StatusBadRequest, "review counts cannot be negative")
		return
	}

	item, err := h.queue.Complete(ctx, id, req.FieldsReviewed, req.FieldsModified)
	if err != nil {
		h.respondQueueError(w, id, "complete", err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"item":    item,
	})
}

// SkipQueueItem defers an item without reviewing it
func (h *Handler) SkipQueueItem(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid queue item id")
		return
	}

	item, err := h.queue.Skip(ctx, id)
	if err != nil {
		h.respondQueueError(w, id, "skip", err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"item":    item,
	})
}

// CancelQueueItem withdraws an item from review entirely
func (h *Handler) CancelQueueItem(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid queue item id")
		return
	}

	item, err := h.queue.Cancel(ctx, id)
	if err != nil {
		h.respondQueueError(w, id, "cancel", err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"item":    item,
	})
}

// respondQueueError translates queue transition failures into statuses:
// missing items are 404, illegal transitions are 409.
func (h *Handler) respondQueueError(w http.ResponseWriter, id uuid.UUID, action string, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		h.sendError(w, http.StatusNotFound, "queue item not found")
	case errors.Is(err, queue.ErrNotPending),
		errors.Is(err, queue.ErrNotInProgress),
		errors.Is(err, queue.ErrFinished):
		h.sendError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("api.queue."+action+"_failed", "item_id", id, "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to "+action+" queue item")
	}
}
