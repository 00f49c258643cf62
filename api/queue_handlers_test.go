package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

func enqueue(t *testing.T, env *apiEnv, path models.ProcessingPath, priority int) *models.QueueItem {
	t.Helper()
	item, err := env.queue.ApplyDecision(context.Background(), &models.RoutingDecision{
		DocumentID: uuid.New(),
		Path:       path,
		Priority:   priority,
		Reason:     "seeded for handler tests",
	})
	if err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}
	if item == nil {
		t.Fatal("ApplyDecision returned no item")
	}
	return item
}

type queueItemResponse struct {
	Success bool             `json:"success"`
	Item    models.QueueItem `json:"item"`
}

type queueListResponse struct {
	Success bool               `json:"success"`
	Count   int                `json:"count"`
	Items   []models.QueueItem `json:"items"`
}

func TestQueueReviewLifecycle(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t, dhlPayload(0.9))
	item := enqueue(t, env, models.PathFullReview, 60)
	base := "/api/v1/queue/" + item.ID.String()

	rr := env.do(t, http.MethodGet, "/api/v1/queue", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var list queueListResponse
	decodeBody(t, rr, &list)
	if list.Count != 1 || list.Items[0].Status != models.QueuePending {
		t.Fatalf("list = %+v, want one pending item", list)
	}

	rr = env.doJSON(t, http.MethodPost, base+"/assign", AssignRequest{Assignee: "maria"})
	if rr.Code != http.StatusOK {
		t.Fatalf("assign status = %d, body %s", rr.Code, rr.Body.String())
	}
	var assigned queueItemResponse
	decodeBody(t, rr, &assigned)
	if assigned.Item.Status != models.QueueInProgress || assigned.Item.Assignee != "maria" {
		t.Fatalf("assigned item = %+v, want maria in progress", assigned.Item)
	}

	// A second claim loses.
	rr = env.doJSON(t, http.MethodPost, base+"/assign", AssignRequest{Assignee: "jan"})
	if rr.Code != http.StatusConflict {
		t.Errorf("second assign status = %d, want 409", rr.Code)
	}

	rr = env.doJSON(t, http.MethodPost, base+"/complete",
		CompleteRequest{FieldsReviewed: 12, FieldsModified: 3})
	if rr.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body %s", rr.Code, rr.Body.String())
	}
	var completed queueItemResponse
	decodeBody(t, rr, &completed)
	if completed.Item.Status != models.QueueCompleted {
		t.Errorf("status = %s, want %s", completed.Item.Status, models.QueueCompleted)
	}
	if completed.Item.FieldsReviewed != 12 || completed.Item.FieldsModified != 3 {
		t.Errorf("review counts = %d/%d, want 12/3",
			completed.Item.FieldsReviewed, completed.Item.FieldsModified)
	}

	// The finished item accepts no further transitions.
	rr = env.doJSON(t, http.MethodPost, base+"/complete", CompleteRequest{})
	if rr.Code != http.StatusConflict {
		t.Errorf("re-complete status = %d, want 409", rr.Code)
	}
	rr = env.doJSON(t, http.MethodPost, base+"/skip", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("skip after complete status = %d, want 409", rr.Code)
	}
}

func TestQueueSkipAndCancel(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t, dhlPayload(0.9))
	first := enqueue(t, env, models.PathFullReview, 60)
	second := enqueue(t, env, models.PathManualRequired, 85)

	rr := env.doJSON(t, http.MethodPost, "/api/v1/queue/"+first.ID.String()+"/skip", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("skip status = %d, body %s", rr.Code, rr.Body.String())
	}
	var skipped queueItemResponse
	decodeBody(t, rr, &skipped)
	if skipped.Item.Status != models.QueueSkipped {
		t.Errorf("status = %s, want %s", skipped.Item.Status, models.QueueSkipped)
	}

	rr = env.doJSON(t, http.MethodPost, "/api/v1/queue/"+second.ID.String()+"/cancel", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", rr.Code, rr.Body.String())
	}
	var cancelled queueItemResponse
	decodeBody(t, rr, &cancelled)
	if cancelled.Item.Status != models.QueueCancelled {
		t.Errorf("status = %s, want %s", cancelled.Item.Status, models.QueueCancelled)
	}

	rr = env.doJSON(t, http.MethodPost, "/api/v1/queue/"+second.ID.String()+"/cancel", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("re-cancel status = %d, want 409", rr.Code)
	}
}

func TestQueueListFilters(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t, dhlPayload(0.9))
	enqueue(t, env, models.PathFullReview, 60)
	enqueue(t, env, models.PathManualRequired, 85)

	// Lowercase filter values are accepted.
	rr := env.do(t, http.MethodGet, "/api/v1/queue?path=manual_required", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var list queueListResponse
	decodeBody(t, rr, &list)
	if list.Count != 1 || list.Items[0].Path != models.PathManualRequired {
		t.Errorf("filtered list = %+v, want one manual item", list)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/queue?status=pending", nil, "")
	decodeBody(t, rr, &list)
	if list.Count != 2 {
		t.Errorf("pending count = %d, want 2", list.Count)
	}

	// Highest priority first when limited.
	rr = env.do(t, http.MethodGet, "/api/v1/queue?limit=1", nil, "")
	decodeBody(t, rr, &list)
	if list.Count != 1 || list.Items[0].Priority != 85 {
		t.Errorf("limited list = %+v, want the priority-85 item", list)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/queue?status=bogus", nil, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bogus status filter = %d, want 400", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/api/v1/queue?path=bogus", nil, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bogus path filter = %d, want 400", rr.Code)
	}
}

func TestQueueTransitionValidation(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t, dhlPayload(0.9))
	item := enqueue(t, env, models.PathFullReview, 60)
	base := "/api/v1/queue/" + item.ID.String()

	tests := []struct {
		name       string
		target     string
		body       any
		wantStatus int
	}{
		{"assign without body", base + "/assign", nil, http.StatusBadRequest},
		{"assign empty assignee", base + "/assign", AssignRequest{}, http.StatusBadRequest},
		{"assign malformed id", "/api/v1/queue/nope/assign", AssignRequest{Assignee: "x"}, http.StatusBadRequest},
		{"assign unknown id", "/api/v1/queue/" + uuid.NewString() + "/assign", AssignRequest{Assignee: "x"}, http.StatusNotFound},
		{"complete before assign", base + "/complete", CompleteRequest{FieldsReviewed: 1}, http.StatusConflict},
		{"complete negative counts", base + "/complete", CompleteRequest{FieldsReviewed: -1}, http.StatusBadRequest},
		{"skip unknown id", "/api/v1/queue/" + uuid.NewString() + "/skip", nil, http.StatusNotFound},
		{"cancel unknown id", "/api/v1/queue/" + uuid.NewString() + "/cancel", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.doJSON(t, http.MethodPost, tt.target, tt.body)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}
}
