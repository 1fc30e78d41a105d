package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"github.com/droidhub-labs/droidhub-go/internal/domain"
	"github.com/droidhub-labs/droidhub-go/internal/platform/metrics"
	"github.com/droidhub-labs/droidhub-go/internal/repo"
	"github.com/droidhub-labs/droidhub-go/internal/repo/memory"
)

func newTestMux(t *testing.T) (*http.ServeMux, *memory.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	api := newStoreAPI(logger, store.Runs(), store.Tasks(), store, nil, metrics.New("store-test"), defaultMinClientVersion)
	mux := http.NewServeMux()
	api.register(mux)
	return mux, store
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, "http://store.test"+path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("unmarshal response %s: %v", rec.Body.String(), err)
	}
}

func validRunBody() map[string]any {
	return map[string]any{
		"name": "nightly",
		"details": map[string]any{
			"droidhub.reserved.creator": "qa-bot",
			"droidhub.reserved.client":  "droidctl 0.15.0",
		},
	}
}

func createRun(t *testing.T, mux *http.ServeMux) map[string]any {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/run", validRunBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("create run status=%d body=%s", rec.Code, rec.Body.String())
	}
	var run map[string]any
	decodeBody(t, rec, &run)
	return run
}

func TestCreateRunRequiresDetails(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/run", map[string]any{"name": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestCreateRunRequiresReservedMarkers(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/run", map[string]any{
		"name":    "x",
		"details": map[string]any{"note": "no markers"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestCreateRunRejectsOldClient(t *testing.T) {
	mux, store := newTestMux(t)
	body := validRunBody()
	body["details"].(map[string]any)["droidhub.reserved.client"] = "droidctl 0.14.0"

	rec := doJSON(t, mux, http.MethodPost, "/run", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["error"] != "client_too_old" {
		t.Fatalf("error=%v, want client_too_old", resp["error"])
	}

	// A rejected submission must leave nothing behind.
	runs, err := store.List(context.Background(), repo.RunFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("rejected run was persisted: %+v", runs)
	}
}

func TestCreateRunCopiesOwnerFromCreator(t *testing.T) {
	mux, _ := newTestMux(t)
	run := createRun(t, mux)
	if run["owner"] != "qa-bot" {
		t.Fatalf("owner=%v, want qa-bot", run["owner"])
	}
	if run["status"] != "Initialized" {
		t.Fatalf("status=%v, want Initialized", run["status"])
	}
	if _, err := time.Parse("2006-01-02T15:04:05Z", run["creation"].(string)); err != nil {
		t.Fatalf("creation %v not in digest format: %v", run["creation"], err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodGet, "/run/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["error"] != "not_found" {
		t.Fatalf("error=%v, want not_found", resp["error"])
	}
}

func TestUpdateRunChangesStatus(t *testing.T) {
	mux, _ := newTestMux(t)
	run := createRun(t, mux)
	id := int64(run["id"].(float64))

	rec := doJSON(t, mux, http.MethodPost, fmt.Sprintf("/run/%d", id), map[string]any{"status": "Running"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var updated map[string]any
	decodeBody(t, rec, &updated)
	if updated["status"] != "Running" {
		t.Fatalf("status=%v, want Running", updated["status"])
	}
}

func TestDeleteRun(t *testing.T) {
	mux, _ := newTestMux(t)
	run := createRun(t, mux)
	id := int64(run["id"].(float64))

	rec := doJSON(t, mux, http.MethodDelete, fmt.Sprintf("/run/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["status"] != "removed" {
		t.Fatalf("status=%v, want removed", resp["status"])
	}
}

func TestDeleteAbsentRunIsNoAction(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodDelete, "/run/123", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["status"] != "no action" {
		t.Fatalf("status=%v, want no action", resp["status"])
	}
}

func TestListRunsRejectsBadDates(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodGet, "/runs?before=tomorrow", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestListRunsAcceptsBothDateLayouts(t *testing.T) {
	mux, _ := newTestMux(t)
	createRun(t, mux)

	for _, query := range []string{"after=01-01-2020", "after=2020-01-01"} {
		rec := doJSON(t, mux, http.MethodGet, "/runs?"+query, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("query %s: status=%d", query, rec.Code)
		}
		var runs []map[string]any
		decodeBody(t, rec, &runs)
		if len(runs) != 1 {
			t.Fatalf("query %s: got %d runs, want 1", query, len(runs))
		}
	}
}

func TestCreateAndListTasks(t *testing.T) {
	mux, _ := newTestMux(t)
	run := createRun(t, mux)
	id := int64(run["id"].(float64))

	rec := doJSON(t, mux, http.MethodPost, fmt.Sprintf("/run/%d/task", id), map[string]any{"name": "login"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var task map[string]any
	decodeBody(t, rec, &task)
	if task["status"] != "initialized" {
		t.Fatalf("status=%v, want initialized", task["status"])
	}

	rec = doJSON(t, mux, http.MethodGet, fmt.Sprintf("/run/%d/tasks", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var tasks []map[string]any
	decodeBody(t, rec, &tasks)
	if len(tasks) != 1 || tasks[0]["name"] != "login" {
		t.Fatalf("tasks=%+v", tasks)
	}
}

func TestListTasksOfMissingRun(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodGet, "/run/55/tasks", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestCreateTasksBatch(t *testing.T) {
	mux, _ := newTestMux(t)
	run := createRun(t, mux)
	id := int64(run["id"].(float64))

	rec := doJSON(t, mux, http.MethodPost, fmt.Sprintf("/run/%d/tasks", id), []map[string]any{
		{"name": "a"}, {"name": "b"}, {"name": "c"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["status"] != "success" || resp["added"] != float64(3) {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestCheckoutClaimsInOrderThenExhausts(t *testing.T) {
	mux, _ := newTestMux(t)
	run := createRun(t, mux)
	id := int64(run["id"].(float64))

	doJSON(t, mux, http.MethodPost, fmt.Sprintf("/run/%d/tasks", id), []map[string]any{
		{"name": "first"}, {"name": "second"},
	})

	var claimed []string
	for i := 0; i < 2; i++ {
		rec := doJSON(t, mux, http.MethodPost, fmt.Sprintf("/run/%d/checkout", id), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		var task map[string]any
		decodeBody(t, rec, &task)
		if task["status"] != "scheduled" {
			t.Fatalf("status=%v, want scheduled", task["status"])
		}
		claimed = append(claimed, task["name"].(string))
	}
	if claimed[0] != "first" || claimed[1] != "second" {
		t.Fatalf("claimed=%v, want insertion order", claimed)
	}

	rec := doJSON(t, mux, http.MethodPost, fmt.Sprintf("/run/%d/checkout", id), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("204 must carry no body, got %s", rec.Body.String())
	}
}

func TestCheckoutMissingRunIs404(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/run/77/checkout", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestPatchTaskSkipsImmutableFields(t *testing.T) {
	mux, store := newTestMux(t)
	run := createRun(t, mux)
	runID := int64(run["id"].(float64))

	created, err := store.CreateTask(context.Background(), runID, domain.Task{
		RunID:  runID,
		Name:   "untouchable",
		Status: domain.TaskStatusScheduled,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := doJSON(t, mux, http.MethodPatch, fmt.Sprintf("/task/%d", created.ID), map[string]any{
		"name":     "renamed",
		"run_id":   999,
		"status":   "completed",
		"result":   "passed",
		"duration": 830,
		"unknown":  "ignored",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var task map[string]any
	decodeBody(t, rec, &task)
	if task["name"] != "untouchable" {
		t.Fatalf("immutable field changed: name=%v", task["name"])
	}
	if task["run_id"] != float64(runID) {
		t.Fatalf("immutable field changed: run_id=%v", task["run_id"])
	}
	if task["status"] != "completed" || task["result"] != "passed" {
		t.Fatalf("mutable fields not applied: %+v", task)
	}
	if task["duration"] != float64(830) {
		t.Fatalf("duration=%v, want 830", task["duration"])
	}
}

func TestFailureCountsEndpoint(t *testing.T) {
	mux, store := newTestMux(t)
	run := createRun(t, mux)
	runID := int64(run["id"].(float64))

	for i := 0; i < 2; i++ {
		task, err := store.CreateTask(context.Background(), runID, domain.Task{
			RunID:  runID,
			Name:   "flaky",
			Status: domain.TaskStatusCompleted,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		result := domain.TaskResultFailed
		if _, err := store.Patch(context.Background(), task.ID, domain.TaskPatch{Result: &result}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	rec := doJSON(t, mux, http.MethodGet, "/runs/tasks/fails", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var rows [][]any
	decodeBody(t, rec, &rows)
	if len(rows) != 1 || rows[0][0] != "flaky" || rows[0][1] != float64(2) {
		t.Fatalf("rows=%+v, want flaky x2", rows)
	}
}
