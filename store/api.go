package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/droidhub-labs/droidhub-go/internal/domain"
	"github.com/droidhub-labs/droidhub-go/internal/platform/events"
	"github.com/droidhub-labs/droidhub-go/internal/platform/metrics"
	"github.com/droidhub-labs/droidhub-go/internal/repo"
)

type storeAPI struct {
	logger    *slog.Logger
	runs      repo.RunRepository
	tasks     repo.TaskRepository
	checkout  repo.CheckoutCoordinator
	publisher *events.Publisher
	metrics   *metrics.Metrics

	minClientVersion string
}

func newStoreAPI(
	logger *slog.Logger,
	runs repo.RunRepository,
	tasks repo.TaskRepository,
	checkout repo.CheckoutCoordinator,
	publisher *events.Publisher,
	m *metrics.Metrics,
	minClientVersion string,
) *storeAPI {
	return &storeAPI{
		logger:           logger,
		runs:             runs,
		tasks:            tasks,
		checkout:         checkout,
		publisher:        publisher,
		metrics:          m,
		minClientVersion: minClientVersion,
	}
}

func (api *storeAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /runs", api.handleListRuns)
	mux.HandleFunc("GET /runs/tasks/fails", api.handleFailureCounts)
	mux.HandleFunc("POST /run", api.handleCreateRun)
	mux.HandleFunc("GET /run/{run_id}", api.handleGetRun)
	mux.HandleFunc("POST /run/{run_id}", api.handleUpdateRun)
	mux.HandleFunc("DELETE /run/{run_id}", api.handleDeleteRun)

	mux.HandleFunc("GET /run/{run_id}/tasks", api.handleListTasks)
	mux.HandleFunc("POST /run/{run_id}/task", api.handleCreateTask)
	mux.HandleFunc("POST /run/{run_id}/tasks", api.handleCreateTasks)
	mux.HandleFunc("POST /run/{run_id}/checkout", api.handleCheckout)

	mux.HandleFunc("GET /task/{task_id}", api.handleGetTask)
	mux.HandleFunc("PATCH /task/{task_id}", api.handlePatchTask)
}

// --- digests ---

type runDigest struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	Owner    string        `json:"owner"`
	Status   string        `json:"status"`
	Creation string        `json:"creation"`
	Details  domain.Opaque `json:"details"`
	Settings domain.Opaque `json:"settings"`
}

func digestRun(run domain.Run) runDigest {
	return runDigest{
		ID:       run.ID,
		Name:     run.Name,
		Owner:    run.Owner,
		Status:   string(run.Status),
		Creation: run.Creation.UTC().Format("2006-01-02T15:04:05Z"),
		Details:  run.Details,
		Settings: run.Settings,
	}
}

type taskDigest struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	Settings      domain.Opaque `json:"settings"`
	Annotation    string        `json:"annotation"`
	Status        string        `json:"status"`
	Duration      *int64        `json:"duration"`
	Result        string        `json:"result"`
	ResultDetails domain.Opaque `json:"result_details"`
	RunID         int64         `json:"run_id"`
}

func digestTask(task domain.Task) taskDigest {
	return taskDigest{
		ID:            task.ID,
		Name:          task.Name,
		Settings:      task.Settings,
		Annotation:    task.Annotation,
		Status:        string(task.Status),
		Duration:      task.DurationMs,
		Result:        string(task.Result),
		ResultDetails: task.ResultDetails,
		RunID:         task.RunID,
	}
}

// --- response plumbing ---

func (api *storeAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (api *storeAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"message":    message,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

// storeError maps repository failures onto the response contract. Anything
// unrecognized is a storage failure: logged with context, reported as a
// generic server error.
func (api *storeAPI) storeError(w http.ResponseWriter, r *http.Request, err error, operation string, entity string, id int64) {
	if errors.Is(err, repo.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, "not_found", entity+" is not found")
		return
	}
	api.logger.Error("store operation failed",
		"operation", operation,
		"entity", entity,
		"id", id,
		"error", err.Error(),
		"request_id", r.Header.Get("X-Request-Id"),
	)
	api.writeError(w, r, http.StatusInternalServerError, "internal_error", "The server failed to process the request.")
}

func (api *storeAPI) publish(ctx context.Context, routingKey string, payload any) {
	if api.publisher == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := api.publisher.Publish(publishCtx, routingKey, payload); err != nil {
		api.logger.Warn("event publish failed", "routing_key", routingKey, "error", err.Error())
	}
}
