package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/droidhub-labs/droidhub-go/internal/domain"
	"github.com/droidhub-labs/droidhub-go/internal/platform/events"
	"github.com/droidhub-labs/droidhub-go/internal/platform/metrics"
	"github.com/droidhub-labs/droidhub-go/internal/repo"
)

func (api *storeAPI) handleListTasks(w http.ResponseWriter, r *http.Request) {
	runID, ok := api.pathID(w, r, "run_id")
	if !ok {
		return
	}
	tasks, err := api.tasks.ListByRun(r.Context(), runID)
	if err != nil {
		api.storeError(w, r, err, "list", "run", runID)
		return
	}

	digests := make([]taskDigest, 0, len(tasks))
	for _, task := range tasks {
		digests = append(digests, digestTask(task))
	}
	api.writeJSON(w, http.StatusOK, digests)
}

type createTaskRequest struct {
	Name       string        `json:"name"`
	Annotation string        `json:"annotation"`
	Settings   domain.Opaque `json:"settings"`
	Status     string        `json:"status"`
}

func (req createTaskRequest) toTask(runID int64) domain.Task {
	status := domain.TaskStatus(strings.TrimSpace(req.Status))
	if status == "" {
		status = domain.TaskStatusInitialized
	}
	return domain.Task{
		RunID:      runID,
		Name:       strings.TrimSpace(req.Name),
		Annotation: req.Annotation,
		Settings:   req.Settings,
		Status:     status,
	}
}

func (api *storeAPI) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	runID, ok := api.pathID(w, r, "run_id")
	if !ok {
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", "The request body cannot be parsed.")
		return
	}

	task := req.toTask(runID)
	if err := task.Validate(); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	created, err := api.tasks.Create(r.Context(), runID, task)
	if err != nil {
		api.storeError(w, r, err, "create", "run", runID)
		return
	}

	api.publish(r.Context(), events.TaskCreated, map[string]any{"run_id": runID, "task_id": created.ID})
	api.writeJSON(w, http.StatusOK, digestTask(created))
}

func (api *storeAPI) handleCreateTasks(w http.ResponseWriter, r *http.Request) {
	runID, ok := api.pathID(w, r, "run_id")
	if !ok {
		return
	}

	var reqs []createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", "The request body cannot be parsed.")
		return
	}

	tasks := make([]domain.Task, 0, len(reqs))
	for _, req := range reqs {
		task := req.toTask(runID)
		if err := task.Validate(); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		tasks = append(tasks, task)
	}

	added, err := api.tasks.CreateBatch(r.Context(), runID, tasks)
	if err != nil {
		api.storeError(w, r, err, "create_batch", "run", runID)
		return
	}

	api.publish(r.Context(), events.TaskCreated, map[string]any{"run_id": runID, "added": added})
	api.writeJSON(w, http.StatusOK, map[string]any{"status": "success", "added": added})
}

func (api *storeAPI) handleCheckout(w http.ResponseWriter, r *http.Request) {
	runID, ok := api.pathID(w, r, "run_id")
	if !ok {
		api.metrics.ObserveCheckout(metrics.CheckoutNotFound)
		return
	}

	task, err := api.checkout.CheckoutNext(r.Context(), runID)
	switch {
	case errors.Is(err, repo.ErrExhausted):
		// No claimable work left; the agent reads 204 as "run finished".
		api.metrics.ObserveCheckout(metrics.CheckoutExhausted)
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, repo.ErrNotFound):
		api.metrics.ObserveCheckout(metrics.CheckoutNotFound)
		api.writeError(w, r, http.StatusNotFound, "not_found", "run is not found")
		return
	case err != nil:
		api.metrics.ObserveCheckout(metrics.CheckoutFailed)
		api.storeError(w, r, err, "checkout", "run", runID)
		return
	}

	api.metrics.ObserveCheckout(metrics.CheckoutClaimed)
	api.publish(r.Context(), events.TaskCheckout, map[string]any{"run_id": runID, "task_id": task.ID})
	api.writeJSON(w, http.StatusOK, digestTask(task))
}

func (api *storeAPI) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := api.pathID(w, r, "task_id")
	if !ok {
		return
	}
	task, err := api.tasks.Get(r.Context(), taskID)
	if err != nil {
		api.storeError(w, r, err, "get", "task", taskID)
		return
	}
	api.writeJSON(w, http.StatusOK, digestTask(task))
}

func (api *storeAPI) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := api.pathID(w, r, "task_id")
	if !ok {
		return
	}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", "The request body cannot be parsed.")
		return
	}

	patch, err := api.buildTaskPatch(r, taskID, fields)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	task, err := api.tasks.Patch(r.Context(), taskID, patch)
	if err != nil {
		api.storeError(w, r, err, "patch", "task", taskID)
		return
	}

	if patch.Status != nil && *patch.Status == domain.TaskStatusCompleted {
		api.publish(r.Context(), events.TaskCompleted, map[string]any{
			"run_id":  task.RunID,
			"task_id": task.ID,
			"result":  string(task.Result),
		})
	}
	api.writeJSON(w, http.StatusOK, digestTask(task))
}

// buildTaskPatch translates a raw field map into a patch. Immutable fields are
// skipped with a warning instead of failing the whole request; fields the
// store does not know are ignored so newer clients keep working.
func (api *storeAPI) buildTaskPatch(r *http.Request, taskID int64, fields map[string]json.RawMessage) (domain.TaskPatch, error) {
	var patch domain.TaskPatch
	for name, raw := range fields {
		if _, immutable := domain.TaskImmutableFields[name]; immutable {
			api.logger.Warn("attempt to patch immutable task field",
				"task_id", taskID,
				"field", name,
				"request_id", r.Header.Get("X-Request-Id"),
			)
			continue
		}
		switch name {
		case "status":
			var value string
			if err := json.Unmarshal(raw, &value); err != nil {
				return patch, errors.New(`the "status" property must be a string`)
			}
			status := domain.TaskStatus(strings.TrimSpace(value))
			patch.Status = &status
		case "result":
			var value string
			if err := json.Unmarshal(raw, &value); err != nil {
				return patch, errors.New(`the "result" property must be a string`)
			}
			result := domain.TaskResult(strings.TrimSpace(value))
			patch.Result = &result
		case "result_details":
			var details domain.Opaque
			if err := details.UnmarshalJSON(raw); err != nil {
				return patch, errors.New(`the "result_details" property cannot be parsed`)
			}
			patch.ResultDetails = &details
		case "duration":
			var value int64
			if err := json.Unmarshal(raw, &value); err != nil {
				return patch, errors.New(`the "duration" property must be an integer`)
			}
			patch.DurationMs = &value
		}
	}
	return patch, nil
}
