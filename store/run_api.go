package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/droidhub-labs/droidhub-go/internal/domain"
	"github.com/droidhub-labs/droidhub-go/internal/platform/events"
	"github.com/droidhub-labs/droidhub-go/internal/repo"
)

// Reserved detail keys every run submission must carry. The client marker is
// "<client name> <version>"; clients older than the configured minimum are
// turned away so the fleet does not have to support stale payload shapes.
const (
	detailKeyCreator = "droidhub.reserved.creator"
	detailKeyClient  = "droidhub.reserved.client"
)

func (api *storeAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		Owner:  strings.TrimSpace(r.URL.Query().Get("owner")),
		Limit:  parseIntQuery(r, "last", 0),
		Offset: parseIntQuery(r, "skip", 0),
	}
	var err error
	if filter.Before, err = parseWindowDate(r.URL.Query().Get("before")); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", `The "before" parameter cannot be parsed as a date.`)
		return
	}
	if filter.After, err = parseWindowDate(r.URL.Query().Get("after")); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", `The "after" parameter cannot be parsed as a date.`)
		return
	}

	runs, err := api.runs.List(r.Context(), filter)
	if err != nil {
		api.storeError(w, r, err, "list", "run", 0)
		return
	}

	digests := make([]runDigest, 0, len(runs))
	for _, run := range runs {
		digests = append(digests, digestRun(run))
	}
	api.writeJSON(w, http.StatusOK, digests)
}

type createRunRequest struct {
	Name     string          `json:"name"`
	Owner    string          `json:"owner"`
	Status   string          `json:"status"`
	Settings domain.Opaque   `json:"settings"`
	Details  json.RawMessage `json:"details"`
}

func (api *storeAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", "The request body cannot be parsed.")
		return
	}

	if len(req.Details) == 0 {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", `The body of the request misses the "details" dictionary.`)
		return
	}
	var details map[string]any
	if err := json.Unmarshal(req.Details, &details); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", `The "details" property must be a dictionary.`)
		return
	}

	creator, ok := details[detailKeyCreator].(string)
	if !ok || strings.TrimSpace(creator) == "" {
		api.writeError(w, r, http.StatusBadRequest, "bad_request",
			fmt.Sprintf(`The %q property is missing from the "details". The request was sent from an older version of the client. Please upgrade your client.`, detailKeyCreator))
		return
	}
	clientMarker, ok := details[detailKeyClient].(string)
	if !ok || strings.TrimSpace(clientMarker) == "" {
		api.writeError(w, r, http.StatusBadRequest, "bad_request",
			fmt.Sprintf(`The %q property is missing from the "details". The request was sent from an older version of the client. Please upgrade your client.`, detailKeyClient))
		return
	}
	if !clientVersionAllowed(clientMarker, api.minClientVersion) {
		api.writeError(w, r, http.StatusBadRequest, "client_too_old",
			fmt.Sprintf("Minimal client requirement is %q. Please upgrade your client.", api.minClientVersion))
		return
	}

	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		owner = strings.TrimSpace(creator)
	}
	status := domain.RunStatus(strings.TrimSpace(req.Status))
	if status == "" {
		status = domain.RunStatusInitialized
	}

	var detailsOpaque domain.Opaque
	if err := detailsOpaque.UnmarshalJSON(req.Details); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", `The "details" property cannot be parsed.`)
		return
	}

	run, err := api.runs.Create(r.Context(), domain.Run{
		Name:     strings.TrimSpace(req.Name),
		Owner:    owner,
		Settings: req.Settings,
		Details:  detailsOpaque,
		Creation: time.Now().UTC(),
		Status:   status,
	})
	if err != nil {
		api.storeError(w, r, err, "create", "run", 0)
		return
	}

	api.publish(r.Context(), events.RunCreated, map[string]any{"run_id": run.ID, "owner": run.Owner})
	api.writeJSON(w, http.StatusOK, digestRun(run))
}

func (api *storeAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := api.pathID(w, r, "run_id")
	if !ok {
		return
	}
	run, err := api.runs.Get(r.Context(), runID)
	if err != nil {
		api.storeError(w, r, err, "get", "run", runID)
		return
	}
	api.writeJSON(w, http.StatusOK, digestRun(run))
}

type updateRunRequest struct {
	Name    *string        `json:"name"`
	Owner   *string        `json:"owner"`
	Status  *string        `json:"status"`
	Details *domain.Opaque `json:"details"`
}

func (api *storeAPI) handleUpdateRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := api.pathID(w, r, "run_id")
	if !ok {
		return
	}

	var req updateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", "The request body cannot be parsed.")
		return
	}

	update := domain.RunUpdate{
		Name:    req.Name,
		Owner:   req.Owner,
		Details: req.Details,
	}
	if req.Status != nil {
		status := domain.RunStatus(strings.TrimSpace(*req.Status))
		update.Status = &status
	}

	run, err := api.runs.Update(r.Context(), runID, update)
	if err != nil {
		api.storeError(w, r, err, "update", "run", runID)
		return
	}
	api.writeJSON(w, http.StatusOK, digestRun(run))
}

func (api *storeAPI) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := api.pathID(w, r, "run_id")
	if !ok {
		return
	}

	removed, err := api.runs.Delete(r.Context(), runID)
	if err != nil {
		api.storeError(w, r, err, "delete", "run", runID)
		return
	}
	if !removed {
		// Deleting an absent run is not an error; nothing changed.
		api.writeJSON(w, http.StatusOK, map[string]any{"status": "no action"})
		return
	}

	api.publish(r.Context(), events.RunDeleted, map[string]any{"run_id": runID})
	api.writeJSON(w, http.StatusOK, map[string]any{"status": "removed"})
}

func (api *storeAPI) handleFailureCounts(w http.ResponseWriter, r *http.Request) {
	window := repo.FailureWindow{Limit: parseIntQuery(r, "last", 0)}
	var err error
	if window.Before, err = parseWindowDate(r.URL.Query().Get("before")); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", `The "before" parameter cannot be parsed as a date.`)
		return
	}
	if window.After, err = parseWindowDate(r.URL.Query().Get("after")); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "bad_request", `The "after" parameter cannot be parsed as a date.`)
		return
	}

	counts, err := api.tasks.FailureCounts(r.Context(), window)
	if err != nil {
		api.storeError(w, r, err, "failure_counts", "task", 0)
		return
	}

	rows := make([][]any, 0, len(counts))
	for _, fc := range counts {
		rows = append(rows, []any{fc.Name, fc.Count})
	}
	api.writeJSON(w, http.StatusOK, rows)
}

// --- helpers ---

func (api *storeAPI) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue(name)), 10, 64)
	if err != nil || id <= 0 {
		entity := strings.TrimSuffix(name, "_id")
		api.writeError(w, r, http.StatusNotFound, "not_found", entity+" is not found")
		return 0, false
	}
	return id, true
}

func parseIntQuery(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return def
	}
	return value
}

// parseWindowDate accepts the newsletter's MM-DD-YYYY form and ISO dates.
func parseWindowDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"01-02-2006", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %s", raw)
}
