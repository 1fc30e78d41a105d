package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// storeClient reads from the task store over HTTP using the intra-cluster
// key. The newsletter is read-only: listing runs, listing a run's tasks and
// the failure aggregation cover everything a report needs.
type storeClient struct {
	base        *url.URL
	internalKey string
	client      *http.Client
}

func newStoreClient(baseURL string, internalKey string) (*storeClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	return &storeClient{
		base:        base,
		internalKey: internalKey,
		client:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *storeClient) get(ctx context.Context, path string, query url.Values, out any) error {
	target := *c.base
	target.Path, _ = url.JoinPath(c.base.Path, path)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.internalKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("store responded %d for %s: %s", resp.StatusCode, path, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type runSummary struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Owner    string          `json:"owner"`
	Status   string          `json:"status"`
	Creation string          `json:"creation"`
	Details  json.RawMessage `json:"details"`
}

type taskSummary struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Result   string `json:"result"`
	Duration *int64 `json:"duration"`
	RunID    int64  `json:"run_id"`
}

func (c *storeClient) runsInWindow(ctx context.Context, owner string, after, before time.Time) ([]runSummary, error) {
	query := url.Values{}
	if owner != "" {
		query.Set("owner", owner)
	}
	query.Set("before", before.Format("01-02-2006"))
	query.Set("after", after.Format("01-02-2006"))

	var runs []runSummary
	if err := c.get(ctx, "runs", query, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *storeClient) runTasks(ctx context.Context, runID int64) ([]taskSummary, error) {
	var tasks []taskSummary
	if err := c.get(ctx, fmt.Sprintf("run/%d/tasks", runID), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *storeClient) topFails(ctx context.Context, after, before time.Time) ([][2]any, error) {
	query := url.Values{}
	query.Set("before", before.Format("01-02-2006"))
	query.Set("after", after.Format("01-02-2006"))

	var rows [][2]any
	if err := c.get(ctx, "runs/tasks/fails", query, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
