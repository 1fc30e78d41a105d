package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Credentials selects how the client authenticates against the store: a raw
// intra-cluster key, or a client-credentials grant that yields bearer tokens.
type Credentials struct {
	InternalKey  string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	key        string
	tokens     oauth2.TokenSource
}

func NewClient(ctx context.Context, baseURL string, creds Credentials) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		key:        creds.InternalKey,
	}
	if creds.InternalKey == "" && creds.TokenURL != "" {
		cfg := clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
			Scopes:       creds.Scopes,
		}
		c.tokens = cfg.TokenSource(ctx)
	}
	return c
}

// --- wire shapes ---

type RunResponse struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Owner    string          `json:"owner"`
	Status   string          `json:"status"`
	Creation string          `json:"creation"`
	Details  json.RawMessage `json:"details"`
	Settings json.RawMessage `json:"settings"`
}

type TaskResponse struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Annotation    string          `json:"annotation"`
	Status        string          `json:"status"`
	Result        string          `json:"result"`
	Settings      json.RawMessage `json:"settings"`
	ResultDetails json.RawMessage `json:"result_details"`
	Duration      *int64          `json:"duration"`
	RunID         int64           `json:"run_id"`
}

type CreateRunRequest struct {
	Name     string          `json:"name"`
	Owner    string          `json:"owner,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
	Details  json.RawMessage `json:"details"`
}

type UpdateRunRequest struct {
	Name   *string `json:"name,omitempty"`
	Owner  *string `json:"owner,omitempty"`
	Status *string `json:"status,omitempty"`
}

type CreateTaskRequest struct {
	Name       string          `json:"name"`
	Annotation string          `json:"annotation,omitempty"`
	Settings   json.RawMessage `json:"settings,omitempty"`
}

type ListRunsOpts struct {
	Owner  string
	Last   int
	Skip   int
	Before string
	After  string
}

// --- runs ---

func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Owner != "" {
		params.Set("owner", opts.Owner)
	}
	if opts.Last > 0 {
		params.Set("last", strconv.Itoa(opts.Last))
	}
	if opts.Skip > 0 {
		params.Set("skip", strconv.Itoa(opts.Skip))
	}
	if opts.Before != "" {
		params.Set("before", opts.Before)
	}
	if opts.After != "" {
		params.Set("after", opts.After)
	}

	var runs []RunResponse
	if err := c.doJSON(ctx, http.MethodGet, "/runs?"+params.Encode(), nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *Client) CreateRun(ctx context.Context, req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	if err := c.doJSON(ctx, http.MethodPost, "/run", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) GetRun(ctx context.Context, id int64) (*RunResponse, error) {
	var run RunResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/run/%d", id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) UpdateRun(ctx context.Context, id int64, req UpdateRunRequest) (*RunResponse, error) {
	var run RunResponse
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/run/%d", id), req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) DeleteRun(ctx context.Context, id int64) (string, error) {
	var result struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/run/%d", id), nil, &result); err != nil {
		return "", err
	}
	return result.Status, nil
}

// --- tasks ---

func (c *Client) ListTasks(ctx context.Context, runID int64) ([]TaskResponse, error) {
	var tasks []TaskResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/run/%d/tasks", runID), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) CreateTask(ctx context.Context, runID int64, req CreateTaskRequest) (*TaskResponse, error) {
	var task TaskResponse
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/run/%d/task", runID), req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) CreateTasks(ctx context.Context, runID int64, reqs []CreateTaskRequest) (int, error) {
	var result struct {
		Added int `json:"added"`
	}
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/run/%d/tasks", runID), reqs, &result); err != nil {
		return 0, err
	}
	return result.Added, nil
}

func (c *Client) GetTask(ctx context.Context, id int64) (*TaskResponse, error) {
	var task TaskResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/task/%d", id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) PatchTask(ctx context.Context, id int64, fields map[string]any) (*TaskResponse, error) {
	var task TaskResponse
	if err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/task/%d", id), fields, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Checkout claims the next unclaimed task of the run. A nil task with a nil
// error means the run is exhausted.
func (c *Client) Checkout(ctx context.Context, runID int64) (*TaskResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/run/%d/checkout", runID), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if err := checkError(resp); err != nil {
		return nil, err
	}

	var task TaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &task, nil
}

// --- plumbing ---

func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkError(resp); err != nil {
		return err
	}
	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	return c.httpClient.Do(req)
}

func (c *Client) authorize(req *http.Request) error {
	if c.key != "" {
		req.Header.Set("Authorization", c.key)
		return nil
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("acquire token: %w", err)
		}
		token.SetAuthHeader(req)
	}
	return nil
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	var er struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return fmt.Errorf("store error: HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", er.Error, er.Message)
}
