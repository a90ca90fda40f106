package clickup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPClient talks to the upstream REST API. The embedded http.Client
// timeout bounds every call, so one unresponsive worker lookup cannot
// stall a whole poll cycle.
type HTTPClient struct {
	baseURL string
	token   string
	teamID  string
	client  *http.Client
}

func NewHTTPClient(baseURL, token, teamID string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		teamID:  teamID,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) FetchTask(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	err := c.get(ctx, "/task/"+url.PathEscape(taskID), &task)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *HTTPClient) FetchTrackableWorkers(ctx context.Context) ([]Worker, error) {
	var resp struct {
		Members []struct {
			User Worker `json:"user"`
		} `json:"members"`
	}
	if err := c.get(ctx, "/team/"+url.PathEscape(c.teamID)+"/member", &resp); err != nil {
		return nil, err
	}
	workers := make([]Worker, 0, len(resp.Members))
	for _, m := range resp.Members {
		workers = append(workers, m.User)
	}
	return workers, nil
}

func (c *HTTPClient) FetchCurrentTimer(ctx context.Context, workerID string) (*CurrentTimer, error) {
	var resp struct {
		Data *CurrentTimer `json:"data"`
	}
	path := "/team/" + url.PathEscape(c.teamID) + "/time_entries/current?assignee=" + url.QueryEscape(workerID)
	err := c.get(ctx, path, &resp)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *HTTPClient) FetchTimeEntriesPage(ctx context.Context, page int) ([]TimeEntry, error) {
	var resp struct {
		Data []TimeEntry `json:"data"`
	}
	path := "/team/" + url.PathEscape(c.teamID) + "/time_entries?page=" + strconv.Itoa(page)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

var errNotFound = fmt.Errorf("not found")

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
