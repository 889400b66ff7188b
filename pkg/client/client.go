package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/workmetrics/internal/domain"
)

// DefaultTimeout bounds every request except Refresh
const DefaultTimeout = 30 * time.Second

// Client is the API client for workmetrics
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
}

// SetTimeout changes the per-request timeout; 0 disables it
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// APIError is an error answered by the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// RetryAfter is set when the server asked the caller to retry later
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %d %s - %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the same request may succeed later
func (e *APIError) Retryable() bool {
	return e.RetryAfter > 0
}

// Health is the server health report
type Health struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// ListProjects retrieves every registered project
func (c *Client) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	var projects []*domain.Project
	if err := c.do(ctx, http.MethodGet, "/api/v1/projects", nil, nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject retrieves one project
func (c *Client) GetProject(ctx context.Context, projectID int64) (*domain.Project, error) {
	var project domain.Project
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, ""), nil, nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// RegisterProject registers a project, or updates the one with the same host id
func (c *Client) RegisterProject(ctx context.Context, project *domain.Project) (*domain.Project, error) {
	body := map[string]any{
		"gitlab_id": project.HostID,
		"name":      project.Name,
		"url":       project.URL,
	}
	var saved domain.Project
	if err := c.do(ctx, http.MethodPost, "/api/v1/projects", nil, body, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// Refresh asks the server to collect events of a project since the given date;
// a zero since leaves the default to the server. Collection runs for as long as the
// repository needs, so only ctx bounds this call.
func (c *Client) Refresh(ctx context.Context, projectID int64, since time.Time) (*domain.SyncResult, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("since", since.Format(domain.DateLayout))
	}
	var result domain.SyncResult
	if err := c.send(ctx, http.MethodPost, projectPath(projectID, "/refresh"), params, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetFourKeys retrieves the DORA four keys of a project
func (c *Client) GetFourKeys(ctx context.Context, projectID int64, start, end time.Time) (*domain.FourKeysMetrics, error) {
	var metrics domain.FourKeysMetrics
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "/four-keys"), dateParams(start, end), nil, &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}

// GetCycleTime retrieves the cycle-time report of a project; limit <= 0 uses the server default
func (c *Client) GetCycleTime(ctx context.Context, projectID int64, start, end time.Time, limit int) (*domain.CycleTimeReport, error) {
	params := dateParams(start, end)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var report domain.CycleTimeReport
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "/cycle-time"), params, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// GetTeamActivity retrieves per-member activity and review load of a project
func (c *Client) GetTeamActivity(ctx context.Context, projectID int64, start, end time.Time) (*domain.TeamActivityReport, error) {
	var report domain.TeamActivityReport
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "/team-activity"), dateParams(start, end), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func projectPath(projectID int64, suffix string) string {
	return "/api/v1/projects/" + strconv.FormatInt(projectID, 10) + suffix
}

func dateParams(start, end time.Time) url.Values {
	params := url.Values{}
	params.Set("start_date", start.Format(domain.DateLayout))
	params.Set("end_date", end.Format(domain.DateLayout))
	return params
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, result any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.send(ctx, method, path, params, body, result)
}

func (c *Client) send(ctx context.Context, method, path string, params url.Values, body any, result any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
