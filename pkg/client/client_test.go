package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/workmetrics/internal/domain"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestGetFourKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/3/four-keys", r.URL.Path)
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2024-01-31", r.URL.Query().Get("end_date"))
		fmt.Fprint(w, `{
			"period_start": "2024-01-01T00:00:00Z", "period_end": "2024-01-31T23:59:59Z",
			"deployment_frequency": 0.5, "deployment_count": 16, "successful_deployment_count": 15,
			"lead_time_hours": 36, "change_failure_rate": 6.25, "failed_deployment_count": 1,
			"time_to_restore_hours": null,
			"ratings": {"deployment_frequency": "high", "lead_time": "high", "change_failure_rate": "elite", "time_to_restore": null}
		}`)
	}))
	defer srv.Close()

	metrics, err := NewClient(srv.URL+"/").GetFourKeys(context.Background(), 3, date("2024-01-01"), date("2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, 16, metrics.DeploymentCount)
	require.NotNil(t, metrics.LeadTimeHours)
	assert.Equal(t, 36.0, *metrics.LeadTimeHours)
	assert.Nil(t, metrics.TimeToRestoreHours)
}

func TestGetCycleTimeSendsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"metrics": {"count": 0, "partial_count": 0, "excluded_count": 0}, "distribution": []}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetCycleTime(context.Background(), 1, date("2024-01-01"), date("2024-01-31"), 5)
	require.NoError(t, err)
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/projects/9/team-activity":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error": {"code": "NOT_FOUND", "message": "project 9 not found"}}`)
		default:
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error": {"code": "UPSTREAM_UNAVAILABLE", "message": "failed to read events"}}`)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)
	ctx := context.Background()

	_, err := c.GetTeamActivity(ctx, 9, date("2024-01-01"), date("2024-01-31"))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.False(t, apiErr.Retryable())

	_, err = c.GetFourKeys(ctx, 1, date("2024-01-01"), date("2024-01-31"))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", apiErr.Code)
	assert.Equal(t, 5*time.Second, apiErr.RetryAfter)
	assert.True(t, apiErr.Retryable())
}

func TestRegisterAndRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/projects":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, float64(4242), body["gitlab_id"])
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id": 1, "gitlab_id": 4242, "name": "acme/api", "url": "https://github.com/acme/api"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/projects/1/refresh":
			assert.Equal(t, "2024-01-01", r.URL.Query().Get("since"))
			fmt.Fprint(w, `{"project_id": 1, "merge_requests": 4}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)
	ctx := context.Background()

	project, err := c.RegisterProject(ctx, &domain.Project{HostID: 4242, Name: "acme/api", URL: "https://github.com/acme/api"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), project.ID)

	result, err := c.Refresh(ctx, project.ID, date("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, 4, result.MergeRequests)
}

func TestRefreshIsNotBoundByRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		if r.URL.Path == "/api/v1/projects/1/refresh" {
			fmt.Fprint(w, `{"project_id": 1, "commits": 12}`)
			return
		}
		fmt.Fprint(w, `{"deployment_count": 1}`)
	}))
	defer srv.Close()
	c := NewClient(srv.URL)
	c.SetTimeout(50 * time.Millisecond)
	ctx := context.Background()

	_, err := c.GetFourKeys(ctx, 1, date("2024-01-01"), date("2024-01-31"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	result, err := c.Refresh(ctx, 1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 12, result.Commits)
}
