package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/workmetrics/internal/domain"
)

// These tests run against a live database and are skipped unless POSTGRES_TEST_URL is set.
func newTestStorage(t *testing.T) *postgresStorage {
	t.Helper()
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	s, err := NewPostgresStorage(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s.(*postgresStorage)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	hostID := time.Now().UnixNano()
	p := &domain.Project{HostID: hostID, Name: "pg-it", URL: "https://github.com/acme/pg-it"}
	require.NoError(t, s.SaveProject(ctx, p))
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM projects WHERE id = $1`, p.ID)
	})

	created := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	merged := created.Add(24 * time.Hour)
	require.NoError(t, s.SaveMergeRequests(ctx, p.ID, []*domain.MergeRequest{
		{IID: 1, Title: "t", Author: "alice", State: domain.MergeRequestMerged, CreatedAt: created, MergedAt: &merged},
	}))
	iid := int64(1)
	require.NoError(t, s.SaveDeployments(ctx, p.ID, []*domain.Deployment{
		{ID: 1, MergeRequestIID: &iid, Environment: "production", Status: domain.DeploymentSuccess, DeployedAt: merged.Add(time.Hour)},
	}))

	set, err := s.Snapshot(ctx, p.ID, domain.NewTimeWindow(created, created.AddDate(0, 0, 6)))
	require.NoError(t, err)
	require.Len(t, set.MergeRequests, 1)
	require.Len(t, set.Deployments, 1)
	assert.Equal(t, time.UTC, set.Deployments[0].DeployedAt.Location())
}
