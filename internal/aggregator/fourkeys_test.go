package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/workmetrics/internal/domain"
)

func TestFourKeysZeroDeployments(t *testing.T) {
	engine, _ := newTestEngine(Options{})
	set := &domain.EventSet{Window: window("2024-01-01", "2024-01-07")}

	m := engine.FourKeys(set)

	assert.Equal(t, 0.0, m.DeploymentFrequency)
	assert.Equal(t, 0, m.DeploymentCount)
	assert.Nil(t, m.ChangeFailureRate)
	assert.Nil(t, m.LeadTimeHours)
	assert.Nil(t, m.LeadTimeMedianHours)
	assert.Nil(t, m.TimeToRestoreHours)
	assert.Nil(t, m.Ratings.LeadTime)
	assert.Nil(t, m.Ratings.ChangeFailureRate)
	assert.Nil(t, m.Ratings.TimeToRestore)
	require.NotNil(t, m.Ratings.DeploymentFrequency)
	assert.Equal(t, domain.LevelLow, *m.Ratings.DeploymentFrequency)
}

func TestFourKeys(t *testing.T) {
	engine, hook := newTestEngine(Options{})
	set := &domain.EventSet{
		ProjectID: 1,
		Window:    window("2024-01-01", "2024-01-07"),
		MergeRequests: []*domain.MergeRequest{
			{IID: 1, State: domain.MergeRequestMerged, CreatedAt: ts("2024-01-01T00:00"),
				MergedAt: tsPtr("2024-01-02T00:00"), FirstCommitAt: tsPtr("2023-12-31T00:00")},
			{IID: 2, State: domain.MergeRequestMerged, CreatedAt: ts("2024-01-03T00:00"),
				MergedAt: tsPtr("2024-01-03T06:00")},
			// deployed before it was merged
			{IID: 3, State: domain.MergeRequestMerged, CreatedAt: ts("2024-01-03T00:00"),
				MergedAt: tsPtr("2024-01-06T00:00")},
			{IID: 4, State: domain.MergeRequestOpened, CreatedAt: ts("2024-01-03T00:00")},
		},
		Deployments: []*domain.Deployment{
			{ID: 10, MergeRequestIID: iid(1), Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-02T12:00")},
			// later deployment of the same MR does not count twice
			{ID: 11, MergeRequestIID: iid(1), Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-04T00:00")},
			{ID: 12, MergeRequestIID: iid(2), Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-03T12:00")},
			{ID: 13, MergeRequestIID: iid(3), Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-05T00:00")},
			{ID: 14, MergeRequestIID: iid(4), Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-05T00:00")},
			{ID: 15, Status: domain.DeploymentFailure, DeployedAt: ts("2024-01-06T00:00")},
			{ID: 16, Status: domain.DeploymentFailure, DeployedAt: ts("2024-01-07T23:00")},
			// outside the window
			{ID: 17, Status: domain.DeploymentFailure, DeployedAt: ts("2024-01-08T00:00")},
		},
		Incidents: []*domain.Incident{
			{ID: 100, DetectedAt: ts("2024-01-02T00:00"), ResolvedAt: tsPtr("2024-01-02T02:00")},
			{ID: 101, DetectedAt: ts("2023-12-31T20:00"), ResolvedAt: tsPtr("2024-01-01T00:00")},
			{ID: 102, DetectedAt: ts("2024-01-05T00:00")},
			{ID: 103, DetectedAt: ts("2024-01-05T00:00"), ResolvedAt: tsPtr("2024-01-04T00:00")},
		},
	}

	m := engine.FourKeys(set)

	assert.Equal(t, 7, m.DeploymentCount)
	assert.Equal(t, 5, m.SuccessfulDeploymentCount)
	assert.Equal(t, 2, m.FailedDeploymentCount)
	assert.InDelta(t, 5.0/7.0, m.DeploymentFrequency, 1e-9)
	require.NotNil(t, m.ChangeFailureRate)
	assert.InDelta(t, 2.0/7.0*100, *m.ChangeFailureRate, 1e-9)

	// MR 1: 2023-12-31 -> 2024-01-02T12:00 = 60h; MR 2: created 01-03 -> 12h
	require.NotNil(t, m.LeadTimeHours)
	assert.InDelta(t, 36.0, *m.LeadTimeHours, 1e-9)
	assert.InDelta(t, 36.0, *m.LeadTimeMedianHours, 1e-9)

	require.NotNil(t, m.TimeToRestoreHours)
	assert.InDelta(t, 3.0, *m.TimeToRestoreHours, 1e-9)
	assert.InDelta(t, 3.0, *m.TimeToRestoreMedianHours, 1e-9)

	assert.Equal(t, domain.LevelHigh, *m.Ratings.DeploymentFrequency)
	assert.Equal(t, domain.LevelHigh, *m.Ratings.LeadTime)
	assert.Equal(t, domain.LevelHigh, *m.Ratings.ChangeFailureRate)
	assert.Equal(t, domain.LevelHigh, *m.Ratings.TimeToRestore)

	assert.Len(t, warnings(hook), 2, "deploy before merge and negative restore are reported")
	assert.Equal(t, ts("2024-01-01T00:00"), m.PeriodStart)
}

func TestFourKeysEnvironmentFilter(t *testing.T) {
	engine, _ := newTestEngine(Options{DeployEnvironment: "production"})
	set := &domain.EventSet{
		Window: window("2024-01-01", "2024-01-01"),
		Deployments: []*domain.Deployment{
			{ID: 1, Environment: "production", Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-01T10:00")},
			{ID: 2, Environment: "staging", Status: domain.DeploymentFailure, DeployedAt: ts("2024-01-01T11:00")},
		},
	}

	m := engine.FourKeys(set)
	assert.Equal(t, 1, m.DeploymentCount)
	assert.Equal(t, 1.0, m.DeploymentFrequency)
	require.NotNil(t, m.ChangeFailureRate)
	assert.Equal(t, 0.0, *m.ChangeFailureRate)
	assert.Equal(t, domain.LevelElite, *m.Ratings.ChangeFailureRate)
}

func TestFourKeysSkipsPreMergeDeployment(t *testing.T) {
	engine, hook := newTestEngine(Options{})
	set := &domain.EventSet{
		Window: window("2024-01-01", "2024-01-07"),
		MergeRequests: []*domain.MergeRequest{
			{IID: 1, State: domain.MergeRequestMerged, CreatedAt: ts("2024-01-01T00:00"),
				MergedAt: tsPtr("2024-01-02T00:00"), FirstCommitAt: tsPtr("2023-12-30T00:00")},
		},
		Deployments: []*domain.Deployment{
			// preview deploy of the branch
			{ID: 1, MergeRequestIID: iid(1), Environment: "preview", Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-01T12:00")},
			{ID: 2, MergeRequestIID: iid(1), Environment: "production", Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-02T12:00")},
		},
	}

	m := engine.FourKeys(set)

	require.NotNil(t, m.LeadTimeHours)
	assert.InDelta(t, 84.0, *m.LeadTimeHours, 1e-9)
	assert.Empty(t, warnings(hook))
}
