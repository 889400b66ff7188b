package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/workmetrics/internal/domain"
)

func TestCycleTimeSingleMergeRequest(t *testing.T) {
	engine, _ := newTestEngine(Options{})
	set := &domain.EventSet{
		Window: window("2024-01-01", "2024-01-07"),
		MergeRequests: []*domain.MergeRequest{
			{IID: 1, Title: "Add login", Author: "alice", State: domain.MergeRequestMerged,
				CreatedAt: ts("2024-01-01T00:00"), MergedAt: tsPtr("2024-01-02T00:00"),
				FirstCommitAt: tsPtr("2023-12-30T00:00")},
		},
		Deployments: []*domain.Deployment{
			{ID: 1, MergeRequestIID: iid(1), Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-02T12:00")},
		},
	}

	r := engine.CycleTime(set, 0)

	require.Len(t, r.Distribution, 1)
	item := r.Distribution[0]
	assert.Equal(t, 48.0, item.CodingTime)
	assert.Equal(t, 24.0, item.ReviewTime)
	assert.Equal(t, 12.0, item.DeploymentTime)
	assert.Equal(t, 84.0, item.TotalTime)
	assert.False(t, item.Partial)
	assert.Equal(t, "Add login", item.Title)

	assert.Equal(t, 1, r.Metrics.Count)
	assert.Equal(t, 0, r.Metrics.PartialCount)
	require.NotNil(t, r.Metrics.Total)
	assert.Equal(t, 84.0, r.Metrics.Total.Mean)
	require.NotNil(t, r.Metrics.StageBreakdownAvg)
	b := r.Metrics.StageBreakdownAvg
	assert.InDelta(t, 48.0/84*100, b.CodingPercentage, 1e-9)
	assert.InDelta(t, 100.0, b.CodingPercentage+b.ReviewPercentage+b.DeploymentPercentage, 1e-9)
}

func TestCycleTimeEmptyWindow(t *testing.T) {
	engine, _ := newTestEngine(Options{})
	r := engine.CycleTime(&domain.EventSet{Window: window("2024-01-01", "2024-01-07")}, 0)

	assert.Equal(t, 0, r.Metrics.Count)
	assert.Nil(t, r.Metrics.Total)
	assert.Nil(t, r.Metrics.Stages.Coding)
	assert.Nil(t, r.Metrics.StageBreakdownAvg)
	assert.NotNil(t, r.Distribution)
	assert.Empty(t, r.Distribution)
}

func TestCycleTimeExclusionsAndPartials(t *testing.T) {
	engine, hook := newTestEngine(Options{})
	set := &domain.EventSet{
		ProjectID: 3,
		Window:    window("2024-01-01", "2024-01-07"),
		MergeRequests: []*domain.MergeRequest{
			// no first commit, no deployment
			{IID: 1, State: domain.MergeRequestMerged, CreatedAt: ts("2024-01-01T00:00"), MergedAt: tsPtr("2024-01-01T10:00")},
			// first commit from a linked commit
			{IID: 2, State: domain.MergeRequestMerged, CreatedAt: ts("2024-01-02T00:00"), MergedAt: tsPtr("2024-01-02T10:00")},
			// merged before created
			{IID: 3, State: domain.MergeRequestMerged, CreatedAt: ts("2024-01-03T00:00"), MergedAt: tsPtr("2024-01-02T00:00")},
			// merged outside the window
			{IID: 4, State: domain.MergeRequestMerged, CreatedAt: ts("2023-12-01T00:00"), MergedAt: tsPtr("2023-12-02T00:00")},
			{IID: 5, State: domain.MergeRequestOpened, CreatedAt: ts("2024-01-02T00:00")},
		},
		Commits: []*domain.Commit{
			{SHA: "b", CommittedAt: ts("2024-01-01T20:00"), MergeRequestIID: iid(2)},
			{SHA: "a", CommittedAt: ts("2024-01-01T12:00"), MergeRequestIID: iid(2)},
		},
	}

	r := engine.CycleTime(set, 0)

	assert.Equal(t, 2, r.Metrics.Count)
	assert.Equal(t, 2, r.Metrics.PartialCount)
	assert.Equal(t, 1, r.Metrics.ExcludedCount)
	require.NotNil(t, r.Metrics.Stages.Coding)
	assert.Equal(t, 1, r.Metrics.Stages.Coding.Count, "unknown first commit is not a zero sample")
	assert.Equal(t, 12.0, r.Metrics.Stages.Coding.Mean)
	assert.Equal(t, 2, r.Metrics.Stages.Review.Count)
	assert.Nil(t, r.Metrics.Stages.Deployment)

	require.Len(t, r.Distribution, 2)
	assert.Equal(t, int64(2), r.Distribution[0].MergeRequestIID)
	assert.Equal(t, 22.0, r.Distribution[0].TotalTime)
	assert.Equal(t, []string{StageDeployment}, r.Distribution[0].MissingStages)
	assert.Equal(t, []string{StageCoding, StageDeployment}, r.Distribution[1].MissingStages)

	w := warnings(hook)
	require.Len(t, w, 1)
	assert.Equal(t, int64(3), w[0].Data["id"])
	assert.Equal(t, "merge_request", w[0].Data["entity"])
}

func TestCycleTimeDistributionOrderAndLimit(t *testing.T) {
	engine, _ := newTestEngine(Options{DistributionLimit: 2})
	set := &domain.EventSet{Window: window("2024-01-01", "2024-01-07")}
	for i, merged := range []string{"2024-01-01T05:00", "2024-01-01T10:00", "2024-01-01T05:00", "2024-01-01T01:00"} {
		set.MergeRequests = append(set.MergeRequests, &domain.MergeRequest{
			IID: int64(i + 1), State: domain.MergeRequestMerged,
			CreatedAt: ts("2024-01-01T00:00"), MergedAt: tsPtr(merged),
		})
	}

	r := engine.CycleTime(set, 0)
	require.Len(t, r.Distribution, 2)
	assert.Equal(t, int64(2), r.Distribution[0].MergeRequestIID)
	assert.Equal(t, int64(1), r.Distribution[1].MergeRequestIID, "ties keep the lower id first")
	assert.Equal(t, 4, r.Metrics.Count, "the limit only trims the distribution")

	assert.Len(t, engine.CycleTime(set, 10).Distribution, 4)
}

func TestCycleTimeSkipsPreMergeDeployment(t *testing.T) {
	engine, hook := newTestEngine(Options{})
	set := &domain.EventSet{
		Window: window("2024-01-01", "2024-01-07"),
		MergeRequests: []*domain.MergeRequest{
			{IID: 1, State: domain.MergeRequestMerged, CreatedAt: ts("2024-01-01T00:00"),
				MergedAt: tsPtr("2024-01-02T00:00"), FirstCommitAt: tsPtr("2023-12-30T00:00")},
		},
		Deployments: []*domain.Deployment{
			{ID: 1, MergeRequestIID: iid(1), Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-01T12:00")},
			{ID: 2, MergeRequestIID: iid(1), Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-02T12:00")},
		},
	}

	r := engine.CycleTime(set, 0)

	require.Len(t, r.Distribution, 1)
	item := r.Distribution[0]
	assert.Equal(t, 12.0, item.DeploymentTime)
	assert.Equal(t, 84.0, item.TotalTime)
	assert.False(t, item.Partial)
	require.NotNil(t, r.Metrics.Stages.Deployment)
	assert.Equal(t, 12.0, r.Metrics.Stages.Deployment.Mean)
	assert.Empty(t, warnings(hook))
}
