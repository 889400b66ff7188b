package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
)

func TestComputeStagesFullLifecycle(t *testing.T) {
	mr := &domain.MergeRequest{
		IID:       1,
		CreatedAt: ts("2024-01-01T00:00"),
		MergedAt:  tsPtr("2024-01-02T00:00"),
	}
	deploy := &domain.Deployment{ID: 9, Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-02T12:00")}

	s, err := ComputeStages(mr, tsPtr("2023-12-30T00:00"), deploy)
	require.NoError(t, err)

	assert.Equal(t, 48.0, s.CodingTime)
	assert.Equal(t, 24.0, s.ReviewTime)
	assert.Equal(t, 12.0, s.DeploymentTime)
	assert.Equal(t, 84.0, s.TotalTime)
	assert.True(t, s.HasCoding)
	assert.True(t, s.HasDeployment)
	assert.False(t, s.Partial())
	assert.Empty(t, s.Issues)
}

func TestComputeStagesMissingData(t *testing.T) {
	mr := &domain.MergeRequest{IID: 2, CreatedAt: ts("2024-01-01T00:00"), MergedAt: tsPtr("2024-01-01T06:00")}

	s, err := ComputeStages(mr, nil, nil)
	require.NoError(t, err)

	assert.False(t, s.HasCoding)
	assert.False(t, s.HasDeployment)
	assert.Equal(t, 0.0, s.CodingTime)
	assert.Equal(t, 6.0, s.TotalTime)
	assert.True(t, s.Partial())
	assert.Equal(t, []string{StageCoding, StageDeployment}, s.MissingStages)
}

func TestComputeStagesFirstCommitAfterCreation(t *testing.T) {
	mr := &domain.MergeRequest{IID: 3, CreatedAt: ts("2024-01-01T00:00"), MergedAt: tsPtr("2024-01-02T00:00")}

	s, err := ComputeStages(mr, tsPtr("2024-01-01T05:00"), nil)
	require.NoError(t, err)
	assert.True(t, s.HasCoding, "a known first commit is sampled even when clamped")
	assert.Equal(t, 0.0, s.CodingTime)
}

func TestComputeStagesMergedBeforeCreated(t *testing.T) {
	mr := &domain.MergeRequest{IID: 4, CreatedAt: ts("2024-01-02T00:00"), MergedAt: tsPtr("2024-01-01T00:00")}

	_, err := ComputeStages(mr, nil, nil)
	assert.True(t, apperrors.IsDataIntegrity(err))
}

func TestComputeStagesDeploymentBeforeMerge(t *testing.T) {
	mr := &domain.MergeRequest{IID: 5, CreatedAt: ts("2024-01-01T00:00"), MergedAt: tsPtr("2024-01-02T00:00")}
	deploy := &domain.Deployment{ID: 77, Status: domain.DeploymentSuccess, DeployedAt: ts("2024-01-01T12:00")}

	s, err := ComputeStages(mr, nil, deploy)
	require.NoError(t, err)
	assert.False(t, s.HasDeployment)
	assert.Equal(t, 0.0, s.DeploymentTime)
	assert.Contains(t, s.MissingStages, StageDeployment)
	require.Len(t, s.Issues, 1)
	assert.True(t, apperrors.IsDataIntegrity(s.Issues[0]))
}

func TestComputeStagesRejectsUnmerged(t *testing.T) {
	_, err := ComputeStages(&domain.MergeRequest{IID: 6, CreatedAt: ts("2024-01-01T00:00")}, nil, nil)
	assert.Error(t, err)
}
