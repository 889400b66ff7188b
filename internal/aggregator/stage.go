package aggregator

import (
	"time"

	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
)

// Stage names
const (
	StageCoding     = "coding"
	StageReview     = "review"
	StageDeployment = "deployment"
	StageTotal      = "total"
)

// StageDurations holds the cycle-time stages of one merged merge request, in hours
type StageDurations struct {
	CodingTime     float64
	ReviewTime     float64
	DeploymentTime float64
	TotalTime      float64

	// HasCoding is false when the first commit is unknown; CodingTime is then 0 and
	// must not be sampled.
	HasCoding bool
	// HasDeployment is false when no usable successful deployment is linked.
	HasDeployment bool

	MissingStages []string
	// Issues lists stage level exclusions caused by inconsistent data
	Issues []*apperrors.AppError
}

// Partial reports whether TotalTime is missing at least one stage
func (s *StageDurations) Partial() bool {
	return len(s.MissingStages) > 0
}

// ComputeStages splits the lifetime of a merged merge request into coding, review and
// deployment time. firstCommitAt and deployment may be nil.
//
// A merge request merged before it was created yields a DataIntegrity error and must be
// excluded. A deployment earlier than the merge only drops the deployment stage.
func ComputeStages(mr *domain.MergeRequest, firstCommitAt *time.Time, deployment *domain.Deployment) (*StageDurations, error) {
	if mr.MergedAt == nil {
		return nil, apperrors.NewInvalidParameterError("merge request is not merged")
	}
	if mr.MergedAt.Before(mr.CreatedAt) {
		return nil, apperrors.NewDataIntegrityError("merge_request", mr.IID, "merged_at is before created_at")
	}

	s := &StageDurations{
		ReviewTime: hours(mr.MergedAt.Sub(mr.CreatedAt)),
	}

	if firstCommitAt != nil {
		s.HasCoding = true
		// commits rebased after the merge request was opened count as no coding time
		if firstCommitAt.Before(mr.CreatedAt) {
			s.CodingTime = hours(mr.CreatedAt.Sub(*firstCommitAt))
		}
	} else {
		s.MissingStages = append(s.MissingStages, StageCoding)
	}

	switch {
	case deployment == nil:
		s.MissingStages = append(s.MissingStages, StageDeployment)
	case deployment.DeployedAt.Before(*mr.MergedAt):
		s.MissingStages = append(s.MissingStages, StageDeployment)
		s.Issues = append(s.Issues, apperrors.NewDataIntegrityError("deployment", deployment.ID, "deployed_at is before the merge"))
	default:
		s.HasDeployment = true
		s.DeploymentTime = hours(deployment.DeployedAt.Sub(*mr.MergedAt))
	}

	s.TotalTime = s.CodingTime + s.ReviewTime + s.DeploymentTime
	return s, nil
}
