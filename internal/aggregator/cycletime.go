package aggregator

import (
	"errors"
	"sort"
	"time"

	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
	"github.com/kurihiro0119/workmetrics/internal/stats"
)

// CycleTime computes the stage breakdown of merge requests merged in the window.
// limit caps the distribution; a value <= 0 uses the engine default.
func (e *Engine) CycleTime(set *domain.EventSet, limit int) *domain.CycleTimeReport {
	if limit <= 0 {
		limit = e.opts.DistributionLimit
	}

	firstCommits := firstCommitTimes(set)
	deployments := e.firstDeployments(set)

	var coding, review, deployment, total []float64
	var codingSum, reviewSum, deploymentSum float64
	metrics := domain.CycleTimeMetrics{}
	items := make([]*domain.CycleTimeDistributionItem, 0)

	for _, mr := range set.MergeRequests {
		if !mr.IsMerged() || !set.Window.Contains(*mr.MergedAt) {
			continue
		}

		var firstCommitAt *time.Time
		if t, ok := firstCommits[mr.IID]; ok {
			firstCommitAt = &t
		}
		s, err := ComputeStages(mr, firstCommitAt, deployments[mr.IID])
		if err != nil {
			metrics.ExcludedCount++
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				e.warnIntegrity(set.ProjectID, appErr, "merge_request", mr.IID)
			}
			continue
		}
		for _, issue := range s.Issues {
			e.warnIntegrity(set.ProjectID, issue, "merge_request", mr.IID)
		}

		metrics.Count++
		if s.Partial() {
			metrics.PartialCount++
		}
		if s.HasCoding {
			coding = append(coding, s.CodingTime)
		}
		review = append(review, s.ReviewTime)
		if s.HasDeployment {
			deployment = append(deployment, s.DeploymentTime)
		}
		total = append(total, s.TotalTime)
		codingSum += s.CodingTime
		reviewSum += s.ReviewTime
		deploymentSum += s.DeploymentTime

		items = append(items, &domain.CycleTimeDistributionItem{
			MergeRequestIID: mr.IID,
			Title:           mr.Title,
			Author:          mr.Author,
			MergedAt:        *mr.MergedAt,
			CodingTime:      s.CodingTime,
			ReviewTime:      s.ReviewTime,
			DeploymentTime:  s.DeploymentTime,
			TotalTime:       s.TotalTime,
			Partial:         s.Partial(),
			MissingStages:   s.MissingStages,
		})
	}

	metrics.Stages = domain.CycleTimeStages{
		Coding:     stats.Summarize(StageCoding, coding),
		Review:     stats.Summarize(StageReview, review),
		Deployment: stats.Summarize(StageDeployment, deployment),
	}
	metrics.Total = stats.Summarize(StageTotal, total)

	if metrics.Count > 0 {
		breakdown := &domain.StageBreakdown{}
		if totalSum := codingSum + reviewSum + deploymentSum; totalSum > 0 {
			breakdown.CodingPercentage = codingSum / totalSum * 100
			breakdown.ReviewPercentage = reviewSum / totalSum * 100
			breakdown.DeploymentPercentage = deploymentSum / totalSum * 100
		}
		metrics.StageBreakdownAvg = breakdown
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].TotalTime != items[j].TotalTime {
			return items[i].TotalTime > items[j].TotalTime
		}
		return items[i].MergeRequestIID < items[j].MergeRequestIID
	})
	if len(items) > limit {
		items = items[:limit]
	}

	return &domain.CycleTimeReport{
		PeriodStart:  set.Window.Start,
		PeriodEnd:    set.Window.End,
		Metrics:      metrics,
		Distribution: items,
	}
}
