package aggregator

import (
	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
	"github.com/kurihiro0119/workmetrics/internal/stats"
)

// FourKeys computes the DORA four keys of the snapshot's window
func (e *Engine) FourKeys(set *domain.EventSet) *domain.FourKeysMetrics {
	m := &domain.FourKeysMetrics{
		PeriodStart: set.Window.Start,
		PeriodEnd:   set.Window.End,
	}

	deployments := e.deployments(set)
	for _, d := range deployments {
		switch d.Status {
		case domain.DeploymentSuccess:
			m.SuccessfulDeploymentCount++
		case domain.DeploymentFailure:
			m.FailedDeploymentCount++
		}
	}
	m.DeploymentCount = len(deployments)

	if days := set.Window.Days(); days > 0 {
		m.DeploymentFrequency = float64(m.SuccessfulDeploymentCount) / float64(days)
	}
	if m.DeploymentCount > 0 {
		m.ChangeFailureRate = float64Ptr(float64(m.FailedDeploymentCount) / float64(m.DeploymentCount) * 100)
	}

	if leadTimes := e.leadTimes(set); len(leadTimes) > 0 {
		m.LeadTimeHours = float64Ptr(stats.Mean(leadTimes))
		m.LeadTimeMedianHours = float64Ptr(stats.Median(leadTimes))
	}
	if restores := e.restoreTimes(set); len(restores) > 0 {
		m.TimeToRestoreHours = float64Ptr(stats.Mean(restores))
		m.TimeToRestoreMedianHours = float64Ptr(stats.Median(restores))
	}

	m.Ratings = domain.FourKeysRatings{
		DeploymentFrequency: RateDeploymentFrequency(m.DeploymentFrequency),
		LeadTime:            RateLeadTime(m.LeadTimeHours),
		ChangeFailureRate:   RateChangeFailureRate(m.ChangeFailureRate),
		TimeToRestore:       RateTimeToRestore(m.TimeToRestoreHours),
	}
	return m
}

// leadTimes measures deployed_at - first commit (or creation) for every merged merge
// request with a successful deployment in the window
func (e *Engine) leadTimes(set *domain.EventSet) []float64 {
	mrs := set.MergeRequestByIID()
	firstCommits := firstCommitTimes(set)
	deployments := e.firstDeployments(set)

	var samples []float64
	for _, iid := range sortedKeys(deployments) {
		d := deployments[iid]
		mr, ok := mrs[iid]
		if !ok || !mr.IsMerged() {
			continue
		}
		if d.DeployedAt.Before(*mr.MergedAt) {
			e.warnIntegrity(set.ProjectID,
				apperrors.NewDataIntegrityError("deployment", d.ID, "deployed_at is before the merge"), "deployment", d.ID)
			continue
		}

		start := mr.CreatedAt
		if first, ok := firstCommits[iid]; ok {
			start = first
		}
		samples = append(samples, hours(d.DeployedAt.Sub(start)))
	}
	return samples
}

// restoreTimes measures resolved_at - detected_at for incidents resolved in the window
func (e *Engine) restoreTimes(set *domain.EventSet) []float64 {
	var samples []float64
	for _, inc := range set.Incidents {
		if !set.Window.ContainsPtr(inc.ResolvedAt) {
			continue
		}
		d := inc.ResolvedAt.Sub(inc.DetectedAt)
		if d < 0 {
			e.warnIntegrity(set.ProjectID,
				apperrors.NewDataIntegrityError("incident", inc.ID, "resolved_at is before detected_at"), "incident", inc.ID)
			continue
		}
		samples = append(samples, hours(d))
	}
	return samples
}

