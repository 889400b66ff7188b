package aggregator

import (
	"math"
	"sort"

	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
	"github.com/kurihiro0119/workmetrics/internal/stats"
)

// BalanceThreshold is the largest deviation, in percentage points, from an equal share of
// reviews that still counts as balanced
const BalanceThreshold = 10.0

// TeamActivity computes per-member activity and the review load of the window
func (e *Engine) TeamActivity(set *domain.EventSet) *domain.TeamActivityReport {
	w := set.Window
	members := newMemberIndex(set.Members)

	for _, c := range set.Commits {
		if !w.Contains(c.CommittedAt) {
			continue
		}
		m := members.get(c.Author)
		m.CommitCount++
		m.LinesAdded += c.Additions
		m.LinesDeleted += c.Deletions
	}

	for _, mr := range set.MergeRequests {
		if w.Contains(mr.CreatedAt) {
			members.get(mr.Author).MRsCreated++
		}
		if w.ContainsPtr(mr.MergedAt) {
			members.get(mr.Author).MRsMerged++
		}
		if !mr.IsMerged() && w.ContainsPtr(mr.ClosedAt) {
			members.get(mr.Author).MRsClosed++
		}
	}

	mrs := set.MergeRequestByIID()
	responseTimes := make(map[string][]float64)
	for _, r := range set.Reviews {
		if !w.Contains(r.SubmittedAt) {
			continue
		}
		m := members.get(r.Reviewer)
		m.ReviewsGiven++
		m.ReviewComments += r.CommentCount

		mr, ok := mrs[r.MergeRequestIID]
		if !ok {
			continue
		}
		if r.SubmittedAt.Before(mr.CreatedAt) {
			e.warnIntegrity(set.ProjectID,
				apperrors.NewDataIntegrityError("review", r.ID, "submitted_at is before the merge request was created"), "review", r.ID)
			continue
		}
		responseTimes[r.Reviewer] = append(responseTimes[r.Reviewer], hours(r.SubmittedAt.Sub(mr.CreatedAt)))
	}

	activities := members.sorted()
	for _, m := range activities {
		if samples := responseTimes[m.Username]; len(samples) > 0 {
			m.AvgReviewTimeHours = float64Ptr(stats.Mean(samples))
		}
	}

	registered := make(map[string]bool, len(set.Members))
	for _, tm := range set.Members {
		registered[tm.Username] = true
	}
	var reviewers []*domain.TeamMemberActivity
	for _, m := range activities {
		if registered[m.Username] || m.ReviewsGiven > 0 {
			reviewers = append(reviewers, m)
		}
	}

	load, balance := reviewLoad(reviewers)
	return &domain.TeamActivityReport{
		PeriodStart:   w.Start,
		PeriodEnd:     w.End,
		TeamMembers:   activities,
		ReviewLoad:    load,
		ReviewBalance: balance,
	}
}

// reviewLoad distributes the reviews of the window across members: the registered team
// plus anyone else who reviewed. Percentages are rounded for display; balance is judged
// on the unrounded values.
func reviewLoad(members []*domain.TeamMemberActivity) ([]*domain.ReviewLoad, *domain.ReviewBalance) {
	load := make([]*domain.ReviewLoad, 0, len(members))

	total := 0
	for _, m := range members {
		total += m.ReviewsGiven
	}
	if total == 0 {
		return load, nil
	}

	ideal := 100 / float64(len(members))
	maxDeviation := 0.0
	for _, m := range members {
		pct := float64(m.ReviewsGiven) / float64(total) * 100
		maxDeviation = math.Max(maxDeviation, math.Abs(pct-ideal))
		load = append(load, &domain.ReviewLoad{
			TeamMemberID:         m.TeamMemberID,
			Username:             m.Username,
			Name:                 m.Name,
			ReviewCount:          m.ReviewsGiven,
			CommentCount:         m.ReviewComments,
			ReviewLoadPercentage: stats.Round(pct, 2),
		})
	}

	sort.SliceStable(load, func(i, j int) bool {
		return load[i].ReviewCount > load[j].ReviewCount
	})

	return load, &domain.ReviewBalance{
		Balanced:         maxDeviation < BalanceThreshold,
		MemberCount:      len(members),
		IdealPercentage:  stats.Round(ideal, 2),
		MaxDeviation:     stats.Round(maxDeviation, 2),
		TotalReviewCount: total,
	}
}

// memberIndex collects activity per username, seeded with the registered team
type memberIndex map[string]*domain.TeamMemberActivity

func newMemberIndex(registered []*domain.TeamMember) memberIndex {
	idx := make(memberIndex, len(registered))
	for _, tm := range registered {
		name := tm.Name
		if name == "" {
			name = tm.Username
		}
		idx[tm.Username] = &domain.TeamMemberActivity{
			TeamMemberID: tm.ID,
			Username:     tm.Username,
			Name:         name,
		}
	}
	return idx
}

// get returns the activity of username, adding identities that are not registered
func (idx memberIndex) get(username string) *domain.TeamMemberActivity {
	m, ok := idx[username]
	if !ok {
		m = &domain.TeamMemberActivity{Username: username, Name: username}
		idx[username] = m
	}
	return m
}

func (idx memberIndex) sorted() []*domain.TeamMemberActivity {
	out := make([]*domain.TeamMemberActivity, 0, len(idx))
	for _, m := range idx {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
