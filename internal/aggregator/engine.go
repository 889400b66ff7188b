package aggregator

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
)

// Options tune the metric engines
type Options struct {
	// DeployEnvironment restricts deployment based metrics to one environment; empty means all
	DeployEnvironment string
	// DistributionLimit caps the cycle-time distribution when the caller gives no limit
	DistributionLimit int
}

// DefaultDistributionLimit is the number of merge requests listed in a cycle-time distribution
const DefaultDistributionLimit = 50

// Engine computes metrics from an event snapshot. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	opts   Options
	logger logrus.FieldLogger
}

// NewEngine creates a new metric engine
func NewEngine(opts Options, logger logrus.FieldLogger) *Engine {
	if opts.DistributionLimit <= 0 {
		opts.DistributionLimit = DefaultDistributionLimit
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{opts: opts, logger: logger}
}

// warnIntegrity reports an event excluded from a computation
func (e *Engine) warnIntegrity(projectID int64, err *apperrors.AppError, entity string, id int64) {
	e.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"entity":     entity,
		"id":         id,
		"code":       err.Code,
	}).Warn(err.Message)
}

// deployments returns the deployments of the window that match the environment filter
func (e *Engine) deployments(set *domain.EventSet) []*domain.Deployment {
	var out []*domain.Deployment
	for _, d := range set.Deployments {
		if !set.Window.Contains(d.DeployedAt) {
			continue
		}
		if e.opts.DeployEnvironment != "" && d.Environment != e.opts.DeployEnvironment {
			continue
		}
		out = append(out, d)
	}
	return out
}

// firstDeployments maps each merge request to its earliest successful deployment in the
// window that happened at or after its merge. A merge request with only earlier
// deployments (preview environments, pre-merge branch deploys) maps to the earliest of
// those so callers can report the inconsistency.
func (e *Engine) firstDeployments(set *domain.EventSet) map[int64]*domain.Deployment {
	mrs := set.MergeRequestByIID()
	first := make(map[int64]*domain.Deployment)
	early := make(map[int64]*domain.Deployment)
	for _, d := range e.deployments(set) {
		if d.Status != domain.DeploymentSuccess || d.MergeRequestIID == nil {
			continue
		}
		iid := *d.MergeRequestIID
		target := first
		if mr, ok := mrs[iid]; ok && mr.MergedAt != nil && d.DeployedAt.Before(*mr.MergedAt) {
			target = early
		}
		if cur, ok := target[iid]; !ok || d.DeployedAt.Before(cur.DeployedAt) {
			target[iid] = d
		}
	}
	for iid, d := range early {
		if _, ok := first[iid]; !ok {
			first[iid] = d
		}
	}
	return first
}

// firstCommitTimes returns the first commit time of every merge request of the snapshot:
// the recorded first_commit_at, else the earliest linked commit.
func firstCommitTimes(set *domain.EventSet) map[int64]time.Time {
	first := make(map[int64]time.Time)
	for _, c := range set.Commits {
		if c.MergeRequestIID == nil {
			continue
		}
		iid := *c.MergeRequestIID
		if cur, ok := first[iid]; !ok || c.CommittedAt.Before(cur) {
			first[iid] = c.CommittedAt
		}
	}
	for _, mr := range set.MergeRequests {
		if mr.FirstCommitAt != nil {
			first[mr.IID] = *mr.FirstCommitAt
		}
	}
	return first
}

func hours(d time.Duration) float64 {
	return d.Hours()
}

func float64Ptr(v float64) *float64 {
	return &v
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
