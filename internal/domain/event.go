package domain

import "time"

// MergeRequestState represents the lifecycle state of a merge request
type MergeRequestState string

const (
	MergeRequestOpened MergeRequestState = "opened"
	MergeRequestMerged MergeRequestState = "merged"
	MergeRequestClosed MergeRequestState = "closed"
)

// DeploymentStatus represents the outcome of a deployment
type DeploymentStatus string

const (
	DeploymentSuccess DeploymentStatus = "success"
	DeploymentFailure DeploymentStatus = "failure"
)

// Commit represents a single commit pushed to the project
type Commit struct {
	SHA             string
	Author          string
	CommittedAt     time.Time
	Additions       int
	Deletions       int
	Branch          string
	MergeRequestIID *int64 // nil when the commit is not linked to a merge request
}

// MergeRequest represents a merge request (pull request) of the project
type MergeRequest struct {
	IID           int64
	Title         string
	Author        string
	State         MergeRequestState
	CreatedAt     time.Time
	MergedAt      *time.Time
	ClosedAt      *time.Time
	FirstCommitAt *time.Time
	SourceBranch  string
	TargetBranch  string
}

// IsMerged reports whether the merge request has been merged
func (m *MergeRequest) IsMerged() bool {
	return m.MergedAt != nil
}

// Deployment represents a deployment of the project to an environment
type Deployment struct {
	ID              int64
	MergeRequestIID *int64
	Environment     string
	Status          DeploymentStatus
	DeployedAt      time.Time
	CommitSHA       string
}

// Incident represents a production incident and its resolution
type Incident struct {
	ID         int64
	Title      string
	Severity   string
	DetectedAt time.Time
	ResolvedAt *time.Time
}

// Review represents a review submitted on a merge request
type Review struct {
	ID              int64
	MergeRequestIID int64
	Reviewer        string
	SubmittedAt     time.Time
	CommentCount    int
	State           string // approved, commented, changes_requested
}

// EventSet is a consistent snapshot of the events of one project for one window.
//
// MergeRequests holds every merge request that is referenced by the window: created,
// merged or closed inside it, or linked from a deployment or review inside it.
// Commits holds commits inside the window plus commits linked to merge requests merged
// inside it.
type EventSet struct {
	ProjectID     int64
	Window        TimeWindow
	Commits       []*Commit
	MergeRequests []*MergeRequest
	Deployments   []*Deployment
	Incidents     []*Incident
	Reviews       []*Review
	Members       []*TeamMember
}

// MergeRequestByIID returns an index of merge requests keyed by IID
func (s *EventSet) MergeRequestByIID() map[int64]*MergeRequest {
	index := make(map[int64]*MergeRequest, len(s.MergeRequests))
	for _, mr := range s.MergeRequests {
		index[mr.IID] = mr
	}
	return index
}
