package storage

import (
	"context"
	"time"

	"github.com/kurihiro0119/workmetrics/internal/domain"
)

// Storage is the abstract interface for the persistence layer
type Storage interface {
	// Project registry
	SaveProject(ctx context.Context, project *domain.Project) error
	GetProject(ctx context.Context, id int64) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]*domain.Project, error)
	MarkProjectSynced(ctx context.Context, id int64, syncedAt time.Time) error

	// Team members
	SaveTeamMember(ctx context.Context, member *domain.TeamMember) error
	GetTeamMembers(ctx context.Context, projectID int64) ([]*domain.TeamMember, error)

	// Event ingestion; every save is an upsert keyed by the event's host-side identity
	SaveMergeRequests(ctx context.Context, projectID int64, mrs []*domain.MergeRequest) error
	SaveCommits(ctx context.Context, projectID int64, commits []*domain.Commit) error
	SaveDeployments(ctx context.Context, projectID int64, deployments []*domain.Deployment) error
	SaveIncidents(ctx context.Context, projectID int64, incidents []*domain.Incident) error
	SaveReviews(ctx context.Context, projectID int64, reviews []*domain.Review) error

	// Snapshot reads every event the metric engines need for the window inside a single
	// read transaction, so all aggregates computed from it agree with each other.
	Snapshot(ctx context.Context, projectID int64, window domain.TimeWindow) (*domain.EventSet, error)

	// Connection management
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
