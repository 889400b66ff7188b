package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kurihiro0119/workmetrics/internal/domain"
)

// SnapshotQueries holds the dialect specific statements used by ReadSnapshot.
// Every statement takes the same three arguments: project id, window start and the
// exclusive window end.
type SnapshotQueries struct {
	MergeRequests string
	Commits       string
	Deployments   string
	Incidents     string
	Reviews       string
	TeamMembers   string // takes the project id only
}

// ReadSnapshot runs queries inside tx and assembles the event set of the window
func ReadSnapshot(ctx context.Context, tx *sql.Tx, q SnapshotQueries, projectID int64, window domain.TimeWindow) (*domain.EventSet, error) {
	set := &domain.EventSet{ProjectID: projectID, Window: window}
	args := []any{projectID, window.Start.UTC(), window.Until().UTC()}

	var err error
	if set.MergeRequests, err = scanMergeRequests(ctx, tx, q.MergeRequests, args); err != nil {
		return nil, fmt.Errorf("failed to read merge requests: %w", err)
	}
	if set.Commits, err = scanCommits(ctx, tx, q.Commits, args); err != nil {
		return nil, fmt.Errorf("failed to read commits: %w", err)
	}
	if set.Deployments, err = scanDeployments(ctx, tx, q.Deployments, args); err != nil {
		return nil, fmt.Errorf("failed to read deployments: %w", err)
	}
	if set.Incidents, err = scanIncidents(ctx, tx, q.Incidents, args); err != nil {
		return nil, fmt.Errorf("failed to read incidents: %w", err)
	}
	if set.Reviews, err = scanReviews(ctx, tx, q.Reviews, args); err != nil {
		return nil, fmt.Errorf("failed to read reviews: %w", err)
	}
	if set.Members, err = ScanTeamMembers(ctx, tx, q.TeamMembers, projectID); err != nil {
		return nil, fmt.Errorf("failed to read team members: %w", err)
	}
	return set, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanMergeRequests(ctx context.Context, q queryer, query string, args []any) ([]*domain.MergeRequest, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mrs []*domain.MergeRequest
	for rows.Next() {
		var mr domain.MergeRequest
		var state string
		var mergedAt, closedAt, firstCommitAt sql.NullTime
		if err := rows.Scan(&mr.IID, &mr.Title, &mr.Author, &state, &mr.CreatedAt,
			&mergedAt, &closedAt, &firstCommitAt, &mr.SourceBranch, &mr.TargetBranch); err != nil {
			return nil, err
		}
		mr.State = domain.MergeRequestState(state)
		mr.CreatedAt = mr.CreatedAt.UTC()
		mr.MergedAt = TimePtr(mergedAt)
		mr.ClosedAt = TimePtr(closedAt)
		mr.FirstCommitAt = TimePtr(firstCommitAt)
		mrs = append(mrs, &mr)
	}
	return mrs, rows.Err()
}

func scanCommits(ctx context.Context, q queryer, query string, args []any) ([]*domain.Commit, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []*domain.Commit
	for rows.Next() {
		var c domain.Commit
		var mrIID sql.NullInt64
		if err := rows.Scan(&c.SHA, &c.Author, &c.CommittedAt, &c.Additions, &c.Deletions, &c.Branch, &mrIID); err != nil {
			return nil, err
		}
		c.CommittedAt = c.CommittedAt.UTC()
		c.MergeRequestIID = Int64Ptr(mrIID)
		commits = append(commits, &c)
	}
	return commits, rows.Err()
}

func scanDeployments(ctx context.Context, q queryer, query string, args []any) ([]*domain.Deployment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []*domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		var status string
		var mrIID sql.NullInt64
		if err := rows.Scan(&d.ID, &mrIID, &d.Environment, &status, &d.DeployedAt, &d.CommitSHA); err != nil {
			return nil, err
		}
		d.Status = domain.DeploymentStatus(status)
		d.DeployedAt = d.DeployedAt.UTC()
		d.MergeRequestIID = Int64Ptr(mrIID)
		deployments = append(deployments, &d)
	}
	return deployments, rows.Err()
}

func scanIncidents(ctx context.Context, q queryer, query string, args []any) ([]*domain.Incident, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []*domain.Incident
	for rows.Next() {
		var inc domain.Incident
		var resolvedAt sql.NullTime
		if err := rows.Scan(&inc.ID, &inc.Title, &inc.Severity, &inc.DetectedAt, &resolvedAt); err != nil {
			return nil, err
		}
		inc.DetectedAt = inc.DetectedAt.UTC()
		inc.ResolvedAt = TimePtr(resolvedAt)
		incidents = append(incidents, &inc)
	}
	return incidents, rows.Err()
}

func scanReviews(ctx context.Context, q queryer, query string, args []any) ([]*domain.Review, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []*domain.Review
	for rows.Next() {
		var r domain.Review
		if err := rows.Scan(&r.ID, &r.MergeRequestIID, &r.Reviewer, &r.SubmittedAt, &r.CommentCount, &r.State); err != nil {
			return nil, err
		}
		r.SubmittedAt = r.SubmittedAt.UTC()
		reviews = append(reviews, &r)
	}
	return reviews, rows.Err()
}

// ScanTeamMembers runs query with the project id and scans (id, project_id, username, name) rows
func ScanTeamMembers(ctx context.Context, q queryer, query string, projectID int64) ([]*domain.TeamMember, error) {
	rows, err := q.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*domain.TeamMember
	for rows.Next() {
		var m domain.TeamMember
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Username, &m.Name); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}
