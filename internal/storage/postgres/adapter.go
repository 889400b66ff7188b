package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
	"github.com/kurihiro0119/workmetrics/internal/storage"
	"github.com/kurihiro0119/workmetrics/internal/storage/migrations"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	return migrations.Up(ctx, s.db, migrations.DialectPostgres)
}

var snapshotQueries = storage.SnapshotQueries{
	MergeRequests: `
		SELECT iid, title, author, state, created_at, merged_at, closed_at, first_commit_at, source_branch, target_branch
		FROM merge_requests
		WHERE project_id = $1 AND (
			(created_at >= $2 AND created_at < $3)
			OR (merged_at >= $2 AND merged_at < $3)
			OR (closed_at >= $2 AND closed_at < $3)
			OR iid IN (
				SELECT merge_request_iid FROM deployments
				WHERE project_id = $1 AND deployed_at >= $2 AND deployed_at < $3 AND merge_request_iid IS NOT NULL
			)
			OR iid IN (
				SELECT merge_request_iid FROM reviews
				WHERE project_id = $1 AND submitted_at >= $2 AND submitted_at < $3
			)
		)
		ORDER BY iid
	`,
	Commits: `
		SELECT sha, author, committed_at, additions, deletions, branch, merge_request_iid
		FROM commits
		WHERE project_id = $1 AND (
			(committed_at >= $2 AND committed_at < $3)
			OR merge_request_iid IN (
				SELECT iid FROM merge_requests
				WHERE project_id = $1 AND merged_at >= $2 AND merged_at < $3
			)
		)
		ORDER BY committed_at, sha
	`,
	Deployments: `
		SELECT id, merge_request_iid, environment, status, deployed_at, commit_sha
		FROM deployments
		WHERE project_id = $1 AND deployed_at >= $2 AND deployed_at < $3
		ORDER BY deployed_at, id
	`,
	Incidents: `
		SELECT id, title, severity, detected_at, resolved_at
		FROM incidents
		WHERE project_id = $1 AND (
			(resolved_at >= $2 AND resolved_at < $3)
			OR (detected_at >= $2 AND detected_at < $3)
		)
		ORDER BY detected_at, id
	`,
	Reviews: `
		SELECT id, merge_request_iid, reviewer, submitted_at, comment_count, state
		FROM reviews
		WHERE project_id = $1 AND submitted_at >= $2 AND submitted_at < $3
		ORDER BY submitted_at, id
	`,
	TeamMembers: `
		SELECT id, project_id, username, name FROM team_members WHERE project_id = $1 ORDER BY username
	`,
}

// Snapshot reads the event set of a window inside one transaction
func (s *postgresStorage) Snapshot(ctx context.Context, projectID int64, window domain.TimeWindow) (*domain.EventSet, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	set, err := storage.ReadSnapshot(ctx, tx, snapshotQueries, projectID, window)
	if err != nil {
		return nil, err
	}
	return set, tx.Commit()
}

// SaveProject inserts or updates a project keyed by its host-side id and fills in its ID
func (s *postgresStorage) SaveProject(ctx context.Context, project *domain.Project) error {
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now

	query := `
		INSERT INTO projects (gitlab_id, name, url, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (gitlab_id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			last_synced_at = COALESCE(EXCLUDED.last_synced_at, projects.last_synced_at),
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	return s.db.QueryRowContext(ctx, query,
		project.HostID,
		project.Name,
		project.URL,
		storage.NullTime(project.LastSyncedAt),
		project.CreatedAt.UTC(),
		project.UpdatedAt,
	).Scan(&project.ID)
}

// GetProject retrieves a project by id
func (s *postgresStorage) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	query := `
		SELECT id, gitlab_id, name, url, last_synced_at, created_at, updated_at
		FROM projects
		WHERE id = $1
	`
	p, err := scanProject(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("project %d", id))
	}
	return p, err
}

// ListProjects retrieves every registered project
func (s *postgresStorage) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gitlab_id, name, url, last_synced_at, created_at, updated_at
		FROM projects
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// MarkProjectSynced records the time of the last successful collection
func (s *postgresStorage) MarkProjectSynced(ctx context.Context, id int64, syncedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET last_synced_at = $1, updated_at = $2 WHERE id = $3`,
		syncedAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("project %d", id))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*domain.Project, error) {
	var p domain.Project
	var lastSyncedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.HostID, &p.Name, &p.URL, &lastSyncedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.LastSyncedAt = storage.TimePtr(lastSyncedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// SaveTeamMember inserts or updates a team member and fills in its ID
func (s *postgresStorage) SaveTeamMember(ctx context.Context, member *domain.TeamMember) error {
	query := `
		INSERT INTO team_members (project_id, username, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, username) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name = '' THEN team_members.name ELSE EXCLUDED.name END
		RETURNING id
	`
	return s.db.QueryRowContext(ctx, query, member.ProjectID, member.Username, member.Name).Scan(&member.ID)
}

// GetTeamMembers retrieves the registered members of a project
func (s *postgresStorage) GetTeamMembers(ctx context.Context, projectID int64) ([]*domain.TeamMember, error) {
	return storage.ScanTeamMembers(ctx, s.db, snapshotQueries.TeamMembers, projectID)
}

// SaveMergeRequests saves multiple merge requests
func (s *postgresStorage) SaveMergeRequests(ctx context.Context, projectID int64, mrs []*domain.MergeRequest) error {
	return s.execBatch(ctx, `
		INSERT INTO merge_requests (project_id, iid, title, author, state, created_at, merged_at, closed_at, first_commit_at, source_branch, target_branch)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (project_id, iid) DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			state = EXCLUDED.state,
			created_at = EXCLUDED.created_at,
			merged_at = EXCLUDED.merged_at,
			closed_at = EXCLUDED.closed_at,
			first_commit_at = EXCLUDED.first_commit_at,
			source_branch = EXCLUDED.source_branch,
			target_branch = EXCLUDED.target_branch
	`, len(mrs), func(i int) []any {
		mr := mrs[i]
		return []any{projectID, mr.IID, mr.Title, mr.Author, string(mr.State), mr.CreatedAt.UTC(),
			storage.NullTime(mr.MergedAt), storage.NullTime(mr.ClosedAt), storage.NullTime(mr.FirstCommitAt),
			mr.SourceBranch, mr.TargetBranch}
	})
}

// SaveCommits saves multiple commits
func (s *postgresStorage) SaveCommits(ctx context.Context, projectID int64, commits []*domain.Commit) error {
	return s.execBatch(ctx, `
		INSERT INTO commits (project_id, sha, author, committed_at, additions, deletions, branch, merge_request_iid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, sha) DO UPDATE SET
			author = EXCLUDED.author,
			committed_at = EXCLUDED.committed_at,
			additions = EXCLUDED.additions,
			deletions = EXCLUDED.deletions,
			branch = CASE WHEN EXCLUDED.branch = '' THEN commits.branch ELSE EXCLUDED.branch END,
			merge_request_iid = COALESCE(EXCLUDED.merge_request_iid, commits.merge_request_iid)
	`, len(commits), func(i int) []any {
		c := commits[i]
		return []any{projectID, c.SHA, c.Author, c.CommittedAt.UTC(), c.Additions, c.Deletions, c.Branch,
			storage.NullInt64(c.MergeRequestIID)}
	})
}

// SaveDeployments saves multiple deployments
func (s *postgresStorage) SaveDeployments(ctx context.Context, projectID int64, deployments []*domain.Deployment) error {
	return s.execBatch(ctx, `
		INSERT INTO deployments (project_id, id, merge_request_iid, environment, status, deployed_at, commit_sha)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, id) DO UPDATE SET
			merge_request_iid = EXCLUDED.merge_request_iid,
			environment = EXCLUDED.environment,
			status = EXCLUDED.status,
			deployed_at = EXCLUDED.deployed_at,
			commit_sha = EXCLUDED.commit_sha
	`, len(deployments), func(i int) []any {
		d := deployments[i]
		return []any{projectID, d.ID, storage.NullInt64(d.MergeRequestIID), d.Environment, string(d.Status),
			d.DeployedAt.UTC(), d.CommitSHA}
	})
}

// SaveIncidents saves multiple incidents
func (s *postgresStorage) SaveIncidents(ctx context.Context, projectID int64, incidents []*domain.Incident) error {
	return s.execBatch(ctx, `
		INSERT INTO incidents (project_id, id, title, severity, detected_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, id) DO UPDATE SET
			title = EXCLUDED.title,
			severity = EXCLUDED.severity,
			detected_at = EXCLUDED.detected_at,
			resolved_at = EXCLUDED.resolved_at
	`, len(incidents), func(i int) []any {
		inc := incidents[i]
		return []any{projectID, inc.ID, inc.Title, inc.Severity, inc.DetectedAt.UTC(), storage.NullTime(inc.ResolvedAt)}
	})
}

// SaveReviews saves multiple reviews
func (s *postgresStorage) SaveReviews(ctx context.Context, projectID int64, reviews []*domain.Review) error {
	return s.execBatch(ctx, `
		INSERT INTO reviews (project_id, id, merge_request_iid, reviewer, submitted_at, comment_count, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, id) DO UPDATE SET
			merge_request_iid = EXCLUDED.merge_request_iid,
			reviewer = EXCLUDED.reviewer,
			submitted_at = EXCLUDED.submitted_at,
			comment_count = EXCLUDED.comment_count,
			state = EXCLUDED.state
	`, len(reviews), func(i int) []any {
		r := reviews[i]
		return []any{projectID, r.ID, r.MergeRequestIID, r.Reviewer, r.SubmittedAt.UTC(), r.CommentCount, r.State}
	})
}

// execBatch runs one prepared statement n times inside a transaction
func (s *postgresStorage) execBatch(ctx context.Context, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Ping checks that the database is reachable
func (s *postgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
