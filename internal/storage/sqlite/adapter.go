package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
	"github.com/kurihiro0119/workmetrics/internal/storage"
	"github.com/kurihiro0119/workmetrics/internal/storage/migrations"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	return migrations.Up(ctx, s.db, migrations.DialectSQLite)
}

// Numbered parameters (?1, ?2, ?3) let the snapshot statements share one argument list.
var snapshotQueries = storage.SnapshotQueries{
	MergeRequests: `
		SELECT iid, title, author, state, created_at, merged_at, closed_at, first_commit_at, source_branch, target_branch
		FROM merge_requests
		WHERE project_id = ?1 AND (
			(created_at >= ?2 AND created_at < ?3)
			OR (merged_at >= ?2 AND merged_at < ?3)
			OR (closed_at >= ?2 AND closed_at < ?3)
			OR iid IN (
				SELECT merge_request_iid FROM deployments
				WHERE project_id = ?1 AND deployed_at >= ?2 AND deployed_at < ?3 AND merge_request_iid IS NOT NULL
			)
			OR iid IN (
				SELECT merge_request_iid FROM reviews
				WHERE project_id = ?1 AND submitted_at >= ?2 AND submitted_at < ?3
			)
		)
		ORDER BY iid
	`,
	Commits: `
		SELECT sha, author, committed_at, additions, deletions, branch, merge_request_iid
		FROM commits
		WHERE project_id = ?1 AND (
			(committed_at >= ?2 AND committed_at < ?3)
			OR merge_request_iid IN (
				SELECT iid FROM merge_requests
				WHERE project_id = ?1 AND merged_at >= ?2 AND merged_at < ?3
			)
		)
		ORDER BY committed_at, sha
	`,
	Deployments: `
		SELECT id, merge_request_iid, environment, status, deployed_at, commit_sha
		FROM deployments
		WHERE project_id = ?1 AND deployed_at >= ?2 AND deployed_at < ?3
		ORDER BY deployed_at, id
	`,
	Incidents: `
		SELECT id, title, severity, detected_at, resolved_at
		FROM incidents
		WHERE project_id = ?1 AND (
			(resolved_at >= ?2 AND resolved_at < ?3)
			OR (detected_at >= ?2 AND detected_at < ?3)
		)
		ORDER BY detected_at, id
	`,
	Reviews: `
		SELECT id, merge_request_iid, reviewer, submitted_at, comment_count, state
		FROM reviews
		WHERE project_id = ?1 AND submitted_at >= ?2 AND submitted_at < ?3
		ORDER BY submitted_at, id
	`,
	TeamMembers: `
		SELECT id, project_id, username, name FROM team_members WHERE project_id = ? ORDER BY username
	`,
}

// Snapshot reads the event set of a window inside one transaction
func (s *sqliteStorage) Snapshot(ctx context.Context, projectID int64, window domain.TimeWindow) (*domain.EventSet, error) {
	// SQLite transactions are serializable; the driver rejects the ReadOnly option on some builds
	tx, err := s.db.BeginTx(ctx, nil)
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
func (s *sqliteStorage) SaveProject(ctx context.Context, project *domain.Project) error {
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now

	query := `
		INSERT INTO projects (gitlab_id, name, url, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (gitlab_id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			last_synced_at = COALESCE(excluded.last_synced_at, projects.last_synced_at),
			updated_at = excluded.updated_at
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
func (s *sqliteStorage) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	query := `
		SELECT id, gitlab_id, name, url, last_synced_at, created_at, updated_at
		FROM projects
		WHERE id = ?
	`
	p, err := scanProject(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("project %d", id))
	}
	return p, err
}

// ListProjects retrieves every registered project
func (s *sqliteStorage) ListProjects(ctx context.Context) ([]*domain.Project, error) {
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
func (s *sqliteStorage) MarkProjectSynced(ctx context.Context, id int64, syncedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET last_synced_at = ?, updated_at = ? WHERE id = ?`,
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
func (s *sqliteStorage) SaveTeamMember(ctx context.Context, member *domain.TeamMember) error {
	query := `
		INSERT INTO team_members (project_id, username, name)
		VALUES (?, ?, ?)
		ON CONFLICT (project_id, username) DO UPDATE SET
			name = CASE WHEN excluded.name = '' THEN team_members.name ELSE excluded.name END
		RETURNING id
	`
	return s.db.QueryRowContext(ctx, query, member.ProjectID, member.Username, member.Name).Scan(&member.ID)
}

// GetTeamMembers retrieves the registered members of a project
func (s *sqliteStorage) GetTeamMembers(ctx context.Context, projectID int64) ([]*domain.TeamMember, error) {
	return storage.ScanTeamMembers(ctx, s.db, snapshotQueries.TeamMembers, projectID)
}

// SaveMergeRequests saves multiple merge requests
func (s *sqliteStorage) SaveMergeRequests(ctx context.Context, projectID int64, mrs []*domain.MergeRequest) error {
	return s.execBatch(ctx, `
		INSERT INTO merge_requests (project_id, iid, title, author, state, created_at, merged_at, closed_at, first_commit_at, source_branch, target_branch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, iid) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			state = excluded.state,
			created_at = excluded.created_at,
			merged_at = excluded.merged_at,
			closed_at = excluded.closed_at,
			first_commit_at = excluded.first_commit_at,
			source_branch = excluded.source_branch,
			target_branch = excluded.target_branch
	`, len(mrs), func(i int) []any {
		mr := mrs[i]
		return []any{projectID, mr.IID, mr.Title, mr.Author, string(mr.State), mr.CreatedAt.UTC(),
			storage.NullTime(mr.MergedAt), storage.NullTime(mr.ClosedAt), storage.NullTime(mr.FirstCommitAt),
			mr.SourceBranch, mr.TargetBranch}
	})
}

// SaveCommits saves multiple commits
func (s *sqliteStorage) SaveCommits(ctx context.Context, projectID int64, commits []*domain.Commit) error {
	return s.execBatch(ctx, `
		INSERT INTO commits (project_id, sha, author, committed_at, additions, deletions, branch, merge_request_iid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, sha) DO UPDATE SET
			author = excluded.author,
			committed_at = excluded.committed_at,
			additions = excluded.additions,
			deletions = excluded.deletions,
			branch = CASE WHEN excluded.branch = '' THEN commits.branch ELSE excluded.branch END,
			merge_request_iid = COALESCE(excluded.merge_request_iid, commits.merge_request_iid)
	`, len(commits), func(i int) []any {
		c := commits[i]
		return []any{projectID, c.SHA, c.Author, c.CommittedAt.UTC(), c.Additions, c.Deletions, c.Branch,
			storage.NullInt64(c.MergeRequestIID)}
	})
}

// SaveDeployments saves multiple deployments
func (s *sqliteStorage) SaveDeployments(ctx context.Context, projectID int64, deployments []*domain.Deployment) error {
	return s.execBatch(ctx, `
		INSERT INTO deployments (project_id, id, merge_request_iid, environment, status, deployed_at, commit_sha)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, id) DO UPDATE SET
			merge_request_iid = excluded.merge_request_iid,
			environment = excluded.environment,
			status = excluded.status,
			deployed_at = excluded.deployed_at,
			commit_sha = excluded.commit_sha
	`, len(deployments), func(i int) []any {
		d := deployments[i]
		return []any{projectID, d.ID, storage.NullInt64(d.MergeRequestIID), d.Environment, string(d.Status),
			d.DeployedAt.UTC(), d.CommitSHA}
	})
}

// SaveIncidents saves multiple incidents
func (s *sqliteStorage) SaveIncidents(ctx context.Context, projectID int64, incidents []*domain.Incident) error {
	return s.execBatch(ctx, `
		INSERT INTO incidents (project_id, id, title, severity, detected_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, id) DO UPDATE SET
			title = excluded.title,
			severity = excluded.severity,
			detected_at = excluded.detected_at,
			resolved_at = excluded.resolved_at
	`, len(incidents), func(i int) []any {
		inc := incidents[i]
		return []any{projectID, inc.ID, inc.Title, inc.Severity, inc.DetectedAt.UTC(), storage.NullTime(inc.ResolvedAt)}
	})
}

// SaveReviews saves multiple reviews
func (s *sqliteStorage) SaveReviews(ctx context.Context, projectID int64, reviews []*domain.Review) error {
	return s.execBatch(ctx, `
		INSERT INTO reviews (project_id, id, merge_request_iid, reviewer, submitted_at, comment_count, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, id) DO UPDATE SET
			merge_request_iid = excluded.merge_request_iid,
			reviewer = excluded.reviewer,
			submitted_at = excluded.submitted_at,
			comment_count = excluded.comment_count,
			state = excluded.state
	`, len(reviews), func(i int) []any {
		r := reviews[i]
		return []any{projectID, r.ID, r.MergeRequestIID, r.Reviewer, r.SubmittedAt.UTC(), r.CommentCount, r.State}
	})
}

// execBatch runs one prepared statement n times inside a transaction
func (s *sqliteStorage) execBatch(ctx context.Context, query string, n int, args func(i int) []any) error {
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
func (s *sqliteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
