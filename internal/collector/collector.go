package collector

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
	"github.com/kurihiro0119/workmetrics/internal/storage"
)

// Repository identifies a repository on the source-control host
type Repository struct {
	HostID   int64
	Owner    string
	Name     string
	FullName string
	URL      string
}

// FetchedMergeRequest is a merge request together with the sha its merge produced
type FetchedMergeRequest struct {
	*domain.MergeRequest
	MergeCommitSHA string
}

// Source reads raw project events from a source-control host
type Source interface {
	// GetRepository resolves owner/name to the host's view of the repository
	GetRepository(ctx context.Context, owner, name string) (*Repository, error)

	// GetMergeRequests returns merge requests updated at or after since
	GetMergeRequests(ctx context.Context, repo *Repository, since time.Time) ([]*FetchedMergeRequest, error)

	// GetMergeRequestCommits returns the commits of one merge request, linked to it
	GetMergeRequestCommits(ctx context.Context, repo *Repository, iid int64) ([]*domain.Commit, error)

	// GetReviews returns the submitted reviews of one merge request
	GetReviews(ctx context.Context, repo *Repository, iid int64) ([]*domain.Review, error)

	// GetCommits returns default-branch commits at or after since, with line stats
	GetCommits(ctx context.Context, repo *Repository, since time.Time) ([]*domain.Commit, error)

	// GetDeployments returns finished deployments at or after since
	GetDeployments(ctx context.Context, repo *Repository, since time.Time) ([]*domain.Deployment, error)

	// GetIncidents returns incidents detected or updated at or after since
	GetIncidents(ctx context.Context, repo *Repository, since time.Time) ([]*domain.Incident, error)

	// GetContributors returns the people who have committed to the repository
	GetContributors(ctx context.Context, repo *Repository) ([]*domain.TeamMember, error)
}

// Options configures a Collector
type Options struct {
	// Concurrency bounds the merge requests whose details are fetched at once
	Concurrency int
}

// Collector pulls events of registered projects into the event store
type Collector struct {
	source  Source
	storage storage.Storage
	opts    Options
	logger  logrus.FieldLogger
	now     func() time.Time
}

// NewCollector creates a new collector
func NewCollector(source Source, store storage.Storage, opts Options, logger logrus.FieldLogger) *Collector {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Collector{
		source:  source,
		storage: store,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// ResolveProject looks a repository URL up on the host and returns an unsaved project for it
func (c *Collector) ResolveProject(ctx context.Context, rawURL string) (*domain.Project, error) {
	owner, name, err := ParseRepositoryURL(rawURL)
	if err != nil {
		return nil, err
	}
	repo, err := c.source.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	return &domain.Project{
		HostID: repo.HostID,
		Name:   repo.FullName,
		URL:    repo.URL,
	}, nil
}

// Refresh collects every event of the project since the given time and upserts it
func (c *Collector) Refresh(ctx context.Context, projectID int64, since time.Time) (*domain.SyncResult, error) {
	project, err := c.storage.GetProject(ctx, projectID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, err
		}
		return nil, apperrors.NewUpstreamUnavailableError("failed to look up project", err)
	}

	owner, name, err := ParseRepositoryURL(project.URL)
	if err != nil {
		return nil, err
	}
	repo := &Repository{HostID: project.HostID, Owner: owner, Name: name, FullName: owner + "/" + name, URL: project.URL}

	logger := c.logger.WithFields(logrus.Fields{"project_id": projectID, "repository": repo.FullName})
	logger.WithField("since", since.Format(domain.DateLayout)).Info("collecting project events")

	batch, err := c.fetch(ctx, repo, since)
	if err != nil {
		return nil, err
	}

	if err := c.save(ctx, projectID, batch); err != nil {
		return nil, err
	}

	syncedAt := c.now().UTC()
	if err := c.storage.MarkProjectSynced(ctx, projectID, syncedAt); err != nil {
		return nil, apperrors.NewUpstreamUnavailableError("failed to mark project synced", err)
	}

	result := &domain.SyncResult{
		ProjectID:     projectID,
		Since:         since,
		SyncedAt:      syncedAt,
		MergeRequests: len(batch.mergeRequests),
		Commits:       len(batch.commits),
		Deployments:   len(batch.deployments),
		Incidents:     len(batch.incidents),
		Reviews:       len(batch.reviews),
		TeamMembers:   len(batch.members),
	}
	logger.WithFields(logrus.Fields{
		"merge_requests": result.MergeRequests,
		"commits":        result.Commits,
		"deployments":    result.Deployments,
		"incidents":      result.Incidents,
		"reviews":        result.Reviews,
	}).Info("collected project events")
	return result, nil
}

type eventBatch struct {
	mergeRequests []*domain.MergeRequest
	commits       []*domain.Commit
	deployments   []*domain.Deployment
	incidents     []*domain.Incident
	reviews       []*domain.Review
	members       []*domain.TeamMember
}

func (c *Collector) fetch(ctx context.Context, repo *Repository, since time.Time) (*eventBatch, error) {
	fetched, err := c.source.GetMergeRequests(ctx, repo, since)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		linked  []*domain.Commit
		reviews []*domain.Review
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, f := range fetched {
		mr := f.MergeRequest
		g.Go(func() error {
			commits, err := c.source.GetMergeRequestCommits(gctx, repo, mr.IID)
			if err != nil {
				return err
			}
			rs, err := c.source.GetReviews(gctx, repo, mr.IID)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if first := earliestCommit(commits); first != nil && mr.FirstCommitAt == nil {
				mr.FirstCommitAt = first
			}
			linked = append(linked, commits...)
			reviews = append(reviews, rs...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	branchCommits, err := c.source.GetCommits(ctx, repo, since)
	if err != nil {
		return nil, err
	}
	deployments, err := c.source.GetDeployments(ctx, repo, since)
	if err != nil {
		return nil, err
	}
	incidents, err := c.source.GetIncidents(ctx, repo, since)
	if err != nil {
		return nil, err
	}
	members, err := c.source.GetContributors(ctx, repo)
	if err != nil {
		return nil, err
	}

	batch := &eventBatch{
		commits:     mergeCommits(branchCommits, linked),
		deployments: deployments,
		incidents:   incidents,
		reviews:     reviews,
		members:     members,
	}
	for _, f := range fetched {
		batch.mergeRequests = append(batch.mergeRequests, f.MergeRequest)
	}
	linkDeployments(deployments, fetched, batch.commits)

	sort.Slice(batch.mergeRequests, func(i, j int) bool { return batch.mergeRequests[i].IID < batch.mergeRequests[j].IID })
	sort.Slice(batch.reviews, func(i, j int) bool { return batch.reviews[i].ID < batch.reviews[j].ID })
	return batch, nil
}

func (c *Collector) save(ctx context.Context, projectID int64, batch *eventBatch) error {
	steps := []struct {
		what string
		fn   func() error
	}{
		{"merge requests", func() error { return c.storage.SaveMergeRequests(ctx, projectID, batch.mergeRequests) }},
		{"commits", func() error { return c.storage.SaveCommits(ctx, projectID, batch.commits) }},
		{"deployments", func() error { return c.storage.SaveDeployments(ctx, projectID, batch.deployments) }},
		{"incidents", func() error { return c.storage.SaveIncidents(ctx, projectID, batch.incidents) }},
		{"reviews", func() error { return c.storage.SaveReviews(ctx, projectID, batch.reviews) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return apperrors.NewUpstreamUnavailableError("failed to save "+step.what, err)
		}
	}
	for _, m := range batch.members {
		m.ProjectID = projectID
		if err := c.storage.SaveTeamMember(ctx, m); err != nil {
			return apperrors.NewUpstreamUnavailableError("failed to save team member "+m.Username, err)
		}
	}
	return nil
}

func earliestCommit(commits []*domain.Commit) *time.Time {
	var first *time.Time
	for _, cm := range commits {
		if first == nil || cm.CommittedAt.Before(*first) {
			t := cm.CommittedAt
			first = &t
		}
	}
	return first
}

// mergeCommits unions branch and merge request commits by sha. A sha seen on both sides
// keeps the branch side's line stats and gains the merge request link.
func mergeCommits(branch, linked []*domain.Commit) []*domain.Commit {
	bySHA := make(map[string]*domain.Commit, len(branch)+len(linked))
	var out []*domain.Commit
	for _, cm := range branch {
		if _, ok := bySHA[cm.SHA]; ok {
			continue
		}
		bySHA[cm.SHA] = cm
		out = append(out, cm)
	}
	for _, cm := range linked {
		existing, ok := bySHA[cm.SHA]
		if !ok {
			bySHA[cm.SHA] = cm
			out = append(out, cm)
			continue
		}
		if existing.MergeRequestIID == nil {
			existing.MergeRequestIID = cm.MergeRequestIID
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CommittedAt.Equal(out[j].CommittedAt) {
			return out[i].CommittedAt.Before(out[j].CommittedAt)
		}
		return out[i].SHA < out[j].SHA
	})
	return out
}

// linkDeployments attributes each unlinked deployment to the merge request whose merge
// commit, or one of whose commits, it deployed
func linkDeployments(deployments []*domain.Deployment, mrs []*FetchedMergeRequest, commits []*domain.Commit) {
	owner := make(map[string]int64)
	for _, cm := range commits {
		if cm.MergeRequestIID != nil {
			owner[cm.SHA] = *cm.MergeRequestIID
		}
	}
	for _, mr := range mrs {
		if mr.MergeCommitSHA != "" {
			owner[mr.MergeCommitSHA] = mr.IID
		}
	}
	for _, d := range deployments {
		if d.MergeRequestIID != nil {
			continue
		}
		if iid, ok := owner[d.CommitSHA]; ok {
			d.MergeRequestIID = &iid
		}
	}
}

// ParseRepositoryURL extracts owner and repository name from a repository URL.
// It accepts https and ssh clone URLs as well as a bare owner/name.
func ParseRepositoryURL(raw string) (owner, name string, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", apperrors.NewInvalidParameterError("repository url is required")
	}

	var path string
	switch {
	case strings.HasPrefix(s, "git@"):
		_, path, _ = strings.Cut(s, ":")
	case strings.Contains(s, "://"):
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", apperrors.NewInvalidParameterError(fmt.Sprintf("invalid repository url %q", raw))
		}
		path = u.Path
	default:
		path = s
		if host, rest, ok := strings.Cut(s, "/"); ok && strings.Contains(host, ".") {
			path = rest
		}
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", apperrors.NewInvalidParameterError(fmt.Sprintf("repository url %q must name owner/repository", raw))
	}
	return parts[0], parts[1], nil
}
