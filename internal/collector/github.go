package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
)

// GitHubConfig configures the GitHub source
type GitHubConfig struct {
	Token string
	// IncidentLabel marks the issues that are production incidents
	IncidentLabel string
	// MinDelay spaces consecutive API calls
	MinDelay time.Duration
}

// githubSource implements Source using the GitHub REST API
type githubSource struct {
	client        *github.Client
	rateLimiter   RateLimiter
	incidentLabel string
	logger        logrus.FieldLogger
}

// NewGitHubSource creates a new GitHub source
func NewGitHubSource(cfg GitHubConfig, logger logrus.FieldLogger) Source {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cfg.Token},
	)
	tc := oauth2.NewClient(context.Background(), ts)
	return newGitHubSource(github.NewClient(tc), cfg, logger)
}

func newGitHubSource(client *github.Client, cfg GitHubConfig, logger logrus.FieldLogger) *githubSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.IncidentLabel == "" {
		cfg.IncidentLabel = "incident"
	}
	return &githubSource{
		client:        client,
		rateLimiter:   NewRateLimiter(cfg.MinDelay, logger),
		incidentLabel: cfg.IncidentLabel,
		logger:        logger,
	}
}

func (s *githubSource) GetRepository(ctx context.Context, owner, name string) (*Repository, error) {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	repo, resp, err := s.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, classify(err, resp, "repository "+owner+"/"+name)
	}
	s.updateRateLimitFromResponse(resp)

	return &Repository{
		HostID:   repo.GetID(),
		Owner:    owner,
		Name:     name,
		FullName: repo.GetFullName(),
		URL:      repo.GetHTMLURL(),
	}, nil
}

// GetMergeRequests pages pull requests newest-update first and stops at the first one
// last touched before since
func (s *githubSource) GetMergeRequests(ctx context.Context, repo *Repository, since time.Time) ([]*FetchedMergeRequest, error) {
	var all []*FetchedMergeRequest
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		prs, resp, err := s.client.PullRequests.List(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			return nil, classify(err, resp, "pull requests of "+repo.FullName)
		}
		s.updateRateLimitFromResponse(resp)

		for _, pr := range prs {
			if pr.GetUpdatedAt().Time.Before(since) {
				return all, nil
			}
			all = append(all, toMergeRequest(pr))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

func (s *githubSource) GetMergeRequestCommits(ctx context.Context, repo *Repository, iid int64) ([]*domain.Commit, error) {
	var all []*domain.Commit
	opts := &github.ListOptions{PerPage: 100}

	for {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		commits, resp, err := s.client.PullRequests.ListCommits(ctx, repo.Owner, repo.Name, int(iid), opts)
		if err != nil {
			return nil, classify(err, resp, fmt.Sprintf("commits of pull request #%d", iid))
		}
		s.updateRateLimitFromResponse(resp)

		for _, rc := range commits {
			cm := toCommit(rc)
			link := iid
			cm.MergeRequestIID = &link
			all = append(all, cm)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// GetReviews returns submitted reviews with the number of inline comments each carried.
// Pending reviews have no submission time and are dropped.
func (s *githubSource) GetReviews(ctx context.Context, repo *Repository, iid int64) ([]*domain.Review, error) {
	comments, err := s.reviewCommentCounts(ctx, repo, iid)
	if err != nil {
		return nil, err
	}

	var all []*domain.Review
	opts := &github.ListOptions{PerPage: 100}
	for {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		reviews, resp, err := s.client.PullRequests.ListReviews(ctx, repo.Owner, repo.Name, int(iid), opts)
		if err != nil {
			return nil, classify(err, resp, fmt.Sprintf("reviews of pull request #%d", iid))
		}
		s.updateRateLimitFromResponse(resp)

		for _, r := range reviews {
			if review := toReview(r, iid, comments[r.GetID()]); review != nil {
				all = append(all, review)
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

func (s *githubSource) reviewCommentCounts(ctx context.Context, repo *Repository, iid int64) (map[int64]int, error) {
	counts := make(map[int64]int)
	opts := &github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		comments, resp, err := s.client.PullRequests.ListComments(ctx, repo.Owner, repo.Name, int(iid), opts)
		if err != nil {
			return nil, classify(err, resp, fmt.Sprintf("review comments of pull request #%d", iid))
		}
		s.updateRateLimitFromResponse(resp)

		for _, c := range comments {
			if id := c.GetPullRequestReviewID(); id != 0 {
				counts[id]++
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return counts, nil
}

// GetCommits retrieves default-branch commits with their line stats
func (s *githubSource) GetCommits(ctx context.Context, repo *Repository, since time.Time) ([]*domain.Commit, error) {
	var all []*domain.Commit
	opts := &github.CommitsListOptions{
		Since:       since,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		commits, resp, err := s.client.Repositories.ListCommits(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			// An empty repository has no commits to list
			if resp != nil && resp.StatusCode == http.StatusConflict {
				return all, nil
			}
			return nil, classify(err, resp, "commits of "+repo.FullName)
		}
		s.updateRateLimitFromResponse(resp)

		for _, rc := range commits {
			cm := toCommit(rc)

			if err := s.rateLimiter.Wait(ctx); err != nil {
				return nil, err
			}
			detail, detailResp, err := s.client.Repositories.GetCommit(ctx, repo.Owner, repo.Name, rc.GetSHA(), nil)
			if err == nil {
				s.updateRateLimitFromResponse(detailResp)
				if detail.Stats != nil {
					cm.Additions = detail.Stats.GetAdditions()
					cm.Deletions = detail.Stats.GetDeletions()
				}
			} else {
				s.logger.WithError(err).WithField("sha", rc.GetSHA()).Warn("failed to read commit stats")
			}
			all = append(all, cm)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// GetDeployments retrieves deployments whose latest status is final. The deployment
// time is the time the outcome was reported: for a superseded (inactive) deployment that
// is its success status, not the later inactive one.
func (s *githubSource) GetDeployments(ctx context.Context, repo *Repository, since time.Time) ([]*domain.Deployment, error) {
	var all []*domain.Deployment
	opts := &github.DeploymentsListOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		deployments, resp, err := s.client.Repositories.ListDeployments(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return all, nil
			}
			return nil, classify(err, resp, "deployments of "+repo.FullName)
		}
		s.updateRateLimitFromResponse(resp)

		for _, d := range deployments {
			if d.GetCreatedAt().Time.Before(since) {
				// Deployments are listed newest first
				return all, nil
			}

			statuses, err := s.deploymentStatuses(ctx, repo, d.GetID())
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.logger.WithError(err).WithField("deployment_id", d.GetID()).Warn("failed to read deployment status")
				continue
			}
			if dep := toDeployment(d, statuses); dep != nil {
				all = append(all, dep)
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// deploymentStatuses lists every status of a deployment, newest first
func (s *githubSource) deploymentStatuses(ctx context.Context, repo *Repository, id int64) ([]*github.DeploymentStatus, error) {
	var all []*github.DeploymentStatus
	opts := &github.ListOptions{PerPage: 100}
	for {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		statuses, resp, err := s.client.Repositories.ListDeploymentStatuses(ctx, repo.Owner, repo.Name, id, opts)
		if err != nil {
			return nil, classify(err, resp, fmt.Sprintf("statuses of deployment %d", id))
		}
		s.updateRateLimitFromResponse(resp)
		all = append(all, statuses...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetIncidents reads issues carrying the incident label
func (s *githubSource) GetIncidents(ctx context.Context, repo *Repository, since time.Time) ([]*domain.Incident, error) {
	var all []*domain.Incident
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Labels:      []string{s.incidentLabel},
		Since:       since,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		issues, resp, err := s.client.Issues.ListByRepo(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			return nil, classify(err, resp, "incidents of "+repo.FullName)
		}
		s.updateRateLimitFromResponse(resp)

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			all = append(all, toIncident(issue))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

func (s *githubSource) GetContributors(ctx context.Context, repo *Repository) ([]*domain.TeamMember, error) {
	var all []*domain.TeamMember
	opts := &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		if err := s.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		contributors, resp, err := s.client.Repositories.ListContributors(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			// GitHub answers 204 for an empty repository
			if resp != nil && resp.StatusCode == http.StatusNoContent {
				return all, nil
			}
			return nil, classify(err, resp, "contributors of "+repo.FullName)
		}
		s.updateRateLimitFromResponse(resp)

		for _, c := range contributors {
			if c.GetLogin() == "" {
				continue
			}
			all = append(all, &domain.TeamMember{Username: c.GetLogin(), Name: c.GetLogin()})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// updateRateLimitFromResponse updates the rate limiter from API response
func (s *githubSource) updateRateLimitFromResponse(resp *github.Response) {
	if resp != nil && resp.Rate.Limit > 0 {
		s.rateLimiter.UpdateLimit(resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
}

// classify maps a GitHub client error onto the application error codes
func classify(err error, resp *github.Response, what string) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return apperrors.NewRateLimitedError("github rate limit exceeded while reading " + what)
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return apperrors.NewUnauthorizedError("github rejected the token")
		case http.StatusNotFound:
			return apperrors.NewNotFoundError(what)
		}
	}
	return apperrors.NewUpstreamUnavailableError("failed to read "+what+" from github", err)
}

func toMergeRequest(pr *github.PullRequest) *FetchedMergeRequest {
	mr := &domain.MergeRequest{
		IID:          int64(pr.GetNumber()),
		Title:        pr.GetTitle(),
		Author:       pr.GetUser().GetLogin(),
		State:        domain.MergeRequestOpened,
		CreatedAt:    pr.GetCreatedAt().Time.UTC(),
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
	}
	if pr.MergedAt != nil {
		t := pr.MergedAt.Time.UTC()
		mr.MergedAt = &t
		mr.State = domain.MergeRequestMerged
	} else if pr.GetState() == "closed" {
		mr.State = domain.MergeRequestClosed
	}
	if pr.ClosedAt != nil {
		t := pr.ClosedAt.Time.UTC()
		mr.ClosedAt = &t
	}

	out := &FetchedMergeRequest{MergeRequest: mr}
	if mr.IsMerged() {
		out.MergeCommitSHA = pr.GetMergeCommitSHA()
	}
	return out
}

func toCommit(rc *github.RepositoryCommit) *domain.Commit {
	cm := &domain.Commit{SHA: rc.GetSHA()}
	if rc.Author != nil {
		cm.Author = rc.Author.GetLogin()
	}
	if c := rc.GetCommit(); c != nil {
		if cm.Author == "" {
			cm.Author = c.GetAuthor().GetName()
		}
		cm.CommittedAt = c.GetAuthor().GetDate().Time.UTC()
	}
	if rc.Stats != nil {
		cm.Additions = rc.Stats.GetAdditions()
		cm.Deletions = rc.Stats.GetDeletions()
	}
	return cm
}

func toReview(r *github.PullRequestReview, iid int64, comments int) *domain.Review {
	if r.SubmittedAt == nil {
		return nil
	}
	state := strings.ToLower(r.GetState())
	switch state {
	case "approved", "changes_requested", "commented":
	case "dismissed":
		state = "commented"
	default:
		return nil
	}
	return &domain.Review{
		ID:              r.GetID(),
		MergeRequestIID: iid,
		Reviewer:        r.GetUser().GetLogin(),
		SubmittedAt:     r.SubmittedAt.Time.UTC(),
		CommentCount:    comments,
		State:           state,
	}
}

// deploymentStatus maps a GitHub deployment state to a final status; ok is false
// while the deployment is still in progress
func deploymentStatus(state string) (status domain.DeploymentStatus, ok bool) {
	switch state {
	case "success", "inactive":
		// inactive marks an earlier successful deployment superseded by a newer one
		return domain.DeploymentSuccess, true
	case "failure", "error":
		return domain.DeploymentFailure, true
	default:
		return "", false
	}
}

// toDeployment converts a deployment and its statuses (newest first). It returns nil
// while the deployment has no final status.
func toDeployment(d *github.Deployment, statuses []*github.DeploymentStatus) *domain.Deployment {
	if len(statuses) == 0 {
		return nil
	}
	latest := statuses[0]
	status, ok := deploymentStatus(latest.GetState())
	if !ok {
		return nil
	}

	reported := latest
	if latest.GetState() == "inactive" {
		reported = nil
		for _, st := range statuses {
			if st.GetState() == "success" {
				reported = st
				break
			}
		}
	}
	var deployedAt time.Time
	if reported != nil {
		deployedAt = reported.GetCreatedAt().Time
	}
	if deployedAt.IsZero() {
		deployedAt = d.GetCreatedAt().Time
	}
	return &domain.Deployment{
		ID:          d.GetID(),
		Environment: d.GetEnvironment(),
		Status:      status,
		DeployedAt:  deployedAt.UTC(),
		CommitSHA:   d.GetSHA(),
	}
}

func toIncident(issue *github.Issue) *domain.Incident {
	inc := &domain.Incident{
		ID:         int64(issue.GetNumber()),
		Title:      issue.GetTitle(),
		Severity:   severityOf(issue.Labels),
		DetectedAt: issue.GetCreatedAt().Time.UTC(),
	}
	if issue.ClosedAt != nil {
		t := issue.ClosedAt.Time.UTC()
		inc.ResolvedAt = &t
	}
	return inc
}

// severityOf reads a "severity:<level>" or "severity/<level>" label
func severityOf(labels []*github.Label) string {
	var found []string
	for _, l := range labels {
		name := strings.ToLower(l.GetName())
		for _, prefix := range []string{"severity:", "severity/"} {
			if level, ok := strings.CutPrefix(name, prefix); ok && level != "" {
				found = append(found, strings.TrimSpace(level))
			}
		}
	}
	if len(found) == 0 {
		return ""
	}
	sort.Strings(found)
	return found[0]
}
