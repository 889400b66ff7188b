package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kurihiro0119/workmetrics/internal/aggregator"
	"github.com/kurihiro0119/workmetrics/internal/collector"
	"github.com/kurihiro0119/workmetrics/internal/config"
	"github.com/kurihiro0119/workmetrics/internal/domain"
	"github.com/kurihiro0119/workmetrics/internal/logging"
	"github.com/kurihiro0119/workmetrics/internal/storage"
	"github.com/kurihiro0119/workmetrics/internal/storage/postgres"
	"github.com/kurihiro0119/workmetrics/internal/storage/sqlite"
	"github.com/kurihiro0119/workmetrics/pkg/client"
)

// metrics computes the three aggregates of a project window
type metrics interface {
	FourKeys(ctx context.Context, projectID int64, startDate, endDate string) (*domain.FourKeysMetrics, error)
	CycleTime(ctx context.Context, projectID int64, startDate, endDate string, limit int) (*domain.CycleTimeReport, error)
	TeamActivity(ctx context.Context, projectID int64, startDate, endDate string) (*domain.TeamActivityReport, error)
}

// backend is what the commands run against: the local store or a remote API server
type backend interface {
	metrics
	ListProjects(ctx context.Context) ([]*domain.Project, error)
	RegisterProject(ctx context.Context, repoURL string) (*domain.Project, error)
	Refresh(ctx context.Context, projectID int64, since time.Time) (*domain.SyncResult, error)
	Close() error
}

var errNoToken = errors.New("GITHUB_TOKEN is required to read from GitHub")

func openBackend() (backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var coll *collector.Collector
	var store storage.Storage
	if !remote {
		store, err = getStorage(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
	}
	if cfg.GitHubToken != "" {
		source := collector.NewGitHubSource(collector.GitHubConfig{
			Token:         cfg.GitHubToken,
			IncidentLabel: cfg.IncidentLabel,
			MinDelay:      100 * time.Millisecond,
		}, logger)
		coll = collector.NewCollector(source, store, collector.Options{}, logger)
	}

	if remote {
		return &remoteBackend{client: client.NewClient(cfg.APIEndpoint), collector: coll}, nil
	}
	agg := aggregator.NewAggregator(store, aggregator.Config{
		Options: aggregator.Options{
			DeployEnvironment: cfg.DeployEnvironment,
			DistributionLimit: cfg.DistributionLimit,
		},
		QueryTimeout: cfg.QueryTimeout,
	}, logger)
	return &localBackend{Aggregator: agg, store: store, collector: coll}, nil
}

func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

type localBackend struct {
	aggregator.Aggregator
	store     storage.Storage
	collector *collector.Collector
}

func (b *localBackend) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	return b.store.ListProjects(ctx)
}

func (b *localBackend) RegisterProject(ctx context.Context, repoURL string) (*domain.Project, error) {
	if b.collector == nil {
		return nil, errNoToken
	}
	project, err := b.collector.ResolveProject(ctx, repoURL)
	if err != nil {
		return nil, err
	}
	if err := b.store.SaveProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

func (b *localBackend) Refresh(ctx context.Context, projectID int64, since time.Time) (*domain.SyncResult, error) {
	if b.collector == nil {
		return nil, errNoToken
	}
	return b.collector.Refresh(ctx, projectID, since)
}

func (b *localBackend) Close() error {
	return b.store.Close()
}

// remoteBackend forwards every command to the API server; collection runs server side
type remoteBackend struct {
	client    *client.Client
	collector *collector.Collector
}

func (b *remoteBackend) FourKeys(ctx context.Context, projectID int64, startDate, endDate string) (*domain.FourKeysMetrics, error) {
	window, err := aggregator.ParseWindow(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return b.client.GetFourKeys(ctx, projectID, window.Start, window.End)
}

func (b *remoteBackend) CycleTime(ctx context.Context, projectID int64, startDate, endDate string, limit int) (*domain.CycleTimeReport, error) {
	window, err := aggregator.ParseWindow(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return b.client.GetCycleTime(ctx, projectID, window.Start, window.End, limit)
}

func (b *remoteBackend) TeamActivity(ctx context.Context, projectID int64, startDate, endDate string) (*domain.TeamActivityReport, error) {
	window, err := aggregator.ParseWindow(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return b.client.GetTeamActivity(ctx, projectID, window.Start, window.End)
}

func (b *remoteBackend) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	return b.client.ListProjects(ctx)
}

// RegisterProject resolves the repository on GitHub locally, then registers it remotely
func (b *remoteBackend) RegisterProject(ctx context.Context, repoURL string) (*domain.Project, error) {
	if b.collector == nil {
		return nil, errNoToken
	}
	project, err := b.collector.ResolveProject(ctx, repoURL)
	if err != nil {
		return nil, err
	}
	return b.client.RegisterProject(ctx, project)
}

func (b *remoteBackend) Refresh(ctx context.Context, projectID int64, since time.Time) (*domain.SyncResult, error) {
	return b.client.Refresh(ctx, projectID, since)
}

func (b *remoteBackend) Close() error {
	return nil
}
