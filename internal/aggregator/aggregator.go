package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
	"github.com/kurihiro0119/workmetrics/internal/storage"
	"github.com/kurihiro0119/workmetrics/internal/telemetry"
)

// Aggregator defines the interface for computing project metrics
type Aggregator interface {
	// FourKeys computes the DORA four keys of a project between two YYYY-MM-DD dates
	FourKeys(ctx context.Context, projectID int64, startDate, endDate string) (*domain.FourKeysMetrics, error)

	// CycleTime computes the cycle-time breakdown; limit <= 0 uses the configured default
	CycleTime(ctx context.Context, projectID int64, startDate, endDate string, limit int) (*domain.CycleTimeReport, error)

	// TeamActivity computes per-member activity and review load
	TeamActivity(ctx context.Context, projectID int64, startDate, endDate string) (*domain.TeamActivityReport, error)
}

// Config configures the aggregator
type Config struct {
	Options
	// QueryTimeout bounds the snapshot read of a single request
	QueryTimeout time.Duration
}

// aggregator implements the Aggregator interface
type aggregator struct {
	storage      storage.Storage
	engine       *Engine
	queryTimeout time.Duration
	logger       logrus.FieldLogger
	tracer       trace.Tracer
	requests     metric.Int64Counter
}

// NewAggregator creates a new aggregator
func NewAggregator(storage storage.Storage, cfg Config, logger logrus.FieldLogger) Aggregator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}

	requests, err := telemetry.Meter("workmetrics/aggregator").Int64Counter("workmetrics.aggregations",
		metric.WithDescription("Metric computations by kind and outcome"))
	if err != nil {
		logger.WithError(err).Warn("failed to create aggregation counter")
	}

	return &aggregator{
		storage:      storage,
		engine:       NewEngine(cfg.Options, logger),
		queryTimeout: cfg.QueryTimeout,
		logger:       logger,
		tracer:       telemetry.Tracer("workmetrics/aggregator"),
		requests:     requests,
	}
}

// FourKeys computes the DORA four keys
func (a *aggregator) FourKeys(ctx context.Context, projectID int64, startDate, endDate string) (*domain.FourKeysMetrics, error) {
	var result *domain.FourKeysMetrics
	err := a.run(ctx, "four_keys", projectID, startDate, endDate, func(set *domain.EventSet) {
		result = a.engine.FourKeys(set)
	})
	return result, err
}

// CycleTime computes the cycle-time breakdown
func (a *aggregator) CycleTime(ctx context.Context, projectID int64, startDate, endDate string, limit int) (*domain.CycleTimeReport, error) {
	var result *domain.CycleTimeReport
	err := a.run(ctx, "cycle_time", projectID, startDate, endDate, func(set *domain.EventSet) {
		result = a.engine.CycleTime(set, limit)
	})
	return result, err
}

// TeamActivity computes per-member activity and review load
func (a *aggregator) TeamActivity(ctx context.Context, projectID int64, startDate, endDate string) (*domain.TeamActivityReport, error) {
	var result *domain.TeamActivityReport
	err := a.run(ctx, "team_activity", projectID, startDate, endDate, func(set *domain.EventSet) {
		result = a.engine.TeamActivity(set)
	})
	return result, err
}

// run validates the request, reads one snapshot and hands it to compute.
// compute only runs on a complete snapshot, so no partial aggregate is ever returned.
func (a *aggregator) run(ctx context.Context, kind string, projectID int64, startDate, endDate string, compute func(*domain.EventSet)) (err error) {
	ctx, span := a.tracer.Start(ctx, "aggregator."+kind, trace.WithAttributes(
		attribute.Int64("workmetrics.project_id", projectID),
		attribute.String("workmetrics.start_date", startDate),
		attribute.String("workmetrics.end_date", endDate),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if a.requests != nil {
			a.requests.Add(ctx, 1, metric.WithAttributes(
				attribute.String("kind", kind),
				attribute.String("outcome", outcome(err)),
			))
		}
	}()

	window, err := ParseWindow(startDate, endDate)
	if err != nil {
		return err
	}

	if _, err := a.storage.GetProject(ctx, projectID); err != nil {
		if apperrors.IsNotFound(err) {
			return err
		}
		return apperrors.NewUpstreamUnavailableError("failed to look up project", err)
	}

	set, err := a.snapshot(ctx, projectID, window)
	if err != nil {
		return err
	}

	start := time.Now()
	compute(set)
	a.logger.WithFields(logrus.Fields{
		"kind":           kind,
		"project_id":     projectID,
		"merge_requests": len(set.MergeRequests),
		"deployments":    len(set.Deployments),
		"duration":       time.Since(start).String(),
	}).Debug("computed metrics")
	return nil
}

func (a *aggregator) snapshot(ctx context.Context, projectID int64, window domain.TimeWindow) (*domain.EventSet, error) {
	ctx, span := a.tracer.Start(ctx, "storage.snapshot")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	defer cancel()

	set, err := a.storage.Snapshot(ctx, projectID, window)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.NewUpstreamUnavailableError(
				fmt.Sprintf("event store did not answer within %s", a.queryTimeout), err)
		}
		return nil, apperrors.NewUpstreamUnavailableError("failed to read events", err)
	}
	span.SetAttributes(
		attribute.Int("workmetrics.merge_requests", len(set.MergeRequests)),
		attribute.Int("workmetrics.deployments", len(set.Deployments)),
		attribute.Int("workmetrics.reviews", len(set.Reviews)),
	)
	return set, nil
}

// ParseWindow parses YYYY-MM-DD start and end dates into an inclusive window
func ParseWindow(startDate, endDate string) (domain.TimeWindow, error) {
	start, err := parseDate("start_date", startDate)
	if err != nil {
		return domain.TimeWindow{}, err
	}
	end, err := parseDate("end_date", endDate)
	if err != nil {
		return domain.TimeWindow{}, err
	}
	if end.Before(start) {
		return domain.TimeWindow{}, apperrors.NewInvalidParameterError("end_date must not be before start_date")
	}
	return domain.NewTimeWindow(start, end), nil
}

func parseDate(name, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, apperrors.NewInvalidParameterError(name + " is required")
	}
	t, err := time.ParseInLocation(domain.DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, apperrors.NewInvalidParameterError(fmt.Sprintf("%s must be a YYYY-MM-DD date, got %q", name, value))
	}
	return t, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(apperrors.CodeOf(err)))
}
