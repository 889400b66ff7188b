package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/workmetrics/internal/aggregator"
	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
	"github.com/kurihiro0119/workmetrics/internal/storage"
)

// RetryAfterSeconds is advertised on retryable failures
const RetryAfterSeconds = 5

// DefaultRefreshDays is how far back a refresh collects when no since date is given
const DefaultRefreshDays = 90

// Refresher pulls fresh events of a project into the event store
type Refresher interface {
	Refresh(ctx context.Context, projectID int64, since time.Time) (*domain.SyncResult, error)
}

// Handler handles API requests
type Handler struct {
	aggregator  aggregator.Aggregator
	storage     storage.Storage
	refresher   Refresher
	version     string
	environment string
	logger      logrus.FieldLogger
}

// HandlerConfig carries the optional collaborators of a Handler
type HandlerConfig struct {
	// Refresher may be nil, in which case refresh requests are rejected
	Refresher   Refresher
	Version     string
	Environment string
	Logger      logrus.FieldLogger
}

// NewHandler creates a new API handler
func NewHandler(agg aggregator.Aggregator, store storage.Storage, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		aggregator:  agg,
		storage:     store,
		refresher:   cfg.Refresher,
		version:     cfg.Version,
		environment: cfg.Environment,
		logger:      logger,
	}
}

// HealthCheck reports whether the event store is reachable
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, database, code := "healthy", "connected", http.StatusOK
	if err := h.storage.Ping(ctx); err != nil {
		h.logger.WithError(err).Warn("health check: event store unreachable")
		status, database, code = "degraded", "disconnected", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":      status,
		"database":    database,
		"version":     h.version,
		"environment": h.environment,
	})
}

// ListProjects returns every registered project
// GET /api/v1/projects
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.storage.ListProjects(c.Request.Context())
	if err != nil {
		respondError(c, apperrors.NewUpstreamUnavailableError("failed to list projects", err))
		return
	}
	if projects == nil {
		projects = []*domain.Project{}
	}

	c.JSON(http.StatusOK, projects)
}

type registerProjectRequest struct {
	HostID int64  `json:"gitlab_id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
}

// RegisterProject registers or updates a project
// POST /api/v1/projects
func (h *Handler) RegisterProject(c *gin.Context) {
	var req registerProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewInvalidParameterError("request body must be a JSON project"))
		return
	}
	if req.HostID <= 0 || strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.URL) == "" {
		respondError(c, apperrors.NewInvalidParameterError("gitlab_id, name and url are required"))
		return
	}

	project := &domain.Project{HostID: req.HostID, Name: req.Name, URL: req.URL}
	if err := h.storage.SaveProject(c.Request.Context(), project); err != nil {
		respondError(c, apperrors.NewUpstreamUnavailableError("failed to save project", err))
		return
	}

	c.JSON(http.StatusCreated, project)
}

// GetProject returns one project
// GET /api/v1/projects/:id
func (h *Handler) GetProject(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}

	project, err := h.storage.GetProject(c.Request.Context(), id)
	if err != nil {
		respondError(c, storeError(err))
		return
	}

	c.JSON(http.StatusOK, project)
}

// GetFourKeys returns the DORA four keys of a project
// GET /api/v1/projects/:id/four-keys?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD
func (h *Handler) GetFourKeys(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}

	metrics, err := h.aggregator.FourKeys(c.Request.Context(), id, c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// GetCycleTime returns the cycle-time breakdown of a project
// GET /api/v1/projects/:id/cycle-time?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD[&limit=N]
func (h *Handler) GetCycleTime(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			respondError(c, apperrors.NewInvalidParameterError("limit must be a positive integer"))
			return
		}
		limit = v
	}

	report, err := h.aggregator.CycleTime(c.Request.Context(), id, c.Query("start_date"), c.Query("end_date"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetTeamActivity returns per-member activity and review load of a project
// GET /api/v1/projects/:id/team-activity?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD
func (h *Handler) GetTeamActivity(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}

	report, err := h.aggregator.TeamActivity(c.Request.Context(), id, c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// RefreshProject collects fresh events for a project
// POST /api/v1/projects/:id/refresh[?since=YYYY-MM-DD]
func (h *Handler) RefreshProject(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}
	if h.refresher == nil {
		respondError(c, apperrors.NewUpstreamUnavailableError("collector is not configured", nil))
		return
	}

	since := time.Now().UTC().AddDate(0, 0, -DefaultRefreshDays)
	if raw := c.Query("since"); raw != "" {
		t, err := time.ParseInLocation(domain.DateLayout, raw, time.UTC)
		if err != nil {
			respondError(c, apperrors.NewInvalidParameterError("since must be a YYYY-MM-DD date"))
			return
		}
		since = t
	}

	result, err := h.refresher.Refresh(c.Request.Context(), id, since)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func projectID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, apperrors.NewInvalidParameterError(fmt.Sprintf("invalid project id %q", c.Param("id"))))
		return 0, false
	}
	return id, true
}

// storeError keeps not-found errors and marks everything else as a store outage
func storeError(err error) error {
	if apperrors.IsNotFound(err) {
		return err
	}
	return apperrors.NewUpstreamUnavailableError("event store request failed", err)
}

// statusFor maps an error code to its HTTP status
func statusFor(code apperrors.ErrCode) int {
	switch code {
	case apperrors.ErrCodeInvalidParameter:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrCodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeDataIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		_ = c.Error(err)
		if apperrors.Retryable(appErr) {
			c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
		}
		c.JSON(statusFor(appErr.Code), gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": "internal server error",
		},
	})
}
