package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/workmetrics/internal/domain"
)

func TestDateRangeDefaults(t *testing.T) {
	startDate, endDate = "", ""
	t.Cleanup(func() { startDate, endDate = "", "" })
	now := time.Date(2024, 3, 31, 18, 0, 0, 0, time.UTC)

	start, end := dateRange(now)
	assert.Equal(t, "2024-03-02", start)
	assert.Equal(t, "2024-03-31", end)

	endDate = "2024-02-29"
	start, end = dateRange(now)
	assert.Equal(t, "2024-01-31", start)
	assert.Equal(t, "2024-02-29", end)

	startDate = "2024-02-01"
	start, _ = dateRange(now)
	assert.Equal(t, "2024-02-01", start)
}

func TestParseProjectID(t *testing.T) {
	id, err := parseProjectID("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"0", "-3", "abc", ""} {
		_, err := parseProjectID(bad)
		assert.Error(t, err, bad)
	}
}

type fakeMetrics struct {
	err error
}

func (f *fakeMetrics) FourKeys(ctx context.Context, projectID int64, startDate, endDate string) (*domain.FourKeysMetrics, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.FourKeysMetrics{DeploymentCount: 4}, nil
}

func (f *fakeMetrics) CycleTime(ctx context.Context, projectID int64, startDate, endDate string, limit int) (*domain.CycleTimeReport, error) {
	return &domain.CycleTimeReport{Metrics: domain.CycleTimeMetrics{Count: limit}}, nil
}

func (f *fakeMetrics) TeamActivity(ctx context.Context, projectID int64, startDate, endDate string) (*domain.TeamActivityReport, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type okMetrics struct{ fakeMetrics }

func (okMetrics) TeamActivity(context.Context, int64, string, string) (*domain.TeamActivityReport, error) {
	return &domain.TeamActivityReport{}, nil
}

func TestCollectReport(t *testing.T) {
	report, err := collectReport(context.Background(), &okMetrics{}, 1, "2024-01-01", "2024-01-31", 7)
	require.NoError(t, err)
	assert.Equal(t, 4, report.FourKeys.DeploymentCount)
	assert.Equal(t, 7, report.CycleTime.Metrics.Count)
	assert.NotNil(t, report.TeamActivity)
}

func TestCollectReportCancelsOnFailure(t *testing.T) {
	boom := errors.New("store down")
	_, err := collectReport(context.Background(), &fakeMetrics{err: boom}, 1, "2024-01-01", "2024-01-31", 0)
	assert.ErrorIs(t, err, boom)
}

func TestRenderFourKeys(t *testing.T) {
	lead := 36.0
	high := domain.LevelHigh
	low := domain.LevelLow
	m := &domain.FourKeysMetrics{
		PeriodStart:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:           time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC),
		DeploymentFrequency: 0.03,
		DeploymentCount:     1,
		LeadTimeHours:       &lead,
		Ratings:             domain.FourKeysRatings{DeploymentFrequency: &low, LeadTime: &high},
	}

	var buf bytes.Buffer
	renderFourKeys(&buf, m)
	out := buf.String()
	assert.Contains(t, out, "2024-01-01 to 2024-01-31")
	assert.Contains(t, out, "36.0 h")
	assert.Contains(t, out, "High")
	assert.Contains(t, out, noData)
}

func TestRenderTeamActivityWithoutReviews(t *testing.T) {
	r := &domain.TeamActivityReport{
		TeamMembers: []*domain.TeamMemberActivity{{Username: "alice", CommitCount: 3}},
		ReviewLoad:  []*domain.ReviewLoad{},
	}

	var buf bytes.Buffer
	renderTeamActivity(&buf, r)
	assert.Contains(t, buf.String(), "alice")
	assert.Contains(t, buf.String(), "No reviews in this period")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
