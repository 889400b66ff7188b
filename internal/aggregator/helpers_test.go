package aggregator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/kurihiro0119/workmetrics/internal/domain"
	apperrors "github.com/kurihiro0119/workmetrics/internal/errors"
	"github.com/kurihiro0119/workmetrics/internal/storage"
)

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsPtr(s string) *time.Time {
	t := ts(s)
	return &t
}

func iid(v int64) *int64 { return &v }

func window(start, end string) domain.TimeWindow {
	return domain.NewTimeWindow(ts(start+"T00:00"), ts(end+"T00:00"))
}

func newTestEngine(opts Options) (*Engine, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewEngine(opts, logger), hook
}

func warnings(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e)
		}
	}
	return out
}

// fakeStorage serves a fixed event set
type fakeStorage struct {
	storage.Storage
	projects    map[int64]*domain.Project
	set         *domain.EventSet
	snapshotErr error
	block       bool
	lastWindow  domain.TimeWindow
}

func (f *fakeStorage) GetProject(_ context.Context, id int64) (*domain.Project, error) {
	if p, ok := f.projects[id]; ok {
		return p, nil
	}
	return nil, apperrors.NewNotFoundError("project")
}

func (f *fakeStorage) Snapshot(ctx context.Context, projectID int64, w domain.TimeWindow) (*domain.EventSet, error) {
	f.lastWindow = w
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	set := *f.set
	set.ProjectID = projectID
	set.Window = w
	return &set, nil
}
