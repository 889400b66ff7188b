package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeWindow(t *testing.T) {
	w := NewTimeWindow(
		time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC),
		time.Date(2024, 1, 7, 8, 0, 0, 0, time.UTC),
	)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC), w.End)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), w.Until())
	assert.Equal(t, 7, w.Days())

	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(time.Date(2024, 1, 7, 23, 59, 59, 999999999, time.UTC)))
	assert.False(t, w.Contains(w.Until()))
	assert.False(t, w.Contains(w.Start.Add(-time.Nanosecond)))
	assert.False(t, w.ContainsPtr(nil))
}

func TestTimeWindowAcrossMonthEnd(t *testing.T) {
	w := NewTimeWindow(time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 3, w.Days())
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), w.Until())
}

func TestMergeRequestByIID(t *testing.T) {
	merged := time.Now()
	set := &EventSet{MergeRequests: []*MergeRequest{{IID: 3}, {IID: 9, MergedAt: &merged}}}
	idx := set.MergeRequestByIID()
	assert.Len(t, idx, 2)
	assert.True(t, idx[9].IsMerged())
	assert.False(t, idx[3].IsMerged())
}
