package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kurihiro0119/workmetrics/internal/domain"
)

func TestRateDeploymentFrequency(t *testing.T) {
	tests := []struct {
		perDay float64
		want   domain.PerformanceLevel
	}{
		{3, domain.LevelElite},
		{1, domain.LevelElite},
		{0.99, domain.LevelHigh},
		{0.14, domain.LevelHigh},
		{0.1, domain.LevelMedium},
		{0.033, domain.LevelMedium},
		{0.01, domain.LevelLow},
		{0, domain.LevelLow},
	}
	for _, tt := range tests {
		got := RateDeploymentFrequency(tt.perDay)
		if assert.NotNil(t, got) {
			assert.Equal(t, tt.want, *got, "%v deployments/day", tt.perDay)
		}
	}
}

func TestRateLowerIsBetter(t *testing.T) {
	tests := []struct {
		name string
		rate func(*float64) *domain.PerformanceLevel
		v    float64
		want domain.PerformanceLevel
	}{
		{"lead time elite", RateLeadTime, 24, domain.LevelElite},
		{"lead time high", RateLeadTime, 168, domain.LevelHigh},
		{"lead time medium", RateLeadTime, 720, domain.LevelMedium},
		{"lead time low", RateLeadTime, 721, domain.LevelLow},
		{"cfr elite", RateChangeFailureRate, 0, domain.LevelElite},
		{"cfr high", RateChangeFailureRate, 30, domain.LevelHigh},
		{"cfr medium", RateChangeFailureRate, 45, domain.LevelMedium},
		{"cfr low", RateChangeFailureRate, 45.1, domain.LevelLow},
		{"restore elite", RateTimeToRestore, 1, domain.LevelElite},
		{"restore high", RateTimeToRestore, 2, domain.LevelHigh},
		{"restore medium", RateTimeToRestore, 168, domain.LevelMedium},
		{"restore low", RateTimeToRestore, 200, domain.LevelLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.v
			got := tt.rate(&v)
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.want, *got)
			}
		})
	}
}

func TestRateNullMetric(t *testing.T) {
	assert.Nil(t, RateLeadTime(nil))
	assert.Nil(t, RateChangeFailureRate(nil))
	assert.Nil(t, RateTimeToRestore(nil))
}
