package aggregator

import "github.com/kurihiro0119/workmetrics/internal/domain"

// band is one row of a rating table: values passing the bound earn the level
type band struct {
	bound float64
	level domain.PerformanceLevel
}

// Rating tables. Deployment frequency is higher-is-better, the rest lower-is-better.
var (
	deploymentFrequencyBands = []band{{1, domain.LevelElite}, {0.14, domain.LevelHigh}, {0.033, domain.LevelMedium}}
	leadTimeBands            = []band{{24, domain.LevelElite}, {168, domain.LevelHigh}, {720, domain.LevelMedium}}
	changeFailureRateBands   = []band{{15, domain.LevelElite}, {30, domain.LevelHigh}, {45, domain.LevelMedium}}
	timeToRestoreBands       = []band{{1, domain.LevelElite}, {24, domain.LevelHigh}, {168, domain.LevelMedium}}
)

func rateAtLeast(v float64, bands []band) *domain.PerformanceLevel {
	for _, b := range bands {
		if v >= b.bound {
			level := b.level
			return &level
		}
	}
	low := domain.LevelLow
	return &low
}

func rateAtMost(v *float64, bands []band) *domain.PerformanceLevel {
	if v == nil {
		return nil
	}
	for _, b := range bands {
		if *v <= b.bound {
			level := b.level
			return &level
		}
	}
	low := domain.LevelLow
	return &low
}

// RateDeploymentFrequency rates deployments per day
func RateDeploymentFrequency(perDay float64) *domain.PerformanceLevel {
	return rateAtLeast(perDay, deploymentFrequencyBands)
}

// RateLeadTime rates the mean lead time in hours
func RateLeadTime(hours *float64) *domain.PerformanceLevel {
	return rateAtMost(hours, leadTimeBands)
}

// RateChangeFailureRate rates a change failure percentage
func RateChangeFailureRate(pct *float64) *domain.PerformanceLevel {
	return rateAtMost(pct, changeFailureRateBands)
}

// RateTimeToRestore rates the mean time to restore in hours
func RateTimeToRestore(hours *float64) *domain.PerformanceLevel {
	return rateAtMost(hours, timeToRestoreBands)
}
