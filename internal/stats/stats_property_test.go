package stats

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_SummaryOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	samplesGen := gen.SliceOf(gen.Float64Range(0, 10000)).SuchThat(func(v []float64) bool {
		return len(v) > 0
	})

	properties.Property("min <= median <= max and min <= p75 <= p90 <= max", prop.ForAll(
		func(samples []float64) bool {
			s := Summarize("total", samples)
			return s.Min <= s.Median && s.Median <= s.Max &&
				s.Min <= s.P75 && s.P75 <= s.P90 && s.P90 <= s.Max
		},
		samplesGen,
	))

	properties.Property("min <= mean <= max", prop.ForAll(
		func(samples []float64) bool {
			s := Summarize("total", samples)
			const eps = 1e-6
			return s.Min-eps <= s.Mean && s.Mean <= s.Max+eps
		},
		samplesGen,
	))

	properties.Property("count equals number of samples", prop.ForAll(
		func(samples []float64) bool {
			return Summarize("total", samples).Count == len(samples)
		},
		samplesGen,
	))

	properties.Property("percentiles are sample values", prop.ForAll(
		func(samples []float64) bool {
			s := Summarize("total", samples)
			return contains(samples, s.P75) && contains(samples, s.P90)
		},
		samplesGen,
	))

	properties.TestingRun(t)
}

func TestProperty_SummaryIsOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("reversing the samples does not change the summary", prop.ForAll(
		func(samples []float64) bool {
			reversed := make([]float64, len(samples))
			for i, v := range samples {
				reversed[len(samples)-1-i] = v
			}
			a := Summarize("x", samples)
			b := Summarize("x", reversed)
			if a == nil || b == nil {
				return a == nil && b == nil
			}
			return a.Median == b.Median && a.P75 == b.P75 && a.P90 == b.P90 &&
				a.Min == b.Min && a.Max == b.Max
		},
		gen.SliceOf(gen.Float64Range(0, 1000)),
	))

	properties.TestingRun(t)
}

func contains(samples []float64, v float64) bool {
	for _, s := range samples {
		if s == v {
			return true
		}
	}
	return false
}
