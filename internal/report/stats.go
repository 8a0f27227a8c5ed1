package report

import (
	"math"
	"sort"
	"time"

	"relaycheck/internal/egress"
	"relaycheck/internal/model"
)

// Summary aggregates the trial outcomes of one run.
type Summary struct {
	Count       int
	ByClass     map[model.Classification]int
	AvgDuration time.Duration
	P95Duration time.Duration
	MaxDuration time.Duration
	Reachable   int
	EgressKnown int
}

// Summarize computes counts and trial duration statistics.
func Summarize(items []model.TrialOutcome) Summary {
	s := Summary{ByClass: make(map[model.Classification]int)}
	if len(items) == 0 {
		return s
	}

	values := make([]float64, 0, len(items))
	var sum float64
	for _, o := range items {
		s.ByClass[o.Classification]++
		d := float64(o.Duration)
		values = append(values, d)
		sum += d
		if o.Duration > s.MaxDuration {
			s.MaxDuration = o.Duration
		}
		if o.Reachable {
			s.Reachable++
		}
		if o.EgressAddress != "" && o.EgressAddress != egress.Unknown {
			s.EgressKnown++
		}
	}

	sort.Float64s(values)
	s.Count = len(items)
	s.AvgDuration = time.Duration(sum / float64(len(items)))
	s.P95Duration = time.Duration(percentile(values, 0.95))
	return s
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
