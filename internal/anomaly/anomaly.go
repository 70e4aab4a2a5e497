// Package anomaly decides whether a freshly ingested value deviates sharply
// from the recent history of its tracked metric.
package anomaly

import (
	"math"

	"github.com/dwsmith1983/metricwatch/internal/schedule"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// Params configures the evaluator.
type Params struct {
	CadencePerMinute float64
	WindowHours      float64
	Factor           float64
	MissingTolerance float64 // fraction of expected samples allowed to be missing, 0..1
}

// ParamsFromConfig builds evaluator params from pipeline config.
func ParamsFromConfig(cfg types.PipelineConfig) Params {
	return Params{
		CadencePerMinute: cfg.CadencePerMinute,
		WindowHours:      cfg.AlertLookbackHours,
		Factor:           cfg.AlertFactor,
		MissingTolerance: cfg.MissingDataTolerance,
	}
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Triggered    bool
	Dense        bool
	Expected     float64
	Count        int64
	PreviousMean float64
	Value        float64
}

// Evaluate compares value with the mean of the trailing window. Windows with
// fewer samples than the tolerance allows are too sparse to trust and never
// trigger.
func Evaluate(value float64, window types.WindowStats, p Params) Decision {
	expected := schedule.ExpectedSamples(p.CadencePerMinute, p.WindowHours)
	d := Decision{
		Expected:     expected,
		Count:        window.Count,
		PreviousMean: window.Mean,
		Value:        value,
	}
	d.Dense = IsDense(window.Count, expected, p.MissingTolerance)
	if !d.Dense {
		return d
	}
	d.Triggered = value > p.Factor*window.Mean
	return d
}

// IsDense reports whether count is within tolerance of expected.
func IsDense(count int64, expected, tolerance float64) bool {
	if count <= 0 || expected <= 0 {
		return false
	}
	tolerance = math.Max(0, math.Min(1, tolerance))
	return float64(count) >= expected*(1-tolerance)
}
