// Package schedule holds cadence arithmetic shared by the ingestor, the alert
// evaluator and the freshness watchdog, plus the polling loop that drives
// them in long-running mode.
package schedule

import (
	"math"
	"time"
)

// Interval returns the time between two samples at the given cadence.
// A non-positive cadence yields one minute.
func Interval(cadencePerMinute float64) time.Duration {
	if cadencePerMinute <= 0 {
		return time.Minute
	}
	return time.Duration(float64(time.Minute) / cadencePerMinute)
}

// ExpectedSamples returns how many samples a fully healthy series holds over
// the given number of hours: cadence * 60 * hours. Values are stored at most
// once per minute, so the stored rate is capped at one per minute.
func ExpectedSamples(cadencePerMinute, hours float64) float64 {
	return math.Min(cadencePerMinute, 1) * 60 * hours
}

// ExpectedGap returns the longest acceptable age of the newest sample:
// factor * 60 / cadence seconds.
func ExpectedGap(cadencePerMinute, factor float64) time.Duration {
	if cadencePerMinute <= 0 {
		cadencePerMinute = 1
	}
	return time.Duration(factor * 60 / cadencePerMinute * float64(time.Second))
}

// TruncateMinute returns t in UTC truncated to the start of its minute.
func TruncateMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}
