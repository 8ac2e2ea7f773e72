package stats

import (
	"math"
	"time"

	"github.com/ethpandaops/buildstatsoor/pkg/provider"
)

const day = 24 * time.Hour

// BuildDuration returns the time between environment preparation finishing
// and the build finishing, in days. It is 0 when either timestamp is
// missing. Inconsistent data yields a negative value, which is passed
// through unchanged.
func BuildDuration(b *provider.Build) float64 {
	if b.FinishedAt == nil || b.EnvironmentPrepareFinishedAt == nil {
		return 0
	}

	return toDays(b.FinishedAt.Sub(*b.EnvironmentPrepareFinishedAt))
}

// HoldDuration returns the time a build waited between being triggered and
// being picked up by a worker, in days. It is 0 when either timestamp is
// missing, and clamped to 0 when the provider clocks disagree.
func HoldDuration(b *provider.Build) float64 {
	if b.TriggeredAt == nil || b.StartedOnWorkerAt == nil {
		return 0
	}

	if b.StartedOnWorkerAt.Before(*b.TriggeredAt) {
		return 0
	}

	return toDays(b.StartedOnWorkerAt.Sub(*b.TriggeredAt))
}

func toDays(d time.Duration) float64 {
	return float64(d) / float64(day)
}

// DaysToMinutes converts a duration in days to minutes.
func DaysToMinutes(days float64) float64 {
	return days * 24 * 60
}

// DaysToDuration converts a duration in days to a time.Duration.
func DaysToDuration(days float64) time.Duration {
	return time.Duration(math.Round(days * float64(day)))
}
