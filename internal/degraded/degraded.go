package degraded

import (
	"time"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/traffic"
)

// RecordSuccess records a check that completed end to end.
func RecordSuccess() {
	traffic.RecordSuccess()
}

// RecordError records a check whose weather fetch failed or whose reading was dropped.
func RecordError() {
	traffic.RecordError()
}

// RecordPublishFailure records a check whose reading only reached the local backup.
func RecordPublishFailure() {
	traffic.RecordPublishFailure()
}

// ErrorRate returns (errorCount, totalCount) within the window.
func ErrorRate(window time.Duration) (errors, total int) {
	return traffic.ErrorRate(window)
}

// IsDegraded reports whether the error percentage in window reaches thresholdPct.
// An empty window is never degraded.
func IsDegraded(window time.Duration, thresholdPct int) bool {
	if window <= 0 || thresholdPct <= 0 {
		return false
	}
	errors, total := traffic.ErrorRate(window)
	if total == 0 {
		return false
	}
	return float64(errors)*100/float64(total) >= float64(thresholdPct)
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}
