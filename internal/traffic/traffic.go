package traffic

import (
	"sync"
	"time"
)

// DefaultRetention bounds how long outcomes are kept. Checks run hourly, so windows are
// measured in hours rather than seconds.
const DefaultRetention = 24 * time.Hour

var defaultTracker Tracker

// RecordSuccess records a check that fetched, backed up and published.
func RecordSuccess() {
	defaultTracker.RecordSuccess()
}

// RecordError records a check whose weather fetch failed.
func RecordError() {
	defaultTracker.RecordError()
}

// RecordPublishFailure records a check whose reading was backed up but not published.
func RecordPublishFailure() {
	defaultTracker.RecordPublishFailure()
}

// RecordErrorN records N fetch errors. For synthetic error injection in tests.
func RecordErrorN(n int) {
	defaultTracker.RecordErrorN(n)
}

// RecordSuccessN records N successes. For synthetic load in tests.
func RecordSuccessN(n int) {
	defaultTracker.RecordSuccessN(n)
}

// RequestCount returns the number of checks (any outcome) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// PublishFailureCount returns the number of publish failures within the window.
func PublishFailureCount(window time.Duration) int {
	return defaultTracker.PublishFailureCount(window)
}

// ErrorRate returns (errorCount, totalCount) within the window. Publish failures count as errors.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// LastOutcome returns the time of the most recent outcome and whether it was a success.
func LastOutcome() (time.Time, bool) {
	return defaultTracker.LastOutcome()
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of check outcome timestamps.
// Single source of truth for /checks and degraded detection.
type Tracker struct {
	mu            sync.Mutex
	retention     time.Duration
	successTimes  []time.Time
	errorTimes    []time.Time
	publishFailed []time.Time
	last          time.Time
	lastOK        bool
}

// NewTracker returns a tracker that keeps outcomes for retention (DefaultRetention if <= 0).
func NewTracker(retention time.Duration) *Tracker {
	return &Tracker{retention: retention}
}

func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes, true)
}

func (t *Tracker) RecordError() {
	t.recordOutcome(&t.errorTimes, false)
}

func (t *Tracker) RecordPublishFailure() {
	t.recordOutcome(&t.publishFailed, false)
}

func (t *Tracker) RecordSuccessN(n int) {
	t.recordN(&t.successTimes, n, true)
}

func (t *Tracker) RecordErrorN(n int) {
	t.recordN(&t.errorTimes, n, false)
}

func (t *Tracker) recordN(slice *[]time.Time, n int, ok bool) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for i := 0; i < n; i++ {
		*slice = append(*slice, now)
	}
	t.last, t.lastOK = now, ok
	t.pruneLocked(now)
}

func (t *Tracker) recordOutcome(slice *[]time.Time, ok bool) {
	t.recordN(slice, 1, ok)
}

func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	return countInWindow(t.successTimes, cutoff) +
		countInWindow(t.errorTimes, cutoff) +
		countInWindow(t.publishFailed, cutoff)
}

func (t *Tracker) PublishFailureCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.publishFailed, time.Now().Add(-window))
}

func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	errCount := countInWindow(t.errorTimes, cutoff) + countInWindow(t.publishFailed, cutoff)
	return errCount, errCount + countInWindow(t.successTimes, cutoff)
}

func (t *Tracker) LastOutcome() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.lastOK
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.publishFailed = nil
	t.last, t.lastOK = time.Time{}, false
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops outcomes older than the retention. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	retention := t.retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.publishFailed)
}
