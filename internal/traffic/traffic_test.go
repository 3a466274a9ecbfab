package traffic

import (
	"testing"
	"time"
)

func TestTracker_ErrorRateCountsPublishFailures(t *testing.T) {
	tr := NewTracker(0)
	tr.RecordSuccess()
	tr.RecordSuccess()
	tr.RecordError()
	tr.RecordPublishFailure()

	errs, total := tr.ErrorRate(time.Hour)
	if errs != 2 || total != 4 {
		t.Errorf("ErrorRate() = %d/%d, want 2/4", errs, total)
	}
	if got := tr.RequestCount(time.Hour); got != 4 {
		t.Errorf("RequestCount() = %d, want 4", got)
	}
	if got := tr.PublishFailureCount(time.Hour); got != 1 {
		t.Errorf("PublishFailureCount() = %d, want 1", got)
	}
}

func TestTracker_WindowExcludesOld(t *testing.T) {
	tr := NewTracker(0)
	tr.mu.Lock()
	tr.errorTimes = append(tr.errorTimes, time.Now().Add(-2*time.Hour))
	tr.mu.Unlock()
	tr.RecordSuccess()

	errs, total := tr.ErrorRate(time.Hour)
	if errs != 0 || total != 1 {
		t.Errorf("ErrorRate(1h) = %d/%d, want 0/1", errs, total)
	}
	errs, total = tr.ErrorRate(3 * time.Hour)
	if errs != 1 || total != 2 {
		t.Errorf("ErrorRate(3h) = %d/%d, want 1/2", errs, total)
	}
}

func TestTracker_PruneDropsBeyondRetention(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.mu.Lock()
	tr.successTimes = append(tr.successTimes, time.Now().Add(-5*time.Minute))
	tr.mu.Unlock()

	tr.RecordError()

	tr.mu.Lock()
	n := len(tr.successTimes)
	tr.mu.Unlock()
	if n != 0 {
		t.Errorf("len(successTimes) = %d after prune, want 0", n)
	}
}

func TestTracker_LastOutcome(t *testing.T) {
	tr := NewTracker(0)
	if at, _ := tr.LastOutcome(); !at.IsZero() {
		t.Errorf("LastOutcome() time = %v, want zero", at)
	}
	tr.RecordSuccess()
	if _, ok := tr.LastOutcome(); !ok {
		t.Error("LastOutcome() ok = false after success")
	}
	tr.RecordPublishFailure()
	if _, ok := tr.LastOutcome(); ok {
		t.Error("LastOutcome() ok = true after publish failure")
	}
}

func TestPackageLevel_Reset(t *testing.T) {
	Reset()
	RecordSuccessN(3)
	RecordErrorN(2)
	if got := RequestCount(time.Minute); got != 5 {
		t.Errorf("RequestCount() = %d, want 5", got)
	}
	Reset()
	if got := RequestCount(time.Minute); got != 0 {
		t.Errorf("RequestCount() after Reset = %d, want 0", got)
	}
}
