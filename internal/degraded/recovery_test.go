package degraded

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestFibDelays(t *testing.T) {
	got := fibDelays(time.Minute, 13*time.Minute)
	want := []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute, 5 * time.Minute, 8 * time.Minute, 13 * time.Minute}
	if len(got) != len(want) {
		t.Fatalf("fibDelays() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fibDelays()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if d := fibDelays(0, time.Minute); d != nil {
		t.Errorf("fibDelays(0, 1m) = %v, want nil", d)
	}
	if d := fibDelays(time.Minute, time.Second); d != nil {
		t.Errorf("fibDelays(max<initial) = %v, want nil", d)
	}
}

func TestRecovery_Run_SucceedsOnSecondAttempt(t *testing.T) {
	var calls atomic.Int32
	var recovered atomic.Bool
	r := NewRecovery(func(ctx context.Context) error {
		if calls.Add(1) < 2 {
			return errors.New("still down")
		}
		return nil
	}, time.Millisecond, 10*time.Millisecond, func() { recovered.Store(true) }, nil)

	if !r.Run(context.Background()) {
		t.Fatal("Run() = false, want true")
	}
	if calls.Load() != 2 {
		t.Errorf("validate calls = %d, want 2", calls.Load())
	}
	if !recovered.Load() {
		t.Error("onRecovered not called")
	}
}

func TestRecovery_Run_Exhausted(t *testing.T) {
	var exhausted atomic.Bool
	r := NewRecovery(func(ctx context.Context) error {
		return errors.New("down")
	}, time.Millisecond, 3*time.Millisecond, nil, func() { exhausted.Store(true) })

	if r.Run(context.Background()) {
		t.Fatal("Run() = true, want false")
	}
	if !exhausted.Load() {
		t.Error("onExhausted not called after final attempt")
	}
}

func TestRecovery_Run_ContextCancelled(t *testing.T) {
	r := NewRecovery(func(ctx context.Context) error { return nil }, time.Hour, 2*time.Hour, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r.Run(ctx) {
		t.Error("Run() = true with cancelled context")
	}
}

func TestRecovery_NotifyStartsSingleLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var calls atomic.Int32
	r := NewRecovery(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, time.Millisecond, time.Millisecond, func() { close(done) }, nil)

	r.Notify() // before Start: dropped
	r.Start(ctx)
	r.Notify()
	r.Notify()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recovery did not complete")
	}
	if calls.Load() != 1 {
		t.Errorf("validate calls = %d, want 1", calls.Load())
	}
}
