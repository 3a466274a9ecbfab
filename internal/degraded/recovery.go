package degraded

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ValidateFunc attempts to restore the dependency (e.g. reconnect the broker). nil means recovered.
type ValidateFunc func(ctx context.Context) error

// Recovery runs a Fibonacci backoff recovery loop when notified that a dependency failed.
// At most one loop runs at a time; notifications during a run are dropped.
type Recovery struct {
	validate    ValidateFunc
	initial     time.Duration
	max         time.Duration
	attemptTO   time.Duration
	onRecovered func()
	onExhausted func()

	mu      sync.Mutex
	ch      chan struct{}
	running atomic.Bool
}

// NewRecovery creates a Recovery. Delays follow the Fibonacci sequence scaled by initial
// (1x, 2x, 3x, 5x, 8x...) while they do not exceed max. Either callback may be nil.
func NewRecovery(validate ValidateFunc, initial, max time.Duration, onRecovered, onExhausted func()) *Recovery {
	return &Recovery{
		validate:    validate,
		initial:     initial,
		max:         max,
		attemptTO:   10 * time.Second,
		onRecovered: onRecovered,
		onExhausted: onExhausted,
	}
}

// Start listens for notifications until ctx is done.
func (r *Recovery) Start(ctx context.Context) {
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	r.ch = ch
	r.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				if r.running.Swap(true) {
					continue
				}
				go func() {
					defer r.running.Store(false)
					r.Run(ctx)
				}()
			}
		}
	}()
}

// Notify signals a failure. Non-blocking; a no-op before Start.
func (r *Recovery) Notify() {
	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Running reports whether a recovery loop is in progress.
func (r *Recovery) Running() bool {
	return r.running.Load()
}

// Run executes the backoff loop synchronously. Returns true if validate succeeded.
func (r *Recovery) Run(ctx context.Context) bool {
	delays := fibDelays(r.initial, r.max)
	if len(delays) == 0 {
		return false
	}
	for i, d := range delays {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
		}
		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTO)
		err := r.validate(attemptCtx)
		cancel()
		if err == nil {
			if r.onRecovered != nil {
				r.onRecovered()
			}
			return true
		}
		if i == len(delays)-1 && r.onExhausted != nil {
			r.onExhausted()
		}
	}
	return false
}

func fibDelays(initial, max time.Duration) []time.Duration {
	if initial <= 0 || max < initial {
		return nil
	}
	a, b := time.Duration(1), time.Duration(2)
	var out []time.Duration
	for {
		d := a * initial
		if d > max {
			break
		}
		out = append(out, d)
		a, b = b, a+b
	}
	return out
}
