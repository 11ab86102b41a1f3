package app

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Remaining is the drift-corrected time left in a question: the budget minus whole seconds
// elapsed since the published phase start. A client clock behind the publisher counts as
// zero elapsed, so the result stays within [0, budget].
func Remaining(now, startedAt time.Time, budget int) int {
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	left := budget - int(elapsed/time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// ResponseTime is the latency in seconds from the published phase start to now.
func ResponseTime(now, startedAt time.Time) float64 {
	d := now.Sub(startedAt)
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

// PresentationTimer is the host's cosmetic one-second countdown. It never feeds scoring.
type PresentationTimer struct {
	clock  clockwork.Clock
	onTick func(remaining int)

	mu        sync.Mutex
	remaining int
	cancel    context.CancelFunc
}

// NewPresentationTimer builds a stopped timer. onTick may be nil.
func NewPresentationTimer(clock clockwork.Clock, onTick func(remaining int)) *PresentationTimer {
	if onTick == nil {
		onTick = func(int) {}
	}
	return &PresentationTimer{clock: clock, onTick: onTick}
}

// Start (re)starts the countdown from seconds.
func (t *PresentationTimer) Start(seconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	t.remaining = seconds
	if seconds <= 0 {
		t.cancel = nil
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	ticker := t.clock.NewTicker(time.Second)
	go t.run(ctx, ticker)
}

// Stop halts the countdown, keeping the current value.
func (t *PresentationTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Remaining returns the displayed value.
func (t *PresentationTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *PresentationTimer) run(ctx context.Context, ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.mu.Lock()
			if ctx.Err() != nil {
				t.mu.Unlock()
				return
			}
			t.remaining--
			left := t.remaining
			if left <= 0 {
				t.remaining = 0
				left = 0
				t.cancel()
				t.cancel = nil
			}
			t.mu.Unlock()

			t.onTick(left)
			if left == 0 {
				return
			}
		}
	}
}
