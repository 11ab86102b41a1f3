package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"classquiz/internal/app"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type recorder struct {
	mu      sync.Mutex
	applied []string
	results []error
}

func (r *recorder) apply(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, v)
}

func (r *recorder) onResult(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, err)
}

func (r *recorder) snapshot() ([]string, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.applied...), append([]error(nil), r.results...)
}

func TestLoopDiscardsResponseAfterStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	started := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder{}

	loop := app.NewLoop("roster", time.Second, clock, zerolog.Nop(),
		func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "late", nil
		},
		rec.apply, rec.onResult)
	loop.Start(context.Background())

	<-started
	loop.Stop()
	close(release)
	time.Sleep(20 * time.Millisecond)

	applied, results := rec.snapshot()
	if len(applied) != 0 || len(results) != 0 {
		t.Fatalf("expected in-flight response discarded, applied=%v results=%v", applied, results)
	}
	if loop.Running() {
		t.Fatalf("expected loop stopped")
	}
}

func TestLoopKeepsLastGoodValueOnError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	boom := errors.New("connection refused")
	rec := &recorder{}

	loop := app.NewLoop("state", time.Second, clock, zerolog.Nop(),
		func(ctx context.Context) (string, error) {
			if calls.Add(1) == 1 {
				return "v1", nil
			}
			return "", boom
		},
		rec.apply, rec.onResult)
	loop.Start(context.Background())
	defer loop.Stop()

	waitUntil(t, func() bool { a, _ := rec.snapshot(); return len(a) == 1 })
	clock.Advance(time.Second)
	waitUntil(t, func() bool { _, r := rec.snapshot(); return len(r) == 2 })

	applied, results := rec.snapshot()
	if len(applied) != 1 || applied[0] != "v1" {
		t.Fatalf("expected last good value kept, got %v", applied)
	}
	if results[0] != nil || !errors.Is(results[1], boom) {
		t.Fatalf("unexpected results %v", results)
	}
	if !loop.Running() {
		t.Fatalf("loop must keep polling after a failure")
	}
}

func TestLoopDropsOutOfOrderResponses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	firstIssued := make(chan struct{})
	releaseFirst := make(chan struct{})
	firstDone := make(chan struct{})
	rec := &recorder{}

	loop := app.NewLoop("answers", time.Second, clock, zerolog.Nop(),
		func(ctx context.Context) (string, error) {
			if calls.Add(1) == 1 {
				close(firstIssued)
				<-releaseFirst
				defer close(firstDone)
				return "first", nil
			}
			return "second", nil
		},
		rec.apply, rec.onResult)
	loop.Start(context.Background())
	defer loop.Stop()

	<-firstIssued
	clock.Advance(time.Second)
	waitUntil(t, func() bool { a, _ := rec.snapshot(); return len(a) == 1 })

	close(releaseFirst)
	<-firstDone
	time.Sleep(20 * time.Millisecond)

	applied, _ := rec.snapshot()
	if len(applied) != 1 || applied[0] != "second" {
		t.Fatalf("expected only the later-issued response applied, got %v", applied)
	}
}

func TestLoopStartIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	loop := app.NewLoop("roster", time.Second, clock, zerolog.Nop(),
		func(ctx context.Context) (int, error) {
			return int(calls.Add(1)), nil
		},
		func(int) {}, nil)
	loop.Start(context.Background())
	loop.Start(context.Background())
	defer loop.Stop()

	waitUntil(t, func() bool { return calls.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single immediate poll, got %d", got)
	}
}
