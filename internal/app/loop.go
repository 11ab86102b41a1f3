package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Cadence holds the polling interval of every reconciliation concern.
type Cadence struct {
	Lobby       time.Duration // roster while the lobby is open
	HostRoster  time.Duration // roster on the host during a question
	HostAnswers time.Duration // answers for the current question on the host
	PlayerState time.Duration // game state on players
	Result      time.Duration // roster during result, ranking and final
}

// DefaultCadence matches classroom scale (up to 50 participants).
func DefaultCadence() Cadence {
	return Cadence{
		Lobby:       3 * time.Second,
		HostRoster:  time.Second,
		HostAnswers: 500 * time.Millisecond,
		PlayerState: 200 * time.Millisecond,
		Result:      time.Second,
	}
}

func (c Cadence) withDefaults() Cadence {
	d := DefaultCadence()
	if c.Lobby <= 0 {
		c.Lobby = d.Lobby
	}
	if c.HostRoster <= 0 {
		c.HostRoster = d.HostRoster
	}
	if c.HostAnswers <= 0 {
		c.HostAnswers = d.HostAnswers
	}
	if c.PlayerState <= 0 {
		c.PlayerState = d.PlayerState
	}
	if c.Result <= 0 {
		c.Result = d.Result
	}
	return c
}

// poller is the type-erased face of a Loop.
type poller interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
}

// Loop polls one concern at a fixed cadence and applies every fresh response.
//
// Each tick issues its fetch on its own goroutine so a hung request never delays the next
// tick. Responses are applied only while the loop is still in the epoch that issued them,
// and only if no later-issued response has been applied already; anything else is dropped.
// Failures leave the applied state untouched and are reported through onResult.
type Loop[T any] struct {
	name     string
	interval time.Duration
	clock    clockwork.Clock
	logger   zerolog.Logger
	fetch    func(ctx context.Context) (T, error)
	apply    func(T)
	onResult func(error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	epoch   uint64
	issued  uint64
	applied uint64
}

// NewLoop builds a stopped loop.
func NewLoop[T any](name string, interval time.Duration, clock clockwork.Clock, logger zerolog.Logger,
	fetch func(ctx context.Context) (T, error), apply func(T), onResult func(error)) *Loop[T] {
	if interval <= 0 {
		interval = time.Second
	}
	if onResult == nil {
		onResult = func(error) {}
	}
	return &Loop[T]{
		name:     name,
		interval: interval,
		clock:    clock,
		logger:   logger.With().Str("loop", name).Logger(),
		fetch:    fetch,
		apply:    apply,
		onResult: onResult,
	}
}

// Start polls immediately and then every interval until Stop or ctx is done.
// Starting a running loop is a no-op.
func (l *Loop[T]) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.epoch++
	ticker := l.clock.NewTicker(l.interval)
	go l.run(ctx, l.epoch, ticker)
	l.logger.Debug().Dur("interval", l.interval).Msg("polling started")
}

// Stop tears the loop down. In-flight requests are cancelled and their results discarded.
func (l *Loop[T]) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.cancel = nil
	l.epoch++
	l.logger.Debug().Msg("polling stopped")
}

// Running reports whether the loop is started.
func (l *Loop[T]) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

func (l *Loop[T]) run(ctx context.Context, epoch uint64, ticker clockwork.Ticker) {
	defer ticker.Stop()
	l.tick(ctx, epoch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			l.tick(ctx, epoch)
		}
	}
}

func (l *Loop[T]) tick(ctx context.Context, epoch uint64) {
	l.mu.Lock()
	if l.epoch != epoch || l.cancel == nil {
		l.mu.Unlock()
		return
	}
	l.issued++
	seq := l.issued
	l.mu.Unlock()

	go func() {
		value, err := l.fetch(ctx)

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.epoch != epoch || l.cancel == nil {
			l.logger.Debug().Uint64("seq", seq).Msg("discarding response after teardown")
			return
		}
		if seq <= l.applied {
			l.logger.Debug().Uint64("seq", seq).Uint64("applied", l.applied).Msg("discarding out-of-order response")
			return
		}
		if err != nil {
			l.onResult(err)
			return
		}
		l.applied = seq
		l.apply(value)
		l.onResult(nil)
	}()
}

// Reconciler owns the set of loops a client runs for its current phase.
type Reconciler struct {
	mu     sync.Mutex
	active map[string]poller
}

func newReconciler() *Reconciler {
	return &Reconciler{active: make(map[string]poller)}
}

// Set keeps exactly the loops in plan running. Loops whose key is already active keep running
// untouched; the rest are stopped, and new keys are started.
func (r *Reconciler) Set(ctx context.Context, plan map[string]poller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, loop := range r.active {
		if _, keep := plan[key]; !keep {
			loop.Stop()
			delete(r.active, key)
		}
	}
	for key, loop := range plan {
		if _, ok := r.active[key]; ok {
			continue
		}
		r.active[key] = loop
		loop.Start(ctx)
	}
}

// StopAll tears every loop down.
func (r *Reconciler) StopAll() {
	r.Set(context.Background(), nil)
}

// Active returns the running loop keys, sorted.
func (r *Reconciler) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.active))
	for key := range r.active {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
