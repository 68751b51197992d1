package ratelimit

import (
	"context"
	"sync"
	"time"

	"research-assistant/internal/telemetry"
)

const (
	// WindowSize is the trailing interval a budget is measured over.
	WindowSize = 60 * time.Second
	// DefaultEstimate is charged when a caller does not know its token count.
	DefaultEstimate = 500

	// The oldest sample leaves the window one second after it turns 60s old.
	waitPadding     = time.Second
	emptyWindowWait = time.Second
)

type sample struct {
	at     time.Time
	tokens int
}

// budget is one key's window. mu is held across the wait so a key is single-flight.
type budget struct {
	mu      sync.Mutex
	limit   int
	samples []sample
}

func (b *budget) prune(now time.Time) {
	i := 0
	for i < len(b.samples) && now.Sub(b.samples[i].at) >= WindowSize {
		i++
	}
	if i > 0 {
		b.samples = append(b.samples[:0], b.samples[i:]...)
	}
}

func (b *budget) used() int {
	total := 0
	for _, s := range b.samples {
		total += s.tokens
	}
	return total
}

// Window gates keys (model identifiers) to a budget of units per trailing minute.
// Acquire blocks the caller until the budget has headroom.
type Window struct {
	name         string
	limits       map[string]int
	defaultLimit int
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	budgets map[string]*budget
}

// Option customises a Window.
type Option func(*Window)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

// WithSleeper replaces the context-aware sleep used while waiting for headroom.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Window) { w.sleep = sleep }
}

// WithName labels the limiter in metrics ("tpm" by default).
func WithName(name string) Option {
	return func(w *Window) { w.name = name }
}

// NewWindow builds a limiter over a static limit table. Keys missing from the table use defaultLimit.
func NewWindow(limits map[string]int, defaultLimit int, opts ...Option) *Window {
	table := make(map[string]int, len(limits))
	for k, v := range limits {
		table[k] = v
	}
	w := &Window{
		name:         "tpm",
		limits:       table,
		defaultLimit: defaultLimit,
		now:          time.Now,
		sleep:        sleepContext,
		budgets:      make(map[string]*budget),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Limit returns the per-minute budget applied to key.
func (w *Window) Limit(key string) int {
	if limit, ok := w.limits[key]; ok {
		return limit
	}
	return w.defaultLimit
}

// Acquire reserves units for key. If the trailing window has room the sample is
// recorded and Acquire returns at once. Otherwise it sleeps until the oldest
// sample has aged out, clears the window and records the new sample alone.
// The only error is ctx's, in which case nothing is recorded.
func (w *Window) Acquire(ctx context.Context, key string, units int) error {
	if units <= 0 {
		units = DefaultEstimate
	}
	b := w.budgetFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := w.now()
	b.prune(now)
	if b.used()+units <= b.limit {
		b.samples = append(b.samples, sample{at: now, tokens: units})
		return nil
	}

	wait := emptyWindowWait
	if len(b.samples) > 0 {
		wait = WindowSize + waitPadding - now.Sub(b.samples[0].at)
	}
	if wait < 0 {
		wait = 0
	}
	telemetry.LimiterWaits.WithLabelValues(w.name, key).Inc()
	telemetry.LimiterWaitSeconds.WithLabelValues(w.name, key).Observe(wait.Seconds())

	if err := w.sleep(ctx, wait); err != nil {
		return err
	}
	b.samples = append(b.samples[:0], sample{at: w.now(), tokens: units})
	return nil
}

// Usage reports the samples and units currently inside key's window.
func (w *Window) Usage(key string) (samples int, units int) {
	w.mu.Lock()
	b, ok := w.budgets[key]
	w.mu.Unlock()
	if !ok {
		return 0, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(w.now())
	return len(b.samples), b.used()
}

func (w *Window) budgetFor(key string) *budget {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.budgets[key]
	if !ok {
		b = &budget{limit: w.Limit(key)}
		w.budgets[key] = b
	}
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
