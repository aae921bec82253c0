// Package retry re-runs infrastructure calls that failed for a reason expected
// to clear: a backing service still starting, a serialization conflict, a
// dropped broker connection. Ledger rejections are never retried; only
// errors marked Transient or classified as unavailable by the domain are.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as worth another attempt. Nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked Transient or is a storage or
// availability failure of the ledger.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t) || shared.IsUnavailable(err)
}

// unmark strips the Transient marker so callers see the original error.
func unmark(err error) error {
	if t, ok := err.(*transientError); ok {
		return t.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// BACKOFF
// ══════════════════════════════════════════════════════════════════════════════

// Backoff is a doubling delay schedule.
type Backoff struct {
	// Attempts counts the first call; values below 1 mean one attempt.
	Attempts int

	// Initial is the first delay; each later one doubles it.
	Initial time.Duration

	// Max caps the delay; zero means no cap.
	Max time.Duration

	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64
}

// Delay returns the wait after failed attempt n (1-based), before jitter.
func (b Backoff) Delay(n int) time.Duration {
	d := b.Initial
	for i := 1; i < n && (b.Max <= 0 || d < b.Max); i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

func (b Backoff) jittered(n int) time.Duration {
	d := b.Delay(n)
	if b.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * b.Jitter * (rand.Float64()*2 - 1)
	return max(0, d+time.Duration(spread))
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier runs an operation until it succeeds, fails with a non-retryable
// error, runs out of attempts, or its context ends.
type Retrier struct {
	backoff  Backoff
	classify func(error) bool
	onRetry  func(attempt int, err error, delay time.Duration)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithClassifier replaces IsTransient as the retry decision.
func WithClassifier(fn func(error) bool) Option {
	return func(r *Retrier) {
		if fn != nil {
			r.classify = fn
		}
	}
}

// WithOnRetry sets a callback run before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// New creates a Retrier following b.
func New(b Backoff, opts ...Option) *Retrier {
	if b.Attempts < 1 {
		b.Attempts = 1
	}
	r := &Retrier{backoff: b, classify: IsTransient}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op. The returned error is the last one op produced, without its
// Transient marker, or ctx.Err() if ctx ended before the first attempt.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return unmark(last)
			}
			return err
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if attempt >= r.backoff.Attempts || !r.classify(last) {
			return unmark(last)
		}

		delay := r.backoff.jittered(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, last, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unmark(last)
		case <-timer.C:
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// Connect waits for a backing service at startup. onRetry may be nil.
func Connect(attempts int, onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(Backoff{Attempts: attempts, Initial: 500 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.2},
		WithOnRetry(onRetry))
}

// Publish fans sealed events out to the broker. Every failure but
// cancellation is retried, and delays stay short so a slow broker never
// holds up block production.
func Publish() *Retrier {
	return New(Backoff{Attempts: 3, Initial: 20 * time.Millisecond, Max: 200 * time.Millisecond, Jitter: 0.1},
		WithClassifier(func(err error) bool { return !errors.Is(err, context.Canceled) }))
}

// Commit re-runs a changeset transaction that lost a serialization conflict.
// The transaction body must mark such failures Transient.
func Commit() *Retrier {
	return New(Backoff{Attempts: 4, Initial: 5 * time.Millisecond, Max: 50 * time.Millisecond, Jitter: 0.5})
}
