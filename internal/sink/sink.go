// Package sink delivers update messages to chat and social services.
//
// Each configured Sink gets its own Conduit and a Runner goroutine that
// drains it. A slow or failing sink never holds up the poller or the other
// sinks; messages it cannot deliver are logged and dropped.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sink sends one message to a destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg string) error
}

// Verifier is implemented by sinks that can check their credentials before
// the first delivery.
type Verifier interface {
	Verify(ctx context.Context) error
}

// DeliveryError reports a message dropped after every attempt failed.
type DeliveryError struct {
	Sink     string
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s after %d attempts: %v", e.Sink, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// RateLimitError asks the runner to wait at least After before retrying.
type RateLimitError struct {
	After time.Duration
	Err   error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.After, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Policy controls pacing and retries for one runner.
type Policy struct {
	RatePerSec     float64
	Burst          int
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	AttemptTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		RatePerSec:     1,
		Burst:          1,
		RetryMax:       3,
		RetryBase:      time.Second,
		RetryMaxDelay:  30 * time.Second,
		AttemptTimeout: 15 * time.Second,
	}
}

// backoff returns the wait before retry n (1-based).
func (p Policy) backoff(n int) time.Duration {
	d := p.RetryBase
	for i := 1; i < n && d < p.RetryMaxDelay; i++ {
		d *= 2
	}
	if p.RetryMaxDelay > 0 && d > p.RetryMaxDelay {
		d = p.RetryMaxDelay
	}
	return d
}

// Runner drains one conduit into one sink.
type Runner struct {
	sink    Sink
	conduit *Conduit
	policy  Policy
	limiter *rate.Limiter
	log     zerolog.Logger

	delivered int
	dropped   int
}

func NewRunner(s Sink, c *Conduit, p Policy, log zerolog.Logger) *Runner {
	limit := rate.Inf
	if p.RatePerSec > 0 {
		limit = rate.Limit(p.RatePerSec)
	}
	burst := p.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Runner{
		sink:    s,
		conduit: c,
		policy:  p,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With().Str("comp", "sink").Str("sink", s.Name()).Logger(),
	}
}

// Run delivers messages in order until the conduit is closed and drained, or
// ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	for {
		msg, err := r.conduit.Receive(ctx)
		if errors.Is(err, ErrClosed) {
			r.log.Debug().Int("delivered", r.delivered).Int("dropped", r.dropped).Msg("conduit drained")
			return nil
		}
		if err != nil {
			if left := r.conduit.Len(); left > 0 {
				r.log.Warn().Int("pending", left).Msg("stopping with undelivered messages")
			}
			return nil
		}

		if err := r.deliver(ctx, msg); err != nil {
			r.dropped++
			r.log.Error().Err(err).Msg("message dropped")
			continue
		}
		r.delivered++
	}
}

func (r *Runner) deliver(ctx context.Context, msg string) error {
	var lastErr error
	attempts := 0
	for attempts <= r.policy.RetryMax {
		if attempts > 0 {
			wait := r.policy.backoff(attempts)
			var rl *RateLimitError
			if errors.As(lastErr, &rl) && rl.After > wait {
				wait = rl.After
			}
			r.log.Debug().Err(lastErr).Int("attempt", attempts).Dur("wait", wait).Msg("retrying delivery")
			if err := sleep(ctx, wait); err != nil {
				return &DeliveryError{Sink: r.sink.Name(), Attempts: attempts, Err: errors.Join(lastErr, err)}
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return &DeliveryError{Sink: r.sink.Name(), Attempts: attempts, Err: errors.Join(lastErr, err)}
		}

		attempts++
		lastErr = r.attempt(ctx, msg)
		if lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) {
			break
		}
	}
	return &DeliveryError{Sink: r.sink.Name(), Attempts: attempts, Err: lastErr}
}

func (r *Runner) attempt(ctx context.Context, msg string) error {
	if r.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.AttemptTimeout)
		defer cancel()
	}
	return r.sink.Deliver(ctx, msg)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
