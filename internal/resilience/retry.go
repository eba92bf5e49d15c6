// Package resilience retries database connects that fail for transient reasons.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy bounds how long a connect is retried. Zero fields take the
// ConnectPolicy values.
type Policy struct {
	// Attempts is the total number of tries. 1 disables retrying.
	Attempts int
	// BaseDelay is the first pause; each later pause doubles, up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter randomizes each pause by this fraction either way.
	Jitter float64

	// Retryable decides whether a failure is worth another try. Nil means
	// IsTransient.
	Retryable func(err error) bool
	// OnRetry runs before each pause.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// ConnectPolicy is the policy db.Connect starts from: three tries over a
// few seconds, enough to ride out a Postgres restart.
func ConnectPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
		Jitter:    0.2,
	}
}

func (p Policy) normalized() Policy {
	def := ConnectPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = max(def.MaxDelay, p.BaseDelay)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// delay returns the pause after the given number of failed tries.
func (p Policy) delay(failures int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < failures && d < p.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, p.MaxDelay)
	if p.Jitter > 0 {
		d += time.Duration((rand.Float64()*2 - 1) * p.Jitter * float64(d))
	}
	return max(d, 0)
}

// Retry calls dial until it succeeds, the policy runs out of attempts, the
// error is not retryable, or ctx is done. It returns the last dial error.
func Retry[T any](ctx context.Context, p Policy, dial func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := dial(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= p.Attempts || ctx.Err() != nil || !p.Retryable(err) {
			return zero, err
		}

		wait := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

// LogRetry returns an OnRetry callback that logs the failed connect to target.
func LogRetry(target string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		zap.L().Warn("connect failed, retrying",
			zap.String("target", target),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
}
