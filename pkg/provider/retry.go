package provider

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/aretw0/weft/pkg/domain"
)

// RetryPolicy bounds retries of a provider call with exponential, jittered backoff.
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	MinWait     time.Duration `mapstructure:"min_wait" yaml:"min_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	Multiplier  float64       `mapstructure:"multiplier" yaml:"multiplier"`
	Jitter      bool          `mapstructure:"jitter" yaml:"jitter"`

	// Retryable decides which errors are retried. Nil means IsRetryable.
	Retryable func(error) bool `mapstructure:"-" yaml:"-"`
}

// DefaultRetryPolicy is installed on agents that configure none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MinWait:     time.Second,
		MaxWait:     6 * time.Second,
		Multiplier:  2,
		Jitter:      true,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.MinWait < 0 {
		p.MinWait = 0
	}
	if p.MaxWait < p.MinWait {
		p.MaxWait = p.MinWait
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}
	return p
}

// Delay is the sleep before retry number attempt (1-indexed), clamped to [MinWait, MaxWait].
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.MinWait) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	d = math.Max(d, float64(p.MinWait))
	d = math.Min(d, float64(p.MaxWait))
	return time.Duration(d)
}

// RetryFunc is told about each failed attempt before the policy sleeps.
type RetryFunc func(attempt int, delay time.Duration, err error)

// Do calls fn until it succeeds, returns a non-retryable error, or attempts run out.
// Sleeps end early when ctx is done, and the result then wraps domain.ErrWorkflowCancelled.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry RetryFunc) error {
	p = p.normalized()
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return domain.Cancelled(ctx)
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt == p.MaxAttempts || !p.Retryable(err) {
			return err
		}
		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return domain.Cancelled(ctx)
		}
	}
	return err
}
