// Package backoff defines the retry policies shared by the stream
// reader and the notifier: exponential delays with ±50% jitter and a
// cap, carried as explicit state so tests can step them without sleeping.
package backoff

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy describes a backoff schedule. MaxAttempts of zero means
// unlimited retries.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts uint64
}

// Stream is the reconnect policy for the upstream stream: unbounded,
// 5s doubling up to 5 minutes.
func Stream() Policy {
	return Policy{Base: 5 * time.Second, Cap: 5 * time.Minute}
}

// Notify is the delivery retry policy: bounded attempts, 2s doubling
// up to a minute.
func Notify() Policy {
	return Policy{Base: 2 * time.Second, Cap: time.Minute, MaxAttempts: 5}
}

// New returns a fresh backoff sequence for the policy. Each call starts
// over at the base delay.
func (p Policy) New() retry.Backoff {
	b := retry.NewExponential(p.Base)
	b = retry.WithJitterPercent(50, b)
	b = retry.WithCappedDuration(p.Cap, b)
	if p.MaxAttempts > 0 {
		b = retry.WithMaxRetries(p.MaxAttempts, b)
	}
	return b
}

// Retry runs f under the policy. Only errors marked with
// retry.RetryableError are retried.
func (p Policy) Retry(ctx context.Context, f retry.RetryFunc) error {
	return retry.Do(ctx, p.New(), f)
}
