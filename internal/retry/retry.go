// Package retry wraps collaborator calls with the shared retry policy:
// a fixed interval, a bounded attempt count and a one-time delay
// notification partway through.
package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"

	"github.com/mesapay/chatpay/pkg/logger"
)

// Policy is the retry schedule applied to every recoverable
// collaborator failure.
type Policy struct {
	// MaxAttempts counts the first try plus retries.
	MaxAttempts uint64
	// Interval is the fixed wait between attempts.
	Interval time.Duration
	// NotifyAttempt is the failed attempt after which OnDelay fires,
	// once per Do call.
	NotifyAttempt uint64
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Interval: 30 * time.Second, NotifyAttempt: 3}
}

// ErrExhausted wraps the last attempt error once the budget is spent.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Do runs fn under the policy. onDelay, when non-nil, is invoked exactly
// once after NotifyAttempt consecutive failures; callers use it to warn
// the payer that things are taking longer than usual. A nil error from
// fn stops the loop. Context cancellation stops it too.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error, onDelay func()) error {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 1
	}
	backoff := retry.WithMaxRetries(p.MaxAttempts-1, retry.NewConstant(p.Interval))

	var attempt uint64
	notified := false
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		logger.Warn("collaborator call failed, will retry",
			"op", op, "attempt", attempt, "max", p.MaxAttempts, "error", err)
		if !notified && p.NotifyAttempt > 0 && attempt >= p.NotifyAttempt && attempt < p.MaxAttempts {
			notified = true
			if onDelay != nil {
				onDelay()
			}
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return errors.Wrapf(ErrExhausted, "%s: %v", op, err)
	}
	return nil
}
