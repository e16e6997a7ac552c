package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/dickeyy/pr-flow-metrics/types"
)

// RetryPolicy bounds how transient API failures (429, 5xx, transport errors)
// are retried. MaxAttempts counts the first request.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   5,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		JitterPercent: 10,
	}
}

// Do runs call until it succeeds, fails permanently, or the attempt ceiling
// is reached. A Retry-After hint on the failure replaces the next computed
// delay, capped at MaxDelay.
func (p RetryPolicy) Do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var hint time.Duration
	exp := retry.NewExponential(max(p.BaseDelay, time.Millisecond))
	if p.JitterPercent > 0 {
		exp = retry.WithJitterPercent(p.JitterPercent, exp)
	}
	if p.MaxDelay > 0 {
		exp = retry.WithCappedDuration(p.MaxDelay, exp)
	}
	exp = retry.WithMaxRetries(uint64(attempts-1), exp)
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := exp.Next()
		if stop {
			return 0, true
		}
		if hint > 0 {
			next = hint
			if p.MaxDelay > 0 && next > p.MaxDelay {
				next = p.MaxDelay
			}
			hint = 0
		}
		return next, false
	})

	attempt := 0
	var last *types.Error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := call(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var apiErr *types.Error
		if !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return err
		}
		last = apiErr
		hint = apiErr.RetryAfter
		log.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Int("status", apiErr.Status).
			Err(apiErr).
			Msg("transient API failure; retrying")
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}

	var apiErr *types.Error
	if last != nil && errors.As(err, &apiErr) && apiErr == last && attempt >= attempts {
		return &types.Error{
			Kind:   types.KindAPI,
			Op:     op,
			Status: last.Status,
			Msg:    fmt.Sprintf("giving up after %d attempts", attempts),
			Err:    last,
		}
	}
	return err
}
