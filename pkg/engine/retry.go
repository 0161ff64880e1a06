package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

// execWithRetry drives the per-op state machine of §4.6: call the
// driver, and on a retriable failure sleep with exponential backoff
// (honouring a driver-supplied Retry-After hint when present) before
// trying again, up to cfg.MaxRetries. Returns the final Outcome and
// every Attempt made, for logging/DLQ purposes.
func execWithRetry(ctx context.Context, cfg Config, driverName string, call func(ctx context.Context, attemptNo int) driver.Attempt) (Status, []driver.Attempt, error) {
	var attempts []driver.Attempt

	for n := 1; n <= cfg.MaxRetries+1; n++ {
		select {
		case <-ctx.Done():
			attempts = append(attempts, driver.Attempt{
				AttemptNo: n,
				StartedAt: time.Now(),
				FinishedAt: time.Now(),
				Outcome:   driver.OutcomeRetriable,
				Err:       driver.NewCancelled(driverName, "replicate"),
			})
			return StatusCancelled, attempts, ctx.Err()
		default:
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
		attempt := call(attemptCtx, n)
		cancel()
		attempts = append(attempts, attempt)

		switch attempt.Outcome {
		case driver.OutcomeSuccess:
			return StatusSuccess, attempts, nil
		case driver.OutcomePermanent:
			var err error
			if attempt.Err != nil {
				err = attempt.Err
			}
			return StatusFailed, attempts, err
		case driver.OutcomeRetriable:
			if n > cfg.MaxRetries {
				var err error
				if attempt.Err != nil {
					err = attempt.Err
				}
				return StatusFailed, attempts, err
			}
			delay := backoffDelay(cfg.backoff(), n)
			if attempt.Err != nil && attempt.Err.RetryAfter > 0 {
				delay = attempt.Err.RetryAfter
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return StatusCancelled, attempts, ctx.Err()
			}
		}
	}
	return StatusFailed, attempts, nil
}

// backoffDelay computes exponential backoff with +/-25% jitter,
// matching the webhook driver's retry strategy (§4.3.6) generalised
// to every retriable driver error.
func backoffDelay(initial time.Duration, attemptNo int) time.Duration {
	base := float64(initial) * float64(int64(1)<<uint(attemptNo-1))
	jitter := base * (0.75 + 0.5*rand.Float64())
	return time.Duration(jitter)
}
