package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultIngestPolicy bounds retries of the enqueue step when a consumed
// domain event hits a transient store error. Delivery retries themselves
// live in the queue, not here.
func DefaultIngestPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "event_ingest",
		Attempts: 5,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("ingest retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("ingest retries exhausted", zap.Error(err))
			}
		},
	}
}
