package webhook

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Registration is a long-lived webhook subscription, distinct from any
// individual delivery attempt. Deactivating keeps delivery history;
// deleting cascades to it.
type Registration struct {
	ID                uuid.UUID
	Name              string
	URL               string
	Secret            string
	Events            []string
	Active            bool
	Headers           map[string]string
	TimeoutSeconds    int
	MaxAttempts       int
	RetryDelaySeconds int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r *Registration) SubscribedTo(event string) bool {
	return slices.Contains(r.Events, event)
}

// Timeout returns the per-registration dispatch bound, or def when unset.
func (r *Registration) Timeout(def time.Duration) time.Duration {
	if r.TimeoutSeconds <= 0 {
		return def
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

func (r *Registration) RetryDelay(def time.Duration) time.Duration {
	if r.RetryDelaySeconds <= 0 {
		return def
	}
	return time.Duration(r.RetryDelaySeconds) * time.Second
}

func (r *Registration) AttemptCeiling(def int) int {
	if r.MaxAttempts <= 0 {
		return def
	}
	return r.MaxAttempts
}
