package outbox

import (
	"time"

	"github.com/yidafu/AquaRush-sub000/internal/event"
)

// MaxRetryCount is the number of re-armed attempts a record gets before it is
// FAILED. The attempt that finds a record already at MaxRetryCount fails it, so
// a record runs MaxRetryCount+1 times and ends FAILED with retryCount 6. This is
// one attempt more than a policy that fails as soon as the incremented count
// reaches the limit.
const MaxRetryCount = 5

// DefaultDelays is the backoff table indexed by retry count. Not exponential, but
// monotonically increasing and capped at the last entry.
var DefaultDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
}

// RetryPolicy maps a failed attempt to the record's next state.
// Both the poller and the in-memory path apply the same policy.
type RetryPolicy struct {
	MaxRetries int
	Delays     []time.Duration
}

// DefaultPolicy returns the production retry policy.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: MaxRetryCount, Delays: DefaultDelays}
}

// Delay returns the wait after the attempt that found the record at retryCount.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	i := retryCount
	if i < 0 {
		i = 0
	}
	if i > len(p.Delays)-1 {
		i = len(p.Delays) - 1
	}
	return p.Delays[i]
}

// ApplyFailure records a failed attempt on rec. A record already at MaxRetries
// becomes FAILED with its next run left untouched; otherwise it is re-armed as
// PENDING with the next delay from the table.
func (p RetryPolicy) ApplyFailure(rec *event.Record, cause string, now time.Time) {
	prev := rec.RetryCount
	rec.RetryCount = prev + 1
	rec.ErrorMessage = cause
	rec.UpdatedAt = now

	if prev >= p.MaxRetries {
		rec.Status = event.StatusFailed
		return
	}

	next := now.Add(p.Delay(prev))
	// next run never moves backwards, even if the clock does
	if rec.NextRunAt != nil && next.Before(*rec.NextRunAt) {
		next = *rec.NextRunAt
	}
	rec.Status = event.StatusPending
	rec.NextRunAt = &next
}

// ApplySuccess marks rec COMPLETED and clears the last error.
func ApplySuccess(rec *event.Record, now time.Time) {
	rec.Status = event.StatusCompleted
	rec.ErrorMessage = ""
	rec.UpdatedAt = now
}
