package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yidafu/AquaRush-sub000/internal/event"
	"github.com/yidafu/AquaRush-sub000/internal/metrics"
	"github.com/yidafu/AquaRush-sub000/internal/telemetry"
)

// Dispatcher routes a record to the handler registered for its type.
// It returns an error wrapping event.ErrUnknownType when no handler exists.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec *event.Record) error
}

// Outcome is what happened to a record after one pass through the Processor.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeUnknownType Outcome = "unknown_type"
	OutcomeRetry       Outcome = "retry"
	OutcomeFailed      Outcome = "failed"
	OutcomeClaimLost   Outcome = "claim_lost"
	OutcomeReleased    Outcome = "released"
)

// Dispatch paths, used for logs and metrics.
const (
	PathPoller = "poller"
	PathMemory = "memory"
	PathStale  = "stale"
)

const claimExpiredMessage = "claim expired"

// Processor is the single place that decides completed, retry or failed.
// The poller and the in-memory path both run records through it.
type Processor struct {
	store          Store
	dispatcher     Dispatcher
	policy         RetryPolicy
	now            func() time.Time
	handlerTimeout time.Duration
	onFailed       func(context.Context, *event.Record)
	logger         *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithPolicy overrides the retry policy.
func WithPolicy(p RetryPolicy) ProcessorOption {
	return func(pr *Processor) { pr.policy = p }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ProcessorOption {
	return func(pr *Processor) { pr.now = now }
}

// WithHandlerTimeout bounds each handler call. Zero means no deadline.
func WithHandlerTimeout(d time.Duration) ProcessorOption {
	return func(pr *Processor) { pr.handlerTimeout = d }
}

// WithFailureHook is called after a record is persisted as FAILED.
func WithFailureHook(fn func(context.Context, *event.Record)) ProcessorOption {
	return func(pr *Processor) { pr.onFailed = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ProcessorOption {
	return func(pr *Processor) { pr.logger = l }
}

// NewProcessor creates a Processor with the default policy.
func NewProcessor(store Store, dispatcher Dispatcher, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:      store,
		dispatcher: dispatcher,
		policy:     DefaultPolicy(),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewClaimToken returns a token identifying one claim of one record.
func NewClaimToken() string {
	return uuid.NewString()
}

// Now returns the processor clock.
func (p *Processor) Now() time.Time {
	return p.now()
}

// Execute dispatches a claimed record and persists the resulting transition.
// A non-nil error means the outcome could not be saved; the record then stays
// PROCESSING until stale-claim recovery picks it up.
//
// When ctx is cancelled while the handler runs, the claim is released with the
// record PENDING and its retry count untouched. Outcomes are saved even after
// ctx is cancelled.
func (p *Processor) Execute(ctx context.Context, rec *event.Record, path string) (Outcome, error) {
	log := p.logger.With("event_id", rec.ID, "event_type", rec.Type, "path", path)

	spanCtx, span := telemetry.StartDispatchSpan(ctx, rec, path)
	start := time.Now()
	herr := p.dispatch(spanCtx, rec)
	metrics.DispatchDuration.WithLabelValues(string(rec.Type)).Observe(float64(time.Since(start).Milliseconds()))

	now := p.now()
	var outcome Outcome
	switch {
	case herr == nil:
		ApplySuccess(rec, now)
		outcome = OutcomeCompleted
	case ctx.Err() != nil && errors.Is(herr, context.Canceled):
		rec.Status = event.StatusPending
		rec.UpdatedAt = now
		outcome = OutcomeReleased
	case errors.Is(herr, event.ErrUnknownType):
		// Completed without running anything so garbage cannot block the queue.
		log.Warn("unknown event type, marking completed without processing", "payload", rec.Payload)
		metrics.UnknownEvents.WithLabelValues(string(rec.Type)).Inc()
		ApplySuccess(rec, now)
		outcome = OutcomeUnknownType
	default:
		p.policy.ApplyFailure(rec, herr.Error(), now)
		outcome = OutcomeRetry
		if rec.Status == event.StatusFailed {
			outcome = OutcomeFailed
		}
	}
	telemetry.AddOutcome(spanCtx, string(outcome))

	err := p.persist(ctx, rec, outcome, herr, log)
	if errors.Is(err, ErrClaimLost) {
		outcome, err = OutcomeClaimLost, nil
	}
	metrics.EventsDispatched.WithLabelValues(string(rec.Type), path, string(outcome)).Inc()
	switch {
	case err != nil:
		telemetry.EndSpan(span, err)
	case outcome == OutcomeUnknownType, outcome == OutcomeReleased:
		telemetry.EndSpan(span, nil)
	default:
		telemetry.EndSpan(span, herr)
	}
	return outcome, err
}

// Expire applies the retry policy to a record whose previous claim timed out.
func (p *Processor) Expire(ctx context.Context, rec *event.Record) (Outcome, error) {
	log := p.logger.With("event_id", rec.ID, "event_type", rec.Type, "path", PathStale)
	metrics.StaleClaimsRecovered.Inc()

	p.policy.ApplyFailure(rec, claimExpiredMessage, p.now())
	outcome := OutcomeRetry
	if rec.Status == event.StatusFailed {
		outcome = OutcomeFailed
	}
	err := p.persist(ctx, rec, outcome, errors.New(claimExpiredMessage), log)
	if errors.Is(err, ErrClaimLost) {
		return OutcomeClaimLost, nil
	}
	metrics.EventsDispatched.WithLabelValues(string(rec.Type), PathStale, string(outcome)).Inc()
	return outcome, err
}

func (p *Processor) persist(ctx context.Context, rec *event.Record, outcome Outcome, cause error, log *slog.Logger) error {
	// a shutdown must not strand the record in PROCESSING
	ctx = context.WithoutCancel(ctx)
	if err := p.store.Save(ctx, rec); err != nil {
		if errors.Is(err, ErrClaimLost) {
			metrics.ClaimsLost.Inc()
			log.Warn("claim lost before outcome was saved", "outcome", outcome)
			return err
		}
		log.Error("failed to save event outcome", "outcome", outcome, "err", err)
		return err
	}

	switch outcome {
	case OutcomeCompleted:
		log.Info("event processed")
	case OutcomeReleased:
		log.Info("handler interrupted by shutdown, claim released", "err", cause)
	case OutcomeRetry:
		log.Warn("event processing failed, will retry",
			"retry_count", rec.RetryCount, "next_run_at", rec.NextRunAt, "err", cause)
	case OutcomeFailed:
		log.Error("event processing failed permanently, manual intervention required",
			"retry_count", rec.RetryCount, "err", cause)
		if p.onFailed != nil {
			p.onFailed(ctx, rec.Clone())
		}
	}
	return nil
}

// dispatch runs the handler, turning a panic into an ordinary handler error.
func (p *Processor) dispatch(ctx context.Context, rec *event.Record) (err error) {
	if p.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.handlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.dispatcher.Dispatch(ctx, rec)
}
