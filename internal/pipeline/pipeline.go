package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/intake"
	"github.com/couchcryptid/quake-alert-service/internal/matching"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Intake parses raw events and records completed passes.
type Intake interface {
	Ingest(ctx context.Context, raw domain.RawEvent) (domain.QuakeEvent, error)
	Complete(ctx context.Context, event domain.QuakeEvent) error
}

// ProfileSource returns the active profile set at the start of a pass.
type ProfileSource interface {
	ListActive(ctx context.Context) ([]domain.NotificationProfile, error)
}

// Matcher evaluates an event against a profile snapshot.
type Matcher interface {
	Match(ctx context.Context, event domain.QuakeEvent, snapshot []domain.NotificationProfile) ([]uuid.UUID, error)
}

// Coordinator turns per-user matches into delivery requests.
type Coordinator interface {
	Coordinate(ctx context.Context, event domain.QuakeEvent, matchesByUser map[uuid.UUID][]uuid.UUID, profiles []domain.NotificationProfile) ([]domain.DeliveryRequest, error)
}

// Publisher hands delivery requests to the transport.
type Publisher interface {
	Publish(ctx context.Context, requests []domain.DeliveryRequest) error
}

// Stages groups the collaborators of one dispatch pass.
type Stages struct {
	Extractor   BatchExtractor
	Intake      Intake
	Profiles    ProfileSource
	Matcher     Matcher
	Coordinator Coordinator
	Publisher   Publisher
}

// Pass stages used in logs and the pass_failures_total metric.
const (
	StageIntake   = "intake"
	StageProfiles = "profiles"
	StageMatch    = "match"
	StageDispatch = "dispatch"
	StagePublish  = "publish"
	StageComplete = "complete"
)

// passError marks a pass that failed closed and must be retried.
type passError struct {
	stage string
	err   error
}

func (e *passError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *passError) Unwrap() error { return e.err }

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Pipeline runs one dispatch pass per consumed message.
type Pipeline struct {
	stages       Stages
	logger       *slog.Logger
	metrics      *observability.Metrics
	ready        atomic.Bool
	batchSize    int
	storeTimeout time.Duration
}

// New creates a Pipeline with the given stages and observability.
func New(stages Stages, logger *slog.Logger, metrics *observability.Metrics, batchSize int, storeTimeout time.Duration) *Pipeline {
	return &Pipeline{
		stages:       stages,
		logger:       logger,
		metrics:      metrics,
		batchSize:    batchSize,
		storeTimeout: storeTimeout,
	}
}

// CheckReadiness returns nil once the pipeline has finished at least one pass,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a dispatch pass yet")
	}
	return nil
}

// Run executes the batch loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize, "store_timeout", p.storeTimeout)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// processBatch extracts one batch and runs a pass for each message in order.
// Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.stages.Extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = initialBackoff

	for _, raw := range rawBatch {
		if !p.processMessage(ctx, raw, backoff) {
			return false
		}
	}

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	return true
}

// passState carries the progress of one message across retries so that work
// that already took effect is not repeated.
type passState struct {
	event      domain.QuakeEvent
	pending    []domain.DeliveryRequest // claimed, not yet published
	claimErr   error
	dispatched bool
}

// processMessage runs the pass for raw until it completes, then commits the
// offset. A failed pass is retried on the same message after a backoff so no
// later offset is committed ahead of it. Returns false if the pipeline should
// stop.
func (p *Pipeline) processMessage(ctx context.Context, raw domain.RawEvent, backoff *time.Duration) bool {
	var st passState
	for {
		err := p.runPass(ctx, raw, &st)
		if err == nil {
			*backoff = initialBackoff
			p.commitOffset(ctx, raw)
			p.ready.Store(true)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		stage := "unknown"
		var pe *passError
		if errors.As(err, &pe) {
			stage = pe.stage
		}
		p.metrics.PassFailures.WithLabelValues(stage).Inc()
		p.logger.Error("dispatch pass failed, retrying",
			"error", err,
			"stage", stage,
			"backoff", *backoff,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		if !p.backoffOrStop(ctx, backoff) {
			return false
		}
	}
}

// runPass is one dispatch pass. It returns nil when the message may be
// committed: on success and for malformed or duplicate events. A retry resumes
// from the first stage that has not taken effect: claimed requests are
// published without claiming again, and a pass whose dispatch finished only
// retries completion.
func (p *Pipeline) runPass(ctx context.Context, raw domain.RawEvent, st *passState) error {
	start := time.Now()
	defer func() { p.metrics.PassDuration.Observe(time.Since(start).Seconds()) }()

	if !st.dispatched && len(st.pending) == 0 {
		skip, err := p.evaluate(ctx, raw, st)
		if skip || err != nil {
			return err
		}
	}

	if len(st.pending) > 0 {
		if err := p.stages.Publisher.Publish(ctx, st.pending); err != nil {
			return &passError{stage: StagePublish, err: err}
		}
		p.metrics.DeliveriesPublished.Add(float64(len(st.pending)))
		p.logger.Info("deliveries published", "event_id", st.event.ID, "deliveries", len(st.pending))
		st.pending = nil
	}

	// Users whose claim failed are retried by a fresh pass; the users already
	// claimed are suppressed by the ledger.
	if st.claimErr != nil {
		err := st.claimErr
		st.claimErr = nil
		return &passError{stage: StageDispatch, err: err}
	}
	st.dispatched = true

	err := p.withStore(ctx, "complete", func(ctx context.Context) error {
		return p.stages.Intake.Complete(ctx, st.event)
	})
	if err != nil {
		return &passError{stage: StageComplete, err: err}
	}
	p.logger.Debug("dispatch pass completed", "event_id", st.event.ID)
	return nil
}

// evaluate ingests raw, matches it against the active profiles and claims the
// per-user dispatches. skip is true when the message needs no further work.
func (p *Pipeline) evaluate(ctx context.Context, raw domain.RawEvent, st *passState) (skip bool, _ error) {
	var event domain.QuakeEvent
	err := p.withStore(ctx, "ingest", func(ctx context.Context) error {
		var err error
		event, err = p.stages.Intake.Ingest(ctx, raw)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrMalformedEvent):
		p.logger.Warn("malformed event, skipping message",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.MalformedEvents.Inc()
		return true, nil
	case errors.Is(err, intake.ErrDuplicate):
		p.logger.Debug("duplicate event, skipping message", "event_id", event.ID)
		p.metrics.DuplicateEvents.Inc()
		return true, nil
	case err != nil:
		return false, &passError{stage: StageIntake, err: err}
	}

	var snapshot []domain.NotificationProfile
	err = p.withStore(ctx, "list_active", func(ctx context.Context) error {
		var err error
		snapshot, err = p.stages.Profiles.ListActive(ctx)
		return err
	})
	if err != nil {
		return false, &passError{stage: StageProfiles, err: fmt.Errorf("list active profiles: %w: %w", domain.ErrStoreUnavailable, err)}
	}

	matched, err := p.stages.Matcher.Match(ctx, event, snapshot)
	if err != nil {
		return false, &passError{stage: StageMatch, err: err}
	}

	// Claims are one round trip per user, so the step gets one store timeout
	// per user.
	byUser := matching.GroupByOwner(snapshot, matched)
	var requests []domain.DeliveryRequest
	claimErr := p.withStoreN(ctx, "claim_dispatch", len(byUser), func(ctx context.Context) error {
		var err error
		requests, err = p.stages.Coordinator.Coordinate(ctx, event, byUser, snapshot)
		return err
	})

	p.logger.Info("event evaluated",
		"event_id", event.ID,
		"source", event.Source,
		"magnitude", event.Magnitude,
		"profiles", len(snapshot),
		"matched", len(matched),
		"deliveries", len(requests),
	)

	st.event = event
	st.pending = requests
	st.claimErr = claimErr
	return false, nil
}

// withStore runs fn under the store timeout and records its duration.
func (p *Pipeline) withStore(ctx context.Context, operation string, fn func(context.Context) error) error {
	return p.withStoreN(ctx, operation, 1, fn)
}

// withStoreN is withStore for an operation made of calls round trips.
func (p *Pipeline) withStoreN(ctx context.Context, operation string, calls int, fn func(context.Context) error) error {
	if p.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.storeTimeout*time.Duration(max(calls, 1)))
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	p.metrics.StoreDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return err
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
