// Package intake turns raw feed messages into stamped QuakeEvents and keeps
// replays of completed events from starting a second dispatch pass.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// ErrDuplicate is returned by Ingest when the event's pass already completed.
var ErrDuplicate = errors.New("duplicate event")

// Ledger records which events have completed a dispatch pass.
type Ledger interface {
	IsCompleted(ctx context.Context, eventID string) (bool, error)
	MarkCompleted(ctx context.Context, eventID string) error
}

// Intake parses and deduplicates incoming events.
type Intake struct {
	ledger Ledger
	logger *slog.Logger
}

// New creates an Intake backed by ledger.
func New(ledger Ledger, logger *slog.Logger) *Intake {
	return &Intake{ledger: ledger, logger: logger.With("component", "intake")}
}

// Ingest parses raw and checks the ledger. Errors wrap domain.ErrMalformedEvent,
// ErrDuplicate or domain.ErrStoreUnavailable.
func (i *Intake) Ingest(ctx context.Context, raw domain.RawEvent) (domain.QuakeEvent, error) {
	event, err := domain.ParseRawEvent(raw)
	if err != nil {
		return domain.QuakeEvent{}, err
	}

	done, err := i.ledger.IsCompleted(ctx, event.ID)
	if err != nil {
		return domain.QuakeEvent{}, fmt.Errorf("check ledger for %s: %w: %w", event.ID, domain.ErrStoreUnavailable, err)
	}
	if done {
		return event, fmt.Errorf("event %s: %w", event.ID, ErrDuplicate)
	}

	return domain.EnrichQuakeEvent(event), nil
}

// Complete appends the event to the ledger after its pass succeeded.
func (i *Intake) Complete(ctx context.Context, event domain.QuakeEvent) error {
	if err := i.ledger.MarkCompleted(ctx, event.ID); err != nil {
		return fmt.Errorf("complete %s: %w: %w", event.ID, domain.ErrStoreUnavailable, err)
	}
	i.logger.Debug("event completed", "event_id", event.ID)
	return nil
}
