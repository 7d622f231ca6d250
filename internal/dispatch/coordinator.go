// Package dispatch collapses per-user match results into delivery requests and
// guarantees at most one request per (event, user) pair.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/geo"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// Ledger atomically creates dispatch records. ClaimDispatch reports false when
// a record for the same (event, user) pair already exists.
type Ledger interface {
	ClaimDispatch(ctx context.Context, rec domain.DispatchRecord) (bool, error)
}

// Coordinator builds one DeliveryRequest per user per event.
type Coordinator struct {
	ledger     Ledger
	normalizer *geo.Normalizer
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewCoordinator creates a Coordinator that records dispatches in ledger.
func NewCoordinator(ledger Ledger, normalizer *geo.Normalizer, metrics *observability.Metrics, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		ledger:     ledger,
		normalizer: normalizer,
		metrics:    metrics,
		logger:     logger.With("component", "dispatch"),
	}
}

// Coordinate claims a dispatch record for every user in matchesByUser and
// returns a request for each claim this call won. Users are processed in
// sorted order. A failed claim skips only that user; all such failures are
// joined into the returned error alongside the requests that did succeed.
func (c *Coordinator) Coordinate(
	ctx context.Context,
	event domain.QuakeEvent,
	matchesByUser map[uuid.UUID][]uuid.UUID,
	profiles []domain.NotificationProfile,
) ([]domain.DeliveryRequest, error) {
	names := make(map[uuid.UUID]string, len(profiles))
	for _, p := range profiles {
		names[p.ID] = p.Name
	}

	summary := Summarize(c.normalizer, event)
	users := slices.SortedFunc(maps.Keys(matchesByUser), func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})

	var (
		requests []domain.DeliveryRequest
		errs     []error
	)
	for _, userID := range users {
		profileIDs := uniqueSorted(matchesByUser[userID])
		if len(profileIDs) == 0 {
			continue
		}

		now := domain.Now()
		claimed, err := c.ledger.ClaimDispatch(ctx, domain.DispatchRecord{
			EventID:           event.ID,
			UserID:            userID,
			MatchedProfileIDs: profileIDs,
			CreatedAt:         now,
		})
		if err != nil {
			c.metrics.DispatchClaimErrors.Inc()
			errs = append(errs, fmt.Errorf("claim dispatch %s for user %s: %w: %w", event.ID, userID, domain.ErrStoreUnavailable, err))
			continue
		}
		if !claimed {
			c.metrics.DispatchSuppressed.Inc()
			c.logger.Debug("dispatch already recorded", "event_id", event.ID, "user_id", userID)
			continue
		}

		requests = append(requests, domain.DeliveryRequest{
			ID:           domain.DeliveryRequestID(event.ID, userID),
			UserID:       userID,
			EventID:      event.ID,
			ProfileIDs:   profileIDs,
			ProfileNames: profileNames(profileIDs, names),
			Event:        summary,
			CreatedAt:    now,
		})
	}

	return requests, errors.Join(errs...)
}

// Summarize builds the message payload for event, with the location resolved
// to a canonical province where possible.
func Summarize(normalizer *geo.Normalizer, event domain.QuakeEvent) domain.EventSummary {
	summary := domain.EventSummary{
		Source:     event.Source,
		Magnitude:  event.Magnitude,
		DepthKm:    event.DepthKm,
		Region:     event.Region,
		OriginTime: event.OriginTime,
	}
	for _, text := range []string{event.City, event.Region} {
		if city := normalizer.Normalize(text); city.Known {
			summary.City = city.Name
			summary.District = city.District
			return summary
		}
	}
	summary.City = event.City
	return summary
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(out)
}

// profileNames returns one name per entry of profileIDs, in the same order.
// Names are not unique, so two profiles called the same keep two entries.
func profileNames(profileIDs []uuid.UUID, names map[uuid.UUID]string) []string {
	out := make([]string, 0, len(profileIDs))
	for _, id := range profileIDs {
		out = append(out, names[id])
	}
	return out
}
