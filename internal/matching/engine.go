// Package matching evaluates one event against a snapshot of notification
// profiles.
//
// A profile matches when its source filter, inclusive magnitude range and
// location filter all hold. Inactive profiles are removed before evaluation.
// Profiles whose stored filters violate their invariants never match and are
// reported once per pass.
package matching

import (
	"bytes"
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/geo"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// Reasons a stored profile is treated as malformed.
const (
	ReasonSources   = "sources"
	ReasonMagnitude = "magnitude"
	ReasonLocation  = "location"
)

// Engine evaluates profiles in parallel. It keeps no state between calls.
type Engine struct {
	normalizer *geo.Normalizer
	workers    int
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewEngine creates an Engine that fans evaluation out over at most workers
// goroutines.
func NewEngine(normalizer *geo.Normalizer, workers int, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		normalizer: normalizer,
		workers:    workers,
		metrics:    metrics,
		logger:     logger.With("component", "matching"),
	}
}

// Match returns the IDs of every active profile in snapshot that matches
// event, deduplicated and sorted. The only error is ctx cancellation.
func (e *Engine) Match(ctx context.Context, event domain.QuakeEvent, snapshot []domain.NotificationProfile) ([]uuid.UUID, error) {
	candidates := activeCandidates(snapshot)
	if len(candidates) == 0 {
		return nil, nil
	}

	eventCity := e.EventCity(event)
	matched := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	workers := min(e.workers, len(candidates))
	chunk := (len(candidates) + workers - 1) / workers
	for start := 0; start < len(candidates); start += chunk {
		end := min(start+chunk, len(candidates))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				matched[i] = e.evaluate(event, eventCity, candidates[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	for i, ok := range matched {
		if ok {
			ids = append(ids, candidates[i].ID)
		}
	}

	e.metrics.ProfilesEvaluated.Add(float64(len(candidates)))
	e.metrics.ProfilesMatched.Add(float64(len(ids)))
	return ids, nil
}

// EventCity resolves the event's location to a known province: city first,
// then region. The zero CanonicalCity means the event has no known city.
func (e *Engine) EventCity(event domain.QuakeEvent) geo.CanonicalCity {
	for _, text := range []string{event.City, event.Region} {
		if city := e.normalizer.Normalize(text); city.Known {
			return city
		}
	}
	return geo.CanonicalCity{}
}

// evaluate applies the three filters to one profile.
func (e *Engine) evaluate(event domain.QuakeEvent, eventCity geo.CanonicalCity, p domain.NotificationProfile) bool {
	cityKeys, reason := e.checkStored(p)
	if reason != "" {
		e.logger.Warn("malformed profile excluded from matching",
			"profile_id", p.ID,
			"user_id", p.OwnerID,
			"event_id", event.ID,
			"reason", reason,
		)
		e.metrics.MalformedProfiles.WithLabelValues(reason).Inc()
		return false
	}

	if !p.Sources.Contains(event.Source) {
		return false
	}
	if !p.Magnitude.Contains(event.Magnitude) {
		return false
	}
	if p.Location.Type == domain.LocationAll {
		return true
	}
	return eventCity.Known && slices.Contains(cityKeys, eventCity.Key)
}

// checkStored re-validates the stored filters and re-normalizes the profile's
// cities. It returns the effective city keys, or a non-empty reason when the
// profile must fail closed.
func (e *Engine) checkStored(p domain.NotificationProfile) ([]string, string) {
	if p.Sources.IsEmpty() {
		return nil, ReasonSources
	}
	if p.Magnitude.Validate() != nil {
		return nil, ReasonMagnitude
	}

	switch p.Location.Type {
	case domain.LocationAll:
		return nil, ""
	case domain.LocationCities:
		keys := make([]string, 0, len(p.Location.Cities))
		for _, raw := range p.Location.Cities {
			if city := e.normalizer.Normalize(raw); city.Known {
				keys = append(keys, city.Key)
			}
		}
		if len(keys) == 0 {
			return nil, ReasonLocation
		}
		return keys, ""
	default:
		return nil, ReasonLocation
	}
}

// activeCandidates drops inactive profiles and repeated IDs, and orders the
// rest by ID so the output is sorted without a second pass.
func activeCandidates(snapshot []domain.NotificationProfile) []domain.NotificationProfile {
	out := make([]domain.NotificationProfile, 0, len(snapshot))
	for _, p := range snapshot {
		if p.IsActive {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.NotificationProfile) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return slices.CompactFunc(out, func(a, b domain.NotificationProfile) bool {
		return a.ID == b.ID
	})
}

// GroupByOwner collapses matched profile IDs into per-user lists using the
// ownership recorded in snapshot. IDs absent from snapshot are ignored.
func GroupByOwner(snapshot []domain.NotificationProfile, ids []uuid.UUID) map[uuid.UUID][]uuid.UUID {
	owners := make(map[uuid.UUID]uuid.UUID, len(snapshot))
	for _, p := range snapshot {
		owners[p.ID] = p.OwnerID
	}

	byUser := make(map[uuid.UUID][]uuid.UUID)
	for _, id := range ids {
		owner, ok := owners[id]
		if !ok {
			continue
		}
		if !slices.Contains(byUser[owner], id) {
			byUser[owner] = append(byUser[owner], id)
		}
	}
	return byUser
}
