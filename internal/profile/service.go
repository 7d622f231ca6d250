// Package profile manages notification profiles: validation, city
// canonicalization at save time, and per-user limits.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/geo"
)

// ErrLimitExceeded is returned when a write would exceed a per-user profile limit.
var ErrLimitExceeded = errors.New("profile limit exceeded")

// Store persists notification profiles.
type Store interface {
	Create(ctx context.Context, p domain.NotificationProfile) error
	Update(ctx context.Context, p domain.NotificationProfile) error
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	Get(ctx context.Context, ownerID, id uuid.UUID) (domain.NotificationProfile, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.NotificationProfile, error)
	ListActive(ctx context.Context) ([]domain.NotificationProfile, error)
	// LockOwner serializes limit checks for one owner until the enclosing
	// transaction ends.
	LockOwner(ctx context.Context, ownerID uuid.UUID) error
}

// TxRunner runs fn in a transaction carried by the context passed to fn.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Entitlements reports whether a user holds the unrestricted-alerting capability.
type Entitlements interface {
	HasUnrestrictedAlerts(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Limits caps how many profiles a user may hold. Zero disables a limit.
type Limits struct {
	MaxProfilesPerUser     int
	FreeActiveProfileLimit int
}

// Service is the write path for profiles and the snapshot source for matching.
type Service struct {
	store        Store
	tx           TxRunner
	entitlements Entitlements
	normalizer   *geo.Normalizer
	limits       Limits
	logger       *slog.Logger
}

// NewService wires a Service.
func NewService(store Store, tx TxRunner, entitlements Entitlements, normalizer *geo.Normalizer, limits Limits, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		tx:           tx,
		entitlements: entitlements,
		normalizer:   normalizer,
		limits:       limits,
		logger:       logger.With("component", "profile"),
	}
}

// Create validates and stores a new profile owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, p domain.NotificationProfile) (domain.NotificationProfile, error) {
	p.ID = uuid.New()
	p.OwnerID = ownerID
	p.Name = strings.TrimSpace(p.Name)
	p.Location = s.canonicalize(p.Location)
	if err := p.Validate(); err != nil {
		return domain.NotificationProfile{}, err
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.LockOwner(ctx, ownerID); err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}
		existing, err := s.store.ListByOwner(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("list profiles: %w", err)
		}
		if s.limits.MaxProfilesPerUser > 0 && len(existing) >= s.limits.MaxProfilesPerUser {
			return fmt.Errorf("%w: at most %d profiles per user", ErrLimitExceeded, s.limits.MaxProfilesPerUser)
		}
		if p.IsActive {
			if err := s.checkActiveLimit(ctx, ownerID, p.ID, existing); err != nil {
				return err
			}
		}

		now := domain.Now()
		p.CreatedAt, p.UpdatedAt = now, now
		if err := s.store.Create(ctx, p); err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.NotificationProfile{}, err
	}

	s.logger.Info("profile created", "profile_id", p.ID, "user_id", ownerID)
	return p, nil
}

// Update replaces the editable fields of an existing profile.
func (s *Service) Update(ctx context.Context, ownerID, id uuid.UUID, p domain.NotificationProfile) (domain.NotificationProfile, error) {
	current, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return domain.NotificationProfile{}, fmt.Errorf("get profile: %w", err)
	}

	p.ID = current.ID
	p.OwnerID = current.OwnerID
	p.CreatedAt = current.CreatedAt
	p.Name = strings.TrimSpace(p.Name)
	p.Location = s.canonicalize(p.Location)
	if err := p.Validate(); err != nil {
		return domain.NotificationProfile{}, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if p.IsActive && !current.IsActive {
			if err := s.store.LockOwner(ctx, ownerID); err != nil {
				return fmt.Errorf("lock owner: %w", err)
			}
			existing, err := s.store.ListByOwner(ctx, ownerID)
			if err != nil {
				return fmt.Errorf("list profiles: %w", err)
			}
			if err := s.checkActiveLimit(ctx, ownerID, p.ID, existing); err != nil {
				return err
			}
		}

		p.UpdatedAt = domain.Now()
		if err := s.store.Update(ctx, p); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.NotificationProfile{}, err
	}
	return p, nil
}

// SetActive toggles a profile without touching its filters.
func (s *Service) SetActive(ctx context.Context, ownerID, id uuid.UUID, active bool) (domain.NotificationProfile, error) {
	current, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return domain.NotificationProfile{}, fmt.Errorf("get profile: %w", err)
	}
	if current.IsActive == active {
		return current, nil
	}
	current.IsActive = active
	return s.Update(ctx, ownerID, id, current)
}

// Delete removes a profile.
func (s *Service) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	if err := s.store.Delete(ctx, ownerID, id); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	s.logger.Info("profile deleted", "profile_id", id, "user_id", ownerID)
	return nil
}

// Get returns one profile owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID, id uuid.UUID) (domain.NotificationProfile, error) {
	p, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return domain.NotificationProfile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// List returns every profile owned by ownerID.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]domain.NotificationProfile, error) {
	profiles, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return profiles, nil
}

// ListActive returns the snapshot of active profiles used for one dispatch pass.
func (s *Service) ListActive(ctx context.Context) ([]domain.NotificationProfile, error) {
	profiles, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active profiles: %w", err)
	}
	return profiles, nil
}

// checkActiveLimit enforces the free-tier cap on active profiles. selfID is
// excluded from the count.
func (s *Service) checkActiveLimit(ctx context.Context, ownerID, selfID uuid.UUID, existing []domain.NotificationProfile) error {
	limit := s.limits.FreeActiveProfileLimit
	if limit <= 0 {
		return nil
	}
	active := 0
	for _, e := range existing {
		if e.IsActive && e.ID != selfID {
			active++
		}
	}
	if active < limit {
		return nil
	}

	unrestricted, err := s.entitlements.HasUnrestrictedAlerts(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("check entitlement: %w", err)
	}
	if !unrestricted {
		return fmt.Errorf("%w: free accounts may keep %d active profiles", ErrLimitExceeded, limit)
	}
	return nil
}

// canonicalize rewrites chosen cities to their canonical display names and
// drops duplicates by key. Unknown names are kept in folded form; they can
// never match a real city.
func (s *Service) canonicalize(loc domain.LocationScope) domain.LocationScope {
	if loc.Type != domain.LocationCities {
		return loc
	}
	seen := make(map[string]struct{}, len(loc.Cities))
	cities := make([]string, 0, len(loc.Cities))
	for _, raw := range loc.Cities {
		city := s.normalizer.Normalize(raw)
		if city.Key == "" {
			continue
		}
		if _, dup := seen[city.Key]; dup {
			continue
		}
		seen[city.Key] = struct{}{}
		cities = append(cities, city.Name)
		if !city.Known {
			s.logger.Warn("profile city is not in the place table", "city", raw)
		}
	}
	loc.Cities = cities
	return loc
}
