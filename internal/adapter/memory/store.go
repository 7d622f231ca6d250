// Package memory provides in-process implementations of the profile store,
// event ledger and entitlement lookup. It backs STORE_DRIVER=memory and
// the offline dry-run tool.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// ProfileStore keeps notification profiles in a map.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]domain.NotificationProfile
}

// NewProfileStore returns an empty store seeded with the given profiles.
func NewProfileStore(seed ...domain.NotificationProfile) *ProfileStore {
	s := &ProfileStore{profiles: make(map[uuid.UUID]domain.NotificationProfile, len(seed))}
	for _, p := range seed {
		s.profiles[p.ID] = clone(p)
	}
	return s
}

func (s *ProfileStore) Create(_ context.Context, p domain.NotificationProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; ok {
		return fmt.Errorf("profile %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	s.profiles[p.ID] = clone(p)
	return nil
}

func (s *ProfileStore) Update(_ context.Context, p domain.NotificationProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.profiles[p.ID]
	if !ok || current.OwnerID != p.OwnerID {
		return fmt.Errorf("profile %s: %w", p.ID, domain.ErrNotFound)
	}
	s.profiles[p.ID] = clone(p)
	return nil
}

func (s *ProfileStore) Delete(_ context.Context, ownerID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.profiles[id]
	if !ok || current.OwnerID != ownerID {
		return fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
	}
	delete(s.profiles, id)
	return nil
}

func (s *ProfileStore) Get(_ context.Context, ownerID, id uuid.UUID) (domain.NotificationProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok || p.OwnerID != ownerID {
		return domain.NotificationProfile{}, fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
	}
	return clone(p), nil
}

// ListByOwner returns the owner's profiles, oldest first.
func (s *ProfileStore) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]domain.NotificationProfile, error) {
	return s.list(func(p domain.NotificationProfile) bool { return p.OwnerID == ownerID }), nil
}

// ListActive returns every active profile, oldest first.
func (s *ProfileStore) ListActive(_ context.Context) ([]domain.NotificationProfile, error) {
	return s.list(func(p domain.NotificationProfile) bool { return p.IsActive }), nil
}

func (s *ProfileStore) list(keep func(domain.NotificationProfile) bool) []domain.NotificationProfile {
	s.mu.RLock()
	out := make([]domain.NotificationProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if keep(p) {
			out = append(out, clone(p))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.NotificationProfile) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

// LockOwner is a no-op; TxRunner already serializes every write.
func (s *ProfileStore) LockOwner(context.Context, uuid.UUID) error { return nil }

func clone(p domain.NotificationProfile) domain.NotificationProfile {
	p.Location.Cities = slices.Clone(p.Location.Cities)
	return p
}

// TxRunner runs one callback at a time. There is no rollback: a failed
// callback leaves behind whatever writes it already made.
type TxRunner struct {
	mu sync.Mutex
}

func NewTxRunner() *TxRunner { return &TxRunner{} }

func (r *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}

// Entitlements is a fixed set of users holding unrestricted alerting.
type Entitlements struct {
	mu    sync.RWMutex
	users map[uuid.UUID]struct{}
}

// NewEntitlements grants unrestricted alerting to the given users.
func NewEntitlements(users ...uuid.UUID) *Entitlements {
	e := &Entitlements{users: make(map[uuid.UUID]struct{}, len(users))}
	for _, u := range users {
		e.users[u] = struct{}{}
	}
	return e
}

// Grant adds a user.
func (e *Entitlements) Grant(userID uuid.UUID) {
	e.mu.Lock()
	e.users[userID] = struct{}{}
	e.mu.Unlock()
}

func (e *Entitlements) HasUnrestrictedAlerts(_ context.Context, userID uuid.UUID) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.users[userID]
	return ok, nil
}
