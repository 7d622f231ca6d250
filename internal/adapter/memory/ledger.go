package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

type dispatchKey struct {
	eventID string
	userID  uuid.UUID
}

// Ledger records completed dispatch passes and per-user dispatch records.
type Ledger struct {
	mu         sync.Mutex
	completed  map[string]time.Time
	dispatches map[dispatchKey]domain.DispatchRecord
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		completed:  make(map[string]time.Time),
		dispatches: make(map[dispatchKey]domain.DispatchRecord),
	}
}

// IsCompleted reports whether the pass for eventID already finished.
func (l *Ledger) IsCompleted(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.completed[eventID]
	return ok, nil
}

// MarkCompleted appends eventID to the ledger. Repeated calls are no-ops.
func (l *Ledger) MarkCompleted(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.completed[eventID]; !ok {
		l.completed[eventID] = domain.Now()
	}
	return nil
}

// ClaimDispatch stores rec unless a record for the same (event, user) pair
// exists. It reports whether this call created the record.
func (l *Ledger) ClaimDispatch(_ context.Context, rec domain.DispatchRecord) (bool, error) {
	key := dispatchKey{eventID: rec.EventID, userID: rec.UserID}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.dispatches[key]; ok {
		return false, nil
	}
	rec.MatchedProfileIDs = slices.Clone(rec.MatchedProfileIDs)
	l.dispatches[key] = rec
	return true, nil
}

// Dispatches returns the records written for eventID, ordered by user.
func (l *Ledger) Dispatches(eventID string) []domain.DispatchRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.DispatchRecord
	for k, rec := range l.dispatches {
		if k.eventID == eventID {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b domain.DispatchRecord) int {
		return slices.Compare(a.UserID[:], b.UserID[:])
	})
	return out
}
