// Package ledger implements the completed-event ledger and the dispatch
// record table on PostgreSQL.
package ledger

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	postgres "github.com/couchcryptid/quake-alert-service/internal/adapter/postgres"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Repo implements intake.Ledger and dispatch.Ledger.
type Repo struct {
	db postgres.Querier
}

func New(db postgres.Querier) *Repo {
	return &Repo{db: db}
}

// IsCompleted reports whether eventID is in processed_events.
func (r *Repo) IsCompleted(ctx context.Context, eventID string) (bool, error) {
	sql, args, err := postgres.Builder.
		Select("1").
		From("processed_events").
		Where(squirrel.Eq{"event_id": eventID}).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select: %w", err)
	}

	var exists bool
	if err := postgres.QuerierFromCtx(ctx, r.db).QueryRow(ctx, sql, args...).Scan(&exists); err != nil {
		return false, postgres.MapError(err, "event", eventID)
	}
	return exists, nil
}

// MarkCompleted inserts eventID. Completing an event twice is a no-op.
func (r *Repo) MarkCompleted(ctx context.Context, eventID string) error {
	sql, args, err := postgres.Builder.
		Insert("processed_events").
		Columns("event_id", "completed_at").
		Values(eventID, domain.Now()).
		Suffix("ON CONFLICT (event_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := postgres.QuerierFromCtx(ctx, r.db).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(err, "event", eventID)
	}
	return nil
}

// ClaimDispatch inserts rec unless its (event, user) pair exists and reports
// whether the row was created. Concurrent claims for one pair are serialized
// by the primary key, so exactly one caller wins.
func (r *Repo) ClaimDispatch(ctx context.Context, rec domain.DispatchRecord) (bool, error) {
	sql, args, err := postgres.Builder.
		Insert("dispatch_records").
		Columns("event_id", "user_id", "matched_profile_ids", "created_at").
		Values(rec.EventID, rec.UserID, rec.MatchedProfileIDs, rec.CreatedAt).
		Suffix("ON CONFLICT (event_id, user_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	tag, err := postgres.QuerierFromCtx(ctx, r.db).Exec(ctx, sql, args...)
	if err != nil {
		return false, postgres.MapError(err, "dispatch", rec.EventID+"/"+rec.UserID.String())
	}
	return tag.RowsAffected() == 1, nil
}

// Dispatches returns the records written for eventID, ordered by user.
func (r *Repo) Dispatches(ctx context.Context, eventID string) ([]domain.DispatchRecord, error) {
	sql, args, err := postgres.Builder.
		Select("event_id", "user_id", "matched_profile_ids", "created_at").
		From("dispatch_records").
		Where(squirrel.Eq{"event_id": eventID}).
		OrderBy("user_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := postgres.QuerierFromCtx(ctx, r.db).Query(ctx, sql, args...)
	if err != nil {
		return nil, postgres.MapError(err, "dispatches", eventID)
	}
	defer rows.Close()

	var out []domain.DispatchRecord
	for rows.Next() {
		var rec domain.DispatchRecord
		if err := rows.Scan(&rec.EventID, &rec.UserID, &rec.MatchedProfileIDs, &rec.CreatedAt); err != nil {
			return nil, postgres.MapError(err, "dispatches", eventID)
		}
		out = append(out, rec)
	}
	return out, postgres.MapError(rows.Err(), "dispatches", eventID)
}
