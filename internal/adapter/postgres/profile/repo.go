// Package profile implements the notification profile store on PostgreSQL.
package profile

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	postgres "github.com/couchcryptid/quake-alert-service/internal/adapter/postgres"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

const table = "notification_profiles"

var columns = []string{
	"id", "owner_id", "name", "is_active", "sources",
	"magnitude_min", "magnitude_max", "location_type", "cities",
	"created_at", "updated_at",
}

// Repo stores profiles in the notification_profiles table.
type Repo struct {
	db postgres.Querier
}

// New creates a profile repository. db is used when the context carries no
// transaction.
func New(db postgres.Querier) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, p domain.NotificationProfile) error {
	sql, args, err := postgres.Builder.
		Insert(table).
		Columns(columns...).
		Values(
			p.ID, p.OwnerID, p.Name, p.IsActive, p.Sources.Strings(),
			p.Magnitude.Min, p.Magnitude.Max, string(p.Location.Type), cities(p.Location),
			p.CreatedAt, p.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := postgres.QuerierFromCtx(ctx, r.db).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(err, "profile", p.ID)
	}
	return nil
}

// Update rewrites every mutable column. A profile owned by someone else is
// reported as not found.
func (r *Repo) Update(ctx context.Context, p domain.NotificationProfile) error {
	sql, args, err := postgres.Builder.
		Update(table).
		Set("name", p.Name).
		Set("is_active", p.IsActive).
		Set("sources", p.Sources.Strings()).
		Set("magnitude_min", p.Magnitude.Min).
		Set("magnitude_max", p.Magnitude.Max).
		Set("location_type", string(p.Location.Type)).
		Set("cities", cities(p.Location)).
		Set("updated_at", p.UpdatedAt).
		Where(squirrel.Eq{"id": p.ID}).
		Where(squirrel.Eq{"owner_id": p.OwnerID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := postgres.QuerierFromCtx(ctx, r.db).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapError(err, "profile", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return postgres.MapError(pgx.ErrNoRows, "profile", p.ID)
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	sql, args, err := postgres.Builder.
		Delete(table).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Eq{"owner_id": ownerID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	tag, err := postgres.QuerierFromCtx(ctx, r.db).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapError(err, "profile", id)
	}
	if tag.RowsAffected() == 0 {
		return postgres.MapError(pgx.ErrNoRows, "profile", id)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, ownerID, id uuid.UUID) (domain.NotificationProfile, error) {
	sql, args, err := postgres.Builder.
		Select(columns...).
		From(table).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Eq{"owner_id": ownerID}).
		ToSql()
	if err != nil {
		return domain.NotificationProfile{}, fmt.Errorf("build select: %w", err)
	}

	p, err := scanProfile(postgres.QuerierFromCtx(ctx, r.db).QueryRow(ctx, sql, args...))
	if err != nil {
		return domain.NotificationProfile{}, postgres.MapError(err, "profile", id)
	}
	return p, nil
}

// ListByOwner returns the owner's profiles, oldest first.
func (r *Repo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.NotificationProfile, error) {
	return r.list(ctx, squirrel.Eq{"owner_id": ownerID}, "owner", ownerID)
}

// ListActive returns every active profile, oldest first.
func (r *Repo) ListActive(ctx context.Context) ([]domain.NotificationProfile, error) {
	return r.list(ctx, squirrel.Eq{"is_active": true}, "active profiles", "")
}

// LockOwner takes a transaction-scoped advisory lock on ownerID. Outside a
// transaction it is released immediately.
func (r *Repo) LockOwner(ctx context.Context, ownerID uuid.UUID) error {
	_, err := postgres.QuerierFromCtx(ctx, r.db).Exec(ctx,
		"SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", ownerID.String())
	return postgres.MapError(err, "owner lock", ownerID)
}

func (r *Repo) list(ctx context.Context, where squirrel.Sqlizer, entity string, id any) ([]domain.NotificationProfile, error) {
	sql, args, err := postgres.Builder.
		Select(columns...).
		From(table).
		Where(where).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := postgres.QuerierFromCtx(ctx, r.db).Query(ctx, sql, args...)
	if err != nil {
		return nil, postgres.MapError(err, entity, id)
	}
	defer rows.Close()

	var out []domain.NotificationProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, postgres.MapError(err, entity, id)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.MapError(err, entity, id)
	}
	return out, nil
}

// scanProfile reads one row in column order. A stored source list that no
// longer parses yields an empty selection, which matching treats as malformed.
func scanProfile(row pgx.Row) (domain.NotificationProfile, error) {
	var (
		p            domain.NotificationProfile
		sources      []string
		locationType string
	)
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.IsActive, &sources,
		&p.Magnitude.Min, &p.Magnitude.Max, &locationType, &p.Location.Cities,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.NotificationProfile{}, err
	}

	if sel, err := domain.ParseSourceSelection(sources); err == nil {
		p.Sources = sel
	}
	p.Location.Type = domain.LocationType(locationType)
	if len(p.Location.Cities) == 0 {
		p.Location.Cities = nil
	}
	return p, nil
}

func cities(loc domain.LocationScope) []string {
	if loc.Cities == nil {
		return []string{}
	}
	return loc.Cities
}
