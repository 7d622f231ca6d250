// Package entitlement reads the unrestricted-alerting capability from
// PostgreSQL.
package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	postgres "github.com/couchcryptid/quake-alert-service/internal/adapter/postgres"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

type Repo struct {
	db postgres.Querier
}

func New(db postgres.Querier) *Repo {
	return &Repo{db: db}
}

// HasUnrestrictedAlerts is false for users with no row.
func (r *Repo) HasUnrestrictedAlerts(ctx context.Context, userID uuid.UUID) (bool, error) {
	sql, args, err := postgres.Builder.
		Select("unrestricted_alerts").
		From("user_entitlements").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select: %w", err)
	}

	var unrestricted bool
	err = postgres.QuerierFromCtx(ctx, r.db).QueryRow(ctx, sql, args...).Scan(&unrestricted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, postgres.MapError(err, "entitlement", userID)
	}
	return unrestricted, nil
}

// Set upserts the capability for userID.
func (r *Repo) Set(ctx context.Context, userID uuid.UUID, unrestricted bool) error {
	sql, args, err := postgres.Builder.
		Insert("user_entitlements").
		Columns("user_id", "unrestricted_alerts", "updated_at").
		Values(userID, unrestricted, domain.Now()).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET unrestricted_alerts = EXCLUDED.unrestricted_alerts, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := postgres.QuerierFromCtx(ctx, r.db).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(err, "entitlement", userID)
	}
	return nil
}
