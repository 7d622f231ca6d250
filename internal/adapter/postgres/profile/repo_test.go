package profile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

func newMock(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return New(mock), mock
}

func sampleProfile() domain.NotificationProfile {
	now := time.Date(2024, 8, 10, 12, 0, 0, 0, time.UTC)
	return domain.NotificationProfile{
		ID:        uuid.MustParse("6a1d6c1e-2f5b-4c57-9d1e-000000000001"),
		OwnerID:   uuid.MustParse("0b5e3c1e-8f6a-4d0d-8f3a-7a1f2c9e4b01"),
		Name:      "Family in Malatya",
		IsActive:  true,
		Sources:   domain.AllSourcesSelection(),
		Magnitude: domain.MagnitudeRange{Min: 4, Max: 10},
		Location:  domain.CityLocations("Malatya"),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func profileRows(profiles ...domain.NotificationProfile) *pgxmock.Rows {
	rows := pgxmock.NewRows(columns)
	for _, p := range profiles {
		cities := p.Location.Cities
		if cities == nil {
			cities = []string{}
		}
		rows.AddRow(p.ID, p.OwnerID, p.Name, p.IsActive, p.Sources.Strings(),
			p.Magnitude.Min, p.Magnitude.Max, string(p.Location.Type), cities,
			p.CreatedAt, p.UpdatedAt)
	}
	return rows
}

func TestRepo_Create(t *testing.T) {
	repo, mock := newMock(t)
	p := sampleProfile()

	mock.ExpectExec(`INSERT INTO notification_profiles`).
		WithArgs(p.ID, p.OwnerID, p.Name, true, []string{"all"}, 4.0, 10.0, "cities", []string{"Malatya"}, p.CreatedAt, p.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), p))
}

func TestRepo_Create_Duplicate(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(`INSERT INTO notification_profiles`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), sampleProfile())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestRepo_Update(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "updated", affected: 1},
		{name: "missing or foreign owner", affected: 0, wantErr: domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMock(t)
			p := sampleProfile()
			p.Location = domain.AllLocations()

			mock.ExpectExec(`UPDATE notification_profiles SET`).
				WithArgs(p.Name, true, []string{"all"}, 4.0, 10.0, "all", []string{}, p.UpdatedAt, p.ID.String(), p.OwnerID.String()).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			err := repo.Update(context.Background(), p)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRepo_Delete_NotFound(t *testing.T) {
	repo, mock := newMock(t)
	p := sampleProfile()

	mock.ExpectExec(`DELETE FROM notification_profiles`).
		WithArgs(p.ID.String(), p.OwnerID.String()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.Delete(context.Background(), p.OwnerID, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepo_Get(t *testing.T) {
	repo, mock := newMock(t)
	p := sampleProfile()

	mock.ExpectQuery(`SELECT .* FROM notification_profiles WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(p.ID.String(), p.OwnerID.String()).
		WillReturnRows(profileRows(p))

	got, err := repo.Get(context.Background(), p.OwnerID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.True(t, got.Sources.IsAll())
	assert.Equal(t, domain.LocationCities, got.Location.Type)
	assert.Equal(t, []string{"Malatya"}, got.Location.Cities)
	assert.Equal(t, p.Magnitude, got.Magnitude)
}

func TestRepo_Get_NotFound(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(`SELECT`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepo_ListActive(t *testing.T) {
	repo, mock := newMock(t)

	a := sampleProfile()
	b := sampleProfile()
	b.ID = uuid.MustParse("6a1d6c1e-2f5b-4c57-9d1e-000000000002")
	b.Location = domain.AllLocations()
	b.Sources, _ = domain.ExplicitSources(domain.SourceKandilli)

	mock.ExpectQuery(`SELECT .* FROM notification_profiles WHERE is_active = \$1 ORDER BY created_at, id`).
		WithArgs(true).
		WillReturnRows(profileRows(a, b))

	got, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Nil(t, got[1].Location.Cities)
	assert.True(t, got[1].Sources.Contains(domain.SourceKandilli))
	assert.False(t, got[1].Sources.Contains(domain.SourceAFAD))
}

func TestRepo_ListActive_UnparseableSourcesScanEmpty(t *testing.T) {
	repo, mock := newMock(t)
	p := sampleProfile()

	rows := pgxmock.NewRows(columns).
		AddRow(p.ID, p.OwnerID, p.Name, true, []string{"gfz"},
			p.Magnitude.Min, p.Magnitude.Max, "cities", []string{"Malatya"},
			p.CreatedAt, p.UpdatedAt)
	mock.ExpectQuery(`SELECT`).WithArgs(true).WillReturnRows(rows)

	got, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Sources.IsEmpty())
}

func TestRepo_ListByOwner_QueryError(t *testing.T) {
	repo, mock := newMock(t)
	owner := uuid.New()

	mock.ExpectQuery(`SELECT`).
		WithArgs(owner.String()).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.ListByOwner(context.Background(), owner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRepo_LockOwner(t *testing.T) {
	repo, mock := newMock(t)
	owner := uuid.New()

	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(owner.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	assert.NoError(t, repo.LockOwner(context.Background(), owner))
}
