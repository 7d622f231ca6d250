package entitlement

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepo_HasUnrestrictedAlerts(t *testing.T) {
	user := uuid.New()

	tests := []struct {
		name    string
		setup   func(mock pgxmock.PgxPoolIface)
		want    bool
		wantErr bool
	}{
		{
			name: "granted",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT unrestricted_alerts FROM user_entitlements`).
					WithArgs(user.String()).
					WillReturnRows(pgxmock.NewRows([]string{"unrestricted_alerts"}).AddRow(true))
			},
			want: true,
		},
		{
			name: "no row means free tier",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT`).WithArgs(user.String()).WillReturnError(pgx.ErrNoRows)
			},
			want: false,
		},
		{
			name: "store error",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT`).WithArgs(user.String()).WillReturnError(errors.New("boom"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tt.setup(mock)

			got, err := New(mock).HasUnrestrictedAlerts(context.Background(), user)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepo_Set(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	user := uuid.New()

	mock.ExpectExec(`INSERT INTO user_entitlements .* ON CONFLICT \(user_id\) DO UPDATE`).
		WithArgs(user, true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, New(mock).Set(context.Background(), user, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}
