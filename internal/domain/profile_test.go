package domain

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagnitudeRange_Contains(t *testing.T) {
	r := MagnitudeRange{Min: 4.0, Max: 6.0}

	assert.True(t, r.Contains(4.0), "lower bound is inclusive")
	assert.True(t, r.Contains(6.0), "upper bound is inclusive")
	assert.True(t, r.Contains(5.5))
	assert.False(t, r.Contains(3.99))
	assert.False(t, r.Contains(6.01))

	inverted := MagnitudeRange{Min: 7, Max: 3}
	for _, m := range []float64{0, 3, 5, 7, 10} {
		assert.False(t, inverted.Contains(m))
	}
}

func TestMagnitudeRange_Validate(t *testing.T) {
	tests := []struct {
		name    string
		r       MagnitudeRange
		wantErr bool
	}{
		{"full range", FullMagnitudeRange(), false},
		{"single point", MagnitudeRange{Min: 5, Max: 5}, false},
		{"inverted", MagnitudeRange{Min: 7, Max: 3}, true},
		{"negative min", MagnitudeRange{Min: -1, Max: 3}, true},
		{"max above ten", MagnitudeRange{Min: 1, Max: 10.5}, true},
		{"NaN", MagnitudeRange{Min: math.NaN(), Max: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLocationScope_Validate(t *testing.T) {
	assert.NoError(t, AllLocations().Validate())
	assert.NoError(t, CityLocations("İstanbul").Validate())
	assert.ErrorIs(t, CityLocations().Validate(), ErrValidation)
	assert.ErrorIs(t, CityLocations(" ", "").Validate(), ErrValidation)
	assert.ErrorIs(t, LocationScope{Type: LocationAll, Cities: []string{"Ankara"}}.Validate(), ErrValidation)
	assert.ErrorIs(t, LocationScope{Type: "region"}.Validate(), ErrValidation)
}

func TestNotificationProfile_Validate(t *testing.T) {
	valid := NotificationProfile{
		OwnerID:   uuid.New(),
		Name:      "Home",
		IsActive:  true,
		Sources:   AllSourcesSelection(),
		Magnitude: MagnitudeRange{Min: 4, Max: 6},
		Location:  CityLocations("Ankara"),
	}
	require.NoError(t, valid.Validate())

	t.Run("collects every field error", func(t *testing.T) {
		p := NotificationProfile{
			Name:      "  ",
			Magnitude: MagnitudeRange{Min: 7, Max: 3},
			Location:  CityLocations(),
		}
		err := p.Validate()
		require.Error(t, err)

		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
		fields := make([]string, 0, len(ve.Errors))
		for _, fe := range ve.Errors {
			fields = append(fields, fe.Field)
		}
		assert.ElementsMatch(t, []string{"name", "owner_id", "sources", "magnitude_range", "location.cities"}, fields)
	})

	t.Run("name too long", func(t *testing.T) {
		p := valid
		p.Name = strings.Repeat("ş", MaxProfileNameLength+1)
		assert.ErrorIs(t, p.Validate(), ErrValidation)
	})
}

func TestValidationError_Error(t *testing.T) {
	single := NewValidationError("name", "required")
	assert.Equal(t, "validation: name: required", single.Error())

	multi := &ValidationError{Errors: []FieldError{{Field: "a"}, {Field: "b"}}}
	assert.Equal(t, "validation: 2 errors", multi.Error())
	assert.True(t, errors.Is(multi, ErrValidation))
}
