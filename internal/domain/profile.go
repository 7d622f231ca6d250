package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MinMagnitude = 0.0
	MaxMagnitude = 10.0

	MaxProfileNameLength = 100
)

// MagnitudeRange is an inclusive [Min, Max] magnitude filter.
type MagnitudeRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// FullMagnitudeRange covers every magnitude a profile can express.
func FullMagnitudeRange() MagnitudeRange {
	return MagnitudeRange{Min: MinMagnitude, Max: MaxMagnitude}
}

// Validate checks 0 <= Min <= Max <= 10.
func (r MagnitudeRange) Validate() error {
	switch {
	case math.IsNaN(r.Min) || math.IsNaN(r.Max):
		return NewValidationError("magnitude_range", "bounds must be numbers")
	case r.Min < MinMagnitude || r.Max > MaxMagnitude:
		return NewValidationError("magnitude_range", fmt.Sprintf("bounds must be within [%g, %g]", MinMagnitude, MaxMagnitude))
	case r.Min > r.Max:
		return NewValidationError("magnitude_range", "min must not exceed max")
	}
	return nil
}

// Contains reports whether m lies within the range, both bounds inclusive.
func (r MagnitudeRange) Contains(m float64) bool {
	return r.Min <= m && m <= r.Max
}

// LocationType tags the variant of a LocationScope.
type LocationType string

const (
	LocationAll    LocationType = "all"
	LocationCities LocationType = "cities"
)

// LocationScope is the geographic filter of a profile: every location, or an
// explicit non-empty set of cities.
type LocationScope struct {
	Type   LocationType `json:"type"`
	Cities []string     `json:"cities,omitempty"`
}

// AllLocations matches events anywhere, including events with no location.
func AllLocations() LocationScope {
	return LocationScope{Type: LocationAll}
}

// CityLocations matches events resolved to one of the given cities.
func CityLocations(cities ...string) LocationScope {
	return LocationScope{Type: LocationCities, Cities: cities}
}

// Validate checks the tag and, for the cities variant, that at least one
// non-blank city is present.
func (l LocationScope) Validate() error {
	switch l.Type {
	case LocationAll:
		if len(l.Cities) > 0 {
			return NewValidationError("location.cities", `must be empty when type is "all"`)
		}
		return nil
	case LocationCities:
		for _, c := range l.Cities {
			if strings.TrimSpace(c) != "" {
				return nil
			}
		}
		return NewValidationError("location.cities", "at least one city is required")
	default:
		return NewValidationError("location.type", fmt.Sprintf("unknown location type %q", l.Type))
	}
}

// NotificationProfile is one named set of alert criteria owned by a user.
type NotificationProfile struct {
	ID        uuid.UUID       `json:"id"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Name      string          `json:"name"`
	IsActive  bool            `json:"is_active"`
	Sources   SourceSelection `json:"sources"`
	Magnitude MagnitudeRange  `json:"magnitude_range"`
	Location  LocationScope   `json:"location"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Validate checks every write-time invariant and collects all errors.
func (p NotificationProfile) Validate() error {
	var errs []FieldError

	name := strings.TrimSpace(p.Name)
	if name == "" {
		errs = append(errs, FieldError{Field: "name", Message: "required"})
	}
	if len([]rune(name)) > MaxProfileNameLength {
		errs = append(errs, FieldError{Field: "name", Message: fmt.Sprintf("max %d characters", MaxProfileNameLength)})
	}
	if p.OwnerID == uuid.Nil {
		errs = append(errs, FieldError{Field: "owner_id", Message: "required"})
	}
	if p.Sources.IsEmpty() {
		errs = append(errs, FieldError{Field: "sources", Message: "at least one source is required"})
	}
	for _, err := range []error{p.Magnitude.Validate(), p.Location.Validate()} {
		if ve, ok := err.(*ValidationError); ok {
			errs = append(errs, ve.Errors...)
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
