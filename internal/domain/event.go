package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RawQuakeRecord represents the flat JSON structure produced by the collector.
// Pointer fields distinguish "absent" from zero.
type RawQuakeRecord struct {
	Source    string   `json:"source"`
	SourceID  string   `json:"source_id,omitempty"`
	Magnitude *float64 `json:"magnitude"`
	Region    string   `json:"region,omitempty"`
	City      string   `json:"city,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
	DepthKm   *float64 `json:"depth_km,omitempty"`
	Time      string   `json:"time,omitempty"`
}

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat,omitempty"`
	Lon float64 `json:"lon,omitempty"`
}

// QuakeEvent is an earthquake record after intake. It is immutable once
// stamped with an ID.
type QuakeEvent struct {
	ID            string     `json:"id"`
	Source        SourceCode `json:"source"`
	SourceEventID string     `json:"source_event_id,omitempty"`
	Magnitude     float64    `json:"magnitude"`
	DepthKm       float64    `json:"depth_km,omitempty"`
	Region        string     `json:"region,omitempty"`
	City          string     `json:"city,omitempty"`
	Geo           *Geo       `json:"geo,omitempty"`
	OriginTime    time.Time  `json:"origin_time"`

	RawPayload  []byte    `json:"-"`
	ProcessedAt time.Time `json:"processed_at"`
}

// HasLocation reports whether the event carries any location text at all.
func (e QuakeEvent) HasLocation() bool {
	return strings.TrimSpace(e.City) != "" || strings.TrimSpace(e.Region) != ""
}

// DispatchRecord is the audit artifact written once per (event, user) pair.
// Its existence is what suppresses a second delivery on replay.
type DispatchRecord struct {
	EventID           string      `json:"event_id"`
	UserID            uuid.UUID   `json:"user_id"`
	MatchedProfileIDs []uuid.UUID `json:"matched_profile_ids"`
	CreatedAt         time.Time   `json:"created_at"`
}

// EventSummary is the part of an event a notification message is built from.
type EventSummary struct {
	Source     SourceCode `json:"source"`
	Magnitude  float64    `json:"magnitude"`
	DepthKm    float64    `json:"depth_km,omitempty"`
	City       string     `json:"city,omitempty"`
	District   string     `json:"district,omitempty"`
	Region     string     `json:"region,omitempty"`
	OriginTime time.Time  `json:"origin_time"`
}

// DeliveryRequest asks the delivery transport to notify one user about one
// event. ProfileNames carries the labels of every profile that matched.
type DeliveryRequest struct {
	ID           string       `json:"id"`
	UserID       uuid.UUID    `json:"user_id"`
	EventID      string       `json:"event_id"`
	ProfileIDs   []uuid.UUID  `json:"profile_ids"`
	ProfileNames []string     `json:"profile_names"`
	Event        EventSummary `json:"event"`
	CreatedAt    time.Time    `json:"created_at"`
}

// DeliveryRequestID derives the idempotency key of a delivery request.
func DeliveryRequestID(eventID string, userID uuid.UUID) string {
	return eventID + ":" + userID.String()
}
