package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// timeLayouts lists the origin-time formats seen across agencies, most
// specific first. Layouts without a zone are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006.01.02 15:04:05",
}

// ParseRawEvent deserializes a RawEvent's value into a QuakeEvent and stamps
// its stable ID. Missing source or magnitude yields ErrMalformedEvent.
func ParseRawEvent(raw RawEvent) (QuakeEvent, error) {
	var rec RawQuakeRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return QuakeEvent{}, fmt.Errorf("parse raw event: %w: %w", ErrMalformedEvent, err)
	}

	if strings.TrimSpace(rec.Source) == "" {
		return QuakeEvent{}, fmt.Errorf("parse raw event: %w: missing source", ErrMalformedEvent)
	}
	source, err := ParseSourceCode(rec.Source)
	if err != nil {
		return QuakeEvent{}, fmt.Errorf("parse raw event: %w: %w", ErrMalformedEvent, err)
	}
	if rec.Magnitude == nil {
		return QuakeEvent{}, fmt.Errorf("parse raw event: %w: missing magnitude", ErrMalformedEvent)
	}
	if math.IsNaN(*rec.Magnitude) || math.IsInf(*rec.Magnitude, 0) {
		return QuakeEvent{}, fmt.Errorf("parse raw event: %w: magnitude is not finite", ErrMalformedEvent)
	}

	event := QuakeEvent{
		Source:        source,
		SourceEventID: strings.TrimSpace(rec.SourceID),
		Magnitude:     *rec.Magnitude,
		Region:        strings.TrimSpace(rec.Region),
		City:          strings.TrimSpace(rec.City),
		OriginTime:    parseOriginTime(rec.Time, raw.Timestamp),
		RawPayload:    raw.Value,
	}
	if rec.DepthKm != nil {
		event.DepthKm = *rec.DepthKm
	}
	if rec.Lat != nil && rec.Lon != nil {
		event.Geo = &Geo{Lat: *rec.Lat, Lon: *rec.Lon}
	}
	event.ID = generateID(event)

	return event, nil
}

// parseOriginTime tries each known layout and falls back to the message
// timestamp.
func parseOriginTime(value string, fallback time.Time) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback.UTC()
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return fallback.UTC()
}

// generateID produces a deterministic ID for an event. A native agency ID is
// used verbatim when present; otherwise the epicenter and origin time are
// hashed. Replaying the same record always produces the same ID.
func generateID(e QuakeEvent) string {
	if e.SourceEventID != "" {
		return string(e.Source) + "-" + e.SourceEventID
	}

	epicenter := strings.ToLower(e.City + "|" + e.Region)
	if e.Geo != nil {
		epicenter = fmt.Sprintf("%.4f|%.4f", e.Geo.Lat, e.Geo.Lon)
	}
	input := fmt.Sprintf("%s|%s|%s", e.Source, epicenter, e.OriginTime.UTC().Truncate(time.Second).Format(time.RFC3339))
	hash := sha256.Sum256([]byte(input))
	return string(e.Source) + "-" + hex.EncodeToString(hash[:8])
}

// EnrichQuakeEvent stamps the processing time.
func EnrichQuakeEvent(event QuakeEvent) QuakeEvent {
	event.ProcessedAt = Now()
	return event
}
