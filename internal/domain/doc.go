// Package domain models seismic event records and earthquake notification
// profiles.
//
// # Data Sources
//
// Event records originate from five seismological agencies: Kandilli
// Observatory (kandilli), the Disaster and Emergency Management Authority
// (afad), the US Geological Survey (usgs), the European-Mediterranean
// Seismological Centre (emsc) and IRIS (iris). An upstream collector polls each
// agency and publishes one flat JSON object per event to the Kafka source topic:
//
//	{"source":"afad","source_id":"613425","magnitude":4.1,
//	 "region":"Sındırgı (Balıkesir)","city":"Balıkesir",
//	 "lat":39.2,"lon":28.1,"depth_km":7.0,"time":"2025-08-10T16:53:46Z"}
//
// Only source and magnitude are required. Location granularity is inconsistent
// between agencies: a district may appear where a city is expected, Kandilli
// reports upper-case ASCII ("KADIKOY (ISTANBUL)") and USGS reports relative
// positions ("12 km SSW of Sındırgı, Turkey"). Location text is resolved to a
// canonical city by package geo, never here.
//
// Time format:
//
//	RFC 3339 is preferred. "2006-01-02 15:04:05" and "2006-01-02T15:04:05" are
//	accepted and read as UTC. When the field is missing or unparseable the
//	Kafka message timestamp is used. Origin time orders and identifies events;
//	it never filters them.
//
// # ID Generation
//
// When the agency supplies a native identifier the event ID is
// "<source>-<source_id>". Otherwise it is "<source>-" followed by a truncated
// SHA-256 of source|lat|lon|origin time (location text stands in for missing
// coordinates). The same upstream record always yields the same ID, which is
// what makes feed replays safe. See [generateID].
//
// # Notification Profiles
//
// A profile is the conjunction of three filters: a [SourceSelection], an
// inclusive [MagnitudeRange] and a [LocationScope]. Invariants are validated
// when a profile is written; the matching engine re-checks them on every pass
// and treats violations as non-matching.
package domain
