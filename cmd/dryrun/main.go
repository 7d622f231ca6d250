// Command dryrun evaluates a feed fixture against a profiles fixture offline
// and prints the delivery plan: which users would be notified for which
// events, and why records were skipped. Nothing is published and no database
// is touched; intake, matching and dispatch run against in-memory stores.
//
// Usage:
//
//	go run ./cmd/dryrun \
//	  -events data/mock/quake_feed_240810.json \
//	  -profiles data/mock/profiles.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-alert-service/internal/adapter/memory"
	"github.com/couchcryptid/quake-alert-service/internal/dispatch"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/geo"
	"github.com/couchcryptid/quake-alert-service/internal/intake"
	"github.com/couchcryptid/quake-alert-service/internal/matching"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

type planEntry struct {
	Index    int                      `json:"index"`
	EventID  string                   `json:"event_id,omitempty"`
	Skipped  string                   `json:"skipped,omitempty"`
	Requests []domain.DeliveryRequest `json:"requests,omitempty"`
}

func main() {
	eventsPath := flag.String("events", "data/mock/quake_feed_240810.json", "JSON array of raw feed records")
	profilesPath := flag.String("profiles", "data/mock/profiles.json", "JSON array of notification profiles")
	geoPath := flag.String("geo-table", "", "place table YAML (defaults to the embedded table)")
	at := flag.String("at", "", "RFC 3339 time used as the processing clock")
	asJSON := flag.Bool("json", false, "print the plan as JSON")
	verbose := flag.Bool("v", false, "log matcher and dispatcher decisions to stderr")
	flag.Parse()

	if err := run(*eventsPath, *profilesPath, *geoPath, *at, *asJSON, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "dryrun: %v\n", err)
		os.Exit(1)
	}
}

func run(eventsPath, profilesPath, geoPath, at string, asJSON, verbose bool) error {
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("invalid -at: %w", err)
		}
		domain.SetClock(clockwork.NewFakeClockAt(t))
		defer domain.SetClock(nil)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	table, err := geo.DefaultTable()
	if geoPath != "" {
		table, err = geo.LoadTableFile(geoPath)
	}
	if err != nil {
		return fmt.Errorf("load place table: %w", err)
	}
	normalizer := geo.NewNormalizer(table)

	var records []json.RawMessage
	if err := readJSON(eventsPath, &records); err != nil {
		return err
	}
	var profiles []domain.NotificationProfile
	if err := readJSON(profilesPath, &profiles); err != nil {
		return err
	}

	metrics := observability.NewMetricsForTesting()
	ledger := memory.NewLedger()
	in := intake.New(ledger, logger)
	engine := matching.NewEngine(normalizer, 4, metrics, logger)
	coordinator := dispatch.NewCoordinator(ledger, normalizer, metrics, logger)

	ctx := context.Background()
	plan := make([]planEntry, 0, len(records))
	for i, rec := range records {
		entry := planEntry{Index: i}
		event, err := in.Ingest(ctx, domain.RawEvent{Value: rec, Timestamp: domain.Now()})
		switch {
		case errors.Is(err, domain.ErrMalformedEvent):
			entry.Skipped = err.Error()
		case errors.Is(err, intake.ErrDuplicate):
			entry.EventID = event.ID
			entry.Skipped = "duplicate"
		case err != nil:
			return err
		default:
			entry.EventID = event.ID
			entry.Requests, err = evaluate(ctx, engine, coordinator, event, profiles)
			if err != nil {
				return fmt.Errorf("event %s: %w", event.ID, err)
			}
			if err := in.Complete(ctx, event); err != nil {
				return err
			}
		}
		plan = append(plan, entry)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}
	printPlan(os.Stdout, plan)
	return nil
}

func evaluate(ctx context.Context, engine *matching.Engine, coordinator *dispatch.Coordinator, event domain.QuakeEvent, profiles []domain.NotificationProfile) ([]domain.DeliveryRequest, error) {
	ids, err := engine.Match(ctx, event, profiles)
	if err != nil {
		return nil, err
	}
	return coordinator.Coordinate(ctx, event, matching.GroupByOwner(profiles, ids), profiles)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func printPlan(w io.Writer, plan []planEntry) {
	var deliveries, skipped int
	for _, e := range plan {
		switch {
		case e.Skipped != "":
			skipped++
			fmt.Fprintf(w, "#%-3d %-28s SKIP %s\n", e.Index, e.EventID, e.Skipped)
		case len(e.Requests) == 0:
			fmt.Fprintf(w, "#%-3d %-28s no matches\n", e.Index, e.EventID)
		default:
			ev := e.Requests[0].Event
			fmt.Fprintf(w, "#%-3d %-28s M%.1f %s\n", e.Index, e.EventID, ev.Magnitude, place(ev))
			for _, r := range e.Requests {
				deliveries++
				fmt.Fprintf(w, "       -> %s  %s\n", r.UserID, strings.Join(r.ProfileNames, ", "))
			}
		}
	}
	fmt.Fprintf(w, "\n%d records, %d skipped, %d delivery requests\n", len(plan), skipped, deliveries)
}

func place(ev domain.EventSummary) string {
	switch {
	case ev.District != "":
		return ev.District + ", " + ev.City
	case ev.City != "":
		return ev.City
	case ev.Region != "":
		return ev.Region
	default:
		return "(no location)"
	}
}
