package matching

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/geo"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

func newTestEngine(t *testing.T, workers int) (*Engine, *observability.Metrics, *bytes.Buffer) {
	t.Helper()
	table, err := geo.DefaultTable()
	require.NoError(t, err)
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	metrics := observability.NewMetricsForTesting()
	return NewEngine(geo.NewNormalizer(table), workers, metrics, logger), metrics, &logs
}

func sources(t *testing.T, codes ...domain.SourceCode) domain.SourceSelection {
	t.Helper()
	sel, err := domain.ExplicitSources(codes...)
	require.NoError(t, err)
	return sel
}

func profileWith(sel domain.SourceSelection, mag domain.MagnitudeRange, loc domain.LocationScope) domain.NotificationProfile {
	return domain.NotificationProfile{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Name:      "test",
		IsActive:  true,
		Sources:   sel,
		Magnitude: mag,
		Location:  loc,
	}
}

func quake(source domain.SourceCode, mag float64, city string) domain.QuakeEvent {
	return domain.QuakeEvent{ID: "ev-1", Source: source, Magnitude: mag, City: city}
}

func TestMatch_AllSourcesMatchesEverySource(t *testing.T) {
	engine, _, _ := newTestEngine(t, 4)
	p := profileWith(domain.AllSourcesSelection(), domain.FullMagnitudeRange(), domain.AllLocations())

	for _, src := range domain.KnownSources() {
		ids, err := engine.Match(context.Background(), quake(src, 2.5, ""), []domain.NotificationProfile{p})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{p.ID}, ids, "source %s", src)
	}
}

func TestMatch_SourceFilter(t *testing.T) {
	engine, _, _ := newTestEngine(t, 2)
	p := profileWith(sources(t, domain.SourceAFAD, domain.SourceUSGS), domain.FullMagnitudeRange(), domain.AllLocations())
	snapshot := []domain.NotificationProfile{p}

	tests := []struct {
		source domain.SourceCode
		want   bool
	}{
		{domain.SourceAFAD, true},
		{domain.SourceUSGS, true},
		{domain.SourceKandilli, false},
		{domain.SourceEMSC, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			ids, err := engine.Match(context.Background(), quake(tt.source, 5, "Malatya"), snapshot)
			require.NoError(t, err)
			assert.Equal(t, tt.want, len(ids) == 1)
		})
	}
}

func TestMatch_MagnitudeBoundsAreInclusive(t *testing.T) {
	engine, _, _ := newTestEngine(t, 1)
	p := profileWith(domain.AllSourcesSelection(), domain.MagnitudeRange{Min: 4, Max: 6}, domain.AllLocations())
	snapshot := []domain.NotificationProfile{p}

	tests := []struct {
		mag  float64
		want bool
	}{
		{3.99, false},
		{4.0, true},
		{5.1, true},
		{6.0, true},
		{6.01, false},
	}
	for _, tt := range tests {
		ids, err := engine.Match(context.Background(), quake(domain.SourceAFAD, tt.mag, ""), snapshot)
		require.NoError(t, err)
		assert.Equal(t, tt.want, len(ids) == 1, "magnitude %v", tt.mag)
	}
}

func TestMatch_Location(t *testing.T) {
	engine, _, _ := newTestEngine(t, 4)
	istanbul := profileWith(domain.AllSourcesSelection(), domain.FullMagnitudeRange(), domain.CityLocations("İstanbul"))
	everywhere := profileWith(domain.AllSourcesSelection(), domain.FullMagnitudeRange(), domain.AllLocations())
	snapshot := []domain.NotificationProfile{istanbul, everywhere}

	tests := []struct {
		name  string
		event domain.QuakeEvent
		want  []uuid.UUID
	}{
		{
			name:  "district resolves to its province",
			event: quake(domain.SourceKandilli, 3.1, "Kadıköy"),
			want:  []uuid.UUID{istanbul.ID, everywhere.ID},
		},
		{
			name:  "upper case feed text",
			event: quake(domain.SourceKandilli, 3.1, "ISTANBUL"),
			want:  []uuid.UUID{istanbul.ID, everywhere.ID},
		},
		{
			name:  "other city",
			event: quake(domain.SourceKandilli, 3.1, "İzmir"),
			want:  []uuid.UUID{everywhere.ID},
		},
		{
			name:  "falls back to region",
			event: domain.QuakeEvent{ID: "ev-2", Source: domain.SourceAFAD, Magnitude: 3, City: "Marmara Denizi", Region: "Silivri (İstanbul)"},
			want:  []uuid.UUID{istanbul.ID, everywhere.ID},
		},
		{
			name:  "no location matches only all",
			event: quake(domain.SourceEMSC, 3.1, ""),
			want:  []uuid.UUID{everywhere.ID},
		},
		{
			name:  "unmapped event location matches only all",
			event: quake(domain.SourceEMSC, 3.1, "Ege Denizi"),
			want:  []uuid.UUID{everywhere.ID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := engine.Match(context.Background(), tt.event, snapshot)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestMatch_CombinedFilters(t *testing.T) {
	engine, _, _ := newTestEngine(t, 2)
	p := profileWith(sources(t, domain.SourceKandilli), domain.MagnitudeRange{Min: 4, Max: 6}, domain.CityLocations("Ankara"))
	snapshot := []domain.NotificationProfile{p}

	ids, err := engine.Match(context.Background(), quake(domain.SourceKandilli, 4.0, "Çankaya"), snapshot)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{p.ID}, ids)

	ids, err = engine.Match(context.Background(), quake(domain.SourceAFAD, 4.0, "Çankaya"), snapshot)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMatch_InactiveProfilesExcluded(t *testing.T) {
	engine, metrics, _ := newTestEngine(t, 2)
	p := profileWith(domain.AllSourcesSelection(), domain.FullMagnitudeRange(), domain.AllLocations())
	p.IsActive = false

	ids, err := engine.Match(context.Background(), quake(domain.SourceAFAD, 5, "Van"), []domain.NotificationProfile{p})
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, testutil.ToFloat64(metrics.ProfilesEvaluated))
}

func TestMatch_MalformedProfilesFailClosed(t *testing.T) {
	engine, metrics, logs := newTestEngine(t, 3)

	inverted := profileWith(domain.AllSourcesSelection(), domain.MagnitudeRange{Min: 7, Max: 3}, domain.AllLocations())
	noSources := profileWith(domain.SourceSelection{}, domain.FullMagnitudeRange(), domain.AllLocations())
	unmapped := profileWith(domain.AllSourcesSelection(), domain.FullMagnitudeRange(), domain.CityLocations("Xyzplace"))
	empty := profileWith(domain.AllSourcesSelection(), domain.FullMagnitudeRange(), domain.LocationScope{Type: domain.LocationCities})
	snapshot := []domain.NotificationProfile{inverted, noSources, unmapped, empty}

	for _, mag := range []float64{0, 3, 5, 7, 10} {
		ids, err := engine.Match(context.Background(), quake(domain.SourceAFAD, mag, "Xyzplace"), snapshot)
		require.NoError(t, err)
		assert.Empty(t, ids, "magnitude %v", mag)
	}

	// One diagnostic per profile per pass.
	assert.Equal(t, 5*len(snapshot), strings.Count(logs.String(), "malformed profile excluded from matching"))
	assert.InDelta(t, 5, testutil.ToFloat64(metrics.MalformedProfiles.WithLabelValues(ReasonMagnitude)), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(metrics.MalformedProfiles.WithLabelValues(ReasonSources)), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(metrics.MalformedProfiles.WithLabelValues(ReasonLocation)), 0)
}

func TestMatch_MixedKnownAndUnknownCities(t *testing.T) {
	engine, metrics, _ := newTestEngine(t, 1)
	p := profileWith(domain.AllSourcesSelection(), domain.FullMagnitudeRange(), domain.CityLocations("xyzplace", "MALATYA"))

	ids, err := engine.Match(context.Background(), quake(domain.SourceAFAD, 5.9, "Battalgazi (Malatya)"), []domain.NotificationProfile{p})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{p.ID}, ids)
	assert.Zero(t, testutil.ToFloat64(metrics.MalformedProfiles.WithLabelValues(ReasonLocation)))
}

func TestMatch_OutputSortedAndUnique(t *testing.T) {
	engine, metrics, _ := newTestEngine(t, 4)

	var snapshot []domain.NotificationProfile
	for i := 0; i < 50; i++ {
		snapshot = append(snapshot, profileWith(domain.AllSourcesSelection(), domain.FullMagnitudeRange(), domain.AllLocations()))
	}
	// A profile listed twice in the snapshot still matches once.
	snapshot = append(snapshot, snapshot[7], snapshot[21])

	ids, err := engine.Match(context.Background(), quake(domain.SourceUSGS, 6.2, "Hatay"), snapshot)
	require.NoError(t, err)
	require.Len(t, ids, 50)
	for i := 1; i < len(ids); i++ {
		assert.Negative(t, bytes.Compare(ids[i-1][:], ids[i][:]))
	}
	assert.InDelta(t, 50, testutil.ToFloat64(metrics.ProfilesEvaluated), 0)
	assert.InDelta(t, 50, testutil.ToFloat64(metrics.ProfilesMatched), 0)
}

func TestMatch_WorkerCountDoesNotChangeResult(t *testing.T) {
	var snapshot []domain.NotificationProfile
	cities := []string{"Ankara", "İzmir", "Malatya", "Van", "Hatay"}
	for i := 0; i < 40; i++ {
		mag := domain.MagnitudeRange{Min: float64(i % 7), Max: 10}
		snapshot = append(snapshot, profileWith(domain.AllSourcesSelection(), mag, domain.CityLocations(cities[i%len(cities)])))
	}
	event := quake(domain.SourceAFAD, 4.5, "Yeşilyurt (Malatya)")

	serial, _, _ := newTestEngine(t, 1)
	want, err := serial.Match(context.Background(), event, snapshot)
	require.NoError(t, err)
	require.NotEmpty(t, want)

	for _, workers := range []int{2, 3, 16, 100} {
		parallel, _, _ := newTestEngine(t, workers)
		got, err := parallel.Match(context.Background(), event, snapshot)
		require.NoError(t, err)
		assert.Equal(t, want, got, "workers %d", workers)
	}
}

func TestMatch_ContextCanceled(t *testing.T) {
	engine, _, _ := newTestEngine(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := profileWith(domain.AllSourcesSelection(), domain.FullMagnitudeRange(), domain.AllLocations())
	_, err := engine.Match(ctx, quake(domain.SourceAFAD, 5, ""), []domain.NotificationProfile{p})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatch_EmptySnapshot(t *testing.T) {
	engine, _, _ := newTestEngine(t, 2)
	ids, err := engine.Match(context.Background(), quake(domain.SourceAFAD, 5, ""), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGroupByOwner(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	p1 := domain.NotificationProfile{ID: uuid.New(), OwnerID: alice}
	p2 := domain.NotificationProfile{ID: uuid.New(), OwnerID: alice}
	p3 := domain.NotificationProfile{ID: uuid.New(), OwnerID: bob}
	snapshot := []domain.NotificationProfile{p1, p2, p3}

	got := GroupByOwner(snapshot, []uuid.UUID{p1.ID, p2.ID, p3.ID, p1.ID, uuid.New()})

	require.Len(t, got, 2)
	assert.Equal(t, []uuid.UUID{p1.ID, p2.ID}, got[alice])
	assert.Equal(t, []uuid.UUID{p3.ID}, got[bob])
}
