package pipeline_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/matching"
)

var (
	userMalatya  = uuid.MustParse("0b5e3c1e-8f6a-4d0d-8f3a-7a1f2c9e4b01")
	userIstanbul = uuid.MustParse("0b5e3c1e-8f6a-4d0d-8f3a-7a1f2c9e4b02")
	userAnkara   = uuid.MustParse("0b5e3c1e-8f6a-4d0d-8f3a-7a1f2c9e4b03")
)

func TestPipeline_WithMockFeed(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, 8, 10, 23, 0, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() { domain.SetClock(nil) })

	h := newHarness(t, readMockProfiles(t)...)
	var commits commitLog

	records := readMockFeed(t)
	var batches [][]domain.RawEvent
	for i := 0; i < len(records); i += 4 {
		var batch []domain.RawEvent
		for j := i; j < min(i+4, len(records)); j++ {
			batch = append(batch, commits.raw(int64(j), string(records[j])))
		}
		batches = append(batches, batch)
	}

	h.run(t, time.Second, batches...)

	assert.Len(t, commits.offsets, len(records), "every record is committed")

	perUser := make(map[uuid.UUID]int)
	for _, req := range h.publisher.published {
		perUser[req.UserID]++
		assert.Equal(t, fakeClock.Now(), req.CreatedAt)
	}
	assert.Equal(t, map[uuid.UUID]int{
		userMalatya:  3, // AFAD, Kandilli and USGS reports of the Malatya quake
		userIstanbul: 1,
		userAnkara:   1,
	}, perUser)

	first := h.publisher.published[0]
	assert.Equal(t, "afad-641200", first.EventID)
	assert.Equal(t, []string{"Family in Malatya", "Anywhere strong"}, first.ProfileNames)
	assert.Equal(t, "Malatya", first.Event.City)
	assert.Equal(t, "Battalgazi (Malatya)", first.Event.Region)

	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.DuplicateEvents), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.MalformedEvents), 0)
	assert.InDelta(t, 9, testutil.ToFloat64(h.metrics.MalformedProfiles.WithLabelValues(matching.ReasonMagnitude)), 0,
		"the inverted-range profile is reported once per evaluated event")
}

func readMockFeed(t *testing.T) []json.RawMessage {
	t.Helper()
	var records []json.RawMessage
	readMockJSON(t, "quake_feed_240810.json", &records)
	require.Len(t, records, 11)
	return records
}

func readMockProfiles(t *testing.T) []domain.NotificationProfile {
	t.Helper()
	var profiles []domain.NotificationProfile
	readMockJSON(t, "profiles.json", &profiles)
	base := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := range profiles {
		profiles[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		profiles[i].UpdatedAt = profiles[i].CreatedAt
		require.False(t, strings.TrimSpace(profiles[i].Name) == "")
	}
	return profiles
}

func readMockJSON(t *testing.T, name string, v any) {
	t.Helper()
	path := filepath.Join("..", "..", "data", "mock", name)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}
