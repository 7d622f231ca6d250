package main

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

func TestPrintPlan(t *testing.T) {
	user := uuid.MustParse("0b5e3c1e-8f6a-4d0d-8f3a-7a1f2c9e4b01")
	plan := []planEntry{
		{Index: 0, EventID: "afad-641200", Requests: []domain.DeliveryRequest{{
			UserID:       user,
			ProfileNames: []string{"Family in Malatya", "Anywhere strong"},
			Event:        domain.EventSummary{Magnitude: 5.9, City: "Malatya", District: "Battalgazi"},
		}}},
		{Index: 1, EventID: "afad-641200", Skipped: "duplicate"},
		{Index: 2, EventID: "kandilli-x", Requests: nil},
	}

	var buf bytes.Buffer
	printPlan(&buf, plan)
	out := buf.String()

	assert.Contains(t, out, "M5.9 Battalgazi, Malatya")
	assert.Contains(t, out, user.String()+"  Family in Malatya, Anywhere strong")
	assert.Contains(t, out, "SKIP duplicate")
	assert.Contains(t, out, "no matches")
	assert.Contains(t, out, "3 records, 1 skipped, 1 delivery requests")
}

func TestRun_MockFixtures(t *testing.T) {
	err := run("../../data/mock/quake_feed_240810.json", "../../data/mock/profiles.json", "", "2024-08-10T23:00:00Z", true, false)
	assert.NoError(t, err)
}
