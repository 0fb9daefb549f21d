package icalendar

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
)

func TestImportIDMasterVsOverride(t *testing.T) {
	master := Event{UID: "series@example.com"}
	assert.Equal(t, "series@example.com", master.ImportID())

	rid := DateTime{UnixMilli: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC).UnixMilli(), IsUTC: true}
	override := Event{UID: "series@example.com", RecurrenceID: mo.Some(rid)}
	assert.Equal(t, "series@example.com:RECID:20260601T090000Z", override.ImportID())
	assert.NotEqual(t, master.ImportID(), override.ImportID())
}

func TestResolveLocationFallsBackOnUnknownZone(t *testing.T) {
	loc, err := ResolveLocation("Not/A/Real/Zone")
	assert.Error(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestResolveLocationAlias(t *testing.T) {
	loc, err := ResolveLocation("Eastern Standard Time")
	assert.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestIsAllDay(t *testing.T) {
	e := Event{DTStart: DateTime{IsDate: true}}
	assert.True(t, e.IsAllDay())

	e2 := Event{DTStart: DateTime{IsDate: false}}
	assert.False(t, e2.IsAllDay())
}
