package icalendar

import (
	"strings"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripSimpleEvent(t *testing.T) {
	codec := NewCodec()
	original := Event{
		UID:         "event-1@example.com",
		Summary:     "Team sync",
		Description: "Weekly check-in, line one\nline two",
		Location:    "Room 4",
		DTStart:     DateTime{UnixMilli: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).UnixMilli(), IsUTC: true},
		DTEnd:       mo.Some(DateTime{UnixMilli: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC).UnixMilli(), IsUTC: true}),
		Status:      StatusConfirmed,
		Sequence:    0,
		RawProps:    map[string][]RawProperty{},
	}

	data, err := codec.Generate(original)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "BEGIN:VEVENT"))

	events, warnings, err := codec.ParseAllEvents(data)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, original.UID, got.UID)
	assert.Equal(t, original.Summary, got.Summary)
	assert.Equal(t, original.Description, got.Description)
	assert.Equal(t, original.Location, got.Location)
	assert.True(t, original.DTStart.Equal(got.DTStart))
	end, ok := got.DTEnd.Get()
	require.True(t, ok)
	wantEnd, _ := original.DTEnd.Get()
	assert.True(t, wantEnd.Equal(end))
}

func TestParseAllEventsDoesNotAbortOnOneBadEvent(t *testing.T) {
	codec := NewCodec()
	data := []byte("BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"SUMMARY:missing uid and dtstart\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:good-event@example.com\r\n" +
		"DTSTART:20260101T100000Z\r\n" +
		"SUMMARY:good event\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n")

	events, _, err := codec.ParseAllEvents(data)
	require.Error(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "good-event@example.com", events[0].UID)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "UID", parseErr.Property)
}

func TestRecurrenceIDOverrideRoundTrip(t *testing.T) {
	codec := NewCodec()
	master := Event{
		UID:      "series-1@example.com",
		Summary:  "Daily standup",
		DTStart:  DateTime{UnixMilli: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC).UnixMilli(), IsUTC: true},
		RRule:    mo.Some(RRule{Freq: FreqDaily, Interval: 1, WeekStart: time.Monday}),
		RawProps: map[string][]RawProperty{},
	}
	override := Event{
		UID:          "series-1@example.com",
		RecurrenceID: mo.Some(DateTime{UnixMilli: time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC).UnixMilli(), IsUTC: true}),
		Summary:      "Daily standup (moved)",
		DTStart:      DateTime{UnixMilli: time.Date(2026, 1, 6, 11, 0, 0, 0, time.UTC).UnixMilli(), IsUTC: true},
		RawProps:     map[string][]RawProperty{},
	}

	data, err := codec.GenerateAll([]Event{master, override})
	require.NoError(t, err)

	events, warnings, err := codec.ParseAllEvents(data)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, events, 2)

	var gotMaster, gotOverride Event
	for _, e := range events {
		if _, ok := e.RecurrenceID.Get(); ok {
			gotOverride = e
		} else {
			gotMaster = e
		}
	}
	assert.Equal(t, "Daily standup", gotMaster.Summary)
	rule, ok := gotMaster.RRule.Get()
	require.True(t, ok)
	assert.Equal(t, FreqDaily, rule.Freq)
	assert.Equal(t, "Daily standup (moved)", gotOverride.Summary)
}

func TestRawPropertiesPreservedAcrossRoundTrip(t *testing.T) {
	codec := NewCodec()
	original := Event{
		UID:     "with-extras@example.com",
		Summary: "Has vendor extension",
		DTStart: DateTime{UnixMilli: time.Now().UnixMilli(), IsUTC: true},
		RawProps: map[string][]RawProperty{
			"X-VENDOR-FIELD": {{Name: "X-VENDOR-FIELD", Value: "keep-me"}},
		},
		RawPropOrder: []string{"X-VENDOR-FIELD"},
	}

	data, err := codec.Generate(original)
	require.NoError(t, err)

	events, _, err := codec.ParseAllEvents(data)
	require.NoError(t, err)
	require.Len(t, events, 1)

	raws, ok := events[0].RawProps["X-VENDOR-FIELD"]
	require.True(t, ok)
	require.Len(t, raws, 1)
	assert.Equal(t, "keep-me", raws[0].Value)
}

func TestOverrideWithRRuleIsIgnoredAndWarned(t *testing.T) {
	codec := NewCodec()
	data := []byte("BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:series-2@example.com\r\n" +
		"RECURRENCE-ID:20260106T090000Z\r\n" +
		"RRULE:FREQ=DAILY\r\n" +
		"DTSTART:20260106T110000Z\r\n" +
		"SUMMARY:should not recur\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n")

	events, warnings, err := codec.ParseAllEvents(data)
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	_, hasRecurrenceID := got.RecurrenceID.Get()
	require.True(t, hasRecurrenceID)
	_, hasRRule := got.RRule.Get()
	assert.False(t, hasRRule, "RRULE on an override must be dropped")

	require.Len(t, warnings, 1)
	assert.Equal(t, "RRULE", warnings[0].Property)
}

func TestSanitizeUIDRejectsPathTraversal(t *testing.T) {
	tests := []struct {
		name    string
		uid     string
		wantErr bool
		want    string
	}{
		{name: "plain", uid: "event-123@example.com", want: "event-123@example.com"},
		{name: "traversal", uid: "../../etc/passwd", wantErr: true},
		{name: "lone dot", uid: ".", wantErr: true},
		{name: "spaces become underscores", uid: "my event id", want: "my_event_id"},
		{name: "empty after trim", uid: "...", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeUID(tt.uid)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidUID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewUIDProducesUniqueRFC5545ShapedValues(t *testing.T) {
	a := NewUID("caldavgo.local")
	b := NewUID("caldavgo.local")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, "@caldavgo.local"))
}

func TestParseRRuleRequiresFreq(t *testing.T) {
	_, _, err := ParseRRule("INTERVAL=2;COUNT=5")
	require.Error(t, err)
}

func TestParseRRuleRoundTrip(t *testing.T) {
	rule, warnings, err := ParseRRule("FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE,FR;COUNT=10")
	require.NoError(t, err)
	require.Empty(t, warnings)
	assert.Equal(t, FreqWeekly, rule.Freq)
	assert.Equal(t, 2, rule.Interval)
	count, ok := rule.Count.Get()
	require.True(t, ok)
	assert.Equal(t, 10, count)
	require.Len(t, rule.ByDay, 3)

	assert.Equal(t, "FREQ=WEEKLY;INTERVAL=2;COUNT=10;BYDAY=MO,WE,FR", rule.String())
}

func TestParseDurationVariants(t *testing.T) {
	tests := map[string]time.Duration{
		"PT15M":     15 * time.Minute,
		"-PT15M":    -15 * time.Minute,
		"P1D":       24 * time.Hour,
		"P2W":       14 * 24 * time.Hour,
		"PT1H30M":   90 * time.Minute,
		"P1DT1H":    25 * time.Hour,
	}
	for in, want := range tests {
		got, err := parseDuration(in)
		require.NoErrorf(t, err, "input %q", in)
		assert.Equalf(t, want, got, "input %q", in)
	}
}

func TestFormatDurationPrefersWeeks(t *testing.T) {
	assert.Equal(t, "P2W", formatDuration(14*24*time.Hour))
	assert.Equal(t, "P1D", formatDuration(24*time.Hour))
	assert.Equal(t, "PT1H30M", formatDuration(90*time.Minute))
	assert.Equal(t, "-PT15M", formatDuration(-15*time.Minute))
}

func TestDTEndWinsOverDurationOnGenerate(t *testing.T) {
	codec := NewCodec()
	e := Event{
		UID:      "both-set@example.com",
		DTStart:  DateTime{UnixMilli: time.Now().UnixMilli(), IsUTC: true},
		DTEnd:    mo.Some(DateTime{UnixMilli: time.Now().Add(time.Hour).UnixMilli(), IsUTC: true}),
		Duration: mo.Some(30 * time.Minute),
		RawProps: map[string][]RawProperty{},
	}
	data, err := codec.Generate(e)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "DTEND"))
	assert.False(t, strings.Contains(string(data), "DURATION"))
}
