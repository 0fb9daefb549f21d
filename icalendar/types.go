// Package icalendar implements the iCalendar (RFC 5545) codec: parsing and
// regenerating VEVENT components, including recurring-event overrides
// identified by RECURRENCE-ID, with byte-stable round-trip for the
// properties it models.
package icalendar

import (
	"time"

	"github.com/samber/mo"
)

// Status mirrors the VEVENT STATUS property.
type Status string

const (
	StatusUnspecified Status = ""
	StatusConfirmed   Status = "CONFIRMED"
	StatusTentative   Status = "TENTATIVE"
	StatusCancelled   Status = "CANCELLED"
)

// Transparency mirrors the VEVENT TRANSP property.
type Transparency string

const (
	TransparencyUnspecified Transparency = ""
	TransparencyOpaque      Transparency = "OPAQUE"
	TransparencyTransparent Transparency = "TRANSPARENT"
)

// DateTime is the triple the codec uses to represent any RFC 5545
// DATE or DATE-TIME value: a UTC instant plus enough side information to
// reconstruct how the value was expressed on the wire.
type DateTime struct {
	// UnixMilli is the instant in UTC milliseconds. For IsDate values this
	// is midnight UTC of the calendar date, whatever the TZID, and IsUTC
	// is set; it is not shifted to midnight in the stated or system zone.
	UnixMilli int64
	// Zone is the TZID parameter, absent for floating or UTC values.
	Zone mo.Option[string]
	// IsUTC is true when the value carried a trailing "Z".
	IsUTC bool
	// IsDate is true when the value is a VALUE=DATE (whole-day) value.
	IsDate bool
}

// Time reconstructs a time.Time for this DateTime, resolving its zone.
func (d DateTime) Time() time.Time {
	loc := time.UTC
	if !d.IsUTC {
		if zone, ok := d.Zone.Get(); ok {
			if l, err := ResolveLocation(zone); err == nil {
				loc = l
			} else {
				loc = time.Local
			}
		} else {
			loc = time.Local
		}
	}
	return time.UnixMilli(d.UnixMilli).In(loc)
}

// Equal reports whether two DateTime values denote the same instant.
func (d DateTime) Equal(o DateTime) bool {
	return d.UnixMilli == o.UnixMilli
}

// DayCode returns the YYYYMMDD form of the value in its own zone, used to
// key recurrence overrides.
func (d DateTime) DayCode() string {
	return d.Time().Format("20060102")
}

// Frequency mirrors RFC 5545 FREQ values.
type Frequency string

const (
	FreqSecondly Frequency = "SECONDLY"
	FreqMinutely Frequency = "MINUTELY"
	FreqHourly   Frequency = "HOURLY"
	FreqDaily    Frequency = "DAILY"
	FreqWeekly   Frequency = "WEEKLY"
	FreqMonthly  Frequency = "MONTHLY"
	FreqYearly   Frequency = "YEARLY"
)

// WeekdayNum is a BYDAY entry: a weekday with an optional ordinal
// (e.g. "2MO" = second Monday, "-1FR" = last Friday).
type WeekdayNum struct {
	Weekday time.Weekday
	Ordinal int // 0 means no ordinal
}

// RRule is the parsed form of an RFC 5545 recurrence rule.
type RRule struct {
	Freq       Frequency
	Interval   int // default 1
	Count      mo.Option[int]
	Until      mo.Option[DateTime]
	ByDay      []WeekdayNum
	ByMonthDay []int
	ByMonth    []int
	ByWeekNo   []int
	ByYearDay  []int
	BySetPos   []int
	WeekStart  time.Weekday // default Monday
}

// AlarmAction mirrors the VALARM ACTION property.
type AlarmAction string

const (
	AlarmAudio   AlarmAction = "AUDIO"
	AlarmDisplay AlarmAction = "DISPLAY"
	AlarmEmail   AlarmAction = "EMAIL"
)

// Proximity is the RFC 9074 proximity alarm extension value.
type Proximity string

const (
	ProximityArrive Proximity = "ARRIVE"
	ProximityDepart Proximity = "DEPART"
)

// Alarm models a VALARM component, including the RFC 9074 extensions.
type Alarm struct {
	Action AlarmAction

	// Exactly one of TriggerDuration or TriggerAbsolute is set.
	TriggerDuration mo.Option[time.Duration]
	TriggerAbsolute mo.Option[DateTime]
	RelatedToEnd    bool

	RepeatCount    mo.Option[int]
	RepeatDuration mo.Option[time.Duration]

	// RFC 9074 extensions.
	UID          mo.Option[string]
	Acknowledged mo.Option[DateTime]
	RelatedTo    mo.Option[string]
	IsDefault    bool
	Proximity    mo.Option[Proximity]
}

// Organizer models the ORGANIZER property.
type Organizer struct {
	CommonName mo.Option[string]
	Email      string
}

// Attendee models an ATTENDEE property.
type Attendee struct {
	CommonName mo.Option[string]
	Email      string
	Role       mo.Option[string]
	PartStat   mo.Option[string]
	RSVP       bool
}

// Image models an RFC 7986 IMAGE property.
type Image struct {
	URI       mo.Option[string]
	Data      mo.Option[[]byte]
	MediaType mo.Option[string]
	Display   mo.Option[string]
}

// Conference models an RFC 7986 CONFERENCE property.
type Conference struct {
	URI      string
	Features []string
	Label    mo.Option[string]
}

// StructuredLocation models an RFC 9073 structured VLOCATION.
type StructuredLocation struct {
	Name    mo.Option[string]
	Address mo.Option[string]
	GeoLat  mo.Option[float64]
	GeoLon  mo.Option[float64]
}

// Participant models an RFC 9073 structured PARTICIPANT.
type Participant struct {
	CommonName mo.Option[string]
	Type       mo.Option[string]
	CalAddress mo.Option[string]
}

// Link models an RFC 9253 LINK property.
type Link struct {
	URI       string
	Rel       mo.Option[string]
	MediaType mo.Option[string]
}

// Relation models an RFC 9253 structured RELATED-TO.
type Relation struct {
	UID     string
	RelType mo.Option[string]
}

// RawProperty preserves a property the codec does not model, for
// round-trip fidelity.
type RawProperty struct {
	Name   string
	Value  string
	Params map[string][]string
}

// Event is the immutable value the codec produces from one VEVENT
// component (or regenerates into one).
type Event struct {
	UID          string
	RecurrenceID mo.Option[DateTime]

	Summary     string
	Description string
	Location    string

	DTStart DateTime
	DTEnd   mo.Option[DateTime]
	// Duration is set only when the source used DURATION instead of DTEND.
	Duration mo.Option[time.Duration]

	Status        Status
	Transparency  Transparency
	Sequence      int
	RRule         mo.Option[RRule]
	ExDate        []DateTime
	Alarms        []Alarm
	Categories    []string
	Organizer     mo.Option[Organizer]
	Attendees     []Attendee
	Color         mo.Option[string]
	DTStamp       mo.Option[DateTime]
	LastModified  mo.Option[DateTime]
	Created       mo.Option[DateTime]
	URL           mo.Option[string]
	Images        []Image
	Conferences   []Conference
	Locations     []StructuredLocation
	Participants  []Participant
	Links         []Link
	Relations     []Relation

	// RawProps preserves properties the codec does not otherwise model,
	// keyed by upper-cased property name; RawPropOrder records first-seen
	// order so the generator can re-emit them in a stable position.
	RawProps     map[string][]RawProperty
	RawPropOrder []string
}

// IsAllDay reports whether this event is a whole-day (VALUE=DATE) event.
func (e Event) IsAllDay() bool {
	return e.DTStart.IsDate
}

// ImportID derives the local store primary key described by the data
// model: uid for masters, uid+":RECID:"+canonical(recurrence_id) for
// overrides.
func (e Event) ImportID() string {
	return ImportID(e.UID, e.RecurrenceID)
}

// ImportID computes the import_id for a uid/recurrence-id pair directly,
// for callers that only have the raw values (e.g. the sync engine
// resolving a tombstone href it never decoded into an Event).
func ImportID(uid string, recurrenceID mo.Option[DateTime]) string {
	rid, ok := recurrenceID.Get()
	if !ok {
		return uid
	}
	return uid + ":RECID:" + canonicalDateTime(rid)
}

func canonicalDateTime(d DateTime) string {
	if d.IsDate {
		return d.Time().UTC().Format("20060102")
	}
	if z, ok := d.Zone.Get(); ok && !d.IsUTC {
		return d.Time().Format("20060102T150405") + ";" + z
	}
	return d.Time().UTC().Format("20060102T150405Z")
}
