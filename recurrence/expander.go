// Package recurrence expands a recurring VEVENT master plus its
// RECURRENCE-ID overrides into the concrete occurrences that fall within a
// time range, using the teambition/rrule-go engine for RFC 5545 RRULE
// arithmetic.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"

	"github.com/caldavgo/caldav/icalendar"
)

// ErrExpansionTooLarge is returned when a rule would generate more than
// MaxOccurrences instances within the requested range, guarding against
// unbounded rules like "FREQ=SECONDLY" fed an unreasonably wide range.
var ErrExpansionTooLarge = errors.New("recurrence: expansion exceeds the configured occurrence limit")

// DefaultMaxOccurrences bounds a single Expand call absent an explicit
// Expander.MaxOccurrences.
const DefaultMaxOccurrences = 10000

// Expander generates occurrences for a recurring master event. Each
// occurrence is represented as an icalendar.Event with DTStart/DTEnd set
// to the occurrence's instant and RecurrenceID identifying it, matching
// the shape of a decoded override so callers handle both uniformly.
type Expander struct {
	// MaxOccurrences caps how many instances a single Expand call may
	// produce. Zero means DefaultMaxOccurrences.
	MaxOccurrences int

	cache *expansionCache
}

// ExpanderOption configures an Expander built by NewExpander.
type ExpanderOption func(*Expander)

// WithCache enables memoization of the RRULE instant generation across
// repeated Expand calls for the same series, keyed by (UID, RRULE,
// EXDATE, DTStart, range). Disabled by default, since a single pull-sync
// scan that expands each series exactly once gains nothing from it.
func WithCache(cfg CacheConfig) ExpanderOption {
	return func(ex *Expander) { ex.cache = newExpansionCache(cfg) }
}

// NewExpander returns an Expander configured with DefaultMaxOccurrences.
func NewExpander(opts ...ExpanderOption) *Expander {
	ex := &Expander{MaxOccurrences: DefaultMaxOccurrences}
	for _, opt := range opts {
		opt(ex)
	}
	return ex
}

// Close releases the Expander's memoization cache, if one was enabled via
// WithCache. A no-op otherwise.
func (ex *Expander) Close() {
	if ex.cache != nil {
		ex.cache.close()
	}
}

func (ex *Expander) maxOccurrences() int {
	if ex.MaxOccurrences <= 0 {
		return DefaultMaxOccurrences
	}
	return ex.MaxOccurrences
}

// BuildOverrideMap splits a flat slice of decoded events (as returned by
// one calendar object's worth of icalendar.Codec.ParseAllEvents calls)
// into the recurring master and its RECURRENCE-ID overrides, keyed by the
// override's canonical recurrence id string. It returns an error if no
// master (an event with no RECURRENCE-ID) is present.
func BuildOverrideMap(events []icalendar.Event) (icalendar.Event, map[string]icalendar.Event, error) {
	var master icalendar.Event
	haveMaster := false
	overrides := make(map[string]icalendar.Event)

	for _, e := range events {
		if rid, ok := e.RecurrenceID.Get(); ok {
			overrides[recurrenceKey(rid)] = e
			continue
		}
		if haveMaster {
			return icalendar.Event{}, nil, fmt.Errorf("recurrence: more than one master event for UID %q", e.UID)
		}
		master = e
		haveMaster = true
	}

	if !haveMaster {
		return icalendar.Event{}, nil, fmt.Errorf("recurrence: no master event found among %d components", len(events))
	}
	return master, overrides, nil
}

func recurrenceKey(d icalendar.DateTime) string {
	return d.DayCode() + fmt.Sprintf(":%d", d.UnixMilli)
}

// Expand computes every occurrence of master (applying overrides) whose
// interval intersects [rangeStart, rangeEnd). A non-recurring master
// yields at most one event, the master itself.
func (ex *Expander) Expand(master icalendar.Event, rangeStart, rangeEnd time.Time, overrides map[string]icalendar.Event) ([]icalendar.Event, error) {
	duration := masterDuration(master)

	if _, recurring := master.RRule.Get(); !recurring {
		end := master.DTStart.Time().Add(duration)
		if overlaps(master.DTStart.Time(), end, rangeStart, rangeEnd) {
			return []icalendar.Event{master}, nil
		}
		return nil, nil
	}

	searchStart := rangeStart.Add(-duration)
	times, err := ex.instants(master, searchStart, rangeEnd)
	if err != nil {
		return nil, err
	}
	if len(times) > ex.maxOccurrences() {
		return nil, fmt.Errorf("%w: uid %s produced %d occurrences (limit %d)", ErrExpansionTooLarge, master.UID, len(times), ex.maxOccurrences())
	}

	excluded := make(map[string]bool, len(master.ExDate))
	for _, exd := range master.ExDate {
		excluded[exd.Time().UTC().Format("20060102T150405")] = true
	}

	var out []icalendar.Event
	for _, t := range times {
		if excluded[t.UTC().Format("20060102T150405")] {
			continue
		}
		occStart := dateTimeFromInstant(master.DTStart, t)
		key := recurrenceKey(occStart)

		if override, ok := overrides[key]; ok {
			occEnd := override.DTStart.Time().Add(masterDuration(override))
			if overlaps(override.DTStart.Time(), occEnd, rangeStart, rangeEnd) {
				out = append(out, override)
			}
			continue
		}

		occEnd := occStart.Time().Add(duration)
		if dtend, ok := master.DTEnd.Get(); ok && !master.DTStart.IsUTC {
			// Add the master's wall-clock length rather than its elapsed
			// time, so an occurrence spanning a DST change keeps its clock end.
			wall := func(t time.Time) time.Time {
				return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
			}
			ms, st := master.DTStart.Time(), occStart.Time()
			w := wall(st).Add(wall(dtend.Time().In(ms.Location())).Sub(wall(ms)))
			occEnd = time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), st.Location())
		}
		if !overlaps(occStart.Time(), occEnd, rangeStart, rangeEnd) {
			continue
		}
		inst := master
		inst.DTStart = occStart
		inst.RecurrenceID = mo.Some(occStart)
		inst.RRule = mo.None[icalendar.RRule]()
		inst.ExDate = nil
		if dtend, ok := master.DTEnd.Get(); ok {
			_ = dtend
			end := dateTimeFromInstant(dtend, occEnd)
			inst.DTEnd = mo.Some(end)
		}
		out = append(out, inst)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].DTStart.UnixMilli < out[j].DTStart.UnixMilli
	})
	return out, nil
}

// instants returns the raw RRULE occurrence instants for master between
// searchStart and rangeEnd, serving them from the Expander's cache when
// one is configured.
func (ex *Expander) instants(master icalendar.Event, searchStart, rangeEnd time.Time) ([]time.Time, error) {
	if ex.cache == nil {
		rule, err := buildRRule(master)
		if err != nil {
			return nil, err
		}
		return rule.Between(searchStart, rangeEnd, true), nil
	}

	key := cacheKey(master, searchStart, rangeEnd)
	if times, ok := ex.cache.get(key); ok {
		return times, nil
	}
	rule, err := buildRRule(master)
	if err != nil {
		return nil, err
	}
	times := rule.Between(searchStart, rangeEnd, true)
	ex.cache.set(key, times)
	return times, nil
}

func masterDuration(e icalendar.Event) time.Duration {
	if dtend, ok := e.DTEnd.Get(); ok {
		return dtend.Time().Sub(e.DTStart.Time())
	}
	if dur, ok := e.Duration.Get(); ok {
		return dur
	}
	if e.DTStart.IsDate {
		return 24 * time.Hour
	}
	return 0
}

// dateTimeFromInstant builds a DateTime for occurrence instant t, carrying
// over the zone/IsDate/IsUTC metadata of template so generated instances
// round-trip the same way the master does.
func dateTimeFromInstant(template icalendar.DateTime, t time.Time) icalendar.DateTime {
	return icalendar.DateTime{
		UnixMilli: t.UnixMilli(),
		Zone:      template.Zone,
		IsUTC:     template.IsUTC,
		IsDate:    template.IsDate,
	}
}

func overlaps(startA, endA, startB, endB time.Time) bool {
	if !endA.After(startA) {
		endA = startA.Add(time.Nanosecond)
	}
	return startA.Before(endB) && endA.After(startB)
}

func buildRRule(master icalendar.Event) (*rrule.RRule, error) {
	rule, _ := master.RRule.Get()

	dtstartLine := "DTSTART"
	if zone, ok := master.DTStart.Zone.Get(); ok && !master.DTStart.IsUTC {
		dtstartLine += ";TZID=" + zone
	}
	dtstartLine += ":" + formatRRuleDTStart(master.DTStart)

	text := dtstartLine + "\nRRULE:" + rule.String()
	r, err := rrule.StrToRRule(text)
	if err != nil {
		return nil, fmt.Errorf("recurrence: invalid recurrence rule for uid %s: %w", master.UID, err)
	}
	return r, nil
}

func formatRRuleDTStart(d icalendar.DateTime) string {
	if d.IsDate {
		return d.Time().UTC().Format("20060102")
	}
	if d.IsUTC {
		return d.Time().UTC().Format("20060102T150405") + "Z"
	}
	return d.Time().Format("20060102T150405")
}
