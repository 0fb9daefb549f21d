package icalendar

import (
	"fmt"
	"sync"
	"time"
)

// timezoneAliases maps common non-IANA zone identifiers, as emitted by
// older Windows-derived calendar clients and some CalDAV servers, onto
// their IANA equivalents. This is consulted only after a direct
// time.LoadLocation lookup fails.
var timezoneAliases = map[string]string{
	"US/Eastern":         "America/New_York",
	"US/Central":         "America/Chicago",
	"US/Mountain":        "America/Denver",
	"US/Pacific":         "America/Los_Angeles",
	"US/Alaska":          "America/Anchorage",
	"US/Hawaii":          "Pacific/Honolulu",
	"US/Arizona":         "America/Phoenix",
	"Canada/Eastern":     "America/Toronto",
	"Canada/Pacific":     "America/Vancouver",
	"GMT Standard Time":  "Europe/London",
	"W. Europe Standard Time":  "Europe/Berlin",
	"Central Europe Standard Time": "Europe/Budapest",
	"Romance Standard Time":    "Europe/Paris",
	"Pacific Standard Time":    "America/Los_Angeles",
	"Eastern Standard Time":    "America/New_York",
	"Central Standard Time":    "America/Chicago",
	"Mountain Standard Time":   "America/Denver",
	"UTC":                 "UTC",
	"Etc/UTC":             "UTC",
}

// timezoneRegistry holds per-Codec custom VTIMEZONE definitions registered via
// Codec.WithCustomTimezones, keyed by TZID. This lets a calendar stream
// that ships its own VTIMEZONE block resolve correctly even when the
// identifier isn't recognized by the system tzdata (Fastmail and
// Nextcloud both do this for legacy Windows zone names).
type timezoneRegistry struct {
	mu    sync.RWMutex
	zones map[string]*time.Location
}

func newTimezoneRegistry() *timezoneRegistry {
	return &timezoneRegistry{zones: make(map[string]*time.Location)}
}

func (r *timezoneRegistry) register(tzid string, loc *time.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones[tzid] = loc
}

func (r *timezoneRegistry) lookup(tzid string) (*time.Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.zones[tzid]
	return loc, ok
}

var defaultRegistry = newTimezoneRegistry()

// ResolveLocation resolves a TZID to a *time.Location, trying a direct
// lookup first, then the alias table, then falling back to the system
// default. The returned error is non-nil exactly when that system-default
// fallback fired.
func ResolveLocation(tzid string) (*time.Location, error) {
	loc, _, err := resolveLocation(defaultRegistry, tzid)
	return loc, err
}

func resolveLocation(reg *timezoneRegistry, tzid string) (*time.Location, bool, error) {
	if tzid == "" {
		return time.Local, false, nil
	}
	if reg != nil {
		if loc, ok := reg.lookup(tzid); ok {
			return loc, false, nil
		}
	}
	if loc, err := time.LoadLocation(tzid); err == nil {
		return loc, false, nil
	}
	if alias, ok := timezoneAliases[tzid]; ok {
		if loc, err := time.LoadLocation(alias); err == nil {
			return loc, false, nil
		}
	}
	return time.Local, true, fmt.Errorf("icalendar: unknown timezone %q, using system default", tzid)
}
