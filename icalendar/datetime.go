package icalendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
)

// looksLikeDateOnly applies the third of the three redundant DATE/DATE-TIME
// signals described by the data model: an 8-digit numeric value with no
// "T" separator. It is consulted only when VALUE=DATE is absent, as a
// defense against servers that omit the parameter but still emit a
// date-only value (observed from some Fastmail exports).
func looksLikeDateOnly(value string) bool {
	if len(value) != 8 {
		return false
	}
	for _, c := range value {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func firstParam(params map[string][]string, name string) (string, bool) {
	vs, ok := params[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// parseDateTime decodes a DATE or DATE-TIME value string plus its
// property parameters into a DateTime, resolving any TZID against reg.
func parseDateTime(value string, params map[string][]string, reg *timezoneRegistry) (DateTime, []ParseWarning, error) {
	var warnings []ParseWarning

	valueType, hasValueParam := firstParam(params, "VALUE")
	isDate := (hasValueParam && strings.EqualFold(valueType, "DATE")) || (!hasValueParam && looksLikeDateOnly(value))

	if isDate {
		t, err := time.ParseInLocation("20060102", value, time.UTC)
		if err != nil {
			return DateTime{}, warnings, fmt.Errorf("icalendar: invalid DATE value %q: %w", value, err)
		}
		return DateTime{UnixMilli: t.UnixMilli(), IsDate: true, IsUTC: true}, warnings, nil
	}

	raw := value
	isUTC := strings.HasSuffix(raw, "Z")
	raw = strings.TrimSuffix(raw, "Z")

	layout := "20060102T150405"
	if tzid, ok := firstParam(params, "TZID"); ok && !isUTC {
		loc, fellBack, err := resolveLocation(reg, tzid)
		if err != nil {
			warnings = append(warnings, ParseWarning{
				Property: "DTSTART/DTEND/etc",
				Message:  err.Error(),
			})
		}
		t, perr := time.ParseInLocation(layout, raw, loc)
		if perr != nil {
			return DateTime{}, warnings, fmt.Errorf("icalendar: invalid DATE-TIME value %q: %w", value, perr)
		}
		zone := mo.Some(tzid)
		if fellBack {
			// Keep the original TZID string even though resolution fell
			// back to system local, so regeneration round-trips the label.
		}
		return DateTime{UnixMilli: t.UnixMilli(), Zone: zone, IsUTC: false, IsDate: false}, warnings, nil
	}

	loc := time.UTC
	if !isUTC {
		loc = time.Local
	}
	t, err := time.ParseInLocation(layout, raw, loc)
	if err != nil {
		return DateTime{}, warnings, fmt.Errorf("icalendar: invalid DATE-TIME value %q: %w", value, err)
	}
	return DateTime{UnixMilli: t.UnixMilli(), IsUTC: isUTC, IsDate: false}, warnings, nil
}

// formatDateTime is the inverse of parseDateTime: it renders the wire
// value string and the VALUE/TZID parameters the property should carry.
func formatDateTime(d DateTime) (value string, params map[string][]string) {
	if d.IsDate {
		return d.Time().UTC().Format("20060102"), map[string][]string{"VALUE": {"DATE"}}
	}
	if d.IsUTC {
		return d.Time().UTC().Format("20060102T150405") + "Z", nil
	}
	if zone, ok := d.Zone.Get(); ok {
		return d.Time().Format("20060102T150405"), map[string][]string{"TZID": {zone}}
	}
	return d.Time().Format("20060102T150405"), nil
}
