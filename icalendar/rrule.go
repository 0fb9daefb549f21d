package icalendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"
)

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var weekdayNames = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

// parseWeekdayNum parses one BYDAY entry, e.g. "MO", "2MO", "-1FR".
func parseWeekdayNum(s string) (WeekdayNum, error) {
	i := 0
	for i < len(s) && (s[i] == '+' || s[i] == '-' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	ordPart, dayPart := s[:i], s[i:]
	wd, ok := weekdayCodes[strings.ToUpper(dayPart)]
	if !ok {
		return WeekdayNum{}, fmt.Errorf("icalendar: invalid BYDAY weekday %q", s)
	}
	ord := 0
	if ordPart != "" {
		n, err := strconv.Atoi(ordPart)
		if err != nil {
			return WeekdayNum{}, fmt.Errorf("icalendar: invalid BYDAY ordinal %q", s)
		}
		ord = n
	}
	return WeekdayNum{Weekday: wd, Ordinal: ord}, nil
}

func formatWeekdayNum(w WeekdayNum) string {
	if w.Ordinal == 0 {
		return weekdayNames[w.Weekday]
	}
	return fmt.Sprintf("%d%s", w.Ordinal, weekdayNames[w.Weekday])
}

func parseIntList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("icalendar: invalid integer list element %q in %q", p, s)
		}
		out = append(out, n)
	}
	return out, nil
}

func formatIntList(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// ParseRRule decodes an RFC 5545 §3.3.10 recurrence rule value, a
// semicolon-separated list of NAME=VALUE pairs. Part names are matched
// case-sensitively per the grammar; unrecognized parts are ignored rather
// than rejected, since several servers append vendor extensions like
// X-BUSYMIC-something. FREQ is mandatory.
func ParseRRule(value string) (RRule, []ParseWarning, error) {
	rule := RRule{Interval: 1, WeekStart: time.Monday}
	var warnings []ParseWarning
	sawFreq := false

	for _, part := range strings.Split(value, ";") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			warnings = append(warnings, ParseWarning{Property: "RRULE", Message: fmt.Sprintf("ignoring malformed part %q", part)})
			continue
		}
		name, val := kv[0], kv[1]

		switch name {
		case "FREQ":
			rule.Freq = Frequency(val)
			sawFreq = true
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				warnings = append(warnings, ParseWarning{Property: "RRULE", Message: fmt.Sprintf("ignoring invalid INTERVAL %q", val)})
				continue
			}
			rule.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil {
				warnings = append(warnings, ParseWarning{Property: "RRULE", Message: fmt.Sprintf("ignoring invalid COUNT %q", val)})
				continue
			}
			rule.Count = mo.Some(n)
		case "UNTIL":
			dt, _, err := parseDateTime(val, nil, defaultRegistry)
			if err != nil {
				warnings = append(warnings, ParseWarning{Property: "RRULE", Message: fmt.Sprintf("ignoring invalid UNTIL %q: %v", val, err)})
				continue
			}
			rule.Until = mo.Some(dt)
		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				wd, err := parseWeekdayNum(d)
				if err != nil {
					warnings = append(warnings, ParseWarning{Property: "RRULE", Message: err.Error()})
					continue
				}
				rule.ByDay = append(rule.ByDay, wd)
			}
		case "BYMONTHDAY":
			ns, err := parseIntList(val)
			if err != nil {
				warnings = append(warnings, ParseWarning{Property: "RRULE", Message: err.Error()})
				continue
			}
			rule.ByMonthDay = ns
		case "BYMONTH":
			ns, err := parseIntList(val)
			if err != nil {
				warnings = append(warnings, ParseWarning{Property: "RRULE", Message: err.Error()})
				continue
			}
			rule.ByMonth = ns
		case "BYWEEKNO":
			ns, err := parseIntList(val)
			if err != nil {
				warnings = append(warnings, ParseWarning{Property: "RRULE", Message: err.Error()})
				continue
			}
			rule.ByWeekNo = ns
		case "BYYEARDAY":
			ns, err := parseIntList(val)
			if err != nil {
				warnings = append(warnings, ParseWarning{Property: "RRULE", Message: err.Error()})
				continue
			}
			rule.ByYearDay = ns
		case "BYSETPOS":
			ns, err := parseIntList(val)
			if err != nil {
				warnings = append(warnings, ParseWarning{Property: "RRULE", Message: err.Error()})
				continue
			}
			rule.BySetPos = ns
		case "WKST":
			if wd, ok := weekdayCodes[strings.ToUpper(val)]; ok {
				rule.WeekStart = wd
			} else {
				warnings = append(warnings, ParseWarning{Property: "RRULE", Message: fmt.Sprintf("ignoring invalid WKST %q", val)})
			}
		default:
			warnings = append(warnings, ParseWarning{Property: "RRULE", Message: fmt.Sprintf("ignoring unrecognized part %q", name)})
		}
	}

	if !sawFreq {
		return RRule{}, warnings, fmt.Errorf("icalendar: RRULE missing mandatory FREQ part: %q", value)
	}
	return rule, warnings, nil
}

// String renders the rule back into RFC 5545 §3.3.10 form.
func (r RRule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "FREQ=%s", r.Freq)
	if r.Interval > 1 {
		fmt.Fprintf(&b, ";INTERVAL=%d", r.Interval)
	}
	if n, ok := r.Count.Get(); ok {
		fmt.Fprintf(&b, ";COUNT=%d", n)
	}
	if until, ok := r.Until.Get(); ok {
		val, _ := formatDateTime(until)
		if until.IsUTC || until.IsDate {
			if until.IsDate {
				b.WriteString(";UNTIL=" + val)
			} else {
				b.WriteString(";UNTIL=" + val)
			}
		} else {
			b.WriteString(";UNTIL=" + val)
		}
	}
	if len(r.ByMonth) > 0 {
		b.WriteString(";BYMONTH=" + formatIntList(r.ByMonth))
	}
	if len(r.ByWeekNo) > 0 {
		b.WriteString(";BYWEEKNO=" + formatIntList(r.ByWeekNo))
	}
	if len(r.ByYearDay) > 0 {
		b.WriteString(";BYYEARDAY=" + formatIntList(r.ByYearDay))
	}
	if len(r.ByMonthDay) > 0 {
		b.WriteString(";BYMONTHDAY=" + formatIntList(r.ByMonthDay))
	}
	if len(r.ByDay) > 0 {
		parts := make([]string, len(r.ByDay))
		for i, wd := range r.ByDay {
			parts[i] = formatWeekdayNum(wd)
		}
		b.WriteString(";BYDAY=" + strings.Join(parts, ","))
	}
	if len(r.BySetPos) > 0 {
		b.WriteString(";BYSETPOS=" + formatIntList(r.BySetPos))
	}
	if r.WeekStart != time.Monday {
		b.WriteString(";WKST=" + weekdayNames[r.WeekStart])
	}
	return b.String()
}
