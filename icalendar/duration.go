package icalendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseDuration parses an RFC 5545 §3.3.6 DURATION value, e.g. "-PT15M",
// "P1D", "P2W", "PT1H30M". go-ical exposes Prop.Duration() for the
// DURATION property itself, but TRIGGER and other properties carry the
// same grammar as a bare VALUE=DURATION string, so the codec parses it
// directly rather than routing everything through a single property type.
func parseDuration(s string) (time.Duration, error) {
	orig := s
	if s == "" {
		return 0, fmt.Errorf("icalendar: empty duration value")
	}
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}
	if len(s) == 0 || s[0] != 'P' {
		return 0, fmt.Errorf("icalendar: invalid duration %q: missing P", orig)
	}
	s = s[1:]

	if strings.HasPrefix(s, "T") {
		// Bare time-only form still starts with T after P; handled below.
	}

	var total time.Duration
	inTime := false
	num := strings.Builder{}

	flush := func(unit byte) error {
		if num.Len() == 0 {
			return fmt.Errorf("icalendar: invalid duration %q: missing number before %c", orig, unit)
		}
		n, err := strconv.Atoi(num.String())
		if err != nil {
			return fmt.Errorf("icalendar: invalid duration %q: %w", orig, err)
		}
		num.Reset()
		switch unit {
		case 'W':
			total += time.Duration(n) * 7 * 24 * time.Hour
		case 'D':
			total += time.Duration(n) * 24 * time.Hour
		case 'H':
			total += time.Duration(n) * time.Hour
		case 'M':
			if inTime {
				total += time.Duration(n) * time.Minute
			} else {
				return fmt.Errorf("icalendar: invalid duration %q: month units are not supported", orig)
			}
		case 'S':
			total += time.Duration(n) * time.Second
		}
		return nil
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			num.WriteByte(c)
		case c == 'T':
			inTime = true
		case c == 'W', c == 'D', c == 'H', c == 'M', c == 'S':
			if err := flush(c); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("icalendar: invalid duration %q: unexpected character %q", orig, c)
		}
	}

	if neg {
		total = -total
	}
	return total, nil
}

// formatDuration renders d in RFC 5545 §3.3.6 form, preferring the
// coarsest representation (weeks when evenly divisible, otherwise
// days/hours/minutes/seconds).
func formatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	if d == 0 {
		return sign + "PT0S"
	}

	totalSeconds := int64(d / time.Second)
	if totalSeconds%(7*24*3600) == 0 {
		return fmt.Sprintf("%sP%dW", sign, totalSeconds/(7*24*3600))
	}

	days := totalSeconds / 86400
	rem := totalSeconds % 86400
	hours := rem / 3600
	rem %= 3600
	minutes := rem / 60
	seconds := rem % 60

	var b strings.Builder
	b.WriteString(sign)
	b.WriteByte('P')
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || minutes > 0 || seconds > 0 {
		b.WriteByte('T')
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
		if seconds > 0 {
			fmt.Fprintf(&b, "%dS", seconds)
		}
	}
	return b.String()
}
