package icalendar

import "strings"

// unescapeText reverses RFC 5545 §3.3.11 text escaping on read. The order
// matters: backslash must be unescaped first, via a placeholder, so a
// literal "\\n" in the source (an escaped backslash followed by a bare
// "n") is not mistaken for an escaped newline.
func unescapeText(s string) string {
	const placeholder = "\x00"
	s = strings.ReplaceAll(s, `\\`, placeholder)
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\N`, "\n")
	s = strings.ReplaceAll(s, `\,`, ",")
	s = strings.ReplaceAll(s, `\;`, ";")
	s = strings.ReplaceAll(s, placeholder, `\`)
	return s
}

// escapeText applies the inverse of unescapeText, used when generating
// SUMMARY/DESCRIPTION/LOCATION and similar TEXT-valued properties.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, ";", `\;`)
	return s
}
