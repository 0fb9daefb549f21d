package icalendar

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewUID generates an RFC 5545-conventional UID for an Event the caller
// is creating locally, in the "<uuid>@<host>" shape recommended by the
// RFC. host identifies the generating application (e.g. a reverse-DNS
// label); callers that don't care can pass any stable string.
func NewUID(host string) string {
	return uuid.NewString() + "@" + host
}

// ErrInvalidUID is wrapped into the error SanitizeUID returns when a UID
// cannot be mapped into a safe URL path segment.
var ErrInvalidUID = fmt.Errorf("icalendar: uid cannot be used in a resource path")

// SanitizeUID maps a UID into a string safe to use as a CalDAV resource
// path segment: any character outside [A-Za-z0-9@._-] becomes '_', and
// the result is rejected (not merely cleaned) if it would allow path
// traversal: contains "..", is a lone ".", or is empty after trimming
// leading/trailing dots.
func SanitizeUID(uid string) (string, error) {
	var b strings.Builder
	b.Grow(len(uid))
	for _, r := range uid {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@' || r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if strings.Contains(b.String(), "..") {
		return "", fmt.Errorf("%w: %q contains a path-traversal sequence after sanitizing", ErrInvalidUID, uid)
	}
	out := strings.Trim(b.String(), ".")

	if out == "" {
		return "", fmt.Errorf("%w: %q sanitizes to empty string", ErrInvalidUID, uid)
	}
	if out == "." {
		return "", fmt.Errorf("%w: %q sanitizes to a lone dot", ErrInvalidUID, uid)
	}
	if strings.Contains(out, "..") {
		return "", fmt.Errorf("%w: %q contains a path-traversal sequence after sanitizing", ErrInvalidUID, uid)
	}
	return out, nil
}
