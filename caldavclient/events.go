package caldavclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caldavgo/caldav/icalendar"
	"github.com/caldavgo/caldav/internal/xmlutil"
)

// CalendarObject is everything a calendar-query/multiget response row
// yields for one href: its ETag and the decoded VEVENT components it
// contains (a recurring master plus any RECURRENCE-ID overrides travel
// together in a single object).
type CalendarObject struct {
	Href     string
	ETag     string
	Events   []icalendar.Event
	Warnings []icalendar.ParseWarning
}

func (c *Client) objectsFromMultistatus(ms *xmlutil.Multistatus) []CalendarObject {
	var out []CalendarObject
	for _, resp := range ms.Responses {
		if resp.Status != "" && !xmlutil.IsSuccessStatus(resp.Status) {
			continue
		}
		data := resp.PropText("calendar-data")
		if data == "" {
			continue
		}
		events, warnings, err := c.codec.ParseAllEvents([]byte(data))
		if err != nil {
			c.logger.Warn().Err(err).Str("href", resp.Href).Msg("some VEVENTs in calendar object failed to parse")
		}
		out = append(out, CalendarObject{
			Href:     resp.Href,
			ETag:     resp.PropText("getetag"),
			Events:   events,
			Warnings: warnings,
		})
	}
	return out
}

// FetchEvents runs a calendar-query REPORT restricted to VEVENTs whose
// time range overlaps [start, end].
func (c *Client) FetchEvents(ctx context.Context, calendarURL string, start, end time.Time) ([]CalendarObject, error) {
	body := buildCalendarQueryBody(start, end, false)
	result := c.dav.Report(ctx, calendarURL, "1", body)
	if !result.Ok() {
		return nil, wrapDavErr("FetchEvents", result.Err())
	}
	return c.objectsFromMultistatus(result.Value), nil
}

// FetchEventsByHref retrieves the given hrefs via calendar-multiget,
// batching the request in groups of multigetBatchSize.
func (c *Client) FetchEventsByHref(ctx context.Context, calendarURL string, hrefs []string) ([]CalendarObject, error) {
	if len(hrefs) == 0 {
		return nil, nil
	}
	var all []CalendarObject
	for _, batch := range chunk(hrefs, multigetBatchSize) {
		body := buildCalendarMultigetBody(batch)
		result := c.dav.Report(ctx, calendarURL, "1", body)
		if !result.Ok() {
			return nil, wrapDavErr("FetchEventsByHref", result.Err())
		}
		all = append(all, c.objectsFromMultistatus(result.Value)...)
	}
	return all, nil
}

// GetCtag retrieves the calendar collection's current getctag, a cheap
// single-value check for "has anything in this calendar changed".
func (c *Client) GetCtag(ctx context.Context, calendarURL string) (string, error) {
	body := buildPropfindBody("getctag")
	result := c.dav.Propfind(ctx, calendarURL, "0", body)
	if !result.Ok() {
		return "", wrapDavErr("GetCtag", result.Err())
	}
	for _, resp := range result.Value.Responses {
		if ctag := resp.PropText("getctag"); ctag != "" {
			return ctag, nil
		}
	}
	return "", fmt.Errorf("caldavclient: GetCtag: no getctag property in response")
}

func objectHref(calendarURL, uid string) (string, error) {
	sanitized, err := icalendar.SanitizeUID(uid)
	if err != nil {
		return "", fmt.Errorf("caldavclient: deriving object href: %w", err)
	}
	base := strings.TrimSuffix(calendarURL, "/")
	return base + "/" + sanitized + ".ics", nil
}

// CreateEvent PUTs a new calendar object, deriving its href from the
// event's UID, and fails if an object already exists at that href.
func (c *Client) CreateEvent(ctx context.Context, calendarURL string, events []icalendar.Event) (href, etag string, err error) {
	if len(events) == 0 {
		return "", "", fmt.Errorf("caldavclient: CreateEvent: no events given")
	}
	href, err = objectHref(calendarURL, events[0].UID)
	if err != nil {
		return "", "", err
	}
	data, err := c.codec.GenerateAll(events)
	if err != nil {
		return "", "", fmt.Errorf("caldavclient: CreateEvent: %w", err)
	}
	result := c.dav.Put(ctx, href, data, "", true)
	if !result.Ok() {
		return "", "", wrapDavErr("CreateEvent", result.Err())
	}
	return href, result.Value.ETag, nil
}

// UpdateEvent PUTs the full set of components (master plus overrides)
// back to href, using ifMatchETag for optimistic concurrency.
func (c *Client) UpdateEvent(ctx context.Context, href string, events []icalendar.Event, ifMatchETag string) (newETag string, err error) {
	data, err := c.codec.GenerateAll(events)
	if err != nil {
		return "", fmt.Errorf("caldavclient: UpdateEvent: %w", err)
	}
	result := c.dav.Put(ctx, href, data, ifMatchETag, false)
	if !result.Ok() {
		return "", wrapDavErr("UpdateEvent", result.Err())
	}
	return result.Value.ETag, nil
}

// DeleteEvent removes the object at href, using ifMatchETag for
// optimistic concurrency.
func (c *Client) DeleteEvent(ctx context.Context, href, ifMatchETag string) error {
	result := c.dav.Delete(ctx, href, ifMatchETag)
	if !result.Ok() {
		return wrapDavErr("DeleteEvent", result.Err())
	}
	return nil
}
