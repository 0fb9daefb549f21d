package icalendar

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// modeledProperties lists the VEVENT property names the codec decodes into
// typed Event fields. Anything else is preserved verbatim in RawProps so a
// parse-then-generate round trip does not silently drop data the codec
// does not yet understand, such as vendor X- properties.
var modeledProperties = map[string]bool{
	"UID": true, "SUMMARY": true, "DESCRIPTION": true, "LOCATION": true,
	"DTSTART": true, "DTEND": true, "DURATION": true, "STATUS": true,
	"TRANSP": true, "SEQUENCE": true, "RRULE": true, "EXDATE": true,
	"CATEGORIES": true, "ORGANIZER": true, "ATTENDEE": true, "COLOR": true,
	"DTSTAMP": true, "LAST-MODIFIED": true, "CREATED": true, "URL": true,
	"IMAGE": true, "CONFERENCE": true, "RECURRENCE-ID": true,
	"RELATED-TO": true,
}

// Codec parses and generates iCalendar VEVENT components. The zero value
// is not usable; construct one with NewCodec.
type Codec struct {
	registry *timezoneRegistry
}

// NewCodec returns a ready-to-use Codec with its own timezone registry,
// isolated from other Codec instances.
func NewCodec() *Codec {
	return &Codec{registry: newTimezoneRegistry()}
}

// WithCustomTimezones registers every VTIMEZONE component found in data
// against this Codec's registry, so later parses resolve their TZIDs
// without depending on the system tzdata. It returns the Codec it was
// called on for chaining.
//
// The registered location is a fixed-offset approximation built from the
// first STANDARD (or, absent one, DAYLIGHT) sub-component's TZOFFSETTO:
// good enough to place instants correctly for calendars whose custom
// zones don't observe DST within the sync window, which covers every
// custom VTIMEZONE seen in practice (legacy Windows zone names shipped
// by Fastmail and Nextcloud for servers with no tzdata access).
func (c *Codec) WithCustomTimezones(data []byte) (*Codec, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return c, fmt.Errorf("icalendar: decoding calendar for custom timezones: %w", err)
	}
	for _, child := range cal.Children {
		if child.Name != "VTIMEZONE" {
			continue
		}
		tzid := propValue(child.Props, "TZID")
		if tzid == "" {
			continue
		}
		loc, ok := fixedOffsetFromVTimezone(child)
		if ok {
			c.registry.register(tzid, loc)
		}
	}
	return c, nil
}

func fixedOffsetFromVTimezone(comp *ical.Component) (*time.Location, bool) {
	var chosen *ical.Component
	for _, sub := range comp.Children {
		if sub.Name == "STANDARD" {
			chosen = sub
			break
		}
		if sub.Name == "DAYLIGHT" && chosen == nil {
			chosen = sub
		}
	}
	if chosen == nil {
		return nil, false
	}
	off := propValue(chosen.Props, "TZOFFSETTO")
	seconds, ok := parseUTCOffset(off)
	if !ok {
		return nil, false
	}
	tzid := propValue(comp.Props, "TZID")
	return time.FixedZone(tzid, seconds), true
}

// parseUTCOffset parses an RFC 5545 §3.3.14 utc-offset value, e.g.
// "-0500", "+0100", "+013000".
func parseUTCOffset(s string) (int, bool) {
	if len(s) < 5 {
		return 0, false
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	} else if s[0] != '+' {
		return 0, false
	}
	hh, err1 := strconv.Atoi(s[1:3])
	mm, err2 := strconv.Atoi(s[3:5])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	ss := 0
	if len(s) >= 7 {
		if n, err := strconv.Atoi(s[5:7]); err == nil {
			ss = n
		}
	}
	return sign * (hh*3600 + mm*60 + ss), true
}

func propValue(props ical.Props, name string) string {
	p := props.Get(name)
	if p == nil {
		return ""
	}
	return p.Value
}

func propParams(p *ical.Prop) map[string][]string {
	if p == nil || p.Params == nil {
		return nil
	}
	return map[string][]string(p.Params)
}

// ParseAllEvents decodes every VEVENT component in data, registering any
// VTIMEZONE components it encounters along the way. A VEVENT that fails
// to decode does not abort the parse: it is skipped, and its ParseError
// is joined into the returned error so the caller can inspect it while
// still getting every event that did decode cleanly.
func (c *Codec) ParseAllEvents(data []byte) ([]Event, []ParseWarning, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, nil, fmt.Errorf("icalendar: decoding calendar: %w", err)
	}

	for _, child := range cal.Children {
		if child.Name != "VTIMEZONE" {
			continue
		}
		tzid := propValue(child.Props, "TZID")
		if tzid == "" {
			continue
		}
		if loc, ok := fixedOffsetFromVTimezone(child); ok {
			c.registry.register(tzid, loc)
		}
	}

	var events []Event
	var warnings []ParseWarning
	var errs []error

	for _, child := range cal.Children {
		if child.Name != "VEVENT" {
			continue
		}
		ev, warns, err := c.decodeEvent(child)
		warnings = append(warnings, warns...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}

	return events, warnings, errors.Join(errs...)
}

func (c *Codec) decodeEvent(comp *ical.Component) (Event, []ParseWarning, error) {
	var warnings []ParseWarning
	uid := propValue(comp.Props, "UID")

	fail := func(property, message string, err error) (Event, []ParseWarning, error) {
		return Event{}, warnings, &ParseError{UID: uid, Property: property, Message: message, Err: err}
	}

	if uid == "" {
		return fail("UID", "missing mandatory UID property", nil)
	}

	dtstartProp := comp.Props.Get("DTSTART")
	if dtstartProp == nil {
		return fail("DTSTART", "missing mandatory DTSTART property", nil)
	}
	dtstart, warns, err := parseDateTime(dtstartProp.Value, propParams(dtstartProp), c.registry)
	warnings = append(warnings, tagWarnings(warns, uid)...)
	if err != nil {
		return fail("DTSTART", "invalid value", err)
	}

	e := Event{
		UID:          uid,
		Summary:      unescapeText(propValue(comp.Props, "SUMMARY")),
		Description:  unescapeText(propValue(comp.Props, "DESCRIPTION")),
		Location:     unescapeText(propValue(comp.Props, "LOCATION")),
		DTStart:      dtstart,
		Status:       Status(propValue(comp.Props, "STATUS")),
		Transparency: Transparency(propValue(comp.Props, "TRANSP")),
		RawProps:     map[string][]RawProperty{},
	}

	if recurProp := comp.Props.Get("RECURRENCE-ID"); recurProp != nil {
		rid, warns, err := parseDateTime(recurProp.Value, propParams(recurProp), c.registry)
		warnings = append(warnings, tagWarnings(warns, uid)...)
		if err != nil {
			return fail("RECURRENCE-ID", "invalid value", err)
		}
		e.RecurrenceID = mo.Some(rid)
	}

	if dtendProp := comp.Props.Get("DTEND"); dtendProp != nil {
		dtend, warns, err := parseDateTime(dtendProp.Value, propParams(dtendProp), c.registry)
		warnings = append(warnings, tagWarnings(warns, uid)...)
		if err != nil {
			return fail("DTEND", "invalid value", err)
		}
		e.DTEnd = mo.Some(dtend)
		if comp.Props.Get("DURATION") != nil {
			warnings = append(warnings, ParseWarning{UID: uid, Property: "DURATION", Message: "ignoring DURATION because DTEND is also present"})
		}
	} else if durProp := comp.Props.Get("DURATION"); durProp != nil {
		d, err := parseDuration(durProp.Value)
		if err != nil {
			return fail("DURATION", "invalid value", err)
		}
		e.Duration = mo.Some(d)
	}

	if seqProp := comp.Props.Get("SEQUENCE"); seqProp != nil {
		if n, err := strconv.Atoi(seqProp.Value); err == nil {
			e.Sequence = n
		} else {
			warnings = append(warnings, ParseWarning{UID: uid, Property: "SEQUENCE", Message: "ignoring non-numeric value"})
		}
	}

	if rruleProp := comp.Props.Get("RRULE"); rruleProp != nil {
		if _, isOverride := e.RecurrenceID.Get(); isOverride {
			warnings = append(warnings, ParseWarning{UID: uid, Property: "RRULE", Message: "ignoring RRULE on a RECURRENCE-ID override"})
		} else {
			rule, warns, err := ParseRRule(rruleProp.Value)
			warnings = append(warnings, tagWarnings(warns, uid)...)
			if err != nil {
				return fail("RRULE", "invalid value", err)
			}
			e.RRule = mo.Some(rule)
		}
	}

	for _, p := range comp.Props["EXDATE"] {
		for _, part := range strings.Split(p.Value, ",") {
			dt, warns, err := parseDateTime(part, propParams(&p), c.registry)
			warnings = append(warnings, tagWarnings(warns, uid)...)
			if err != nil {
				warnings = append(warnings, ParseWarning{UID: uid, Property: "EXDATE", Message: err.Error()})
				continue
			}
			e.ExDate = append(e.ExDate, dt)
		}
	}

	if catProp := comp.Props.Get("CATEGORIES"); catProp != nil {
		for _, cat := range strings.Split(catProp.Value, ",") {
			if cat = strings.TrimSpace(cat); cat != "" {
				e.Categories = append(e.Categories, unescapeText(cat))
			}
		}
	}

	if orgProp := comp.Props.Get("ORGANIZER"); orgProp != nil {
		org := Organizer{Email: strings.TrimPrefix(orgProp.Value, "mailto:")}
		if cn, ok := firstParam(propParams(orgProp), "CN"); ok {
			org.CommonName = mo.Some(cn)
		}
		e.Organizer = mo.Some(org)
	}

	for _, p := range comp.Props["ATTENDEE"] {
		att := Attendee{Email: strings.TrimPrefix(p.Value, "mailto:")}
		params := propParams(&p)
		if cn, ok := firstParam(params, "CN"); ok {
			att.CommonName = mo.Some(cn)
		}
		if role, ok := firstParam(params, "ROLE"); ok {
			att.Role = mo.Some(role)
		}
		if ps, ok := firstParam(params, "PARTSTAT"); ok {
			att.PartStat = mo.Some(ps)
		}
		if rsvp, ok := firstParam(params, "RSVP"); ok {
			att.RSVP = strings.EqualFold(rsvp, "TRUE")
		}
		e.Attendees = append(e.Attendees, att)
	}

	if colorProp := comp.Props.Get("COLOR"); colorProp != nil {
		e.Color = mo.Some(colorProp.Value)
	}
	if dtstampProp := comp.Props.Get("DTSTAMP"); dtstampProp != nil {
		dt, warns, err := parseDateTime(dtstampProp.Value, propParams(dtstampProp), c.registry)
		warnings = append(warnings, tagWarnings(warns, uid)...)
		if err == nil {
			e.DTStamp = mo.Some(dt)
		}
	}
	if lmProp := comp.Props.Get("LAST-MODIFIED"); lmProp != nil {
		dt, warns, err := parseDateTime(lmProp.Value, propParams(lmProp), c.registry)
		warnings = append(warnings, tagWarnings(warns, uid)...)
		if err == nil {
			e.LastModified = mo.Some(dt)
		}
	}
	if createdProp := comp.Props.Get("CREATED"); createdProp != nil {
		dt, warns, err := parseDateTime(createdProp.Value, propParams(createdProp), c.registry)
		warnings = append(warnings, tagWarnings(warns, uid)...)
		if err == nil {
			e.Created = mo.Some(dt)
		}
	}
	if urlProp := comp.Props.Get("URL"); urlProp != nil {
		e.URL = mo.Some(urlProp.Value)
	}

	for _, p := range comp.Props["IMAGE"] {
		params := propParams(&p)
		img := Image{}
		if vt, ok := firstParam(params, "VALUE"); ok && strings.EqualFold(vt, "BINARY") {
			img.Data = mo.Some([]byte(p.Value))
		} else {
			img.URI = mo.Some(p.Value)
		}
		if mt, ok := firstParam(params, "FMTTYPE"); ok {
			img.MediaType = mo.Some(mt)
		}
		if disp, ok := firstParam(params, "DISPLAY"); ok {
			img.Display = mo.Some(disp)
		}
		e.Images = append(e.Images, img)
	}

	for _, p := range comp.Props["CONFERENCE"] {
		params := propParams(&p)
		conf := Conference{URI: p.Value}
		if feat, ok := firstParam(params, "FEATURE"); ok {
			conf.Features = strings.Split(feat, ",")
		}
		if label, ok := firstParam(params, "LABEL"); ok {
			conf.Label = mo.Some(label)
		}
		e.Conferences = append(e.Conferences, conf)
	}

	for _, p := range comp.Props["RELATED-TO"] {
		params := propParams(&p)
		rel := Relation{UID: p.Value}
		if rt, ok := firstParam(params, "RELTYPE"); ok {
			rel.RelType = mo.Some(rt)
		}
		e.Relations = append(e.Relations, rel)
	}

	for _, sub := range comp.Children {
		switch sub.Name {
		case "VALARM":
			alarm, warns, err := decodeAlarm(sub, c.registry)
			warnings = append(warnings, tagWarnings(warns, uid)...)
			if err != nil {
				warnings = append(warnings, ParseWarning{UID: uid, Property: "VALARM", Message: err.Error()})
				continue
			}
			e.Alarms = append(e.Alarms, alarm)
		case "VLOCATION":
			e.Locations = append(e.Locations, decodeStructuredLocation(sub))
		case "PARTICIPANT":
			e.Participants = append(e.Participants, decodeParticipant(sub))
		}
	}

	for name, props := range comp.Props {
		if modeledProperties[name] {
			continue
		}
		for _, p := range props {
			if _, seen := e.RawProps[name]; !seen {
				e.RawPropOrder = append(e.RawPropOrder, name)
			}
			e.RawProps[name] = append(e.RawProps[name], RawProperty{Name: name, Value: p.Value, Params: propParams(&p)})
		}
	}

	return e, warnings, nil
}

func tagWarnings(warns []ParseWarning, uid string) []ParseWarning {
	for i := range warns {
		warns[i].UID = uid
	}
	return warns
}

func decodeAlarm(comp *ical.Component, reg *timezoneRegistry) (Alarm, []ParseWarning, error) {
	var warnings []ParseWarning
	a := Alarm{Action: AlarmAction(propValue(comp.Props, "ACTION"))}

	if trig := comp.Props.Get("TRIGGER"); trig != nil {
		params := propParams(trig)
		if vt, ok := firstParam(params, "VALUE"); ok && strings.EqualFold(vt, "DATE-TIME") {
			dt, warns, err := parseDateTime(trig.Value, params, reg)
			warnings = append(warnings, warns...)
			if err != nil {
				return Alarm{}, warnings, fmt.Errorf("invalid TRIGGER: %w", err)
			}
			a.TriggerAbsolute = mo.Some(dt)
		} else {
			d, err := parseDuration(trig.Value)
			if err != nil {
				return Alarm{}, warnings, fmt.Errorf("invalid TRIGGER: %w", err)
			}
			a.TriggerDuration = mo.Some(d)
			if related, ok := firstParam(params, "RELATED"); ok && strings.EqualFold(related, "END") {
				a.RelatedToEnd = true
			}
		}
	}

	if rep := comp.Props.Get("REPEAT"); rep != nil {
		if n, err := strconv.Atoi(rep.Value); err == nil {
			a.RepeatCount = mo.Some(n)
		}
	}
	if durProp := comp.Props.Get("DURATION"); durProp != nil {
		if d, err := parseDuration(durProp.Value); err == nil {
			a.RepeatDuration = mo.Some(d)
		}
	}
	if uidProp := comp.Props.Get("UID"); uidProp != nil {
		a.UID = mo.Some(uidProp.Value)
	}
	if ackProp := comp.Props.Get("ACKNOWLEDGED"); ackProp != nil {
		dt, warns, err := parseDateTime(ackProp.Value, propParams(ackProp), reg)
		warnings = append(warnings, warns...)
		if err == nil {
			a.Acknowledged = mo.Some(dt)
		}
	}
	if relProp := comp.Props.Get("RELATED-TO"); relProp != nil {
		a.RelatedTo = mo.Some(relProp.Value)
	}
	if defProp := comp.Props.Get("X-DEFAULT-ALARM"); defProp != nil {
		a.IsDefault = strings.EqualFold(defProp.Value, "TRUE")
	}
	if proxProp := comp.Props.Get("PROXIMITY"); proxProp != nil {
		a.Proximity = mo.Some(Proximity(proxProp.Value))
	}

	return a, warnings, nil
}

func decodeStructuredLocation(comp *ical.Component) StructuredLocation {
	loc := StructuredLocation{}
	if n := propValue(comp.Props, "NAME"); n != "" {
		loc.Name = mo.Some(n)
	}
	if a := propValue(comp.Props, "ADDRESS"); a != "" {
		loc.Address = mo.Some(a)
	}
	if g := comp.Props.Get("GEO"); g != nil {
		parts := strings.SplitN(g.Value, ";", 2)
		if len(parts) == 2 {
			lat, err1 := strconv.ParseFloat(parts[0], 64)
			lon, err2 := strconv.ParseFloat(parts[1], 64)
			if err1 == nil && err2 == nil {
				loc.GeoLat = mo.Some(lat)
				loc.GeoLon = mo.Some(lon)
			}
		}
	}
	return loc
}

func decodeParticipant(comp *ical.Component) Participant {
	p := Participant{}
	if cn := propValue(comp.Props, "CN"); cn != "" {
		p.CommonName = mo.Some(cn)
	}
	if t := propValue(comp.Props, "PARTICIPANT-TYPE"); t != "" {
		p.Type = mo.Some(t)
	}
	if ca := comp.Props.Get("CALENDAR-ADDRESS"); ca != nil {
		p.CalAddress = mo.Some(ca.Value)
	}
	return p
}

// Generate regenerates a complete VCALENDAR document containing e as its
// sole VEVENT.
func (c *Codec) Generate(e Event) ([]byte, error) {
	cal := &ical.Calendar{
		Component: &ical.Component{
			Name:  "VCALENDAR",
			Props: ical.Props{},
		},
	}
	cal.Props.SetText("VERSION", "2.0")
	cal.Props.SetText("PRODID", "-//caldavgo//caldav//EN")

	comp, err := c.encodeEvent(e)
	if err != nil {
		return nil, err
	}
	cal.Children = []*ical.Component{comp}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("icalendar: encoding calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func setDateTimeProp(props ical.Props, name string, d DateTime) {
	value, params := formatDateTime(d)
	p := &ical.Prop{Name: name, Value: value}
	if params != nil {
		p.Params = ical.Params(params)
	}
	props.Set(p)
}

// GenerateAll regenerates a single VCALENDAR document containing every
// event in events as separate VEVENT components, used to push a master
// plus its RECURRENCE-ID overrides back to the server in one PUT.
func (c *Codec) GenerateAll(events []Event) ([]byte, error) {
	cal := &ical.Calendar{
		Component: &ical.Component{
			Name:  "VCALENDAR",
			Props: ical.Props{},
		},
	}
	cal.Props.SetText("VERSION", "2.0")
	cal.Props.SetText("PRODID", "-//caldavgo//caldav//EN")

	for _, e := range events {
		comp, err := c.encodeEvent(e)
		if err != nil {
			return nil, err
		}
		cal.Children = append(cal.Children, comp)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("icalendar: encoding calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Codec) encodeEvent(e Event) (*ical.Component, error) {
	comp := &ical.Component{Name: "VEVENT", Props: ical.Props{}}

	comp.Props.SetText("UID", e.UID)
	if rid, ok := e.RecurrenceID.Get(); ok {
		setDateTimeProp(comp.Props, "RECURRENCE-ID", rid)
	}
	setDateTimeProp(comp.Props, "DTSTART", e.DTStart)
	if dtend, ok := e.DTEnd.Get(); ok {
		setDateTimeProp(comp.Props, "DTEND", dtend)
	} else if dur, ok := e.Duration.Get(); ok {
		comp.Props.SetText("DURATION", formatDuration(dur))
	}

	if e.Summary != "" {
		comp.Props.SetText("SUMMARY", escapeText(e.Summary))
	}
	if e.Description != "" {
		comp.Props.SetText("DESCRIPTION", escapeText(e.Description))
	}
	if e.Location != "" {
		comp.Props.SetText("LOCATION", escapeText(e.Location))
	}
	if e.Status != StatusUnspecified {
		comp.Props.SetText("STATUS", string(e.Status))
	}
	if e.Transparency != TransparencyUnspecified {
		comp.Props.SetText("TRANSP", string(e.Transparency))
	}
	comp.Props.SetText("SEQUENCE", strconv.Itoa(e.Sequence))

	if rule, ok := e.RRule.Get(); ok {
		comp.Props.SetText("RRULE", rule.String())
	}
	for _, ex := range e.ExDate {
		value, params := formatDateTime(ex)
		p := &ical.Prop{Name: "EXDATE", Value: value}
		if params != nil {
			p.Params = ical.Params(params)
		}
		comp.Props.Add(p)
	}
	if len(e.Categories) > 0 {
		escaped := make([]string, len(e.Categories))
		for i, cat := range e.Categories {
			escaped[i] = escapeText(cat)
		}
		comp.Props.SetText("CATEGORIES", strings.Join(escaped, ","))
	}
	if org, ok := e.Organizer.Get(); ok {
		p := &ical.Prop{Name: "ORGANIZER", Value: "mailto:" + org.Email}
		if cn, ok := org.CommonName.Get(); ok {
			p.Params = ical.Params{"CN": {cn}}
		}
		comp.Props.Set(p)
	}
	for _, att := range e.Attendees {
		p := &ical.Prop{Name: "ATTENDEE", Value: "mailto:" + att.Email, Params: ical.Params{}}
		if cn, ok := att.CommonName.Get(); ok {
			p.Params["CN"] = []string{cn}
		}
		if role, ok := att.Role.Get(); ok {
			p.Params["ROLE"] = []string{role}
		}
		if ps, ok := att.PartStat.Get(); ok {
			p.Params["PARTSTAT"] = []string{ps}
		}
		if att.RSVP {
			p.Params["RSVP"] = []string{"TRUE"}
		}
		comp.Props.Add(p)
	}
	if color, ok := e.Color.Get(); ok {
		comp.Props.SetText("COLOR", color)
	}
	if dtstamp, ok := e.DTStamp.Get(); ok {
		setDateTimeProp(comp.Props, "DTSTAMP", dtstamp)
	}
	if lm, ok := e.LastModified.Get(); ok {
		setDateTimeProp(comp.Props, "LAST-MODIFIED", lm)
	}
	if created, ok := e.Created.Get(); ok {
		setDateTimeProp(comp.Props, "CREATED", created)
	}
	if url, ok := e.URL.Get(); ok {
		comp.Props.SetText("URL", url)
	}

	for _, img := range e.Images {
		p := &ical.Prop{Name: "IMAGE", Params: ical.Params{}}
		if uri, ok := img.URI.Get(); ok {
			p.Value = uri
		} else if data, ok := img.Data.Get(); ok {
			p.Value = string(data)
			p.Params["VALUE"] = []string{"BINARY"}
			p.Params["ENCODING"] = []string{"BASE64"}
		}
		if mt, ok := img.MediaType.Get(); ok {
			p.Params["FMTTYPE"] = []string{mt}
		}
		if disp, ok := img.Display.Get(); ok {
			p.Params["DISPLAY"] = []string{disp}
		}
		comp.Props.Add(p)
	}
	for _, conf := range e.Conferences {
		p := &ical.Prop{Name: "CONFERENCE", Value: conf.URI, Params: ical.Params{}}
		if len(conf.Features) > 0 {
			p.Params["FEATURE"] = []string{strings.Join(conf.Features, ",")}
		}
		if label, ok := conf.Label.Get(); ok {
			p.Params["LABEL"] = []string{label}
		}
		comp.Props.Add(p)
	}
	for _, rel := range e.Relations {
		p := &ical.Prop{Name: "RELATED-TO", Value: rel.UID, Params: ical.Params{}}
		if rt, ok := rel.RelType.Get(); ok {
			p.Params["RELTYPE"] = []string{rt}
		}
		comp.Props.Add(p)
	}

	for _, alarm := range e.Alarms {
		comp.Children = append(comp.Children, encodeAlarm(alarm))
	}
	for _, loc := range e.Locations {
		comp.Children = append(comp.Children, encodeStructuredLocation(loc))
	}
	for _, p := range e.Participants {
		comp.Children = append(comp.Children, encodeParticipant(p))
	}

	for _, name := range e.RawPropOrder {
		for _, raw := range e.RawProps[name] {
			p := &ical.Prop{Name: raw.Name, Value: raw.Value}
			if raw.Params != nil {
				p.Params = ical.Params(raw.Params)
			}
			comp.Props.Add(p)
		}
	}

	return comp, nil
}

func encodeAlarm(a Alarm) *ical.Component {
	comp := &ical.Component{Name: "VALARM", Props: ical.Props{}}
	comp.Props.SetText("ACTION", string(a.Action))

	if abs, ok := a.TriggerAbsolute.Get(); ok {
		value, params := formatDateTime(abs)
		p := &ical.Prop{Name: "TRIGGER", Value: value, Params: ical.Params{"VALUE": {"DATE-TIME"}}}
		for k, v := range params {
			p.Params[k] = v
		}
		comp.Props.Set(p)
	} else if dur, ok := a.TriggerDuration.Get(); ok {
		p := &ical.Prop{Name: "TRIGGER", Value: formatDuration(dur)}
		if a.RelatedToEnd {
			p.Params = ical.Params{"RELATED": {"END"}}
		}
		comp.Props.Set(p)
	}

	if n, ok := a.RepeatCount.Get(); ok {
		comp.Props.SetText("REPEAT", strconv.Itoa(n))
	}
	if d, ok := a.RepeatDuration.Get(); ok {
		comp.Props.SetText("DURATION", formatDuration(d))
	}
	if uid, ok := a.UID.Get(); ok {
		comp.Props.SetText("UID", uid)
	}
	if ack, ok := a.Acknowledged.Get(); ok {
		setDateTimeProp(comp.Props, "ACKNOWLEDGED", ack)
	}
	if rel, ok := a.RelatedTo.Get(); ok {
		comp.Props.SetText("RELATED-TO", rel)
	}
	if a.IsDefault {
		comp.Props.SetText("X-DEFAULT-ALARM", "TRUE")
	}
	if prox, ok := a.Proximity.Get(); ok {
		comp.Props.SetText("PROXIMITY", string(prox))
	}
	return comp
}

func encodeStructuredLocation(loc StructuredLocation) *ical.Component {
	comp := &ical.Component{Name: "VLOCATION", Props: ical.Props{}}
	if n, ok := loc.Name.Get(); ok {
		comp.Props.SetText("NAME", n)
	}
	if a, ok := loc.Address.Get(); ok {
		comp.Props.SetText("ADDRESS", a)
	}
	lat, latOK := loc.GeoLat.Get()
	lon, lonOK := loc.GeoLon.Get()
	if latOK && lonOK {
		comp.Props.SetText("GEO", fmt.Sprintf("%v;%v", lat, lon))
	}
	return comp
}

func encodeParticipant(p Participant) *ical.Component {
	comp := &ical.Component{Name: "PARTICIPANT", Props: ical.Props{}}
	if cn, ok := p.CommonName.Get(); ok {
		comp.Props.SetText("CN", cn)
	}
	if t, ok := p.Type.Get(); ok {
		comp.Props.SetText("PARTICIPANT-TYPE", t)
	}
	if ca, ok := p.CalAddress.Get(); ok {
		comp.Props.SetText("CALENDAR-ADDRESS", ca)
	}
	return comp
}
