package caldavclient

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/samber/mo"

	"github.com/caldavgo/caldav/internal/xmlutil"
)

// Calendar describes one collection found under a user's calendar home.
type Calendar struct {
	URI      string
	Name     string
	Color    mo.Option[string]
	ReadOnly bool
}

// Discover resolves startURL to a calendar home and lists its calendars,
// following the standard well-known-URI discovery chain: the supplied
// URL itself (if it has a path beyond "/"), then
// "/.well-known/caldav", then the bare root. It does not attempt DNS SRV
// discovery; servers that require it should be given their CalDAV root
// URL directly.
func (c *Client) Discover(ctx context.Context, startURL string) ([]Calendar, string, error) {
	base, err := url.Parse(startURL)
	if err != nil {
		return nil, "", fmt.Errorf("caldavclient: Discover: invalid start URL %q: %w", startURL, err)
	}

	var candidates []string
	if base.Path != "" && base.Path != "/" {
		candidates = append(candidates, startURL)
	}
	candidates = append(candidates, base.ResolveReference(&url.URL{Path: "/.well-known/caldav"}).String())
	candidates = append(candidates, base.ResolveReference(&url.URL{Path: "/"}).String())

	principalURL, err := c.findPrincipalURL(ctx, candidates)
	if err != nil {
		return nil, "", err
	}

	homeURL, err := c.findCalendarHome(ctx, principalURL)
	if err != nil {
		return nil, "", err
	}

	calendars, err := c.listCalendars(ctx, homeURL)
	if err != nil {
		return nil, "", err
	}
	return calendars, homeURL, nil
}

func (c *Client) findPrincipalURL(ctx context.Context, candidates []string) (string, error) {
	body := buildPropfindBody("current-user-principal")
	for _, candidate := range candidates {
		result := c.dav.Propfind(ctx, candidate, "0", body)
		if !result.Ok() {
			c.logger.Debug().Str("url", candidate).Err(result.Err()).Msg("discovery candidate failed")
			continue
		}
		for _, resp := range result.Value.Responses {
			if el := xmlutil.FindChild(resp.Prop("current-user-principal"), "href"); el != nil && strings.TrimSpace(el.Text()) != "" {
				return resolveAgainst(candidate, strings.TrimSpace(el.Text()))
			}
		}
	}
	return "", fmt.Errorf("caldavclient: Discover: no current-user-principal found among %d candidates", len(candidates))
}

func (c *Client) findCalendarHome(ctx context.Context, principalURL string) (string, error) {
	body := buildPropfindBody("calendar-home-set")
	result := c.dav.Propfind(ctx, principalURL, "0", body)
	if !result.Ok() {
		return "", wrapDavErr("Discover: fetching calendar-home-set", result.Err())
	}
	for _, resp := range result.Value.Responses {
		if el := xmlutil.FindChild(resp.Prop("calendar-home-set"), "href"); el != nil && strings.TrimSpace(el.Text()) != "" {
			return resolveAgainst(principalURL, strings.TrimSpace(el.Text()))
		}
	}
	return "", fmt.Errorf("caldavclient: Discover: no calendar-home-set at %s", principalURL)
}

func (c *Client) listCalendars(ctx context.Context, homeURL string) ([]Calendar, error) {
	body := buildPropfindBody("resourcetype", "displayname", "calendar-color", "current-user-privilege-set")
	result := c.dav.Propfind(ctx, homeURL, "1", body)
	if !result.Ok() {
		return nil, wrapDavErr("Discover: listing calendars", result.Err())
	}

	var calendars []Calendar
	for _, resp := range result.Value.Responses {
		if resp.Prop("resourcetype") == nil {
			continue
		}
		rt := resp.Prop("resourcetype")
		isCalendar := false
		for _, child := range rt.ChildElements() {
			if child.Tag == "calendar" || strings.HasSuffix(child.Tag, ":calendar") {
				isCalendar = true
				break
			}
		}
		if !isCalendar {
			continue
		}
		cal := Calendar{
			URI:      resp.Href,
			Name:     resp.PropText("displayname"),
			ReadOnly: !hasWritePrivilege(resp.Prop("current-user-privilege-set")),
		}
		if color := resp.PropText("calendar-color"); color != "" {
			cal.Color = mo.Some(color)
		}
		calendars = append(calendars, cal)
	}

	sort.Slice(calendars, func(i, j int) bool { return calendars[i].URI < calendars[j].URI })
	return calendars, nil
}

func hasWritePrivilege(privSet *etree.Element) bool {
	if privSet == nil {
		return false
	}
	for _, priv := range privSet.ChildElements() {
		for _, grant := range priv.ChildElements() {
			if grant.Tag == "write" || grant.Tag == "all" || strings.HasSuffix(grant.Tag, ":write") || strings.HasSuffix(grant.Tag, ":all") {
				return true
			}
		}
	}
	return false
}

func resolveAgainst(base, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("caldavclient: resolving %q against %q: %w", ref, base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("caldavclient: resolving %q against %q: %w", ref, base, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
