package caldavclient

import (
	"context"

	"github.com/caldavgo/caldav/internal/xmlutil"
	"github.com/caldavgo/caldav/webdav"
)

// SyncChange is one entry in a sync-collection REPORT response: either a
// created/modified object (Removed false; Object holds the decoded
// events when the row carried calendar-data, and is empty for a bodyless
// row) or a tombstone for a deleted one (Removed true).
type SyncChange struct {
	Href    string
	ETag    string
	Removed bool
	Object  CalendarObject
}

// SyncReport is the outcome of one incremental sync-collection REPORT.
type SyncReport struct {
	Changes   []SyncChange
	SyncToken string
}

// SyncCollection runs an RFC 6578 sync-collection REPORT against
// calendarURL using syncToken (pass "" for an initial sync, in which the
// server lists every member it holds, each reported as a change). A 410 Gone response means the token is no longer
// valid on the server and is surfaced as ErrSyncTokenInvalid so the
// caller can fall back to a full pull.
func (c *Client) SyncCollection(ctx context.Context, calendarURL, syncToken string) (SyncReport, error) {
	body := buildSyncCollectionBody(syncToken)
	result := c.dav.Report(ctx, calendarURL, "1", body)
	if !result.Ok() {
		if result.Kind == webdav.KindHTTPError && result.HTTP != nil && result.HTTP.StatusCode == 410 {
			return SyncReport{}, ErrSyncTokenInvalid
		}
		return SyncReport{}, wrapDavErr("SyncCollection", result.Err())
	}

	ms := result.Value
	report := SyncReport{SyncToken: ms.SyncToken}
	for _, resp := range ms.Responses {
		if resp.Status != "" && !xmlutil.IsSuccessStatus(resp.Status) {
			report.Changes = append(report.Changes, SyncChange{Href: resp.Href, Removed: true})
			continue
		}
		objs := c.objectsFromMultistatus(&xmlutil.Multistatus{Responses: []xmlutil.Response{resp}})
		if len(objs) == 0 {
			report.Changes = append(report.Changes, SyncChange{Href: resp.Href, ETag: resp.PropText("getetag")})
			continue
		}
		report.Changes = append(report.Changes, SyncChange{
			Href:   resp.Href,
			ETag:   objs[0].ETag,
			Object: objs[0],
		})
	}
	return report, nil
}
