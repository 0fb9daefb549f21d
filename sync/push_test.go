package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldavgo/caldav/caldavclient"
	"github.com/caldavgo/caldav/icalendar"
	"github.com/caldavgo/caldav/webdav"
)

func newDavClient(t *testing.T, baseURL string) *caldavclient.Client {
	t.Helper()
	dav, err := webdav.NewClient(baseURL)
	require.NoError(t, err)
	return caldavclient.New(dav)
}

func TestCoalesceKeepsLatestOpPerImportIDAtFirstPosition(t *testing.T) {
	ops := []PendingOperation{
		{ID: "1", ImportID: "a", Kind: PendingCreate},
		{ID: "2", ImportID: "b", Kind: PendingCreate},
		{ID: "3", ImportID: "a", Kind: PendingUpdate},
	}
	out := coalesce(ops)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ImportID)
	assert.Equal(t, "3", out[0].ID) // latest for "a"
	assert.Equal(t, "b", out[1].ImportID)
}

func TestPushCreateTreats412AsIdempotentSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	client := newDavClient(t, srv.URL)
	pending := newFakePendingStore()
	engine := NewPushEngine(client, pending)

	ev := icalendar.Event{UID: "idempotent@example.com", RawProps: map[string][]icalendar.RawProperty{}}
	op := PendingOperation{ID: "op-1", CalendarID: "cal-1", ImportID: ev.UID, Kind: PendingCreate, Event: mo.Some(ev), EnqueuedAt: time.Now()}
	pending.enqueue("cal-1", op)

	report, err := engine.PushCalendar(context.Background(), "cal-1", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)
	assert.Empty(t, report.Errors)
	assert.Len(t, pending.done, 1)
}

func TestPushUpdateServerWinsDropsOnConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newDavClient(t, srv.URL)
	pending := newFakePendingStore()
	engine := NewPushEngine(client, pending, WithResolutionStrategy(ServerWins))

	ev := icalendar.Event{UID: "conflict@example.com", RawProps: map[string][]icalendar.RawProperty{}}
	op := PendingOperation{
		ID: "op-1", CalendarID: "cal-1", ImportID: ev.UID, Kind: PendingUpdate,
		Event: mo.Some(ev), Href: mo.Some(srv.URL + "/conflict.ics"), ETag: mo.Some(`"stale"`),
	}
	pending.enqueue("cal-1", op)

	report, err := engine.PushCalendar(context.Background(), "cal-1", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pushed)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, ServerWins, report.Conflicts[0].Strategy)
	assert.Empty(t, report.Errors)
}

func TestPushUpdateLocalWinsDoesNotAutoRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newDavClient(t, srv.URL)
	pending := newFakePendingStore()
	engine := NewPushEngine(client, pending, WithResolutionStrategy(LocalWins))

	ev := icalendar.Event{UID: "localwins@example.com", RawProps: map[string][]icalendar.RawProperty{}}
	op := PendingOperation{
		ID: "op-1", CalendarID: "cal-1", ImportID: ev.UID, Kind: PendingUpdate,
		Event: mo.Some(ev), Href: mo.Some(srv.URL + "/localwins.ics"), ETag: mo.Some(`"stale"`),
	}
	pending.enqueue("cal-1", op)

	report, err := engine.PushCalendar(context.Background(), "cal-1", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pushed)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, LocalWins, report.Conflicts[0].Strategy)
	require.Len(t, pending.failed, 1)
	assert.Equal(t, "op-1", pending.failed[0].ID)
}

func remoteMultigetResponse(href, ics string) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:response>
    <D:href>%s</D:href>
    <D:propstat><D:prop><D:getetag>"e-remote"</D:getetag><C:calendar-data>%s</C:calendar-data></D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat>
  </D:response>
</D:multistatus>`, href, ics)
}

func TestPushUpdateNewestWinsRequeuesWhenLocalIsNewer(t *testing.T) {
	var putCalls int32
	remoteICS := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//t//EN\r\nBEGIN:VEVENT\r\nUID:newest@example.com\r\nDTSTART:20260601T090000Z\r\nSEQUENCE:2\r\nSUMMARY:Remote\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			atomic.AddInt32(&putCalls, 1)
			w.WriteHeader(http.StatusPreconditionFailed)
		case "REPORT":
			w.WriteHeader(http.StatusMultiStatus)
			w.Write([]byte(remoteMultigetResponse("/newest.ics", remoteICS)))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client := newDavClient(t, srv.URL)
	pending := newFakePendingStore()
	engine := NewPushEngine(client, pending, WithResolutionStrategy(NewestWins))

	ev := icalendar.Event{UID: "newest@example.com", Sequence: 3, RawProps: map[string][]icalendar.RawProperty{}}
	op := PendingOperation{
		ID: "op-1", CalendarID: "cal-1", ImportID: ev.UID, Kind: PendingUpdate,
		Event: mo.Some(ev), Href: mo.Some(srv.URL + "/newest.ics"), ETag: mo.Some(`"stale"`), Attempts: 1,
	}
	pending.enqueue("cal-1", op)

	report, err := engine.PushCalendar(context.Background(), "cal-1", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pushed)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, NewestWins, report.Conflicts[0].Strategy)
	assert.Equal(t, int32(1), atomic.LoadInt32(&putCalls), "a local win must requeue, not resubmit inline")

	require.Len(t, pending.requeued, 1)
	assert.Equal(t, 0, pending.requeued[0].Attempts)
	_, hasETag := pending.requeued[0].ETag.Get()
	assert.False(t, hasETag, "etag must be cleared so the next push reads the server's current one")
}

func TestPushUpdateNewestWinsDropsWhenRemoteIsNewer(t *testing.T) {
	remoteICS := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//t//EN\r\nBEGIN:VEVENT\r\nUID:newest2@example.com\r\nDTSTART:20260601T090000Z\r\nSEQUENCE:5\r\nSUMMARY:Remote\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusPreconditionFailed)
		case "REPORT":
			w.WriteHeader(http.StatusMultiStatus)
			w.Write([]byte(remoteMultigetResponse("/newest2.ics", remoteICS)))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client := newDavClient(t, srv.URL)
	pending := newFakePendingStore()
	engine := NewPushEngine(client, pending, WithResolutionStrategy(NewestWins))

	ev := icalendar.Event{UID: "newest2@example.com", Sequence: 1, RawProps: map[string][]icalendar.RawProperty{}}
	op := PendingOperation{
		ID: "op-1", CalendarID: "cal-1", ImportID: ev.UID, Kind: PendingUpdate,
		Event: mo.Some(ev), Href: mo.Some(srv.URL + "/newest2.ics"), ETag: mo.Some(`"stale"`),
	}
	pending.enqueue("cal-1", op)

	report, err := engine.PushCalendar(context.Background(), "cal-1", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pushed)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, "remote was newer, dropped local update", report.Conflicts[0].Outcome)
	assert.Empty(t, pending.requeued)
}

func TestPushDeleteTreats404AsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newDavClient(t, srv.URL)
	pending := newFakePendingStore()
	engine := NewPushEngine(client, pending)

	op := PendingOperation{
		ID: "op-1", CalendarID: "cal-1", ImportID: "gone@example.com", Kind: PendingDelete,
		Href: mo.Some(srv.URL + "/gone.ics"),
	}
	pending.enqueue("cal-1", op)

	report, err := engine.PushCalendar(context.Background(), "cal-1", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)
	assert.Empty(t, report.Errors)
}
