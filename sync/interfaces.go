// Package sync implements the pull and push synchronization engines that
// reconcile a local calendar store against a CalDAV server using
// caldavclient and recurrence underneath.
package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/caldavgo/caldav/icalendar"
)

// LocalEventProvider is the caller-supplied view onto local storage that
// the pull engine reads: GetByImportID during conflict resolution and
// ListByCalendar during full-pull reconciliation. The push engine does
// not use it. The sync package never touches a database directly.
type LocalEventProvider interface {
	// GetByImportID returns the locally stored event for importID, if any.
	GetByImportID(ctx context.Context, calendarID, importID string) (icalendar.Event, bool, error)

	// ListModifiedSince returns local events changed after the given time.
	// Neither engine in this package calls it.
	ListModifiedSince(ctx context.Context, calendarID string, since time.Time) ([]icalendar.Event, error)

	// ListByCalendar returns every object the local store currently holds
	// for calendarID, keyed by href. The pull engine's full-pull
	// reconciliation uses this to find objects the server has since
	// deleted, since a full calendar-query carries no tombstones the way
	// an incremental sync-collection does.
	ListByCalendar(ctx context.Context, calendarID string) ([]LocalObject, error)
}

// LocalObject is one href the local store already knows about, with the
// import ids it last stored under that href (a recurring master's href
// commonly holds more than one once overrides exist).
type LocalObject struct {
	Href      string
	ImportIDs []string
}

// ConflictDecision is what a conflict callback returns when the pull
// engine finds a server-side change that collides with an unsynced local
// edit of the same import id.
type ConflictDecision int

const (
	UseRemote ConflictDecision = iota
	UseLocal
	SkipConflict
)

func (d ConflictDecision) String() string {
	switch d {
	case UseRemote:
		return "use_remote"
	case UseLocal:
		return "use_local"
	case SkipConflict:
		return "skip"
	default:
		return "unknown"
	}
}

// ConflictFunc decides how to resolve a pull-time conflict between the
// locally stored event and the version the server just returned.
type ConflictFunc func(local, remote icalendar.Event) ConflictDecision

// SyncResultHandler receives the outcome of a pull, so the caller can
// persist upserts/deletes in its own store and advance its own state.
// Upsert is called once per calendar object href with the raw master (and
// any RECURRENCE-ID overrides) decoded from it; Delete is called with the
// hrefs of objects the server reports removed, since a single href may
// have produced several import ids on a prior upsert and only the
// caller's store knows which ones to retire.
type SyncResultHandler interface {
	Upsert(ctx context.Context, calendarID, href string, events []icalendar.Event) error
	Delete(ctx context.Context, calendarID string, hrefs []string) error
}

// PendingOperation is a queued local mutation the push engine has not yet
// confirmed against the server.
type PendingOperation struct {
	ID         string
	CalendarID string
	ImportID   string
	Kind       PendingKind
	Event      mo.Option[icalendar.Event]
	Href       mo.Option[string]
	ETag       mo.Option[string]
	EnqueuedAt time.Time
	Attempts   int
}

// NewPendingOperation builds a PendingOperation with a fresh id, for a
// caller's PendingStore.ListPending/enqueue implementation to persist.
func NewPendingOperation(calendarID, importID string, kind PendingKind) PendingOperation {
	return PendingOperation{
		ID:         uuid.NewString(),
		CalendarID: calendarID,
		ImportID:   importID,
		Kind:       kind,
		EnqueuedAt: time.Now(),
	}
}

// PendingKind is the mutation a PendingOperation represents.
type PendingKind string

const (
	PendingCreate PendingKind = "create"
	PendingUpdate PendingKind = "update"
	PendingDelete PendingKind = "delete"
)

// PendingStore is the caller-supplied queue of not-yet-pushed local
// mutations. The push engine drains and updates it; the pull engine only
// lists it, to find import ids with unsynced local edits.
type PendingStore interface {
	ListPending(ctx context.Context, calendarID string) ([]PendingOperation, error)
	MarkDone(ctx context.Context, op PendingOperation) error
	MarkFailed(ctx context.Context, op PendingOperation, err error) error

	// Requeue persists op as pending again. The push engine uses it to
	// record op's incremented Attempts after a failed push below the
	// attempt limit, and when a NewestWins
	// conflict resolves in the local mutation's favor: the push engine
	// does not resubmit inline against the etag that just lost a
	// precondition check, it resets the operation (op.Attempts and
	// op.ETag are already cleared by the caller) so the next push pass
	// reads the server's current etag before retrying.
	Requeue(ctx context.Context, op PendingOperation) error
}

// SyncState is the per-calendar bookkeeping a caller persists between
// sync runs.
type SyncState struct {
	CalendarID   string
	CTag         string
	SyncToken    string
	LastSyncedAt time.Time
}
