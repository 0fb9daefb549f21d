package sync

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caldavgo/caldav/caldavclient"
	"github.com/caldavgo/caldav/icalendar"
)

// PullEngine reconciles a local store against a server calendar: a
// getctag gate decides whether anything changed at all, an RFC 6578
// sync-token drives an incremental fetch when one is on hand, and a full
// calendar-query REPORT is the fallback whenever no token exists yet or
// the server rejects the one offered.
//
// PullEngine stores the raw master+override events a calendar object
// decodes into, exactly as caldavclient.FetchEvents/SyncCollection
// return them. It does not expand recurring masters into occurrences;
// that is a separate, caller-invoked operation over a recurrence.Expander
// once a caller knows the date range it wants to display.
type PullEngine struct {
	client   *caldavclient.Client
	local    LocalEventProvider
	pending  PendingStore
	handler  SyncResultHandler
	conflict ConflictFunc
	logger   zerolog.Logger
}

// PullOption configures a PullEngine.
type PullOption func(*PullEngine)

func WithLocalProvider(p LocalEventProvider) PullOption {
	return func(e *PullEngine) { e.local = p }
}

func WithPendingStore(s PendingStore) PullOption {
	return func(e *PullEngine) { e.pending = s }
}

func WithConflictFunc(f ConflictFunc) PullOption {
	return func(e *PullEngine) { e.conflict = f }
}

func WithPullLogger(l zerolog.Logger) PullOption {
	return func(e *PullEngine) { e.logger = l }
}

// NewPullEngine builds a PullEngine. Without WithConflictFunc, a server
// change always wins over an unsynced local edit (UseRemote).
func NewPullEngine(client *caldavclient.Client, handler SyncResultHandler, opts ...PullOption) *PullEngine {
	e := &PullEngine{
		client:   client,
		handler:  handler,
		conflict: func(icalendar.Event, icalendar.Event) ConflictDecision { return UseRemote },
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PullCalendar reconciles one calendar and returns the resulting Report
// plus the SyncState the caller should persist for next time. rangeStart
// and rangeEnd bound the calendar-query REPORT of a full pull (an
// incremental sync-collection REPORT carries no range); they do not affect what gets stored locally, since
// PullCalendar persists the raw master+override events a calendar object
// decodes into, not pre-expanded occurrences.
func (e *PullEngine) PullCalendar(ctx context.Context, calendarID, calendarURL string, state SyncState, rangeStart, rangeEnd time.Time) (Report, SyncState, error) {
	startedAt := time.Now()
	report := Report{PreviousCTag: state.CTag}

	ctag, err := e.client.GetCtag(ctx, calendarURL)
	if err != nil {
		report.Errors = append(report.Errors, SyncItemError{Type: SyncErrorNetwork, Err: err})
		report.Duration = time.Since(startedAt)
		return report, state, err
	}
	report.NewCTag = ctag

	if ctag == state.CTag {
		report.Success = true
		report.Duration = time.Since(startedAt)
		return report, state, nil
	}

	if state.SyncToken != "" {
		rep, newState, err := e.incrementalPull(ctx, calendarID, calendarURL, state, &report)
		if err == nil {
			newState.CTag = ctag
			rep.Duration = time.Since(startedAt)
			return rep, newState, nil
		}
		if !errors.Is(err, caldavclient.ErrSyncTokenInvalid) {
			rep.Duration = time.Since(startedAt)
			return rep, state, err
		}
		e.logger.Debug().Str("calendar_id", calendarID).Msg("sync token rejected, falling back to full pull")
		report = Report{PreviousCTag: state.CTag, NewCTag: ctag}
	}

	rep, newState, err := e.fullPull(ctx, calendarID, calendarURL, rangeStart, rangeEnd, &report)
	newState.CTag = ctag
	rep.Duration = time.Since(startedAt)
	return rep, newState, err
}

func (e *PullEngine) pendingImportIDs(ctx context.Context, calendarID string) map[string]bool {
	if e.pending == nil {
		return nil
	}
	ops, err := e.pending.ListPending(ctx, calendarID)
	if err != nil {
		e.logger.Warn().Err(err).Str("calendar_id", calendarID).Msg("listing pending operations failed, skipping conflict detection")
		return nil
	}
	set := make(map[string]bool, len(ops))
	for _, op := range ops {
		set[op.ImportID] = true
	}
	return set
}

// resolveObject returns one calendar object's raw master+override events,
// diverting any whose import id has an unsynced local edit through the
// conflict function.
func (e *PullEngine) resolveObject(ctx context.Context, calendarID string, obj caldavclient.CalendarObject, pendingSet map[string]bool, report *Report) []icalendar.Event {
	if len(obj.Events) == 0 {
		return nil
	}
	report.ServerEventCount += len(obj.Events)

	if pendingSet == nil || e.local == nil {
		return obj.Events
	}
	kept := obj.Events[:0:0]
	for _, ev := range obj.Events {
		importID := ev.ImportID()
		if !pendingSet[importID] {
			kept = append(kept, ev)
			continue
		}
		local, found, lerr := e.local.GetByImportID(ctx, calendarID, importID)
		if lerr != nil || !found {
			kept = append(kept, ev)
			continue
		}
		decision := e.conflict(local, ev)
		report.Conflicts = append(report.Conflicts, Conflict{ImportID: importID, Decision: decision})
		if decision == UseRemote {
			kept = append(kept, ev)
		}
	}
	return kept
}

func (e *PullEngine) fullPull(ctx context.Context, calendarID, calendarURL string, rangeStart, rangeEnd time.Time, report *Report) (Report, SyncState, error) {
	report.IsFullSync = true
	pendingSet := e.pendingImportIDs(ctx, calendarID)

	objs, err := e.client.FetchEvents(ctx, calendarURL, rangeStart, rangeEnd)
	if err != nil {
		report.Errors = append(report.Errors, SyncItemError{Type: SyncErrorNetwork, Err: err})
		return *report, SyncState{CalendarID: calendarID}, err
	}

	serverHrefs := make(map[string]bool, len(objs))
	for _, obj := range objs {
		serverHrefs[obj.Href] = true

		events := e.resolveObject(ctx, calendarID, obj, pendingSet, report)
		if len(events) == 0 {
			continue
		}
		if err := e.handler.Upsert(ctx, calendarID, obj.Href, events); err != nil {
			report.Errors = append(report.Errors, SyncItemError{Href: obj.Href, Type: SyncErrorLocal, Err: err})
			continue
		}
		report.Upserted += len(events)
	}

	if err := e.deleteGoneFromServer(ctx, calendarID, serverHrefs, report); err != nil {
		report.Errors = append(report.Errors, SyncItemError{Type: SyncErrorLocal, Err: err})
	}

	newState := SyncState{CalendarID: calendarID, LastSyncedAt: time.Now()}
	if seed, err := e.client.SyncCollection(ctx, calendarURL, ""); err == nil {
		newState.SyncToken = seed.SyncToken
	} else {
		e.logger.Debug().Err(err).Str("calendar_id", calendarID).Msg("server does not support sync-collection, staying on full pulls")
	}

	report.Success = len(report.Errors) == 0
	return *report, newState, nil
}

// deleteGoneFromServer diffs the local store's known hrefs against the set
// a full pull just saw on the server, and applies delete_event for every
// local object the server no longer reports — a calendar object deleted
// server-side since the last sync, which a full pull (unlike incremental
// sync-collection) carries no tombstone for.
func (e *PullEngine) deleteGoneFromServer(ctx context.Context, calendarID string, serverHrefs map[string]bool, report *Report) error {
	if e.local == nil {
		return nil
	}
	localObjs, err := e.local.ListByCalendar(ctx, calendarID)
	if err != nil {
		return err
	}

	var deletedHrefs []string
	for _, lo := range localObjs {
		if !serverHrefs[lo.Href] {
			deletedHrefs = append(deletedHrefs, lo.Href)
		}
	}
	if len(deletedHrefs) == 0 {
		return nil
	}
	if err := e.handler.Delete(ctx, calendarID, deletedHrefs); err != nil {
		return err
	}
	report.Deleted += len(deletedHrefs)
	return nil
}

func (e *PullEngine) incrementalPull(ctx context.Context, calendarID, calendarURL string, state SyncState, report *Report) (Report, SyncState, error) {
	pendingSet := e.pendingImportIDs(ctx, calendarID)

	syncReport, err := e.client.SyncCollection(ctx, calendarURL, state.SyncToken)
	if err != nil {
		if errors.Is(err, caldavclient.ErrSyncTokenInvalid) {
			return *report, state, err
		}
		report.Errors = append(report.Errors, SyncItemError{Type: SyncErrorNetwork, Err: err})
		return *report, state, err
	}

	var deletedHrefs, bodyless []string
	var objs []caldavclient.CalendarObject
	for _, change := range syncReport.Changes {
		if change.Removed {
			deletedHrefs = append(deletedHrefs, change.Href)
			continue
		}
		if len(change.Object.Events) == 0 {
			bodyless = append(bodyless, change.Href)
			continue
		}
		objs = append(objs, change.Object)
	}
	if len(bodyless) > 0 {
		fetched, ferr := e.client.FetchEventsByHref(ctx, calendarURL, bodyless)
		if ferr != nil {
			report.Errors = append(report.Errors, SyncItemError{Type: SyncErrorNetwork, Err: ferr})
		}
		objs = append(objs, fetched...)
	}
	for _, obj := range objs {
		events := e.resolveObject(ctx, calendarID, obj, pendingSet, report)
		if len(events) == 0 {
			continue
		}
		if err := e.handler.Upsert(ctx, calendarID, obj.Href, events); err != nil {
			report.Errors = append(report.Errors, SyncItemError{Href: obj.Href, Type: SyncErrorLocal, Err: err})
			continue
		}
		report.Upserted += len(events)
	}

	if len(deletedHrefs) > 0 {
		if err := e.handler.Delete(ctx, calendarID, deletedHrefs); err != nil {
			report.Errors = append(report.Errors, SyncItemError{Type: SyncErrorLocal, Err: err})
		} else {
			report.Deleted += len(deletedHrefs)
		}
	}

	report.Success = len(report.Errors) == 0
	newState := state
	newState.SyncToken = syncReport.SyncToken
	newState.LastSyncedAt = time.Now()
	return *report, newState, nil
}
