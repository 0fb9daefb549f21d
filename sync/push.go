package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/mo"

	"github.com/caldavgo/caldav/caldavclient"
	"github.com/caldavgo/caldav/icalendar"
	"github.com/caldavgo/caldav/webdav"
)

// ResolutionStrategy picks how the push engine reacts to a 412
// Precondition Failed on an update or delete, meaning the server's copy
// moved since the local edit was queued.
type ResolutionStrategy int

const (
	// ServerWins discards the local mutation and keeps the server's copy.
	ServerWins ResolutionStrategy = iota
	// NewestWins refetches the server copy and compares SEQUENCE, then
	// DTSTAMP (see isNewer); a local win is requeued with its ETag cleared,
	// a server win (or tie) drops the local mutation.
	NewestWins
	// LocalWins forces the local mutation through. For a delete this
	// means refetching the ETag and retrying; for an update it does not
	// re-read and resubmit automatically, since blindly overwriting a
	// server-side edit the caller never saw is not a decision this engine
	// makes silently. It surfaces ErrLocalWinsUpdateConflict instead.
	LocalWins
	// Manual marks the operation failed with ErrManualResolutionRequired
	// and reports the conflict for the caller to resolve out of band.
	Manual
)

func (s ResolutionStrategy) String() string {
	switch s {
	case ServerWins:
		return "server_wins"
	case NewestWins:
		return "newest_wins"
	case LocalWins:
		return "local_wins"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// ErrManualResolutionRequired is returned for a pending operation under
// the Manual strategy when the server rejects it with a precondition
// failure.
var ErrManualResolutionRequired = errors.New("sync: manual conflict resolution required")

// ErrLocalWinsUpdateConflict is returned when the LocalWins strategy
// meets a 412 on an update: the engine will not silently overwrite a
// server-side change it has not compared against.
var ErrLocalWinsUpdateConflict = errors.New("sync: local update conflicts with a server-side change, resolve manually")

// PushConflict records one 412 the push loop hit and how it was handled.
type PushConflict struct {
	ImportID string
	Strategy ResolutionStrategy
	Outcome  string
}

// PushReport summarizes one PushCalendar call.
type PushReport struct {
	Pushed    int
	Conflicts []PushConflict
	Errors    []SyncItemError
	Duration  time.Duration
}

// PushEngine drains a calendar's PendingStore against the server,
// coalescing repeated edits to the same import id into their latest
// value before sending anything over the wire.
type PushEngine struct {
	client      *caldavclient.Client
	pending     PendingStore
	strategy    ResolutionStrategy
	maxAttempts int
	logger      zerolog.Logger
}

// PushOption configures a PushEngine.
type PushOption func(*PushEngine)

func WithResolutionStrategy(s ResolutionStrategy) PushOption {
	return func(e *PushEngine) { e.strategy = s }
}

func WithMaxAttempts(n int) PushOption {
	return func(e *PushEngine) { e.maxAttempts = n }
}

func WithPushLogger(l zerolog.Logger) PushOption {
	return func(e *PushEngine) { e.logger = l }
}

// NewPushEngine builds a PushEngine defaulting to the ServerWins strategy
// and three attempts per operation before giving up.
func NewPushEngine(client *caldavclient.Client, pending PendingStore, opts ...PushOption) *PushEngine {
	e := &PushEngine{
		client:      client,
		pending:     pending,
		strategy:    ServerWins,
		maxAttempts: 3,
		logger:      log.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// coalesce keeps only the most recently enqueued operation per import id,
// at the queue position of its first occurrence, so a rapid
// create-then-update-then-update sequence becomes a single network
// round trip carrying the final state.
func coalesce(ops []PendingOperation) []PendingOperation {
	latest := make(map[string]PendingOperation, len(ops))
	order := make([]string, 0, len(ops))
	for _, op := range ops {
		if _, seen := latest[op.ImportID]; !seen {
			order = append(order, op.ImportID)
		}
		latest[op.ImportID] = op
	}
	out := make([]PendingOperation, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

// PushCalendar pushes every pending mutation for one calendar.
func (e *PushEngine) PushCalendar(ctx context.Context, calendarID, calendarURL string) (PushReport, error) {
	startedAt := time.Now()
	report := PushReport{}

	ops, err := e.pending.ListPending(ctx, calendarID)
	if err != nil {
		return report, fmt.Errorf("sync: PushCalendar: listing pending operations: %w", err)
	}

	for _, op := range coalesce(ops) {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(startedAt)
			return report, err
		}
		if e.pushOne(ctx, calendarID, calendarURL, op, &report) {
			report.Pushed++
		}
	}

	sort.Slice(report.Errors, func(i, j int) bool { return report.Errors[i].Href < report.Errors[j].Href })
	report.Duration = time.Since(startedAt)
	return report, nil
}

func (e *PushEngine) pushOne(ctx context.Context, calendarID, calendarURL string, op PendingOperation, report *PushReport) bool {
	var err error
	switch op.Kind {
	case PendingCreate:
		err = e.pushCreate(ctx, calendarURL, op)
	case PendingUpdate:
		err = e.pushUpdate(ctx, calendarID, calendarURL, op, report)
	case PendingDelete:
		err = e.pushDelete(ctx, calendarID, calendarURL, op, report)
	default:
		err = fmt.Errorf("sync: unknown pending operation kind %q", op.Kind)
	}

	if err == nil {
		if merr := e.pending.MarkDone(ctx, op); merr != nil {
			report.Errors = append(report.Errors, SyncItemError{Href: hrefOf(op), Type: SyncErrorLocal, Err: merr})
			return false
		}
		return true
	}

	if errors.Is(err, errSwallowedConflict) {
		return false
	}

	op.Attempts++
	if op.Attempts >= e.maxAttempts {
		if merr := e.pending.MarkFailed(ctx, op, err); merr != nil {
			e.logger.Warn().Err(merr).Str("import_id", op.ImportID).Msg("marking pending operation failed also failed")
		}
	} else if rerr := e.pending.Requeue(ctx, op); rerr != nil {
		e.logger.Warn().Err(rerr).Str("import_id", op.ImportID).Msg("recording failed push attempt failed")
	}
	report.Errors = append(report.Errors, SyncItemError{Href: hrefOf(op), Type: classifyPushErr(err), Err: err})
	return false
}

func hrefOf(op PendingOperation) string {
	href, _ := op.Href.Get()
	return href
}

func classifyPushErr(err error) SyncErrorType {
	var httpErr *webdav.HTTPError
	if errors.As(err, &httpErr) {
		return SyncErrorHTTP
	}
	return SyncErrorNetwork
}

// errSwallowedConflict marks a 412 that was fully handled (a dropped
// local mutation, already removed from the queue, or a requeued or
// recorded Manual/unresolved conflict) so pushOne neither counts it as
// pushed nor treats it as a retryable failure.
var errSwallowedConflict = errors.New("sync: conflict handled")

// dropOp removes op from the queue after a 412 resolved in the server's
// favor.
func (e *PushEngine) dropOp(ctx context.Context, op PendingOperation) error {
	if merr := e.pending.MarkDone(ctx, op); merr != nil {
		return merr
	}
	return errSwallowedConflict
}

func (e *PushEngine) pushCreate(ctx context.Context, calendarURL string, op PendingOperation) error {
	ev, ok := op.Event.Get()
	if !ok {
		return fmt.Errorf("sync: create operation for %s carries no event", op.ImportID)
	}
	_, _, err := e.client.CreateEvent(ctx, calendarURL, []icalendar.Event{ev})
	if err == nil {
		return nil
	}
	var httpErr *webdav.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == 412 {
		// The deterministic UID-derived href already exists: a prior
		// attempt's response was lost but the PUT landed. Idempotent,
		// treat as success.
		return nil
	}
	return err
}

func (e *PushEngine) pushUpdate(ctx context.Context, calendarID, calendarURL string, op PendingOperation, report *PushReport) error {
	ev, ok := op.Event.Get()
	if !ok {
		return fmt.Errorf("sync: update operation for %s carries no event", op.ImportID)
	}
	href, ok := op.Href.Get()
	if !ok {
		return fmt.Errorf("sync: update operation for %s carries no href", op.ImportID)
	}
	etag, _ := op.ETag.Get()

	_, err := e.client.UpdateEvent(ctx, href, []icalendar.Event{ev}, etag)
	if err == nil {
		return nil
	}
	var httpErr *webdav.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 412 {
		return err
	}
	return e.resolveUpdateConflict(ctx, calendarID, calendarURL, href, ev, op, report)
}

func (e *PushEngine) resolveUpdateConflict(ctx context.Context, calendarID, calendarURL, href string, local icalendar.Event, op PendingOperation, report *PushReport) error {
	switch e.strategy {
	case ServerWins:
		report.Conflicts = append(report.Conflicts, PushConflict{ImportID: op.ImportID, Strategy: e.strategy, Outcome: "dropped local update"})
		return e.dropOp(ctx, op)
	case Manual:
		report.Conflicts = append(report.Conflicts, PushConflict{ImportID: op.ImportID, Strategy: e.strategy, Outcome: "marked failed for manual resolution"})
		if merr := e.pending.MarkFailed(ctx, op, ErrManualResolutionRequired); merr != nil {
			e.logger.Warn().Err(merr).Str("import_id", op.ImportID).Msg("recording manual conflict failed")
		}
		return errSwallowedConflict
	case LocalWins:
		report.Conflicts = append(report.Conflicts, PushConflict{ImportID: op.ImportID, Strategy: e.strategy, Outcome: "surfaced for manual resolution"})
		if merr := e.pending.MarkFailed(ctx, op, ErrLocalWinsUpdateConflict); merr != nil {
			e.logger.Warn().Err(merr).Str("import_id", op.ImportID).Msg("recording local-wins conflict failed")
		}
		return errSwallowedConflict
	case NewestWins:
		remote, found := e.fetchRemoteMaster(ctx, calendarURL, href)
		if !found || isNewer(local, remote) {
			reset := op
			reset.Attempts = 0
			reset.ETag = mo.None[string]()
			if merr := e.pending.Requeue(ctx, reset); merr != nil {
				return merr
			}
			report.Conflicts = append(report.Conflicts, PushConflict{ImportID: op.ImportID, Strategy: e.strategy, Outcome: "local was newer, requeued with cleared etag"})
			return errSwallowedConflict
		}
		report.Conflicts = append(report.Conflicts, PushConflict{ImportID: op.ImportID, Strategy: e.strategy, Outcome: "remote was newer, dropped local update"})
		return e.dropOp(ctx, op)
	default:
		return fmt.Errorf("sync: unknown resolution strategy %d", e.strategy)
	}
}

func (e *PushEngine) pushDelete(ctx context.Context, calendarID, calendarURL string, op PendingOperation, report *PushReport) error {
	href, ok := op.Href.Get()
	if !ok {
		return fmt.Errorf("sync: delete operation for %s carries no href", op.ImportID)
	}
	etag, _ := op.ETag.Get()

	err := e.client.DeleteEvent(ctx, href, etag)
	if err == nil {
		return nil
	}
	var httpErr *webdav.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == 404 {
		// Already gone, which is exactly the state a delete wants.
		return nil
	}
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 412 {
		return err
	}

	switch e.strategy {
	case LocalWins:
		newEtag, ferr := e.refetchETag(ctx, calendarURL, href)
		if ferr != nil {
			return ferr
		}
		if derr := e.client.DeleteEvent(ctx, href, newEtag); derr != nil {
			return derr
		}
		report.Conflicts = append(report.Conflicts, PushConflict{ImportID: op.ImportID, Strategy: e.strategy, Outcome: "forced delete after refetch"})
		return nil
	case Manual:
		report.Conflicts = append(report.Conflicts, PushConflict{ImportID: op.ImportID, Strategy: e.strategy, Outcome: "marked failed for manual resolution"})
		if merr := e.pending.MarkFailed(ctx, op, ErrManualResolutionRequired); merr != nil {
			e.logger.Warn().Err(merr).Str("import_id", op.ImportID).Msg("recording manual conflict failed")
		}
		return errSwallowedConflict
	default: // ServerWins, NewestWins
		report.Conflicts = append(report.Conflicts, PushConflict{ImportID: op.ImportID, Strategy: e.strategy, Outcome: "dropped local delete, server's edit survives"})
		return e.dropOp(ctx, op)
	}
}

func (e *PushEngine) fetchRemoteMaster(ctx context.Context, calendarURL, href string) (icalendar.Event, bool) {
	objs, err := e.client.FetchEventsByHref(ctx, calendarURL, []string{href})
	if err != nil || len(objs) == 0 || len(objs[0].Events) == 0 {
		return icalendar.Event{}, false
	}
	for _, ev := range objs[0].Events {
		if _, isOverride := ev.RecurrenceID.Get(); !isOverride {
			return ev, true
		}
	}
	return objs[0].Events[0], true
}

func (e *PushEngine) refetchETag(ctx context.Context, calendarURL, href string) (string, error) {
	objs, err := e.client.FetchEventsByHref(ctx, calendarURL, []string{href})
	if err != nil {
		return "", err
	}
	if len(objs) == 0 {
		return "", fmt.Errorf("sync: %s no longer exists on the server", href)
	}
	return objs[0].ETag, nil
}

// isNewer implements NewestWins: compare SEQUENCE first, the higher wins;
// on a tie compare DTSTAMP, the later wins; on a further tie the server
// wins (isNewer returns false).
func isNewer(local, remote icalendar.Event) bool {
	if local.Sequence != remote.Sequence {
		return local.Sequence > remote.Sequence
	}
	ld, lok := local.DTStamp.Get()
	rd, rok := remote.DTStamp.Get()
	if !lok || !rok {
		return false
	}
	return ld.UnixMilli > rd.UnixMilli
}
