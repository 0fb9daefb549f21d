package sync

import (
	"context"
	"sync"
	"time"

	"github.com/caldavgo/caldav/icalendar"
)

// fakeLocalProvider is an in-memory LocalEventProvider keyed by import id.
type fakeLocalProvider struct {
	mu     sync.Mutex
	byID   map[string]icalendar.Event
	hrefOf map[string]string // import id -> href
	recent []icalendar.Event
}

func newFakeLocalProvider() *fakeLocalProvider {
	return &fakeLocalProvider{byID: map[string]icalendar.Event{}, hrefOf: map[string]string{}}
}

func (f *fakeLocalProvider) put(e icalendar.Event) {
	f.putWithHref(e, e.UID+".ics")
}

func (f *fakeLocalProvider) putWithHref(e icalendar.Event, href string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[e.ImportID()] = e
	f.hrefOf[e.ImportID()] = href
}

func (f *fakeLocalProvider) GetByImportID(ctx context.Context, calendarID, importID string) (icalendar.Event, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[importID]
	return e, ok, nil
}

func (f *fakeLocalProvider) ListModifiedSince(ctx context.Context, calendarID string, since time.Time) ([]icalendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]icalendar.Event(nil), f.recent...), nil
}

func (f *fakeLocalProvider) ListByCalendar(ctx context.Context, calendarID string) ([]LocalObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byHref := map[string][]string{}
	for importID, href := range f.hrefOf {
		byHref[href] = append(byHref[href], importID)
	}
	out := make([]LocalObject, 0, len(byHref))
	for href, ids := range byHref {
		out = append(out, LocalObject{Href: href, ImportIDs: ids})
	}
	return out, nil
}

// fakeResultHandler records every Upsert/Delete call it receives.
type fakeResultHandler struct {
	mu        sync.Mutex
	upserts   map[string][]icalendar.Event // href -> events
	deletions []string
}

func newFakeResultHandler() *fakeResultHandler {
	return &fakeResultHandler{upserts: map[string][]icalendar.Event{}}
}

func (h *fakeResultHandler) Upsert(ctx context.Context, calendarID, href string, events []icalendar.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.upserts[href] = events
	return nil
}

func (h *fakeResultHandler) Delete(ctx context.Context, calendarID string, hrefs []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deletions = append(h.deletions, hrefs...)
	return nil
}

func (h *fakeResultHandler) totalUpserted() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, evs := range h.upserts {
		n += len(evs)
	}
	return n
}

// fakePendingStore is an in-memory PendingStore.
type fakePendingStore struct {
	mu       sync.Mutex
	byCal    map[string][]PendingOperation
	failed   []PendingOperation
	done     []PendingOperation
	requeued []PendingOperation
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{byCal: map[string][]PendingOperation{}}
}

func (s *fakePendingStore) enqueue(calendarID string, op PendingOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCal[calendarID] = append(s.byCal[calendarID], op)
}

func (s *fakePendingStore) ListPending(ctx context.Context, calendarID string) ([]PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PendingOperation(nil), s.byCal[calendarID]...), nil
}

func (s *fakePendingStore) MarkDone(ctx context.Context, op PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = append(s.done, op)
	return nil
}

func (s *fakePendingStore) MarkFailed(ctx context.Context, op PendingOperation, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, op)
	return nil
}

func (s *fakePendingStore) Requeue(ctx context.Context, op PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requeued = append(s.requeued, op)
	ops := s.byCal[op.CalendarID]
	for i, existing := range ops {
		if existing.ID == op.ID {
			ops[i] = op
			return nil
		}
	}
	s.byCal[op.CalendarID] = append(ops, op)
	return nil
}
