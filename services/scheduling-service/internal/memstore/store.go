// Package memstore keeps every scheduling record in process memory. It backs the
// tests and the service when no database is configured.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/booking"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/clock"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/notify"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/outbox"
)

type assignmentKey struct {
	professionalID string
	serviceID      string
}

type Store struct {
	mu            sync.RWMutex
	tenants       map[string]model.Tenant
	professionals map[string]model.Professional
	services      map[string]model.Service
	assignments   map[assignmentKey]model.Assignment
	overrides     map[string][]model.Override
	clients       map[string]model.Client
	bookings      map[string]model.Booking
	waitlist      map[string]model.WaitlistEntry
	events        []outbox.Event
	deliveries    []notify.Delivery

	clock    clock.Clock
	dayLocks keyedMutex
	txMu     sync.Mutex
}

type Option func(*Store)

// WithClock sets the clock used to stamp created bookings.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func New(opts ...Option) *Store {
	s := &Store{
		tenants:       map[string]model.Tenant{},
		professionals: map[string]model.Professional{},
		services:      map[string]model.Service{},
		assignments:   map[assignmentKey]model.Assignment{},
		overrides:     map[string][]model.Override{},
		clients:       map[string]model.Client{},
		bookings:      map[string]model.Booking{},
		waitlist:      map[string]model.WaitlistEntry{},
		clock:         clock.System{},
		dayLocks:      keyedMutex{locks: map[string]*sync.Mutex{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// keyedMutex hands out one mutex per key. Entries are never evicted.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func dayKey(professionalID string, day time.Time) string {
	return professionalID + "|" + day.Format(time.DateOnly)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (s *Store) Tenant(_ context.Context, tenantID string) (model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return model.Tenant{}, model.ErrNotFound
	}
	return t, nil
}

func (s *Store) Professional(_ context.Context, tenantID, professionalID string) (model.Professional, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.professionals[professionalID]
	if !ok || p.TenantID != tenantID {
		return model.Professional{}, model.ErrNotFound
	}
	return p, nil
}

func (s *Store) Service(_ context.Context, tenantID, serviceID string) (model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[serviceID]
	if !ok || svc.TenantID != tenantID {
		return model.Service{}, model.ErrNotFound
	}
	return svc, nil
}

func (s *Store) Assignment(_ context.Context, professionalID, serviceID string) (model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[assignmentKey{professionalID, serviceID}]
	if !ok {
		return model.Assignment{}, model.ErrNotFound
	}
	return a, nil
}

func (s *Store) Client(_ context.Context, tenantID, clientID string) (model.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok || c.TenantID != tenantID {
		return model.Client{}, model.ErrNotFound
	}
	return c, nil
}

func (s *Store) ClientByEmail(_ context.Context, tenantID, email string) (model.Client, error) {
	email = strings.TrimSpace(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.TenantID == tenantID && strings.EqualFold(c.Email, email) {
			return c, nil
		}
	}
	return model.Client{}, model.ErrNotFound
}

func (s *Store) ClientBookings(_ context.Context, tenantID, clientID string, statuses []model.BookingStatus) ([]model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.TenantID != tenantID || b.ClientID != clientID {
			continue
		}
		if statuses != nil && !hasStatus(statuses, b.Status) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Store) BookingsBetween(_ context.Context, professionalID string, window interval.Interval, statuses []model.BookingStatus) ([]model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bookingsBetweenLocked(professionalID, window, statuses, nil), nil
}

func (s *Store) bookingsBetweenLocked(professionalID string, window interval.Interval, statuses []model.BookingStatus, staged []model.Booking) []model.Booking {
	var out []model.Booking
	consider := func(b model.Booking) {
		if b.ProfessionalID != professionalID || !interval.Overlaps(b.Interval(), window) {
			return
		}
		if statuses != nil && !hasStatus(statuses, b.Status) {
			return
		}
		out = append(out, b)
	}
	for _, b := range s.bookings {
		consider(b)
	}
	for _, b := range staged {
		consider(b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func hasStatus(set []model.BookingStatus, st model.BookingStatus) bool {
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}

func (s *Store) Overrides(_ context.Context, professionalID string, date time.Time, kinds []model.OverrideKind) ([]model.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Override
	for _, o := range s.overrides[professionalID] {
		if !sameDate(o.Date, date) {
			continue
		}
		if kinds != nil && !hasKind(kinds, o.Kind) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Range.Start.Before(out[j].Range.Start) })
	return out, nil
}

func (s *Store) InsertOverride(_ context.Context, o *model.Override) error {
	stored, err := s.AddOverride(*o)
	if err != nil {
		return err
	}
	*o = stored
	return nil
}

func hasKind(set []model.OverrideKind, k model.OverrideKind) bool {
	for _, s := range set {
		if s == k {
			return true
		}
	}
	return false
}

// UpsertClientByEmail reuses the tenant's client with the same email. On a match the
// name is always replaced and the phone only when c.Phone is not empty.
func (s *Store) UpsertClientByEmail(_ context.Context, c model.Client) (model.Client, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if c.TenantID == "" || email == "" {
		return model.Client{}, errors.New("tenant and email are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.clients {
		if existing.TenantID != c.TenantID || existing.Email != email {
			continue
		}
		existing.Name = c.Name
		if c.Phone != "" {
			existing.Phone = c.Phone
		}
		s.clients[id] = existing
		return existing, nil
	}
	c.ID = uuid.NewString()
	c.Email = email
	s.clients[c.ID] = c
	return c, nil
}

func (s *Store) WithinDayLock(ctx context.Context, professionalID string, day time.Time, fn func(ctx context.Context, tx booking.Tx) error) error {
	unlock := s.dayLocks.lock(dayKey(professionalID, day))
	defer unlock()
	return s.run(ctx, fn)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.run(ctx, fn)
}

func (s *Store) run(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	t := &tx{Store: s}
	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

// tx stages writes and applies them together on commit.
type tx struct {
	*Store
	inserts []model.Booking
	updates []model.Booking
	events  []outbox.Event
}

func (t *tx) BookingsBetween(_ context.Context, professionalID string, window interval.Interval, statuses []model.BookingStatus) ([]model.Booking, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bookingsBetweenLocked(professionalID, window, statuses, t.inserts), nil
}

func (t *tx) InsertBooking(_ context.Context, b *model.Booking) error {
	if !b.Interval().Valid() {
		return fmt.Errorf("booking start %s must be before end %s", b.Start, b.End)
	}
	t.mu.RLock()
	conflict := t.conflictsLocked(*b, t.inserts)
	t.mu.RUnlock()
	if conflict {
		return model.ErrOverlap
	}
	b.ID = uuid.NewString()
	b.CreatedAt = t.clock.Now().UTC()
	t.inserts = append(t.inserts, *b)
	return nil
}

// conflictsLocked mirrors the database exclusion constraint.
func (s *Store) conflictsLocked(b model.Booking, staged []model.Booking) bool {
	if !b.Status.Blocking() {
		return false
	}
	for _, other := range s.bookingsBetweenLocked(b.ProfessionalID, b.Interval(), model.BlockingStatuses, staged) {
		if other.ID != b.ID {
			return true
		}
	}
	return false
}

func (t *tx) BookingForUpdate(_ context.Context, tenantID, bookingID string) (model.Booking, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bookings[bookingID]
	if !ok || b.TenantID != tenantID {
		return model.Booking{}, model.ErrNotFound
	}
	return b, nil
}

func (t *tx) SaveCancellation(_ context.Context, b model.Booking) error {
	t.updates = append(t.updates, b)
	return nil
}

func (t *tx) AppendEvent(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

func (t *tx) commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, b := range t.inserts {
		if t.conflictsLocked(b, t.inserts[:i]) {
			return model.ErrOverlap
		}
	}
	for _, b := range t.updates {
		if _, ok := t.bookings[b.ID]; !ok {
			return model.ErrNotFound
		}
	}
	for _, b := range t.inserts {
		t.bookings[b.ID] = b
	}
	for _, b := range t.updates {
		t.bookings[b.ID] = b
	}
	t.Store.events = append(t.Store.events, t.events...)
	return nil
}

func (s *Store) InsertWaitlistEntry(_ context.Context, e *model.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = uuid.NewString()
	s.waitlist[e.ID] = *e
	return nil
}

func (s *Store) DeactivateWaitlistEntry(_ context.Context, tenantID, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.waitlist[entryID]
	if !ok || e.TenantID != tenantID {
		return model.ErrNotFound
	}
	e.Active = false
	s.waitlist[entryID] = e
	return nil
}

func (s *Store) PendingWaitlist(_ context.Context, tenantID string, through time.Time) ([]model.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := time.Date(through.Year(), through.Month(), through.Day(), 0, 0, 0, 0, time.UTC)
	var out []model.WaitlistEntry
	for _, e := range s.waitlist {
		if e.TenantID != tenantID || !e.Active || e.Notified {
			continue
		}
		desired := time.Date(e.DesiredDate.Year(), e.DesiredDate.Month(), e.DesiredDate.Day(), 0, 0, 0, 0, time.UTC)
		if desired.After(limit) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

func (s *Store) MarkWaitlistNotified(_ context.Context, tenantID, entryID string, at time.Time, evt outbox.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.waitlist[entryID]
	if !ok || e.TenantID != tenantID {
		return false, model.ErrNotFound
	}
	if !e.Active || e.Notified {
		return false, nil
	}
	e.Notified = true
	e.NotifiedAt = &at
	s.waitlist[entryID] = e
	s.events = append(s.events, evt)
	return true, nil
}

func (s *Store) RecordDelivery(_ context.Context, d notify.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
	return nil
}
