package booking_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/availability"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/booking"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/clock"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/memstore"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/notify"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/outbox"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/waitlist"
)

var (
	day    = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC) // Wednesday
	dayBef = day.AddDate(0, 0, -1)
)

func at(h, m int) time.Time { return interval.Clock{Hour: h, Minute: m}.On(day) }

type captureNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (c *captureNotifier) Dispatch(_ context.Context, msg notify.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *captureNotifier) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, m.Topic)
	}
	return out
}

type env struct {
	store    *memstore.Store
	tenant   model.Tenant
	pro      model.Professional
	svc      model.Service
	client   model.Client
	notifier *captureNotifier
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := memstore.New(memstore.WithClock(clock.Fixed{T: dayBef}))
	tenant := s.AddTenant(model.Tenant{
		Name:   "Barbearia Centro",
		Active: true,
		Policy: model.SchedulePolicy{
			Opening:             interval.Clock{Hour: 9},
			Closing:             interval.Clock{Hour: 18},
			SlotGranularity:     15 * time.Minute,
			OpenWeekdays:        model.NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday),
			MinCancellationLead: 2 * time.Hour,
		},
	})
	pro := s.AddProfessional(model.Professional{TenantID: tenant.ID, Name: "Joao", Active: true})
	svc := s.AddService(model.Service{
		TenantID:     tenant.ID,
		Name:         "Corte",
		BaseDuration: 45 * time.Minute,
		BasePrice:    decimal.RequireFromString("50.00"),
		Active:       true,
	})
	s.Assign(model.Assignment{ProfessionalID: pro.ID, ServiceID: svc.ID})
	client := s.AddClient(model.Client{TenantID: tenant.ID, Name: "Ana", Email: "ana@example.com", Phone: "11987654321"})
	return &env{store: s, tenant: tenant, pro: pro, svc: svc, client: client, notifier: &captureNotifier{}, now: dayBef}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func (e *env) transactor(cfg booking.Config, wl booking.Waitlist) *booking.Transactor {
	clk := clock.Fixed{T: e.now}
	resolver := availability.NewResolver(e.store, clk, availability.Options{AllowUnassigned: cfg.AllowUnassigned})
	return booking.NewTransactor(e.store, resolver, clk, e.notifier, wl, discard(), cfg)
}

func (e *env) request(start time.Time) booking.Request {
	return booking.Request{
		TenantID:       e.tenant.ID,
		ClientID:       e.client.ID,
		ProfessionalID: e.pro.ID,
		ServiceID:      e.svc.ID,
		Start:          start,
	}
}

func TestCreate_ConfirmsAndPublishes(t *testing.T) {
	e := newEnv(t)
	tr := e.transactor(booking.Config{}, nil)

	b, err := tr.Create(context.Background(), e.request(at(10, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.ID == "" || b.Status != model.StatusConfirmed {
		t.Fatalf("unexpected booking %+v", b)
	}
	if !b.End.Equal(at(10, 45)) {
		t.Fatalf("end = %s, want 10:45", b.End.Format(time.Kitchen))
	}
	if !b.ChargedPrice.Equal(e.svc.BasePrice) {
		t.Fatalf("charged %s, want base price %s", b.ChargedPrice, e.svc.BasePrice)
	}
	stored, ok := e.store.Booking(b.ID)
	if !ok {
		t.Fatalf("booking not persisted")
	}
	if !stored.CreatedAt.Equal(dayBef) {
		t.Fatalf("created_at = %s, want store clock %s", stored.CreatedAt, dayBef)
	}

	events := e.store.Events()
	if len(events) != 1 || events[0].EventType != outbox.TypeBookingBooked || events[0].AggregateID != b.ID {
		t.Fatalf("unexpected events %+v", events)
	}
	if topics := e.notifier.topics(); len(topics) != 1 || topics[0] != "booking.confirmed" {
		t.Fatalf("expected confirmation message, got %v", topics)
	}
}

func TestCreate_UsesAssignmentOverrides(t *testing.T) {
	e := newEnv(t)
	price := decimal.RequireFromString("72.50")
	d := 30 * time.Minute
	e.store.Assign(model.Assignment{ProfessionalID: e.pro.ID, ServiceID: e.svc.ID, Price: &price, Duration: &d})

	b, err := e.transactor(booking.Config{}, nil).Create(context.Background(), e.request(at(11, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !b.ChargedPrice.Equal(price) || !b.End.Equal(at(11, 30)) {
		t.Fatalf("assignment overrides ignored: price=%s end=%s", b.ChargedPrice, b.End.Format(time.Kitchen))
	}
}

func TestCreate_RejectsTakenAndOffGridSlots(t *testing.T) {
	e := newEnv(t)
	tr := e.transactor(booking.Config{}, nil)
	ctx := context.Background()

	if _, err := tr.Create(ctx, e.request(at(10, 0))); err != nil {
		t.Fatalf("first create: %v", err)
	}
	cases := map[string]time.Time{
		"overlapping": at(10, 30),
		"off grid":    at(14, 7),
		"after close": at(17, 30),
		"closed day":  interval.Clock{Hour: 10}.On(day.AddDate(0, 0, 4)),
	}
	for name, start := range cases {
		if _, err := tr.Create(ctx, e.request(start)); !errors.Is(err, booking.ErrSlotUnavailable) {
			t.Fatalf("%s: expected ErrSlotUnavailable, got %v", name, err)
		}
	}
	if n := e.store.BookingCount(); n != 1 {
		t.Fatalf("expected 1 booking, got %d", n)
	}
}

func TestCreate_AdjacentBookingsBothSucceed(t *testing.T) {
	e := newEnv(t)
	tr := e.transactor(booking.Config{}, nil)
	if _, err := tr.Create(context.Background(), e.request(at(10, 0))); err != nil {
		t.Fatalf("create 10:00: %v", err)
	}
	if _, err := tr.Create(context.Background(), e.request(at(10, 45))); err != nil {
		t.Fatalf("create 10:45: %v", err)
	}
}

func TestCreate_InvalidAndMissing(t *testing.T) {
	e := newEnv(t)
	tr := e.transactor(booking.Config{}, nil)
	ctx := context.Background()

	req := e.request(time.Time{})
	if _, err := tr.Create(ctx, req); !errors.Is(err, booking.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	req = e.request(at(10, 0))
	req.ClientID = "nobody"
	if _, err := tr.Create(ctx, req); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for client, got %v", err)
	}
	req = e.request(at(10, 0))
	req.TenantID = "other"
	if _, err := tr.Create(ctx, req); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for tenant, got %v", err)
	}
}

func TestCreate_UnassignedProfessional(t *testing.T) {
	e := newEnv(t)
	other := e.store.AddService(model.Service{
		TenantID:     e.tenant.ID,
		Name:         "Barba",
		BaseDuration: 20 * time.Minute,
		BasePrice:    decimal.RequireFromString("25"),
		Active:       true,
	})
	req := e.request(at(9, 0))
	req.ServiceID = other.ID

	if _, err := e.transactor(booking.Config{}, nil).Create(context.Background(), req); !errors.Is(err, booking.ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	b, err := e.transactor(booking.Config{AllowUnassigned: true}, nil).Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create with unassigned allowed: %v", err)
	}
	if !b.ChargedPrice.Equal(other.BasePrice) || !b.End.Equal(at(9, 20)) {
		t.Fatalf("expected base values, got price=%s end=%s", b.ChargedPrice, b.End.Format(time.Kitchen))
	}
}

func TestCreate_ConcurrentSameSlotExactlyOneWins(t *testing.T) {
	e := newEnv(t)
	tr := e.transactor(booking.Config{}, nil)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			// Alternate between identical and partially overlapping starts.
			s := at(10, 0)
			if i%2 == 1 {
				s = at(10, 15)
			}
			_, errs[i] = tr.Create(context.Background(), e.request(s))
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, booking.ErrSlotUnavailable), errors.Is(err, booking.ErrConcurrentConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if c := e.store.BookingCount(); c != 1 {
		t.Fatalf("expected 1 stored booking, got %d", c)
	}
}

// racingStore simulates a write that loses to a booking committed outside the day lock.
type racingStore struct {
	*memstore.Store
}

func (s racingStore) WithinDayLock(ctx context.Context, professionalID string, d time.Time, fn func(context.Context, booking.Tx) error) error {
	return s.Store.WithinDayLock(ctx, professionalID, d, func(ctx context.Context, tx booking.Tx) error {
		return fn(ctx, overlapTx{tx})
	})
}

type overlapTx struct {
	booking.Tx
}

func (overlapTx) InsertBooking(context.Context, *model.Booking) error {
	return model.ErrOverlap
}

func TestCreate_StoreOverlapMapsToConcurrentConflict(t *testing.T) {
	e := newEnv(t)
	clk := clock.Fixed{T: e.now}
	store := racingStore{e.store}
	tr := booking.NewTransactor(store, availability.NewResolver(store, clk, availability.Options{}), clk, e.notifier, nil, discard(), booking.Config{})

	if _, err := tr.Create(context.Background(), e.request(at(10, 0))); !errors.Is(err, booking.ErrConcurrentConflict) {
		t.Fatalf("expected ErrConcurrentConflict, got %v", err)
	}
	if e.store.BookingCount() != 0 || len(e.store.Events()) != 0 {
		t.Fatalf("failed booking must not persist anything")
	}
	if len(e.notifier.topics()) != 0 {
		t.Fatalf("failed booking must not notify")
	}
}

func TestCreate_NotifierFailureDoesNotFailBooking(t *testing.T) {
	e := newEnv(t)
	clk := clock.Fixed{T: e.now}
	dispatcher := notify.NewDispatcher(failingSender{}, e.store, discard(), notify.DispatcherConfig{CountryCode: "55"})
	resolver := availability.NewResolver(e.store, clk, availability.Options{})
	tr := booking.NewTransactor(e.store, resolver, clk, dispatcher, nil, discard(), booking.Config{})

	if _, err := tr.Create(context.Background(), e.request(at(9, 0))); err != nil {
		t.Fatalf("create: %v", err)
	}
	dispatcher.Wait()
	deliveries := e.store.Deliveries()
	if len(deliveries) != 1 || deliveries[0].Status != notify.DeliveryFailed {
		t.Fatalf("expected one failed delivery, got %+v", deliveries)
	}
}

type failingSender struct{}

func (failingSender) ProviderID() string { return "failing" }

func (failingSender) Send(context.Context, string, string) (string, error) {
	return "", errors.New("provider unavailable")
}

func TestCancel_LeadTimeAndStaffBypass(t *testing.T) {
	e := newEnv(t)
	b, err := e.transactor(booking.Config{}, nil).Create(context.Background(), e.request(at(10, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	e.now = at(8, 30) // 90 minutes before start, lead is 2h
	req := booking.CancelRequest{TenantID: e.tenant.ID, BookingID: b.ID, Actor: booking.Actor{Kind: booking.ActorClient}}

	if _, err := e.transactor(booking.Config{}, nil).Cancel(context.Background(), req); !errors.Is(err, booking.ErrLeadTimeViolation) {
		t.Fatalf("expected ErrLeadTimeViolation for client, got %v", err)
	}

	req.Actor = booking.Actor{Kind: booking.ActorStaff, Name: "Joao"}
	if _, err := e.transactor(booking.Config{StaffBypassCancellationLead: false}, nil).Cancel(context.Background(), req); !errors.Is(err, booking.ErrLeadTimeViolation) {
		t.Fatalf("expected ErrLeadTimeViolation for staff without bypass, got %v", err)
	}

	cancelled, err := e.transactor(booking.Config{StaffBypassCancellationLead: true}, nil).Cancel(context.Background(), req)
	if err != nil {
		t.Fatalf("staff cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelled || cancelled.CancelledBy != "staff:Joao" || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled booking %+v", cancelled)
	}

	if _, err := e.transactor(booking.Config{StaffBypassCancellationLead: true}, nil).Cancel(context.Background(), req); !errors.Is(err, booking.ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestCancel_FreesSlotAndNotifiesWaitlist(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b, err := e.transactor(booking.Config{}, nil).Create(ctx, e.request(at(15, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	waiting := e.store.AddClient(model.Client{TenantID: e.tenant.ID, Name: "Bruno", Email: "bruno@example.com", Phone: "21998765432"})
	matcher := waitlist.NewMatcher(e.store, clock.Fixed{T: e.now}, e.notifier, discard())
	entry, err := matcher.Add(ctx, waitlist.AddRequest{TenantID: e.tenant.ID, ClientID: waiting.ID, DesiredDate: day})
	if err != nil {
		t.Fatalf("add waitlist: %v", err)
	}

	tr := e.transactor(booking.Config{}, matcher)
	if _, err := tr.Cancel(ctx, booking.CancelRequest{TenantID: e.tenant.ID, BookingID: b.ID, Actor: booking.Actor{Kind: booking.ActorClient}, Reason: "sick"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _ := e.store.WaitlistEntry(entry.ID)
	if !got.Notified || got.NotifiedAt == nil {
		t.Fatalf("waitlist entry not notified: %+v", got)
	}
	topics := e.notifier.topics()
	want := []string{"booking.confirmed", "booking.cancelled", "waitlist.slot_available"}
	if len(topics) != len(want) {
		t.Fatalf("topics = %v, want %v", topics, want)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Fatalf("topics = %v, want %v", topics, want)
		}
	}

	slots, err := availability.NewResolver(e.store, clock.Fixed{T: e.now}, availability.Options{}).FreeSlots(ctx, availability.Query{
		TenantID: e.tenant.ID, ProfessionalID: e.pro.ID, ServiceID: e.svc.ID, Date: day,
	})
	if err != nil {
		t.Fatalf("free slots: %v", err)
	}
	found := false
	for _, s := range slots {
		if s.Equal(at(15, 0)) {
			found = true
		}
	}
	if !found {
		t.Fatalf("cancelled slot should be bookable again")
	}

	var types []string
	for _, evt := range e.store.Events() {
		types = append(types, evt.EventType)
	}
	if len(types) != 3 || types[1] != outbox.TypeBookingCancelled || types[2] != outbox.TypeWaitlistNotified {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestCancel_NotFoundAndInvalid(t *testing.T) {
	e := newEnv(t)
	tr := e.transactor(booking.Config{}, nil)
	ctx := context.Background()

	if _, err := tr.Cancel(ctx, booking.CancelRequest{TenantID: e.tenant.ID, BookingID: "missing", Actor: booking.Actor{Kind: booking.ActorClient}}); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := tr.Cancel(ctx, booking.CancelRequest{TenantID: e.tenant.ID, BookingID: "x", Actor: booking.Actor{Kind: "robot"}}); !errors.Is(err, booking.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCancel_CompletedIsFinal(t *testing.T) {
	e := newEnv(t)
	b, err := e.store.AddBooking(model.Booking{
		TenantID: e.tenant.ID, ClientID: e.client.ID, ProfessionalID: e.pro.ID, ServiceID: e.svc.ID,
		Start: at(9, 0), End: at(9, 45), Status: model.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("add booking: %v", err)
	}
	_, err = e.transactor(booking.Config{}, nil).Cancel(context.Background(), booking.CancelRequest{
		TenantID: e.tenant.ID, BookingID: b.ID, Actor: booking.Actor{Kind: booking.ActorStaff},
	})
	if !errors.Is(err, booking.ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestListDay(t *testing.T) {
	e := newEnv(t)
	tr := e.transactor(booking.Config{}, nil)
	ctx := context.Background()
	for _, s := range []time.Time{at(14, 0), at(9, 0)} {
		if _, err := tr.Create(ctx, e.request(s)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := tr.Create(ctx, e.request(interval.Clock{Hour: 9}.On(day.AddDate(0, 0, 1)))); err != nil {
		t.Fatalf("create next day: %v", err)
	}

	got, err := tr.ListDay(ctx, e.tenant.ID, e.pro.ID, day)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || !got[0].Start.Equal(at(9, 0)) || !got[1].Start.Equal(at(14, 0)) {
		t.Fatalf("unexpected agenda %+v", got)
	}
	if _, err := tr.ListDay(ctx, e.tenant.ID, "missing", day); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWeekOfStartsOnSunday(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	cases := []struct {
		in        time.Time
		from, to  string
	}{
		{time.Date(2026, 3, 4, 15, 0, 0, 0, loc), "2026-03-01", "2026-03-07"},
		{time.Date(2026, 3, 1, 0, 0, 0, 0, loc), "2026-03-01", "2026-03-07"},
		{time.Date(2026, 3, 7, 23, 0, 0, 0, loc), "2026-03-01", "2026-03-07"},
	}
	for _, c := range cases {
		from, to := booking.WeekOf(c.in)
		if from.Format(time.DateOnly) != c.from || to.Format(time.DateOnly) != c.to || from.Location() != loc {
			t.Fatalf("WeekOf(%s) = %s..%s", c.in, from, to)
		}
	}
}

func TestListClientActiveAndHistory(t *testing.T) {
	e := newEnv(t)
	tr := e.transactor(booking.Config{StaffBypassCancellationLead: true}, nil)
	ctx := context.Background()

	first, err := tr.Create(ctx, e.request(at(9, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := tr.Create(ctx, e.request(at(11, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := tr.Cancel(ctx, booking.CancelRequest{TenantID: e.tenant.ID, BookingID: first.ID, Actor: booking.Actor{Kind: booking.ActorStaff}}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	active, err := tr.ListClient(ctx, e.tenant.ID, e.client.Email, true)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != second.ID {
		t.Fatalf("active = %+v", active)
	}
	history, err := tr.ListClient(ctx, e.tenant.ID, e.client.Email, false)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 || history[0].ID != second.ID || history[1].ID != first.ID {
		t.Fatalf("history = %+v", history)
	}
	if _, err := tr.ListClient(ctx, e.tenant.ID, "nobody@example.com", true); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRangeBounds(t *testing.T) {
	e := newEnv(t)
	tr := e.transactor(booking.Config{}, nil)
	ctx := context.Background()

	if _, err := tr.ListRange(ctx, e.tenant.ID, e.pro.ID, day, day.AddDate(0, 0, -1)); !errors.Is(err, booking.ErrInvalidInput) {
		t.Fatalf("reversed range: expected ErrInvalidInput, got %v", err)
	}
	if _, err := tr.ListRange(ctx, e.tenant.ID, e.pro.ID, day, day.AddDate(0, 0, booking.MaxAgendaDays)); !errors.Is(err, booking.ErrInvalidInput) {
		t.Fatalf("long range: expected ErrInvalidInput, got %v", err)
	}
	if _, err := tr.ListRange(ctx, e.tenant.ID, e.pro.ID, day, day.AddDate(0, 0, booking.MaxAgendaDays-1)); err != nil {
		t.Fatalf("longest range: %v", err)
	}
}
