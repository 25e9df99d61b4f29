package waitlist_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/clock"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/memstore"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/notify"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/outbox"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/waitlist"
)

var slotStart = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

type captureNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (c *captureNotifier) Dispatch(_ context.Context, msg notify.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

type env struct {
	store    *memstore.Store
	tenantID string
	pro      model.Professional
	notifier *captureNotifier
}

func newEnv(t *testing.T) env {
	t.Helper()
	s := memstore.New()
	tenant := s.AddTenant(model.Tenant{Name: "Barbearia", Active: true, Policy: model.DefaultPolicy()})
	pro := s.AddProfessional(model.Professional{TenantID: tenant.ID, Name: "Joao", Active: true})
	return env{store: s, tenantID: tenant.ID, pro: pro, notifier: &captureNotifier{}}
}

func (e env) matcher(now time.Time) *waitlist.Matcher {
	return waitlist.NewMatcher(e.store, clock.Fixed{T: now}, e.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (e env) client(name string) model.Client {
	return e.store.AddClient(model.Client{TenantID: e.tenantID, Name: name, Email: name + "@example.com", Phone: "11912345678"})
}

func TestNotifyCandidates_PriorityThenArrival(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t1.Add(2 * time.Hour)

	// Priorities [2, 1, 1] requested at [T2, T1, T3].
	specs := []struct {
		name     string
		priority int
		at       time.Time
	}{
		{"p2", 2, t2},
		{"p1a", 1, t1},
		{"p1b", 1, t3},
	}
	ids := map[string]string{}
	for _, s := range specs {
		c := e.client(s.name)
		entry, err := e.matcher(s.at).Add(ctx, waitlist.AddRequest{
			TenantID:    e.tenantID,
			ClientID:    c.ID,
			DesiredDate: slotStart,
			Priority:    s.priority,
		})
		if err != nil {
			t.Fatalf("add %s: %v", s.name, err)
		}
		ids[entry.ID] = s.name
	}

	n, err := e.matcher(slotStart.Add(-24*time.Hour)).NotifyCandidates(ctx, waitlist.Freed{
		TenantID: e.tenantID, ProfessionalID: e.pro.ID, Start: slotStart,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 notified, got %d", n)
	}

	var order []string
	for _, m := range e.notifier.msgs {
		order = append(order, ids[m.RelatedID])
	}
	want := []string{"p1a", "p1b", "p2"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("notification order = %v, want %v", order, want)
		}
	}

	events := e.store.Events()
	if len(events) != 3 || events[0].EventType != outbox.TypeWaitlistNotified {
		t.Fatalf("unexpected events %+v", events)
	}

	again, err := e.matcher(slotStart).NotifyCandidates(ctx, waitlist.Freed{TenantID: e.tenantID, ProfessionalID: e.pro.ID, Start: slotStart})
	if err != nil {
		t.Fatalf("second notify: %v", err)
	}
	if again != 0 {
		t.Fatalf("entries must be notified once, got %d more", again)
	}
}

func TestCandidatesFilters(t *testing.T) {
	freed := waitlist.Freed{TenantID: "t1", ProfessionalID: "pro-1", ServiceID: "svc-1", Start: slotStart}
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	base := model.WaitlistEntry{TenantID: "t1", Active: true, Priority: 1, DesiredDate: day}

	entry := func(id string, mut func(*model.WaitlistEntry)) model.WaitlistEntry {
		e := base
		e.ID = id
		mut(&e)
		return e
	}
	pending := []model.WaitlistEntry{
		entry("any", func(*model.WaitlistEntry) {}),
		entry("same-service", func(e *model.WaitlistEntry) { e.ServiceID = "svc-1" }),
		entry("other-service", func(e *model.WaitlistEntry) { e.ServiceID = "svc-2" }),
		entry("same-pro", func(e *model.WaitlistEntry) { e.PreferredProfessionalID = "pro-1" }),
		entry("other-pro", func(e *model.WaitlistEntry) { e.PreferredProfessionalID = "pro-2" }),
		entry("earlier-date", func(e *model.WaitlistEntry) { e.DesiredDate = day.AddDate(0, 0, -3) }),
		entry("later-date", func(e *model.WaitlistEntry) { e.DesiredDate = day.AddDate(0, 0, 1) }),
		entry("inactive", func(e *model.WaitlistEntry) { e.Active = false }),
		entry("notified", func(e *model.WaitlistEntry) { e.Notified = true }),
		entry("other-tenant", func(e *model.WaitlistEntry) { e.TenantID = "t2" }),
		entry("inflexible", func(e *model.WaitlistEntry) { e.DesiredTime = "09:00"; e.FlexibleTime = false }),
	}

	got := map[string]bool{}
	for _, e := range waitlist.Candidates(pending, freed) {
		got[e.ID] = true
	}
	for _, id := range []string{"any", "same-service", "same-pro", "earlier-date", "inflexible"} {
		if !got[id] {
			t.Fatalf("expected %s to be a candidate", id)
		}
	}
	for _, id := range []string{"other-service", "other-pro", "later-date", "inactive", "notified", "other-tenant"} {
		if got[id] {
			t.Fatalf("%s must not be a candidate", id)
		}
	}
}

func TestCandidatesWithUnknownFreedService(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	pending := []model.WaitlistEntry{
		{ID: "svc-bound", TenantID: "t1", Active: true, Priority: 1, DesiredDate: day, ServiceID: "svc"},
		{ID: "open", TenantID: "t1", Active: true, Priority: 2, DesiredDate: day},
	}
	got := waitlist.Candidates(pending, waitlist.Freed{TenantID: "t1", ProfessionalID: "pro-1", Start: slotStart})
	if len(got) != 2 || got[0].ID != "svc-bound" || got[1].ID != "open" {
		t.Fatalf("candidates with unknown freed service = %+v", got)
	}
}

func TestAddDefaultsAndValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client("ana")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entry, err := e.matcher(now).Add(ctx, waitlist.AddRequest{TenantID: e.tenantID, ClientID: c.ID, DesiredDate: slotStart})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if entry.Priority != 1 || !entry.FlexibleDate || !entry.FlexibleTime || !entry.Active || !entry.RequestedAt.Equal(now) {
		t.Fatalf("unexpected defaults %+v", entry)
	}

	if _, err := e.matcher(now).Add(ctx, waitlist.AddRequest{TenantID: e.tenantID, ClientID: c.ID}); !errors.Is(err, waitlist.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without date, got %v", err)
	}
	if _, err := e.matcher(now).Add(ctx, waitlist.AddRequest{TenantID: e.tenantID, ClientID: c.ID, DesiredDate: slotStart, DesiredTime: "9h"}); !errors.Is(err, waitlist.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad time, got %v", err)
	}
	if _, err := e.matcher(now).Add(ctx, waitlist.AddRequest{TenantID: e.tenantID, ClientID: "ghost", DesiredDate: slotStart}); !errors.Is(err, waitlist.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown client, got %v", err)
	}
}

func TestWithdrawKeepsEntry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client("bia")
	m := e.matcher(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	entry, err := m.Add(ctx, waitlist.AddRequest{TenantID: e.tenantID, ClientID: c.ID, DesiredDate: slotStart})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Withdraw(ctx, e.tenantID, entry.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	stored, ok := e.store.WaitlistEntry(entry.ID)
	if !ok || stored.Active {
		t.Fatalf("entry should remain stored and inactive, got %+v (found=%v)", stored, ok)
	}
	if err := m.Withdraw(ctx, e.tenantID, "missing"); !errors.Is(err, waitlist.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	n, err := m.NotifyCandidates(ctx, waitlist.Freed{TenantID: e.tenantID, ProfessionalID: e.pro.ID, Start: slotStart})
	if err != nil || n != 0 {
		t.Fatalf("withdrawn entries must not be notified (n=%d, err=%v)", n, err)
	}
}
