// Package waitlist queues clients for fully booked periods and tells them when a slot frees up.
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/clock"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/notify"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/outbox"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

type Store interface {
	Tenant(ctx context.Context, tenantID string) (model.Tenant, error)
	Client(ctx context.Context, tenantID, clientID string) (model.Client, error)
	Professional(ctx context.Context, tenantID, professionalID string) (model.Professional, error)
	Service(ctx context.Context, tenantID, serviceID string) (model.Service, error)
	// InsertWaitlistEntry assigns ID.
	InsertWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error
	DeactivateWaitlistEntry(ctx context.Context, tenantID, entryID string) error
	// PendingWaitlist returns active, not yet notified entries of the tenant whose
	// desired date is on or before through's calendar day.
	PendingWaitlist(ctx context.Context, tenantID string, through time.Time) ([]model.WaitlistEntry, error)
	// MarkWaitlistNotified flags the entry and appends evt atomically. It reports
	// false when the entry was already notified or is no longer active.
	MarkWaitlistNotified(ctx context.Context, tenantID, entryID string, at time.Time, evt outbox.Event) (bool, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, msg notify.Message)
}

// Freed describes a slot that became available. An empty ServiceID means the freed
// service is unknown, and then entries are matched regardless of the service they want.
type Freed struct {
	TenantID       string
	ProfessionalID string
	ServiceID      string
	Start          time.Time
}

type Matcher struct {
	store    Store
	clock    clock.Clock
	notifier Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewMatcher(store Store, clk clock.Clock, notifier Notifier, logger *slog.Logger) *Matcher {
	if clk == nil {
		clk = clock.System{}
	}
	return &Matcher{
		store:    store,
		clock:    clk,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer("scheduling-service/waitlist"),
	}
}

type AddRequest struct {
	TenantID                string
	ClientID                string
	ServiceID               string
	PreferredProfessionalID string
	DesiredDate             time.Time
	DesiredTime             string
	FlexibleDate            *bool
	FlexibleTime            *bool
	Priority                int
	Notes                   string
}

func (m *Matcher) Add(ctx context.Context, req AddRequest) (model.WaitlistEntry, error) {
	if req.TenantID == "" || req.ClientID == "" || req.DesiredDate.IsZero() {
		return model.WaitlistEntry{}, fmt.Errorf("%w: tenant, client and desired date are required", ErrInvalidInput)
	}
	if req.DesiredTime != "" {
		if _, err := interval.ParseClock(req.DesiredTime); err != nil {
			return model.WaitlistEntry{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if req.Priority < 0 {
		return model.WaitlistEntry{}, fmt.Errorf("%w: priority must not be negative", ErrInvalidInput)
	}

	if _, err := m.store.Tenant(ctx, req.TenantID); err != nil {
		return model.WaitlistEntry{}, lookupErr("tenant", err)
	}
	if _, err := m.store.Client(ctx, req.TenantID, req.ClientID); err != nil {
		return model.WaitlistEntry{}, lookupErr("client", err)
	}
	if req.ServiceID != "" {
		if _, err := m.store.Service(ctx, req.TenantID, req.ServiceID); err != nil {
			return model.WaitlistEntry{}, lookupErr("service", err)
		}
	}
	if req.PreferredProfessionalID != "" {
		if _, err := m.store.Professional(ctx, req.TenantID, req.PreferredProfessionalID); err != nil {
			return model.WaitlistEntry{}, lookupErr("professional", err)
		}
	}

	priority := req.Priority
	if priority == 0 {
		priority = 1
	}
	y, mo, d := req.DesiredDate.Date()
	e := model.WaitlistEntry{
		TenantID:                req.TenantID,
		ClientID:                req.ClientID,
		ServiceID:               req.ServiceID,
		PreferredProfessionalID: req.PreferredProfessionalID,
		DesiredDate:             time.Date(y, mo, d, 0, 0, 0, 0, time.UTC),
		DesiredTime:             req.DesiredTime,
		FlexibleDate:            boolOr(req.FlexibleDate, true),
		FlexibleTime:            boolOr(req.FlexibleTime, true),
		Priority:                priority,
		RequestedAt:             m.clock.Now(),
		Active:                  true,
		Notes:                   strings.TrimSpace(req.Notes),
	}
	if err := m.store.InsertWaitlistEntry(ctx, &e); err != nil {
		return model.WaitlistEntry{}, fmt.Errorf("insert waitlist entry: %w", err)
	}
	m.logger.Info("waitlist entry added", "tenant_id", e.TenantID, "entry_id", e.ID, "priority", e.Priority)
	return e, nil
}

// Withdraw deactivates an entry. The entry itself is kept.
func (m *Matcher) Withdraw(ctx context.Context, tenantID, entryID string) error {
	if tenantID == "" || entryID == "" {
		return fmt.Errorf("%w: tenant and entry are required", ErrInvalidInput)
	}
	if err := m.store.DeactivateWaitlistEntry(ctx, tenantID, entryID); err != nil {
		return lookupErr("waitlist entry", err)
	}
	return nil
}

// NotifyCandidates marks and messages every waiting client the freed slot could serve,
// highest priority first. It returns how many entries were notified.
//
// Flexible date/time flags are kept on the entry but do not filter candidates.
func (m *Matcher) NotifyCandidates(ctx context.Context, freed Freed) (int, error) {
	ctx, span := m.tracer.Start(ctx, "waitlist.NotifyCandidates", trace.WithAttributes(
		attribute.String("tenant.id", freed.TenantID),
		attribute.String("professional.id", freed.ProfessionalID),
	))
	defer span.End()

	if freed.TenantID == "" || freed.ProfessionalID == "" || freed.Start.IsZero() {
		return 0, fmt.Errorf("%w: tenant, professional and start are required", ErrInvalidInput)
	}

	pending, err := m.store.PendingWaitlist(ctx, freed.TenantID, freed.Start)
	if err != nil {
		return 0, fmt.Errorf("load waitlist: %w", err)
	}
	candidates := Candidates(pending, freed)

	pro, err := m.store.Professional(ctx, freed.TenantID, freed.ProfessionalID)
	if err != nil {
		return 0, lookupErr("professional", err)
	}

	notified := 0
	for _, e := range candidates {
		now := m.clock.Now()
		evt, err := outbox.NewEvent(e.TenantID, "waitlist_entry", e.ID, outbox.TypeWaitlistNotified, notifiedPayload{
			EntryID:        e.ID,
			TenantID:       e.TenantID,
			ClientID:       e.ClientID,
			ProfessionalID: freed.ProfessionalID,
			ServiceID:      freed.ServiceID,
			SlotStart:      freed.Start,
			NotifiedAt:     now,
		})
		if err != nil {
			return notified, err
		}
		ok, err := m.store.MarkWaitlistNotified(ctx, e.TenantID, e.ID, now, evt)
		if err != nil {
			return notified, fmt.Errorf("mark entry %s notified: %w", e.ID, err)
		}
		if !ok {
			continue
		}
		notified++
		m.message(ctx, e, pro, freed.Start)
	}
	span.SetAttributes(attribute.Int("notified", notified))
	return notified, nil
}

func (m *Matcher) message(ctx context.Context, e model.WaitlistEntry, pro model.Professional, start time.Time) {
	if m.notifier == nil {
		return
	}
	client, err := m.store.Client(ctx, e.TenantID, e.ClientID)
	if err != nil {
		m.logger.Warn("waitlist notice skipped", "entry_id", e.ID, "err", err)
		return
	}
	if client.Phone == "" {
		return
	}
	m.notifier.Dispatch(ctx, notify.Message{
		TenantID:  e.TenantID,
		Topic:     "waitlist.slot_available",
		RelatedID: e.ID,
		Phone:     client.Phone,
		Body: fmt.Sprintf("Hi %s, a slot opened up with %s on %s at %s. Book now to take it.",
			client.Name, pro.Name, start.Format("02/01/2006"), start.Format("15:04")),
	})
}

// Candidates filters pending entries to those the freed slot can serve and orders
// them by priority, then by request time.
func Candidates(pending []model.WaitlistEntry, freed Freed) []model.WaitlistEntry {
	out := make([]model.WaitlistEntry, 0, len(pending))
	for _, e := range pending {
		if !e.Active || e.Notified || e.TenantID != freed.TenantID {
			continue
		}
		if dateAfter(e.DesiredDate, freed.Start) {
			continue
		}
		if freed.ServiceID != "" && e.ServiceID != "" && e.ServiceID != freed.ServiceID {
			continue
		}
		if e.PreferredProfessionalID != "" && e.PreferredProfessionalID != freed.ProfessionalID {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// dateAfter compares calendar dates, ignoring time of day and location.
func dateAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}

type notifiedPayload struct {
	EntryID        string    `json:"entry_id"`
	TenantID       string    `json:"tenant_id"`
	ClientID       string    `json:"client_id"`
	ProfessionalID string    `json:"professional_id"`
	ServiceID      string    `json:"service_id,omitempty"`
	SlotStart      time.Time `json:"slot_start"`
	NotifiedAt     time.Time `json:"notified_at"`
}

func lookupErr(what string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
