// Package booking confirms and cancels appointments.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/availability"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/clock"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/outbox"
)

type Config struct {
	// AllowUnassigned books professionals without an assignment at the service's base values.
	AllowUnassigned bool
	// StaffBypassCancellationLead lets staff cancel inside the cancellation lead time.
	StaffBypassCancellationLead bool
}

type Transactor struct {
	store    Store
	resolver *availability.Resolver
	clock    clock.Clock
	notifier Notifier
	waitlist Waitlist
	logger   *slog.Logger
	cfg      Config
	tracer   trace.Tracer
}

func NewTransactor(store Store, resolver *availability.Resolver, clk clock.Clock, notifier Notifier, wl Waitlist, logger *slog.Logger, cfg Config) *Transactor {
	if clk == nil {
		clk = clock.System{}
	}
	return &Transactor{
		store:    store,
		resolver: resolver,
		clock:    clk,
		notifier: notifier,
		waitlist: wl,
		logger:   logger,
		cfg:      cfg,
		tracer:   otel.Tracer("scheduling-service/booking"),
	}
}

type Request struct {
	TenantID       string
	ClientID       string
	ProfessionalID string
	ServiceID      string
	Start          time.Time
}

func (r Request) validate() error {
	if r.TenantID == "" || r.ClientID == "" || r.ProfessionalID == "" || r.ServiceID == "" {
		return fmt.Errorf("%w: tenant, client, professional and service are required", ErrInvalidInput)
	}
	if r.Start.IsZero() {
		return fmt.Errorf("%w: start is required", ErrInvalidInput)
	}
	return nil
}

// Create confirms a booking for the requested start, or rejects it with
// ErrSlotUnavailable or ErrConcurrentConflict when the slot is no longer free.
func (t *Transactor) Create(ctx context.Context, req Request) (model.Booking, error) {
	ctx, span := t.tracer.Start(ctx, "booking.Create", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("professional.id", req.ProfessionalID),
		attribute.String("service.id", req.ServiceID),
	))
	defer span.End()

	b, err := t.create(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.Booking{}, err
	}
	span.SetAttributes(attribute.String("booking.id", b.ID))
	return b, nil
}

func (t *Transactor) create(ctx context.Context, req Request) (model.Booking, error) {
	if err := req.validate(); err != nil {
		return model.Booking{}, err
	}

	tenant, err := t.store.Tenant(ctx, req.TenantID)
	if err != nil {
		return model.Booking{}, lookupErr("tenant", err)
	}
	if !tenant.Active {
		return model.Booking{}, fmt.Errorf("%w: tenant %s is inactive", ErrNotFound, req.TenantID)
	}
	pro, err := t.store.Professional(ctx, req.TenantID, req.ProfessionalID)
	if err != nil {
		return model.Booking{}, lookupErr("professional", err)
	}
	svc, err := t.store.Service(ctx, req.TenantID, req.ServiceID)
	if err != nil {
		return model.Booking{}, lookupErr("service", err)
	}
	client, err := t.store.Client(ctx, req.TenantID, req.ClientID)
	if err != nil {
		return model.Booking{}, lookupErr("client", err)
	}

	var assignment *model.Assignment
	a, err := t.store.Assignment(ctx, pro.ID, svc.ID)
	switch {
	case err == nil:
		assignment = &a
	case errors.Is(err, model.ErrNotFound):
		if !t.cfg.AllowUnassigned {
			return model.Booking{}, fmt.Errorf("%w: professional does not offer this service", ErrSlotUnavailable)
		}
	default:
		return model.Booking{}, fmt.Errorf("load assignment: %w", err)
	}

	// The calendar day is the tenant's; slots for that day are anchored in its zone.
	start := req.Start.In(tenant.Location())
	want := interval.New(start, model.EffectiveDuration(svc, assignment))
	query := availability.Query{
		TenantID:       tenant.ID,
		ProfessionalID: pro.ID,
		ServiceID:      svc.ID,
		Date:           start,
	}

	var created model.Booking
	err = t.store.WithinDayLock(ctx, pro.ID, start, func(ctx context.Context, tx Tx) error {
		slots, err := t.resolver.FreeSlotsWith(ctx, tx, query)
		if err != nil {
			return fmt.Errorf("recompute availability: %w", err)
		}
		if !containsInstant(slots, start) {
			return ErrSlotUnavailable
		}

		existing, err := tx.BookingsBetween(ctx, pro.ID, want, model.BlockingStatuses)
		if err != nil {
			return fmt.Errorf("recheck bookings: %w", err)
		}
		for _, b := range existing {
			if b.Status.Blocking() && interval.Overlaps(b.Interval(), want) {
				return ErrConcurrentConflict
			}
		}

		created = model.Booking{
			TenantID:       tenant.ID,
			ClientID:       client.ID,
			ProfessionalID: pro.ID,
			ServiceID:      svc.ID,
			Start:          want.Start,
			End:            want.End,
			Status:         model.StatusConfirmed,
			ChargedPrice:   model.EffectivePrice(svc, assignment),
		}
		if err := tx.InsertBooking(ctx, &created); err != nil {
			if errors.Is(err, model.ErrOverlap) {
				return ErrConcurrentConflict
			}
			return fmt.Errorf("insert booking: %w", err)
		}

		evt, err := outbox.NewEvent(tenant.ID, "booking", created.ID, outbox.TypeBookingBooked, newBookingPayload(created))
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, evt)
	})
	if err != nil {
		return model.Booking{}, err
	}

	t.logger.Info("booking confirmed",
		"tenant_id", created.TenantID,
		"booking_id", created.ID,
		"professional_id", created.ProfessionalID,
		"start", created.Start.Format(time.RFC3339),
	)
	t.dispatch(ctx, tenant, "booking.confirmed", created.ID, client, confirmationMessage(client, pro, start))
	return created, nil
}

type ActorKind string

const (
	ActorClient ActorKind = "client"
	ActorStaff  ActorKind = "staff"
	ActorSystem ActorKind = "system"
)

type Actor struct {
	Kind ActorKind
	Name string
}

func (a Actor) String() string {
	if a.Name == "" {
		return string(a.Kind)
	}
	return string(a.Kind) + ":" + a.Name
}

type CancelRequest struct {
	TenantID  string
	BookingID string
	Actor     Actor
	Reason    string
}

// Cancel moves a booking to cancelled and offers the freed slot to the waitlist.
func (t *Transactor) Cancel(ctx context.Context, req CancelRequest) (model.Booking, error) {
	ctx, span := t.tracer.Start(ctx, "booking.Cancel", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("booking.id", req.BookingID),
		attribute.String("actor", string(req.Actor.Kind)),
	))
	defer span.End()

	b, err := t.cancel(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.Booking{}, err
	}
	return b, nil
}

func (t *Transactor) cancel(ctx context.Context, req CancelRequest) (model.Booking, error) {
	if req.TenantID == "" || req.BookingID == "" {
		return model.Booking{}, fmt.Errorf("%w: tenant and booking are required", ErrInvalidInput)
	}
	switch req.Actor.Kind {
	case ActorClient, ActorStaff, ActorSystem:
	default:
		return model.Booking{}, fmt.Errorf("%w: unknown actor %q", ErrInvalidInput, req.Actor.Kind)
	}

	tenant, err := t.store.Tenant(ctx, req.TenantID)
	if err != nil {
		return model.Booking{}, lookupErr("tenant", err)
	}

	var cancelled model.Booking
	err = t.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.BookingForUpdate(ctx, req.TenantID, req.BookingID)
		if err != nil {
			return lookupErr("booking", err)
		}
		if b.Status.Finalized() {
			return fmt.Errorf("%w: status is %s", ErrAlreadyFinalized, b.Status)
		}

		now := t.clock.Now()
		bypass := req.Actor.Kind == ActorStaff && t.cfg.StaffBypassCancellationLead
		if !bypass && now.After(b.Start.Add(-tenant.Policy.MinCancellationLead)) {
			return ErrLeadTimeViolation
		}

		b.Status = model.StatusCancelled
		b.CancelledBy = req.Actor.String()
		b.CancelReason = req.Reason
		b.CancelledAt = &now
		if err := tx.SaveCancellation(ctx, b); err != nil {
			return fmt.Errorf("save cancellation: %w", err)
		}

		payload := newBookingPayload(b)
		payload.CancelledBy = b.CancelledBy
		payload.Reason = b.CancelReason
		evt, err := outbox.NewEvent(b.TenantID, "booking", b.ID, outbox.TypeBookingCancelled, payload)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, evt); err != nil {
			return err
		}
		cancelled = b
		return nil
	})
	if err != nil {
		return model.Booking{}, err
	}

	t.logger.Info("booking cancelled",
		"tenant_id", cancelled.TenantID,
		"booking_id", cancelled.ID,
		"cancelled_by", cancelled.CancelledBy,
	)
	t.afterCancel(ctx, tenant, cancelled)
	return cancelled, nil
}

func (t *Transactor) afterCancel(ctx context.Context, tenant model.Tenant, b model.Booking) {
	client, err := t.store.Client(ctx, b.TenantID, b.ClientID)
	if err != nil {
		t.logger.Warn("cancellation notice skipped", "booking_id", b.ID, "err", err)
	} else {
		pro, err := t.store.Professional(ctx, b.TenantID, b.ProfessionalID)
		if err != nil {
			t.logger.Warn("cancellation notice skipped", "booking_id", b.ID, "err", err)
		} else {
			t.dispatch(ctx, tenant, "booking.cancelled", b.ID, client, cancellationMessage(client, pro, b.Start.In(tenant.Location())))
		}
	}

	if t.waitlist == nil {
		return
	}
	freed := waitlistFreed(b)
	freed.Start = freed.Start.In(tenant.Location())
	n, err := t.waitlist.NotifyCandidates(ctx, freed)
	if err != nil {
		t.logger.Error("waitlist matching failed", "booking_id", b.ID, "err", err)
		return
	}
	if n > 0 {
		t.logger.Info("waitlist notified", "booking_id", b.ID, "count", n)
	}
}

// MaxAgendaDays bounds the date range ListRange accepts.
const MaxAgendaDays = 31

// activeStatuses are the bookings a client still expects to attend.
var activeStatuses = []model.BookingStatus{model.StatusPending, model.StatusConfirmed, model.StatusInProgress}

// ListDay returns every booking of the professional on date's calendar day.
func (t *Transactor) ListDay(ctx context.Context, tenantID, professionalID string, date time.Time) ([]model.Booking, error) {
	return t.ListRange(ctx, tenantID, professionalID, date, date)
}

// ListRange returns the professional's bookings from the start of from's calendar day
// to the end of to's, both in their own location, in start order.
func (t *Transactor) ListRange(ctx context.Context, tenantID, professionalID string, from, to time.Time) ([]model.Booking, error) {
	if tenantID == "" || professionalID == "" || from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("%w: tenant, professional and dates are required", ErrInvalidInput)
	}
	window := interval.Interval{Start: interval.Day(from).Start, End: interval.Day(to).End}
	if !window.Valid() {
		return nil, fmt.Errorf("%w: range ends before it starts", ErrInvalidInput)
	}
	if window.Duration() > MaxAgendaDays*24*time.Hour+time.Hour {
		return nil, fmt.Errorf("%w: range is longer than %d days", ErrInvalidInput, MaxAgendaDays)
	}
	if _, err := t.store.Professional(ctx, tenantID, professionalID); err != nil {
		return nil, lookupErr("professional", err)
	}
	return t.store.BookingsBetween(ctx, professionalID, window, nil)
}

// WeekOf returns the Sunday that starts date's week and the Saturday that ends it.
func WeekOf(date time.Time) (time.Time, time.Time) {
	start := interval.Day(date).Start.AddDate(0, 0, -int(date.Weekday()))
	return start, start.AddDate(0, 0, 6)
}

// ListClient returns the bookings of the tenant's client with email. With activeOnly it
// keeps pending, confirmed and in-progress bookings in start order; otherwise it returns
// the full history, most recent first.
func (t *Transactor) ListClient(ctx context.Context, tenantID, email string, activeOnly bool) ([]model.Booking, error) {
	if tenantID == "" || strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("%w: tenant and email are required", ErrInvalidInput)
	}
	client, err := t.store.ClientByEmail(ctx, tenantID, email)
	if err != nil {
		return nil, lookupErr("client", err)
	}
	if activeOnly {
		return t.store.ClientBookings(ctx, tenantID, client.ID, activeStatuses)
	}
	bookings, err := t.store.ClientBookings(ctx, tenantID, client.ID, nil)
	if err != nil {
		return nil, err
	}
	slices.Reverse(bookings)
	return bookings, nil
}

func (t *Transactor) dispatch(ctx context.Context, tenant model.Tenant, topic, relatedID string, client model.Client, body string) {
	if t.notifier == nil || client.Phone == "" {
		return
	}
	t.notifier.Dispatch(ctx, notifyMessage(tenant.ID, topic, relatedID, client.Phone, body))
}

func lookupErr(what string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

func containsInstant(slots []time.Time, t time.Time) bool {
	for _, s := range slots {
		if s.Equal(t) {
			return true
		}
	}
	return false
}

type bookingPayload struct {
	BookingID      string          `json:"booking_id"`
	TenantID       string          `json:"tenant_id"`
	ClientID       string          `json:"client_id"`
	ProfessionalID string          `json:"professional_id"`
	ServiceID      string          `json:"service_id"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
	Status         string          `json:"status"`
	ChargedPrice   decimal.Decimal `json:"charged_price"`
	CancelledBy    string          `json:"cancelled_by,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

func newBookingPayload(b model.Booking) bookingPayload {
	return bookingPayload{
		BookingID:      b.ID,
		TenantID:       b.TenantID,
		ClientID:       b.ClientID,
		ProfessionalID: b.ProfessionalID,
		ServiceID:      b.ServiceID,
		Start:          b.Start,
		End:            b.End,
		Status:         string(b.Status),
		ChargedPrice:   b.ChargedPrice,
	}
}
