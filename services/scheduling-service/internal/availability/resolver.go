package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/clock"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
)

// Reader is the read side of the data store the resolver needs.
// Lookups that find nothing return model.ErrNotFound.
type Reader interface {
	Tenant(ctx context.Context, tenantID string) (model.Tenant, error)
	Professional(ctx context.Context, tenantID, professionalID string) (model.Professional, error)
	Service(ctx context.Context, tenantID, serviceID string) (model.Service, error)
	Assignment(ctx context.Context, professionalID, serviceID string) (model.Assignment, error)
	// BookingsBetween returns bookings of the professional that intersect window,
	// ordered by start. A nil statuses slice means every status.
	BookingsBetween(ctx context.Context, professionalID string, window interval.Interval, statuses []model.BookingStatus) ([]model.Booking, error)
	// Overrides returns the professional's overrides for date's calendar day.
	// A nil kinds slice means every kind.
	Overrides(ctx context.Context, professionalID string, date time.Time, kinds []model.OverrideKind) ([]model.Override, error)
}

type Query struct {
	TenantID       string
	ProfessionalID string
	ServiceID      string
	// Date selects the calendar day. Its location is the zone slots are anchored in.
	Date time.Time
}

func (q Query) Validate() error {
	if q.TenantID == "" || q.ProfessionalID == "" || q.ServiceID == "" {
		return errors.New("tenant, professional and service are required")
	}
	if q.Date.IsZero() {
		return errors.New("date is required")
	}
	return nil
}

// Plan is everything slot generation for one query depends on.
type Plan struct {
	Tenant      model.Tenant
	Service     model.Service
	Assignment  *model.Assignment
	Duration    time.Duration
	Granularity time.Duration
	Earliest    time.Time
	Working     []interval.Interval
	Occupied    []interval.Interval
	// Closed is set when the query is rejected before intervals are resolved
	// (past date, inactive tenant, unassigned professional).
	Closed bool
}

func (p Plan) Slots() []time.Time {
	if p.Closed {
		return nil
	}
	return Slots(p.Working, p.Occupied, p.Duration, p.Granularity, p.Earliest)
}

type Options struct {
	// AllowUnassigned lets a professional without an assignment offer a service
	// at the service's base duration.
	AllowUnassigned bool
}

type Resolver struct {
	store  Reader
	clock  clock.Clock
	opts   Options
	tracer trace.Tracer
}

func NewResolver(store Reader, clk clock.Clock, opts Options) *Resolver {
	if clk == nil {
		clk = clock.System{}
	}
	return &Resolver{
		store:  store,
		clock:  clk,
		opts:   opts,
		tracer: otel.Tracer("scheduling-service/availability"),
	}
}

func (r *Resolver) Now() time.Time {
	return r.clock.Now()
}

// FreeSlots returns the bookable start instants for the query, in chronological order.
func (r *Resolver) FreeSlots(ctx context.Context, q Query) ([]time.Time, error) {
	return r.FreeSlotsWith(ctx, r.store, q)
}

// FreeSlotsWith is FreeSlots against an explicit reader, typically one bound to a
// transaction that already holds the professional's day lock.
func (r *Resolver) FreeSlotsWith(ctx context.Context, reader Reader, q Query) ([]time.Time, error) {
	ctx, span := r.tracer.Start(ctx, "availability.FreeSlots", trace.WithAttributes(
		attribute.String("tenant.id", q.TenantID),
		attribute.String("professional.id", q.ProfessionalID),
		attribute.String("service.id", q.ServiceID),
		attribute.String("date", q.Date.Format(time.DateOnly)),
	))
	defer span.End()

	plan, err := r.PlanWith(ctx, reader, q)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	slots := plan.Slots()
	span.SetAttributes(attribute.Int("slots", len(slots)))
	return slots, nil
}

func (r *Resolver) Plan(ctx context.Context, q Query) (Plan, error) {
	return r.PlanWith(ctx, r.store, q)
}

func (r *Resolver) PlanWith(ctx context.Context, reader Reader, q Query) (Plan, error) {
	if err := q.Validate(); err != nil {
		return Plan{}, err
	}

	tenant, err := reader.Tenant(ctx, q.TenantID)
	if err != nil {
		return Plan{}, fmt.Errorf("tenant %s: %w", q.TenantID, err)
	}
	pro, err := reader.Professional(ctx, q.TenantID, q.ProfessionalID)
	if err != nil {
		return Plan{}, fmt.Errorf("professional %s: %w", q.ProfessionalID, err)
	}
	svc, err := reader.Service(ctx, q.TenantID, q.ServiceID)
	if err != nil {
		return Plan{}, fmt.Errorf("service %s: %w", q.ServiceID, err)
	}

	plan := Plan{Tenant: tenant, Service: svc, Granularity: tenant.Policy.SlotGranularity}
	if !tenant.Active || !pro.Active || !svc.Active {
		plan.Closed = true
		return plan, nil
	}

	now := r.clock.Now().In(q.Date.Location())
	if before(q.Date, now) {
		plan.Closed = true
		return plan, nil
	}

	a, err := reader.Assignment(ctx, q.ProfessionalID, q.ServiceID)
	switch {
	case err == nil:
		plan.Assignment = &a
	case errors.Is(err, model.ErrNotFound):
		if !r.opts.AllowUnassigned {
			plan.Closed = true
			return plan, nil
		}
	default:
		return Plan{}, fmt.Errorf("assignment: %w", err)
	}

	plan.Duration = model.EffectiveDuration(svc, plan.Assignment)
	plan.Earliest = now.Add(tenant.Policy.MinBookingLead)

	overrides, err := reader.Overrides(ctx, q.ProfessionalID, q.Date, nil)
	if err != nil {
		return Plan{}, fmt.Errorf("overrides: %w", err)
	}
	plan.Working = workingIntervals(tenant.Policy, q.Date, overrides)
	if len(plan.Working) == 0 {
		return plan, nil
	}

	bookings, err := reader.BookingsBetween(ctx, q.ProfessionalID, interval.Day(q.Date), model.BlockingStatuses)
	if err != nil {
		return Plan{}, fmt.Errorf("bookings: %w", err)
	}
	plan.Occupied = occupiedIntervals(q.Date, bookings, overrides)
	return plan, nil
}

// workingIntervals resolves the professional's working time for the day.
// A day_off override wins over everything; work overrides replace the tenant's
// hours; otherwise the tenant's hours apply on open weekdays.
func workingIntervals(policy model.SchedulePolicy, date time.Time, overrides []model.Override) []interval.Interval {
	var work []interval.Interval
	for _, o := range overrides {
		switch o.Kind {
		case model.OverrideDayOff:
			return nil
		case model.OverrideWork:
			work = append(work, o.Range.On(date))
		}
	}
	if len(work) > 0 {
		sort.SliceStable(work, func(i, j int) bool { return work[i].Start.Before(work[j].Start) })
		return work
	}
	if !policy.OpenOn(date.Weekday()) {
		return nil
	}
	return []interval.Interval{policy.Hours().On(date)}
}

func occupiedIntervals(date time.Time, bookings []model.Booking, overrides []model.Override) []interval.Interval {
	out := make([]interval.Interval, 0, len(bookings)+len(overrides))
	for _, b := range bookings {
		if b.Status.Blocking() {
			out = append(out, b.Interval())
		}
	}
	for _, o := range overrides {
		if o.Kind.Blocking() {
			out = append(out, o.Range.On(date))
		}
	}
	return out
}

// before reports whether date's calendar day is strictly earlier than now's.
func before(date, now time.Time) bool {
	dy, dm, dd := date.Date()
	ny, nm, nd := now.Date()
	if dy != ny {
		return dy < ny
	}
	if dm != nm {
		return dm < nm
	}
	return dd < nd
}
