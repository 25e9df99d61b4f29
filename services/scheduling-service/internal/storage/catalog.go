package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
)

func (r reader) Tenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	var (
		t                   model.Tenant
		opening, closing    pgtype.Time
		granularity         int
		weekdays            string
		bookingLead, cancel int
	)
	err := r.q.QueryRow(ctx, `
		SELECT id::text, name, active, timezone, opening_time, closing_time, slot_granularity_minutes,
			open_weekdays, min_booking_lead_minutes, min_cancellation_lead_minutes
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.Name, &t.Active, &t.Timezone, &opening, &closing, &granularity,
		&weekdays, &bookingLead, &cancel)
	if err != nil {
		return model.Tenant{}, translate(err)
	}
	days, err := model.ParseWeekdays(weekdays)
	if err != nil {
		return model.Tenant{}, err
	}
	t.Policy = model.SchedulePolicy{
		Opening:             clockFromPg(opening),
		Closing:             clockFromPg(closing),
		SlotGranularity:     minutes(granularity),
		OpenWeekdays:        days,
		MinBookingLead:      minutes(bookingLead),
		MinCancellationLead: minutes(cancel),
	}
	return t, nil
}

func (r reader) Professional(ctx context.Context, tenantID, professionalID string) (model.Professional, error) {
	var p model.Professional
	err := r.q.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name, phone, active
		FROM professionals
		WHERE id = $1 AND tenant_id = $2
	`, professionalID, tenantID).Scan(&p.ID, &p.TenantID, &p.Name, &p.Phone, &p.Active)
	if err != nil {
		return model.Professional{}, translate(err)
	}
	return p, nil
}

func (r reader) Service(ctx context.Context, tenantID, serviceID string) (model.Service, error) {
	var (
		svc      model.Service
		duration int
		price    string
	)
	err := r.q.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name, base_duration_minutes, base_price::text, active
		FROM services
		WHERE id = $1 AND tenant_id = $2
	`, serviceID, tenantID).Scan(&svc.ID, &svc.TenantID, &svc.Name, &duration, &price, &svc.Active)
	if err != nil {
		return model.Service{}, translate(err)
	}
	svc.BaseDuration = minutes(duration)
	if svc.BasePrice, err = parseDecimal(price); err != nil {
		return model.Service{}, err
	}
	return svc, nil
}

func (r reader) Assignment(ctx context.Context, professionalID, serviceID string) (model.Assignment, error) {
	var (
		a        = model.Assignment{ProfessionalID: professionalID, ServiceID: serviceID}
		price    *string
		duration *int
	)
	err := r.q.QueryRow(ctx, `
		SELECT price::text, duration_minutes
		FROM professional_services
		WHERE professional_id = $1 AND service_id = $2
	`, professionalID, serviceID).Scan(&price, &duration)
	if err != nil {
		return model.Assignment{}, translate(err)
	}
	if price != nil {
		p, err := parseDecimal(*price)
		if err != nil {
			return model.Assignment{}, err
		}
		a.Price = &p
	}
	if duration != nil {
		d := minutes(*duration)
		a.Duration = &d
	}
	return a, nil
}

func (r reader) Overrides(ctx context.Context, professionalID string, date time.Time, kinds []model.OverrideKind) ([]model.Override, error) {
	var kindFilter []string
	for _, k := range kinds {
		kindFilter = append(kindFilter, string(k))
	}
	rows, err := r.q.Query(ctx, `
		SELECT id::text, professional_id::text, date, start_time, end_time, kind, note
		FROM availability_overrides
		WHERE professional_id = $1
			AND date = $2
			AND ($3::text[] IS NULL OR kind = ANY($3))
		ORDER BY start_time ASC
	`, professionalID, dateOnly(date), kindFilter)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []model.Override
	for rows.Next() {
		var (
			o          model.Override
			start, end pgtype.Time
			kind       string
		)
		if err := rows.Scan(&o.ID, &o.ProfessionalID, &o.Date, &start, &end, &kind, &o.Note); err != nil {
			return nil, err
		}
		o.Kind = model.OverrideKind(kind)
		o.Range = interval.ClockRange{Start: clockFromPg(start), End: clockFromPg(end)}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// InsertOverride stores a schedule exception for one professional and date.
func (s *Store) InsertOverride(ctx context.Context, o *model.Override) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO availability_overrides (professional_id, date, start_time, end_time, kind, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text
	`, o.ProfessionalID, dateOnly(o.Date), clockToPg(o.Range.Start), clockToPg(o.Range.End), string(o.Kind), o.Note).Scan(&o.ID)
}
