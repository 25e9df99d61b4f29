package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
)

const bookingColumns = `
	id::text, tenant_id::text, client_id::text, professional_id::text, service_id::text,
	start_at, end_at, status, charged_price::text,
	COALESCE(cancelled_by, ''), COALESCE(cancel_reason, ''), cancelled_at, created_at`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var (
		b      model.Booking
		status string
		price  string
	)
	if err := row.Scan(&b.ID, &b.TenantID, &b.ClientID, &b.ProfessionalID, &b.ServiceID,
		&b.Start, &b.End, &status, &price,
		&b.CancelledBy, &b.CancelReason, &b.CancelledAt, &b.CreatedAt); err != nil {
		return model.Booking{}, err
	}
	b.Status = model.BookingStatus(status)
	p, err := parseDecimal(price)
	if err != nil {
		return model.Booking{}, err
	}
	b.ChargedPrice = p
	return b, nil
}

// BookingsBetween returns the professional's bookings whose half-open range
// intersects window. A nil statuses slice matches every status.
func (r reader) BookingsBetween(ctx context.Context, professionalID string, window interval.Interval, statuses []model.BookingStatus) ([]model.Booking, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE professional_id = $1
			AND start_at < $3
			AND end_at > $2
			AND ($4::text[] IS NULL OR status = ANY($4))
		ORDER BY start_at ASC
	`, professionalID, window.Start, window.End, statusFilter(statuses))
	if err != nil {
		return nil, translate(err)
	}
	return collectBookings(rows)
}

// ClientBookings returns the client's bookings in start order. A nil statuses slice
// matches every status.
func (r reader) ClientBookings(ctx context.Context, tenantID, clientID string, statuses []model.BookingStatus) ([]model.Booking, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE tenant_id = $1
			AND client_id = $2
			AND ($3::text[] IS NULL OR status = ANY($3))
		ORDER BY start_at ASC
	`, tenantID, clientID, statusFilter(statuses))
	if err != nil {
		return nil, translate(err)
	}
	return collectBookings(rows)
}

func statusFilter(statuses []model.BookingStatus) []string {
	var out []string
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func collectBookings(rows pgx.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func lockBooking(ctx context.Context, q querier, tenantID, bookingID string) (model.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE
	`, bookingID, tenantID))
	if err != nil {
		return model.Booking{}, translate(err)
	}
	return b, nil
}

func insertBooking(ctx context.Context, q querier, b *model.Booking) error {
	err := q.QueryRow(ctx, `
		INSERT INTO bookings (tenant_id, client_id, professional_id, service_id, start_at, end_at, status, charged_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric)
		RETURNING id::text, created_at
	`, b.TenantID, b.ClientID, b.ProfessionalID, b.ServiceID, b.Start, b.End, string(b.Status), b.ChargedPrice.String()).
		Scan(&b.ID, &b.CreatedAt)
	return translate(err)
}

func saveCancellation(ctx context.Context, q querier, b model.Booking) error {
	var cancelledAt *time.Time
	if b.CancelledAt != nil {
		at := b.CancelledAt.UTC()
		cancelledAt = &at
	}
	tag, err := q.Exec(ctx, `
		UPDATE bookings
		SET status = $3, cancelled_by = $4, cancel_reason = $5, cancelled_at = $6
		WHERE id = $1 AND tenant_id = $2
	`, b.ID, b.TenantID, string(b.Status), b.CancelledBy, b.CancelReason, cancelledAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
