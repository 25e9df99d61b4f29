package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/outbox"
)

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) InsertWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	var desiredTime pgtype.Time
	if e.DesiredTime != "" {
		c, err := interval.ParseClock(e.DesiredTime)
		if err != nil {
			return err
		}
		desiredTime = clockToPg(c)
	}
	requestedAt := e.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = s.clock.Now()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO waitlist_entries (tenant_id, client_id, service_id, preferred_professional_id, desired_date,
			desired_time, flexible_date, flexible_time, priority, requested_at, notified, active, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id::text
	`, e.TenantID, e.ClientID, nullable(e.ServiceID), nullable(e.PreferredProfessionalID), dateOnly(e.DesiredDate),
		desiredTime, e.FlexibleDate, e.FlexibleTime, e.Priority, requestedAt, e.Notified, e.Active, e.Notes).
		Scan(&e.ID)
}

func (s *Store) DeactivateWaitlistEntry(ctx context.Context, tenantID, entryID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE waitlist_entries SET active = false WHERE id = $1 AND tenant_id = $2
	`, entryID, tenantID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// PendingWaitlist orders by priority then arrival, the order candidates are served in.
func (s *Store) PendingWaitlist(ctx context.Context, tenantID string, through time.Time) ([]model.WaitlistEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, tenant_id::text, client_id::text, COALESCE(service_id::text, ''),
			COALESCE(preferred_professional_id::text, ''), desired_date, desired_time,
			flexible_date, flexible_time, priority, requested_at, notified, notified_at, active, notes
		FROM waitlist_entries
		WHERE tenant_id = $1 AND active AND NOT notified AND desired_date <= $2
		ORDER BY priority ASC, requested_at ASC
	`, tenantID, dateOnly(through))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []model.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanWaitlistEntry(row pgx.Row) (model.WaitlistEntry, error) {
	var (
		e           model.WaitlistEntry
		desiredTime pgtype.Time
	)
	if err := row.Scan(&e.ID, &e.TenantID, &e.ClientID, &e.ServiceID, &e.PreferredProfessionalID,
		&e.DesiredDate, &desiredTime, &e.FlexibleDate, &e.FlexibleTime, &e.Priority, &e.RequestedAt,
		&e.Notified, &e.NotifiedAt, &e.Active, &e.Notes); err != nil {
		return model.WaitlistEntry{}, err
	}
	if desiredTime.Valid {
		e.DesiredTime = clockFromPg(desiredTime).String()
	}
	return e, nil
}

// MarkWaitlistNotified flips the notified flag and appends evt in one transaction.
// The conditional update keeps two cancellations from notifying the same entry twice.
func (s *Store) MarkWaitlistNotified(ctx context.Context, tenantID, entryID string, at time.Time, evt outbox.Event) (bool, error) {
	var marked bool
	err := s.pool.InTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var active, notified bool
		err := tx.QueryRow(ctx, `
			SELECT active, notified FROM waitlist_entries WHERE id = $1 AND tenant_id = $2 FOR UPDATE
		`, entryID, tenantID).Scan(&active, &notified)
		if err != nil {
			return translate(err)
		}
		if !active || notified {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE waitlist_entries SET notified = true, notified_at = $2 WHERE id = $1
		`, entryID, at.UTC()); err != nil {
			return err
		}
		if err := s.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
		marked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return marked, nil
}
