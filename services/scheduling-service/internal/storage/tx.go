package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/booking"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/outbox"
)

// DayLockKey names the advisory lock that serializes bookings of one professional
// on one calendar day.
func DayLockKey(professionalID string, day time.Time) string {
	return "booking:" + professionalID + ":" + day.Format("2006-01-02")
}

// WithinDayLock holds a transaction scoped advisory lock for the professional's day.
// The exclusion constraint on bookings still rejects overlaps that slip past it.
func (s *Store) WithinDayLock(ctx context.Context, professionalID string, day time.Time, fn func(ctx context.Context, tx booking.Tx) error) error {
	return s.pool.InTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, DayLockKey(professionalID, day)); err != nil {
			return err
		}
		return fn(ctx, s.wrap(tx))
	})
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	return s.pool.InTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, s.wrap(tx))
	})
}

func (s *Store) wrap(tx pgx.Tx) *pgTx {
	return &pgTx{reader: reader{q: tx}, tx: tx, outbox: s.outbox}
}

type pgTx struct {
	reader
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	return insertBooking(ctx, t.tx, b)
}

func (t *pgTx) BookingForUpdate(ctx context.Context, tenantID, bookingID string) (model.Booking, error) {
	return lockBooking(ctx, t.tx, tenantID, bookingID)
}

func (t *pgTx) SaveCancellation(ctx context.Context, b model.Booking) error {
	return saveCancellation(ctx, t.tx, b)
}

func (t *pgTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}
