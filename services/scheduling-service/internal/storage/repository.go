// Package storage is the Postgres implementation of the scheduling stores.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/chairbook/chairbook/libs/db"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/booking"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/clock"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/notify"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/outbox"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/waitlist"
)

var (
	_ booking.Store   = (*Store)(nil)
	_ waitlist.Store  = (*Store)(nil)
	_ notify.Recorder = (*Store)(nil)
	_ booking.Tx      = (*pgTx)(nil)
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	reader
	pool   *db.Pool
	outbox *outbox.Repository
	clock  clock.Clock
}

// NewStore wraps pool. A nil clk falls back to the system clock.
func NewStore(pool *db.Pool, outboxRepo *outbox.Repository, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{
		reader: reader{q: pool},
		pool:   pool,
		outbox: outboxRepo,
		clock:  clk,
	}
}

// reader implements every lookup against whichever querier it wraps, so the same
// code serves plain reads and reads inside a locked transaction.
type reader struct {
	q querier
}

const (
	pgExclusionViolation  = "23P01"
	pgUniqueViolation     = "23505"
	pgInvalidTextEncoding = "22P02"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsConflict(err error) bool {
	return pgCode(err) == pgExclusionViolation
}

// IsNotFound treats malformed ids like missing rows.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgInvalidTextEncoding
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case IsNotFound(err):
		return model.ErrNotFound
	case IsConflict(err):
		return model.ErrOverlap
	}
	return err
}

func clockFromPg(t pgtype.Time) interval.Clock {
	minutes := int(t.Microseconds / int64(time.Minute/time.Microsecond))
	return interval.Clock{Hour: minutes / 60, Minute: minutes % 60}
}

func clockToPg(c interval.Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c.Minutes()) * int64(time.Minute/time.Microsecond), Valid: true}
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", raw, err)
	}
	return d, nil
}

// dateOnly strips the location so a calendar date is sent to a DATE column unchanged.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
