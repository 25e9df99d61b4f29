package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
)

func TestTranslateMapsPostgresErrors(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{pgx.ErrNoRows, model.ErrNotFound},
		{fmt.Errorf("wrapped: %w", pgx.ErrNoRows), model.ErrNotFound},
		{&pgconn.PgError{Code: pgInvalidTextEncoding}, model.ErrNotFound},
		{&pgconn.PgError{Code: pgExclusionViolation}, model.ErrOverlap},
	}
	for _, tc := range cases {
		if got := translate(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("translate(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
	other := &pgconn.PgError{Code: pgUniqueViolation}
	if got := translate(other); got != other {
		t.Fatalf("unrelated error was rewritten: %v", got)
	}
	if translate(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestClockRoundTripsThroughPgTime(t *testing.T) {
	c := interval.Clock{Hour: 13, Minute: 45}
	if got := clockFromPg(clockToPg(c)); got != c {
		t.Fatalf("round trip = %s, want %s", got, c)
	}
}

func TestDayLockKeyUsesCalendarDate(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	day := time.Date(2025, 3, 10, 23, 30, 0, 0, loc)
	if got := DayLockKey("pro-1", day); got != "booking:pro-1:2025-03-10" {
		t.Fatalf("key = %q", got)
	}
}

func TestDateOnlyKeepsLocalDate(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	got := dateOnly(time.Date(2025, 3, 10, 22, 0, 0, 0, loc))
	if got.Year() != 2025 || got.Month() != time.March || got.Day() != 10 || got.Location() != time.UTC {
		t.Fatalf("dateOnly = %s", got)
	}
}

func TestMigrationsCarryGooseDirectives(t *testing.T) {
	fsys, err := migrations()
	if err != nil {
		t.Fatalf("migrations fs: %v", err)
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(entries) == 0 || entries[0].Name() != "001_init.sql" {
		t.Fatalf("unexpected migrations %v", entries)
	}
	for _, e := range entries {
		raw, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		body := string(raw)
		if !strings.HasPrefix(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s lacks goose up/down directives", e.Name())
		}
	}
}
