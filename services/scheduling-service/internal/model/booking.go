package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
)

type BookingStatus string

const (
	StatusPending    BookingStatus = "pending"
	StatusConfirmed  BookingStatus = "confirmed"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
	StatusNoShow     BookingStatus = "no_show"
)

// BlockingStatuses occupy the professional's time.
var BlockingStatuses = []BookingStatus{StatusConfirmed, StatusInProgress}

func (s BookingStatus) Blocking() bool {
	return s == StatusConfirmed || s == StatusInProgress
}

func (s BookingStatus) Finalized() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusNoShow
}

type Booking struct {
	ID             string
	TenantID       string
	ClientID       string
	ProfessionalID string
	ServiceID      string
	Start          time.Time
	End            time.Time
	Status         BookingStatus
	ChargedPrice   decimal.Decimal
	CancelledBy    string
	CancelReason   string
	CancelledAt    *time.Time
	CreatedAt      time.Time
}

func (b Booking) Interval() interval.Interval {
	return interval.Interval{Start: b.Start, End: b.End}
}
