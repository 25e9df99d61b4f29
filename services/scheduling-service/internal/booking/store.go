package booking

import (
	"context"
	"time"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/availability"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/notify"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/outbox"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/waitlist"
)

// Tx is the transactional view of the store. Writes become visible only when the
// surrounding WithinDayLock or WithinTx callback returns nil.
type Tx interface {
	availability.Reader
	// InsertBooking assigns ID and CreatedAt. It returns model.ErrOverlap when a
	// blocking booking of the same professional overlaps b.
	InsertBooking(ctx context.Context, b *model.Booking) error
	BookingForUpdate(ctx context.Context, tenantID, bookingID string) (model.Booking, error)
	SaveCancellation(ctx context.Context, b model.Booking) error
	AppendEvent(ctx context.Context, evt outbox.Event) error
}

type Store interface {
	availability.Reader
	Client(ctx context.Context, tenantID, clientID string) (model.Client, error)
	ClientByEmail(ctx context.Context, tenantID, email string) (model.Client, error)
	// ClientBookings returns the client's bookings in start order; nil statuses match all.
	ClientBookings(ctx context.Context, tenantID, clientID string, statuses []model.BookingStatus) ([]model.Booking, error)
	// WithinDayLock runs fn in a transaction that holds an exclusive lock on the
	// professional's calendar day. Concurrent callers for the same key are serialized.
	WithinDayLock(ctx context.Context, professionalID string, day time.Time, fn func(ctx context.Context, tx Tx) error) error
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Notifier is the post-commit message hook.
type Notifier interface {
	Dispatch(ctx context.Context, msg notify.Message)
}

// Waitlist is told about slots freed by cancellations.
type Waitlist interface {
	NotifyCandidates(ctx context.Context, freed waitlist.Freed) (int, error)
}
