package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/availability"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/booking"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/waitlist"
)

// Store is the slice of the data store the handlers use directly.
type Store interface {
	Tenant(ctx context.Context, tenantID string) (model.Tenant, error)
	Professional(ctx context.Context, tenantID, professionalID string) (model.Professional, error)
	UpsertClientByEmail(ctx context.Context, c model.Client) (model.Client, error)
	Overrides(ctx context.Context, professionalID string, date time.Time, kinds []model.OverrideKind) ([]model.Override, error)
	InsertOverride(ctx context.Context, o *model.Override) error
}

type SchedulingHandler struct {
	store      Store
	resolver   *availability.Resolver
	transactor *booking.Transactor
	waitlist   *waitlist.Matcher
	logger     *slog.Logger
}

func NewSchedulingHandler(store Store, resolver *availability.Resolver, transactor *booking.Transactor, matcher *waitlist.Matcher, logger *slog.Logger) *SchedulingHandler {
	return &SchedulingHandler{
		store:      store,
		resolver:   resolver,
		transactor: transactor,
		waitlist:   matcher,
		logger:     logger,
	}
}

// Register mounts every scheduling route on mux.
func (h *SchedulingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/book", h.Book)
	mux.HandleFunc("/api/v1/public/waitlist", h.JoinWaitlist)
	mux.HandleFunc("/api/v1/public/appointments", h.ClientAppointments)
	mux.HandleFunc("/api/v1/waitlist", h.LeaveWaitlist)
	mux.HandleFunc("/api/v1/appointments", h.List)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/overrides", h.Overrides)
}

// tenantDate parses a YYYY-MM-DD date as midnight in the tenant's timezone.
func (h *SchedulingHandler) tenantDate(ctx context.Context, tenantID, raw string) (model.Tenant, time.Time, error) {
	tenant, err := h.store.Tenant(ctx, tenantID)
	if err != nil {
		return model.Tenant{}, time.Time{}, err
	}
	date, err := time.ParseInLocation(time.DateOnly, raw, tenant.Location())
	if err != nil {
		return model.Tenant{}, time.Time{}, errInvalidDate
	}
	return tenant, date, nil
}

var errInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

// statusFor maps domain rejections onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, booking.ErrInvalidInput),
		errors.Is(err, waitlist.ErrInvalidInput),
		errors.Is(err, errInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrNotFound),
		errors.Is(err, waitlist.ErrNotFound),
		errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrConcurrentConflict),
		errors.Is(err, booking.ErrAlreadyFinalized):
		return http.StatusConflict
	case errors.Is(err, booking.ErrSlotUnavailable),
		errors.Is(err, booking.ErrLeadTimeViolation):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *SchedulingHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error(msg, "path", r.URL.Path, "err", err)
		http.Error(w, msg, code)
		return
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func tenantFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Tenant-Id")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("tenant_id"))
}

// actorFromRequest derives who is cancelling. Owners, admins and staff act as staff.
func actorFromRequest(r *http.Request) booking.Actor {
	name := strings.TrimSpace(r.Header.Get("X-Actor-Name"))
	switch strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role"))) {
	case "owner", "admin", "staff":
		return booking.Actor{Kind: booking.ActorStaff, Name: name}
	case "system":
		return booking.Actor{Kind: booking.ActorSystem, Name: name}
	}
	return booking.Actor{Kind: booking.ActorClient, Name: name}
}
