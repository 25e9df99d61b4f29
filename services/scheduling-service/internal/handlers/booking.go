package handlers

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/availability"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/booking"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
)

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type bookRequest struct {
	TenantID       string `json:"tenant_id"`
	ProfessionalID string `json:"professional_id"`
	ServiceID      string `json:"service_id"`
	StartTime      string `json:"start_time"`
	ClientName     string `json:"client_name"`
	ClientEmail    string `json:"client_email"`
	ClientPhone    string `json:"client_phone"`
}

type bookingItem struct {
	BookingID      string `json:"booking_id"`
	ClientID       string `json:"client_id"`
	ProfessionalID string `json:"professional_id"`
	ServiceID      string `json:"service_id"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	Status         string `json:"status"`
	ChargedPrice   string `json:"charged_price"`
	CancelledBy    string `json:"cancelled_by,omitempty"`
	CancelledAt    string `json:"cancelled_at,omitempty"`
}

type cancelRequest struct {
	TenantID  string `json:"tenant_id"`
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

func newBookingItem(b model.Booking, loc *time.Location) bookingItem {
	item := bookingItem{
		BookingID:      b.ID,
		ClientID:       b.ClientID,
		ProfessionalID: b.ProfessionalID,
		ServiceID:      b.ServiceID,
		StartTime:      b.Start.In(loc).Format(time.RFC3339),
		EndTime:        b.End.In(loc).Format(time.RFC3339),
		Status:         string(b.Status),
		ChargedPrice:   b.ChargedPrice.StringFixed(2),
		CancelledBy:    b.CancelledBy,
	}
	if b.CancelledAt != nil {
		item.CancelledAt = b.CancelledAt.In(loc).Format(time.RFC3339)
	}
	return item
}

// Slots lists bookable start times for one professional, service and day.
func (h *SchedulingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	tenantID := tenantFromRequest(r)
	professionalID := strings.TrimSpace(q.Get("professional_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if tenantID == "" || professionalID == "" || serviceID == "" || dateStr == "" {
		http.Error(w, "tenant_id, professional_id, service_id, and date are required", http.StatusBadRequest)
		return
	}

	tenant, date, err := h.tenantDate(r.Context(), tenantID, dateStr)
	if err != nil {
		h.fail(w, r, "failed to load tenant", err)
		return
	}
	plan, err := h.resolver.Plan(r.Context(), availability.Query{
		TenantID:       tenant.ID,
		ProfessionalID: professionalID,
		ServiceID:      serviceID,
		Date:           date,
	})
	if err != nil {
		h.fail(w, r, "failed to resolve availability", err)
		return
	}

	resp := make([]slotItem, 0)
	for _, s := range plan.Slots() {
		resp = append(resp, slotItem{
			StartTime: s.Format(time.RFC3339),
			EndTime:   s.Add(plan.Duration).Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Book registers the client by email and confirms the booking.
func (h *SchedulingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientEmail = strings.TrimSpace(req.ClientEmail)
	if req.TenantID == "" || req.ClientName == "" || req.ClientEmail == "" {
		http.Error(w, "tenant_id, client_name, and client_email are required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	req.ProfessionalID = strings.TrimSpace(req.ProfessionalID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.ProfessionalID == "" || req.ServiceID == "" {
		http.Error(w, "professional_id and service_id are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tenant, err := h.store.Tenant(ctx, req.TenantID)
	if err != nil {
		h.fail(w, r, "failed to load tenant", err)
		return
	}
	// The client record is only touched once the slot looks bookable; the transactor
	// repeats the check under the day lock.
	free, err := h.resolver.FreeSlots(ctx, availability.Query{
		TenantID:       tenant.ID,
		ProfessionalID: req.ProfessionalID,
		ServiceID:      req.ServiceID,
		Date:           start.In(tenant.Location()),
	})
	if err != nil {
		h.fail(w, r, "failed to resolve availability", err)
		return
	}
	if !slices.ContainsFunc(free, start.Equal) {
		h.fail(w, r, "failed to create booking", booking.ErrSlotUnavailable)
		return
	}

	client, err := h.store.UpsertClientByEmail(ctx, model.Client{
		TenantID: tenant.ID,
		Name:     req.ClientName,
		Email:    req.ClientEmail,
		Phone:    strings.TrimSpace(req.ClientPhone),
	})
	if err != nil {
		h.fail(w, r, "failed to register client", err)
		return
	}

	b, err := h.transactor.Create(ctx, booking.Request{
		TenantID:       tenant.ID,
		ClientID:       client.ID,
		ProfessionalID: req.ProfessionalID,
		ServiceID:      req.ServiceID,
		Start:          start,
	})
	if err != nil {
		h.fail(w, r, "failed to create booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, newBookingItem(b, tenant.Location()))
}

// Cancel cancels a booking. The X-Role header decides whether the lead time applies.
func (h *SchedulingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.TenantID == "" {
		req.TenantID = tenantFromRequest(r)
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.TenantID == "" || req.BookingID == "" {
		http.Error(w, "tenant_id and booking_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tenant, err := h.store.Tenant(ctx, req.TenantID)
	if err != nil {
		h.fail(w, r, "failed to load tenant", err)
		return
	}
	b, err := h.transactor.Cancel(ctx, booking.CancelRequest{
		TenantID:  tenant.ID,
		BookingID: req.BookingID,
		Actor:     actorFromRequest(r),
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.fail(w, r, "failed to cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingItem(b, tenant.Location()))
}

// List returns a professional's agenda, every status included. The range is one of
// date, week (the Sunday to Saturday week holding the given day) or from and to.
func (h *SchedulingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	tenantID := tenantFromRequest(r)
	professionalID := strings.TrimSpace(q.Get("professional_id"))
	if tenantID == "" || professionalID == "" {
		http.Error(w, "tenant_id and professional_id are required", http.StatusBadRequest)
		return
	}
	fromStr, toStr := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	switch {
	case q.Get("date") != "":
		fromStr, toStr = strings.TrimSpace(q.Get("date")), strings.TrimSpace(q.Get("date"))
	case q.Get("week") != "":
		fromStr, toStr = strings.TrimSpace(q.Get("week")), ""
	case fromStr == "" || toStr == "":
		http.Error(w, "one of date, week, or from and to is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tenant, from, err := h.tenantDate(ctx, tenantID, fromStr)
	if err != nil {
		h.fail(w, r, "failed to load tenant", err)
		return
	}
	var to time.Time
	if toStr == "" {
		from, to = booking.WeekOf(from)
	} else if to, err = time.ParseInLocation(time.DateOnly, toStr, tenant.Location()); err != nil {
		h.fail(w, r, "invalid to", errInvalidDate)
		return
	}

	bookings, err := h.transactor.ListRange(ctx, tenant.ID, professionalID, from, to)
	if err != nil {
		h.fail(w, r, "failed to list bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingItems(bookings, tenant.Location()))
}

// ClientAppointments looks a client up by email and lists their active bookings, or
// their whole history when history=true.
func (h *SchedulingHandler) ClientAppointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tenantID := tenantFromRequest(r)
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if tenantID == "" || email == "" {
		http.Error(w, "tenant_id and email are required", http.StatusBadRequest)
		return
	}
	history, _ := strconv.ParseBool(r.URL.Query().Get("history"))

	ctx := r.Context()
	tenant, err := h.store.Tenant(ctx, tenantID)
	if err != nil {
		h.fail(w, r, "failed to load tenant", err)
		return
	}
	bookings, err := h.transactor.ListClient(ctx, tenant.ID, email, !history)
	if err != nil {
		h.fail(w, r, "failed to list bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingItems(bookings, tenant.Location()))
}

func newBookingItems(bookings []model.Booking, loc *time.Location) []bookingItem {
	items := make([]bookingItem, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, newBookingItem(b, loc))
	}
	return items
}
