package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/waitlist"
)

type waitlistRequest struct {
	TenantID       string `json:"tenant_id"`
	ClientName     string `json:"client_name"`
	ClientEmail    string `json:"client_email"`
	ClientPhone    string `json:"client_phone"`
	ServiceID      string `json:"service_id"`
	ProfessionalID string `json:"professional_id"`
	DesiredDate    string `json:"desired_date"`
	DesiredTime    string `json:"desired_time"`
	FlexibleDate   *bool  `json:"flexible_date"`
	FlexibleTime   *bool  `json:"flexible_time"`
	Priority       int    `json:"priority"`
	Notes          string `json:"notes"`
}

type waitlistResponse struct {
	EntryID     string `json:"entry_id"`
	ClientID    string `json:"client_id"`
	DesiredDate string `json:"desired_date"`
	Priority    int    `json:"priority"`
}

// JoinWaitlist queues a client for a day that has no suitable slot.
func (h *SchedulingHandler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req waitlistRequest
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
	desired, err := time.Parse(time.DateOnly, strings.TrimSpace(req.DesiredDate))
	if err != nil {
		http.Error(w, "invalid desired_date", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tenant, err := h.store.Tenant(ctx, req.TenantID)
	if err != nil {
		h.fail(w, r, "failed to load tenant", err)
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

	entry, err := h.waitlist.Add(ctx, waitlist.AddRequest{
		TenantID:                tenant.ID,
		ClientID:                client.ID,
		ServiceID:               strings.TrimSpace(req.ServiceID),
		PreferredProfessionalID: strings.TrimSpace(req.ProfessionalID),
		DesiredDate:             desired,
		DesiredTime:             strings.TrimSpace(req.DesiredTime),
		FlexibleDate:            req.FlexibleDate,
		FlexibleTime:            req.FlexibleTime,
		Priority:                req.Priority,
		Notes:                   req.Notes,
	})
	if err != nil {
		h.fail(w, r, "failed to join waitlist", err)
		return
	}
	writeJSON(w, http.StatusCreated, waitlistResponse{
		EntryID:     entry.ID,
		ClientID:    entry.ClientID,
		DesiredDate: entry.DesiredDate.Format(time.DateOnly),
		Priority:    entry.Priority,
	})
}

// LeaveWaitlist deactivates an entry.
func (h *SchedulingHandler) LeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tenantID := tenantFromRequest(r)
	entryID := strings.TrimSpace(r.URL.Query().Get("id"))
	if tenantID == "" || entryID == "" {
		http.Error(w, "tenant_id and id are required", http.StatusBadRequest)
		return
	}
	if err := h.waitlist.Withdraw(r.Context(), tenantID, entryID); err != nil {
		h.fail(w, r, "failed to leave waitlist", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
