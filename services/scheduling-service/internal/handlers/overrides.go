package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
)

type overrideRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Kind      string `json:"kind"`
	Note      string `json:"note"`
}

type overrideItem struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Kind      string `json:"kind"`
	Note      string `json:"note,omitempty"`
}

func newOverrideItem(o model.Override) overrideItem {
	return overrideItem{
		ID:        o.ID,
		Date:      o.Date.Format(time.DateOnly),
		StartTime: o.Range.Start.String(),
		EndTime:   o.Range.End.String(),
		Kind:      string(o.Kind),
		Note:      o.Note,
	}
}

// Overrides lists (GET) or creates (POST) one professional's schedule exceptions.
func (h *SchedulingHandler) Overrides(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := tenantFromRequest(r)
	professionalID := strings.TrimSpace(r.URL.Query().Get("professional_id"))
	if tenantID == "" || professionalID == "" {
		http.Error(w, "tenant_id and professional_id are required", http.StatusBadRequest)
		return
	}
	pro, err := h.store.Professional(r.Context(), tenantID, professionalID)
	if err != nil {
		h.fail(w, r, "failed to load professional", err)
		return
	}

	if r.Method == http.MethodGet {
		date, err := time.Parse(time.DateOnly, strings.TrimSpace(r.URL.Query().Get("date")))
		if err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
		overrides, err := h.store.Overrides(r.Context(), pro.ID, date, nil)
		if err != nil {
			h.fail(w, r, "failed to list overrides", err)
			return
		}
		items := make([]overrideItem, 0, len(overrides))
		for _, o := range overrides {
			items = append(items, newOverrideItem(o))
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(time.DateOnly, strings.TrimSpace(req.Date))
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	start, err := interval.ParseClock(strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := interval.ParseClock(strings.TrimSpace(req.EndTime))
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}
	o := model.Override{
		ProfessionalID: pro.ID,
		Date:           date,
		Range:          interval.ClockRange{Start: start, End: end},
		Kind:           model.OverrideKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Note:           strings.TrimSpace(req.Note),
	}
	if err := o.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.InsertOverride(r.Context(), &o); err != nil {
		h.fail(w, r, "failed to create override", err)
		return
	}
	writeJSON(w, http.StatusCreated, newOverrideItem(o))
}
