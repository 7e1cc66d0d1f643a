package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/michaelwinser/timesheet-core/internal/store"
)

// BillingHandler implements the billing period endpoints
type BillingHandler struct {
	periods *store.BillingPeriodStore
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(periods *store.BillingPeriodStore) *BillingHandler {
	return &BillingHandler{periods: periods}
}

type billingPeriodDTO struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	ProjectID  uuid.UUID  `json:"project_id"`
	StartsOn   time.Time  `json:"starts_on"`
	EndsOn     *time.Time `json:"ends_on,omitempty"`
	HourlyRate float64    `json:"hourly_rate"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func billingPeriodToAPI(p *store.BillingPeriod) billingPeriodDTO {
	return billingPeriodDTO{
		ID:         p.ID,
		UserID:     p.UserID,
		ProjectID:  p.ProjectID,
		StartsOn:   p.StartsOn,
		EndsOn:     p.EndsOn,
		HourlyRate: p.HourlyRate,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// ListBillingPeriods returns all billing periods for a project
func (h *BillingHandler) ListBillingPeriods(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "project_id is required")
		return
	}

	periods, err := h.periods.ListByProject(r.Context(), userID, projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	result := make([]billingPeriodDTO, len(periods))
	for i, p := range periods {
		result[i] = billingPeriodToAPI(p)
	}

	writeJSON(w, http.StatusOK, result)
}

type createBillingPeriodRequest struct {
	ProjectID  uuid.UUID  `json:"project_id"`
	StartsOn   time.Time  `json:"starts_on"`
	EndsOn     *time.Time `json:"ends_on"`
	HourlyRate float64    `json:"hourly_rate"`
}

// CreateBillingPeriod creates a new billing period
func (h *BillingHandler) CreateBillingPeriod(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	var body createBillingPeriodRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body required")
		return
	}

	period, err := h.periods.Create(r.Context(), userID, body.ProjectID, body.StartsOn, body.EndsOn, body.HourlyRate)
	if err != nil {
		if errors.Is(err, store.ErrBillingPeriodOverlap) {
			writeError(w, http.StatusConflict, "overlap", "Billing period overlaps with existing period")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, billingPeriodToAPI(period))
}

type updateBillingPeriodRequest struct {
	StartsOn   *time.Time `json:"starts_on"`
	EndsOn     *time.Time `json:"ends_on"`
	ClearEndsOn bool       `json:"clear_ends_on"`
	HourlyRate *float64   `json:"hourly_rate"`
}

// UpdateBillingPeriod updates an existing billing period
func (h *BillingHandler) UpdateBillingPeriod(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid billing period id")
		return
	}

	var body updateBillingPeriodRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body required")
		return
	}

	updates := make(map[string]interface{})
	if body.StartsOn != nil {
		updates["starts_on"] = *body.StartsOn
	}
	if body.ClearEndsOn {
		updates["ends_on"] = nil
	} else if body.EndsOn != nil {
		updates["ends_on"] = *body.EndsOn
	}
	if body.HourlyRate != nil {
		updates["hourly_rate"] = *body.HourlyRate
	}

	if len(updates) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "No updates provided")
		return
	}

	period, err := h.periods.Update(r.Context(), userID, id, updates)
	if err != nil {
		if errors.Is(err, store.ErrBillingPeriodNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Billing period not found")
			return
		}
		if errors.Is(err, store.ErrBillingPeriodOverlap) {
			writeError(w, http.StatusConflict, "overlap", "Updated period would overlap with existing period")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, billingPeriodToAPI(period))
}

// DeleteBillingPeriod deletes a billing period
func (h *BillingHandler) DeleteBillingPeriod(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid billing period id")
		return
	}

	if err := h.periods.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrBillingPeriodNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Billing period not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
