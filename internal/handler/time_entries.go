package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/michaelwinser/timesheet-core/internal/store"
	"github.com/michaelwinser/timesheet-core/internal/timeentry"
)

// TimeEntryHandler implements the time entry endpoints
type TimeEntryHandler struct {
	entries          *store.TimeEntryStore
	projects         *store.ProjectStore
	timeEntryService *timeentry.Service
}

// NewTimeEntryHandler creates a new time entry handler
func NewTimeEntryHandler(entries *store.TimeEntryStore, projects *store.ProjectStore, timeEntryService *timeentry.Service) *TimeEntryHandler {
	return &TimeEntryHandler{
		entries:          entries,
		projects:         projects,
		timeEntryService: timeEntryService,
	}
}

func dateParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func projectIDQueryParam(r *http.Request) (*uuid.UUID, error) {
	raw := r.URL.Query().Get("project_id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// ListTimeEntries returns time entries for the authenticated user.
// Combines materialized entries (with user state) and ephemeral entries
// (computed on-demand from classified events).
func (h *TimeEntryHandler) ListTimeEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	startDate, err := dateParam(r, "start_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid start_date")
		return
	}
	endDate, err := dateParam(r, "end_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid end_date")
		return
	}
	projectID, err := projectIDQueryParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid project_id")
		return
	}

	now := time.Now().UTC()
	start := now.AddDate(0, 0, -30)
	end := now
	if startDate != nil {
		start = *startDate
	}
	if endDate != nil {
		end = *endDate
	}

	entries, err := h.timeEntryService.ListMerged(r.Context(), userID, start, end, projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	result := make([]timeEntryDTO, len(entries))
	for i := range entries {
		result[i] = timeEntryToAPI(&entries[i].TimeEntry, entries[i].IsEphemeral)
	}

	writeJSON(w, http.StatusOK, result)
}

type createTimeEntryRequest struct {
	ProjectID   uuid.UUID        `json:"project_id"`
	Date        string           `json:"date"`
	Hours       *decimal.Decimal `json:"hours"`
	Description *string          `json:"description"`
}

// CreateTimeEntry creates a new time entry
func (h *TimeEntryHandler) CreateTimeEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	var body createTimeEntryRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body is required")
		return
	}

	if _, err := h.projects.GetByID(r.Context(), userID, body.ProjectID); err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	date, err := time.Parse("2006-01-02", body.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid date")
		return
	}

	hours := decimal.Zero
	if body.Hours != nil {
		hours = *body.Hours
	}
	description := body.Description

	if hours.IsZero() {
		computed, err := h.timeEntryService.ComputeForProjectAndDate(r.Context(), userID, body.ProjectID, date)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if computed != nil {
			hours = computed.Hours
			if description == nil || *description == "" {
				description = &computed.Description
			}
		}
	}

	entry, err := h.entries.Create(r.Context(), userID, body.ProjectID, date, hours, description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, timeEntryToAPI(entry, false))
}

func timeEntryIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// GetTimeEntry returns a time entry by ID
func (h *TimeEntryHandler) GetTimeEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := timeEntryIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid time entry id")
		return
	}

	entry, err := h.entries.GetByID(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrTimeEntryNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Time entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, timeEntryToAPI(entry, false))
}

type updateTimeEntryRequest struct {
	ProjectID   *uuid.UUID       `json:"project_id"`
	Date        *string          `json:"date"`
	Hours       *decimal.Decimal `json:"hours"`
	Description *string          `json:"description"`
}

// UpdateTimeEntry updates a time entry
func (h *TimeEntryHandler) UpdateTimeEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := timeEntryIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid time entry id")
		return
	}

	var body updateTimeEntryRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body is required")
		return
	}

	existing, err := h.entries.GetByID(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrTimeEntryNotFound) {
			if body.ProjectID != nil && body.Date != nil {
				date, derr := time.Parse("2006-01-02", *body.Date)
				if derr != nil {
					writeError(w, http.StatusBadRequest, "invalid_request", "Invalid date")
					return
				}
				existing, err = h.materializeEphemeralEntry(r, userID, *body.ProjectID, date)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
					return
				}
				if existing == nil {
					writeError(w, http.StatusNotFound, "not_found", "No events found for this project and date")
					return
				}
			} else {
				writeError(w, http.StatusNotFound, "not_found", "Time entry not found")
				return
			}
		} else {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
	}

	// Refresh computed values before updating so the snapshot captures the
	// latest drift, which is what lets "Keep" correctly clear staleness.
	computed, err := h.timeEntryService.ComputeForProjectAndDate(r.Context(), userID, existing.ProjectID, existing.Date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if computed != nil {
		_ = h.entries.RefreshComputedValues(r.Context(), userID, existing.ID, computed.Hours)
	}

	entry, err := h.entries.Update(r.Context(), userID, existing.ID, body.Hours, body.Description)
	if err != nil {
		if errors.Is(err, store.ErrTimeEntryNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Time entry not found")
			return
		}
		if errors.Is(err, store.ErrTimeEntryInvoiced) {
			writeError(w, http.StatusConflict, "conflict", "Cannot edit invoiced time entry")
			return
		}
		if errors.Is(err, store.ErrTimeEntryLocked) {
			writeError(w, http.StatusConflict, "conflict", "Cannot edit locked time entry")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, timeEntryToAPI(entry, false))
}

// DeleteTimeEntry deletes a time entry
func (h *TimeEntryHandler) DeleteTimeEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := timeEntryIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid time entry id")
		return
	}

	if err := h.entries.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrTimeEntryNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Time entry not found")
			return
		}
		if errors.Is(err, store.ErrTimeEntryInvoiced) {
			writeError(w, http.StatusConflict, "conflict", "Cannot delete invoiced time entry")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RefreshTimeEntry resets a time entry to computed values from events
func (h *TimeEntryHandler) RefreshTimeEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := timeEntryIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid time entry id")
		return
	}

	entry, err := h.entries.GetByID(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrTimeEntryNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Time entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	if entry.InvoiceID != nil {
		writeError(w, http.StatusBadRequest, "invalid_operation", "Cannot refresh invoiced time entry")
		return
	}

	computed, err := h.timeEntryService.ComputeForProjectAndDate(r.Context(), userID, entry.ProjectID, entry.Date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	if computed == nil {
		writeError(w, http.StatusBadRequest, "no_events", "No classified events found for this date and project")
		return
	}

	detailsJSON, err := json.Marshal(computed.CalculationDetails)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	refreshed, err := h.entries.ResetToComputed(
		r.Context(),
		userID,
		id,
		computed.Hours,
		computed.Title,
		computed.Description,
		detailsJSON,
		computed.ContributingEvents,
	)
	if err != nil {
		if errors.Is(err, store.ErrTimeEntryNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Time entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, timeEntryToAPI(refreshed, false))
}

// materializeEphemeralEntry creates a time entry in the database for an ephemeral entry.
// This is called when updating an ephemeral entry that doesn't exist in the DB yet.
func (h *TimeEntryHandler) materializeEphemeralEntry(r *http.Request, userID, projectID uuid.UUID, date time.Time) (*store.TimeEntry, error) {
	computed, err := h.timeEntryService.ComputeForProjectAndDate(r.Context(), userID, projectID, date)
	if err != nil {
		return nil, err
	}
	if computed == nil {
		return nil, nil
	}

	detailsJSON, err := json.Marshal(computed.CalculationDetails)
	if err != nil {
		return nil, err
	}

	return h.entries.UpsertFromComputed(
		r.Context(),
		userID,
		projectID,
		date,
		computed.Hours,
		computed.Title,
		computed.Description,
		detailsJSON,
		computed.ContributingEvents,
	)
}

type timeEntryDTO struct {
	ID                    uuid.UUID        `json:"id"`
	UserID                uuid.UUID        `json:"user_id"`
	ProjectID             uuid.UUID        `json:"project_id"`
	Date                  string           `json:"date"`
	Hours                 decimal.Decimal  `json:"hours"`
	Title                 *string          `json:"title,omitempty"`
	Description           *string          `json:"description,omitempty"`
	Source                string           `json:"source"`
	InvoiceID             *uuid.UUID       `json:"invoice_id,omitempty"`
	HasUserEdits          bool             `json:"has_user_edits"`
	IsPinned              bool             `json:"is_pinned"`
	IsLocked              bool             `json:"is_locked"`
	IsStale               bool             `json:"is_stale"`
	IsSuppressed          bool             `json:"is_suppressed"`
	IsEphemeral           bool             `json:"is_ephemeral"`
	ComputedHours         *decimal.Decimal `json:"computed_hours,omitempty"`
	SnapshotComputedHours *decimal.Decimal `json:"snapshot_computed_hours,omitempty"`
	ComputedTitle         *string          `json:"computed_title,omitempty"`
	ComputedDescription   *string          `json:"computed_description,omitempty"`
	CalculationDetails    json.RawMessage  `json:"calculation_details,omitempty"`
	ContributingEventIDs  []uuid.UUID      `json:"contributing_event_ids,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
	Project               *projectDTO      `json:"project,omitempty"`
}

// timeEntryToAPI converts a store.TimeEntry to its JSON DTO. Staleness is
// always recomputed rather than trusted from a stored column.
func timeEntryToAPI(e *store.TimeEntry, isEphemeral bool) timeEntryDTO {
	dto := timeEntryDTO{
		ID:                    e.ID,
		UserID:                e.UserID,
		ProjectID:             e.ProjectID,
		Date:                  e.Date.Format("2006-01-02"),
		Hours:                 e.Hours,
		Title:                 e.Title,
		Description:           e.Description,
		Source:                e.Source,
		InvoiceID:             e.InvoiceID,
		HasUserEdits:          e.HasUserEdits,
		IsPinned:              e.IsPinned,
		IsLocked:              e.IsLocked,
		IsStale:               store.Stale(e),
		IsSuppressed:          e.IsSuppressed,
		IsEphemeral:           isEphemeral,
		ComputedHours:         e.ComputedHours,
		SnapshotComputedHours: e.SnapshotComputedHours,
		ComputedTitle:         e.ComputedTitle,
		ComputedDescription:   e.ComputedDescription,
		ContributingEventIDs:  e.ContributingEventIDs,
		CreatedAt:             e.CreatedAt,
		UpdatedAt:             e.UpdatedAt,
	}

	if len(e.CalculationDetails) > 0 {
		dto.CalculationDetails = json.RawMessage(e.CalculationDetails)
	}

	if e.Project != nil {
		proj := projectToAPI(e.Project)
		dto.Project = &proj
	}

	return dto
}
