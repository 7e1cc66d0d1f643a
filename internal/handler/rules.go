package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/michaelwinser/timesheet-core/internal/classification"
	"github.com/michaelwinser/timesheet-core/internal/store"
)

// RulesHandler implements the classification rules endpoints
type RulesHandler struct {
	rules             *store.ClassificationRuleStore
	projects          *store.ProjectStore
	classificationSvc *classification.Service
}

// NewRulesHandler creates a new rules handler
func NewRulesHandler(
	rules *store.ClassificationRuleStore,
	projects *store.ProjectStore,
	classificationSvc *classification.Service,
) *RulesHandler {
	return &RulesHandler{
		rules:             rules,
		projects:          projects,
		classificationSvc: classificationSvc,
	}
}

type ruleDTO struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Query        string     `json:"query"`
	ProjectID    *uuid.UUID `json:"project_id,omitempty"`
	Attended     *bool      `json:"attended,omitempty"`
	Weight       float64    `json:"weight"`
	IsEnabled    bool       `json:"is_enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ProjectName  *string    `json:"project_name,omitempty"`
	ProjectColor *string    `json:"project_color,omitempty"`
}

func ruleToAPI(r *store.ClassificationRule) ruleDTO {
	return ruleDTO{
		ID:           r.ID,
		UserID:       r.UserID,
		Query:        r.Query,
		ProjectID:    r.ProjectID,
		Attended:     r.Attended,
		Weight:       r.Weight,
		IsEnabled:    r.IsEnabled,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		ProjectName:  r.ProjectName,
		ProjectColor: r.ProjectColor,
	}
}

func ruleIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// ListRules returns all classification rules for the authenticated user
func (h *RulesHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	includeDisabled := r.URL.Query().Get("include_disabled") == "true"

	rules, err := h.rules.List(r.Context(), userID, includeDisabled)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	result := make([]ruleDTO, len(rules))
	for i, rule := range rules {
		result[i] = ruleToAPI(rule)
	}

	writeJSON(w, http.StatusOK, result)
}

type createRuleRequest struct {
	Query     string     `json:"query"`
	ProjectID *uuid.UUID `json:"project_id"`
	Attended  *bool      `json:"attended"`
	Weight    *float64   `json:"weight"`
	IsEnabled *bool      `json:"is_enabled"`
}

// CreateRule creates a new classification rule
func (h *RulesHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	var body createRuleRequest
	if err := decodeBody(r, &body); err != nil || body.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Query is required")
		return
	}

	if _, err := classification.Parse(body.Query); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "Invalid query syntax: "+err.Error())
		return
	}

	if body.ProjectID == nil && body.Attended == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Either project_id or attended must be set")
		return
	}

	weight := 1.0
	if body.Weight != nil {
		weight = *body.Weight
	}

	isEnabled := true
	if body.IsEnabled != nil {
		isEnabled = *body.IsEnabled
	}

	rule := &store.ClassificationRule{
		UserID:    userID,
		Query:     body.Query,
		ProjectID: body.ProjectID,
		Attended:  body.Attended,
		Weight:    weight,
		IsEnabled: isEnabled,
	}

	created, err := h.rules.Create(r.Context(), rule)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, ruleToAPI(created))
}

// GetRule returns a rule by ID
func (h *RulesHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid rule id")
		return
	}

	rule, err := h.rules.GetByID(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrClassificationRuleNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ruleToAPI(rule))
}

type updateRuleRequest struct {
	Query     *string    `json:"query"`
	ProjectID *uuid.UUID `json:"project_id"`
	Attended  *bool      `json:"attended"`
	Weight    *float64   `json:"weight"`
	IsEnabled *bool      `json:"is_enabled"`
}

// UpdateRule updates a rule
func (h *RulesHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid rule id")
		return
	}

	existing, err := h.rules.GetByID(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrClassificationRuleNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	var body updateRuleRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body is required")
		return
	}

	if body.Query != nil {
		if _, err := classification.Parse(*body.Query); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "Invalid query syntax: "+err.Error())
			return
		}
		existing.Query = *body.Query
	}

	if body.ProjectID != nil {
		existing.ProjectID = body.ProjectID
	}

	if body.Attended != nil {
		existing.Attended = body.Attended
	}

	if body.Weight != nil {
		existing.Weight = *body.Weight
	}

	if body.IsEnabled != nil {
		existing.IsEnabled = *body.IsEnabled
	}

	updated, err := h.rules.Update(r.Context(), existing)
	if err != nil {
		if errors.Is(err, store.ErrClassificationRuleNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ruleToAPI(updated))
}

// DeleteRule deletes a rule
func (h *RulesHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := ruleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid rule id")
		return
	}

	if err := h.rules.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrClassificationRuleNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type previewRuleRequest struct {
	Query     string     `json:"query"`
	ProjectID *uuid.UUID `json:"project_id"`
	StartDate *string    `json:"start_date"`
	EndDate   *string    `json:"end_date"`
}

type matchedEventDTO struct {
	EventID   uuid.UUID `json:"event_id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
}

type ruleConflictDTO struct {
	EventID           uuid.UUID  `json:"event_id"`
	CurrentProjectID  *uuid.UUID `json:"current_project_id"`
	CurrentSource     *string    `json:"current_source,omitempty"`
	ProposedProjectID *uuid.UUID `json:"proposed_project_id"`
}

type previewStatsDTO struct {
	TotalMatches    int `json:"total_matches"`
	AlreadyCorrect  int `json:"already_correct"`
	WouldChange     int `json:"would_change"`
	ManualConflicts int `json:"manual_conflicts"`
}

type previewRuleResponse struct {
	Matches   []matchedEventDTO `json:"matches"`
	Conflicts []ruleConflictDTO `json:"conflicts"`
	Stats     previewStatsDTO   `json:"stats"`
}

// PreviewRule evaluates a query against events and returns matching events
func (h *RulesHandler) PreviewRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	var body previewRuleRequest
	if err := decodeBody(r, &body); err != nil || body.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Query is required")
		return
	}

	if _, err := classification.Parse(body.Query); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "Invalid query syntax: "+err.Error())
		return
	}

	startDate, err := parseOptionalDate(body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid start_date")
		return
	}
	endDate, err := parseOptionalDate(body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid end_date")
		return
	}

	preview, err := h.classificationSvc.PreviewRule(r.Context(), userID, body.Query, body.ProjectID, startDate, endDate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	matches := make([]matchedEventDTO, len(preview.Matches))
	for i, m := range preview.Matches {
		matches[i] = matchedEventDTO{EventID: m.EventID, Title: m.Title, StartTime: m.StartTime}
	}

	conflicts := make([]ruleConflictDTO, len(preview.Conflicts))
	for i, c := range preview.Conflicts {
		source := c.CurrentSource
		conflicts[i] = ruleConflictDTO{
			EventID:           c.EventID,
			CurrentProjectID:  c.CurrentProjectID,
			CurrentSource:     &source,
			ProposedProjectID: c.ProposedProject,
		}
	}

	writeJSON(w, http.StatusOK, previewRuleResponse{
		Matches:   matches,
		Conflicts: conflicts,
		Stats: previewStatsDTO{
			TotalMatches:    preview.Stats.TotalMatches,
			AlreadyCorrect:  preview.Stats.AlreadyCorrect,
			WouldChange:     preview.Stats.WouldChange,
			ManualConflicts: preview.Stats.ManualConflicts,
		},
	})
}

type applyRulesRequest struct {
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
	DryRun    *bool   `json:"dry_run"`
	Force     *bool   `json:"force"`
}

type classifiedEventDTO struct {
	EventID     uuid.UUID `json:"event_id"`
	TargetID    uuid.UUID `json:"target_id"`
	Confidence  float64   `json:"confidence"`
	NeedsReview bool      `json:"needs_review"`
}

type applyRulesResponse struct {
	Classified []classifiedEventDTO `json:"classified"`
	Skipped    int                  `json:"skipped"`
}

// ApplyRules runs classification rules on pending events
func (h *RulesHandler) ApplyRules(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	var body applyRulesRequest
	_ = decodeBody(r, &body)

	startDate, err := parseOptionalDate(body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid start_date")
		return
	}
	endDate, err := parseOptionalDate(body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid end_date")
		return
	}

	dryRun := body.DryRun != nil && *body.DryRun
	force := body.Force != nil && *body.Force

	projects, err := h.projects.List(r.Context(), userID, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	targets := projectsToTargetsWithNames(projects)

	result, err := h.classificationSvc.ApplyRules(r.Context(), userID, targets, startDate, endDate, dryRun, force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	classified := make([]classifiedEventDTO, len(result.Classified))
	for i, c := range result.Classified {
		classified[i] = classifiedEventDTO{
			EventID:     c.EventID,
			TargetID:    c.TargetID,
			Confidence:  c.Confidence,
			NeedsReview: c.NeedsReview,
		}
	}

	writeJSON(w, http.StatusOK, applyRulesResponse{Classified: classified, Skipped: result.Skipped})
}

func parseOptionalDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
