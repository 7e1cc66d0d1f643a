package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/michaelwinser/timesheet-core/internal/store"
)

// ProjectHandler implements the project endpoints
type ProjectHandler struct {
	projects *store.ProjectStore
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(projects *store.ProjectStore) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

type projectDTO struct {
	ID                     uuid.UUID  `json:"id"`
	UserID                 uuid.UUID  `json:"user_id"`
	Name                   string     `json:"name"`
	ShortCode              *string    `json:"short_code,omitempty"`
	Client                 *string    `json:"client,omitempty"`
	Color                  string     `json:"color"`
	IsBillable             bool       `json:"is_billable"`
	IsArchived             bool       `json:"is_archived"`
	IsHiddenByDefault      bool       `json:"is_hidden_by_default"`
	DoesNotAccumulateHours bool       `json:"does_not_accumulate_hours"`
	FingerprintDomains     []string   `json:"fingerprint_domains,omitempty"`
	FingerprintEmails      []string   `json:"fingerprint_emails,omitempty"`
	FingerprintKeywords    []string   `json:"fingerprint_keywords,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

func projectToAPI(p *store.Project) projectDTO {
	return projectDTO{
		ID:                     p.ID,
		UserID:                 p.UserID,
		Name:                   p.Name,
		ShortCode:              p.ShortCode,
		Client:                 p.Client,
		Color:                  p.Color,
		IsBillable:             p.IsBillable,
		IsArchived:             p.IsArchived,
		IsHiddenByDefault:      p.IsHiddenByDefault,
		DoesNotAccumulateHours: p.DoesNotAccumulateHours,
		FingerprintDomains:     p.FingerprintDomains,
		FingerprintEmails:      p.FingerprintEmails,
		FingerprintKeywords:    p.FingerprintKeywords,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

// ListProjects returns all projects for the authenticated user
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	includeArchived := r.URL.Query().Get("include_archived") == "true"

	projects, err := h.projects.List(r.Context(), userID, includeArchived)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	result := make([]projectDTO, len(projects))
	for i, p := range projects {
		result[i] = projectToAPI(p)
	}
	writeJSON(w, http.StatusOK, result)
}

type createProjectRequest struct {
	Name                   string   `json:"name"`
	ShortCode              *string  `json:"short_code"`
	Client                 *string  `json:"client"`
	Color                  *string  `json:"color"`
	IsBillable             *bool    `json:"is_billable"`
	IsHiddenByDefault      *bool    `json:"is_hidden_by_default"`
	DoesNotAccumulateHours *bool    `json:"does_not_accumulate_hours"`
	FingerprintDomains     []string `json:"fingerprint_domains"`
	FingerprintEmails      []string `json:"fingerprint_emails"`
	FingerprintKeywords    []string `json:"fingerprint_keywords"`
}

// CreateProject creates a new project
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	var body createProjectRequest
	if err := decodeBody(r, &body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Name is required")
		return
	}

	color := "#6B7280"
	if body.Color != nil {
		color = *body.Color
	}

	isBillable := true
	if body.IsBillable != nil {
		isBillable = *body.IsBillable
	}

	isHiddenByDefault := false
	if body.IsHiddenByDefault != nil {
		isHiddenByDefault = *body.IsHiddenByDefault
	}

	doesNotAccumulateHours := false
	if body.DoesNotAccumulateHours != nil {
		doesNotAccumulateHours = *body.DoesNotAccumulateHours
	}

	project, err := h.projects.Create(r.Context(), userID, body.Name, body.ShortCode, body.Client, color, isBillable, isHiddenByDefault, doesNotAccumulateHours, body.FingerprintDomains, body.FingerprintEmails, body.FingerprintKeywords)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, projectToAPI(project))
}

func projectIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// GetProject returns a project by ID
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := projectIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid project id")
		return
	}

	project, err := h.projects.GetByID(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, projectToAPI(project))
}

type updateProjectRequest struct {
	Name                   *string  `json:"name"`
	ShortCode              *string  `json:"short_code"`
	Color                  *string  `json:"color"`
	IsBillable             *bool    `json:"is_billable"`
	IsArchived             *bool    `json:"is_archived"`
	IsHiddenByDefault      *bool    `json:"is_hidden_by_default"`
	DoesNotAccumulateHours *bool    `json:"does_not_accumulate_hours"`
	FingerprintDomains     []string `json:"fingerprint_domains"`
	FingerprintEmails      []string `json:"fingerprint_emails"`
	FingerprintKeywords    []string `json:"fingerprint_keywords"`
	Client                 *string  `json:"client"`
}

// UpdateProject updates a project
func (h *ProjectHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := projectIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid project id")
		return
	}

	var body updateProjectRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body is required")
		return
	}

	updates := make(map[string]interface{})
	if body.Name != nil {
		updates["name"] = *body.Name
	}
	if body.ShortCode != nil {
		updates["short_code"] = *body.ShortCode
	}
	if body.Color != nil {
		updates["color"] = *body.Color
	}
	if body.IsBillable != nil {
		updates["is_billable"] = *body.IsBillable
	}
	if body.IsArchived != nil {
		updates["is_archived"] = *body.IsArchived
	}
	if body.IsHiddenByDefault != nil {
		updates["is_hidden_by_default"] = *body.IsHiddenByDefault
	}
	if body.DoesNotAccumulateHours != nil {
		updates["does_not_accumulate_hours"] = *body.DoesNotAccumulateHours
	}
	if body.FingerprintDomains != nil {
		updates["fingerprint_domains"] = body.FingerprintDomains
	}
	if body.FingerprintEmails != nil {
		updates["fingerprint_emails"] = body.FingerprintEmails
	}
	if body.FingerprintKeywords != nil {
		updates["fingerprint_keywords"] = body.FingerprintKeywords
	}
	if body.Client != nil {
		updates["client"] = *body.Client
	}

	project, err := h.projects.Update(r.Context(), userID, id, updates)
	if err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, projectToAPI(project))
}

// DeleteProject deletes a project
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := projectIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid project id")
		return
	}

	if err := h.projects.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Project not found")
			return
		}
		if errors.Is(err, store.ErrProjectHasEntries) {
			writeError(w, http.StatusConflict, "conflict", "Cannot delete project with time entries")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
