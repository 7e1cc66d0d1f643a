package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/michaelwinser/timesheet-core/internal/classification"
	"github.com/michaelwinser/timesheet-core/internal/store"
)

const configExportVersion = "1"

// ConfigHandler implements the config import/export endpoints
type ConfigHandler struct {
	projects *store.ProjectStore
	rules    *store.ClassificationRuleStore
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(projects *store.ProjectStore, rules *store.ClassificationRuleStore) *ConfigHandler {
	return &ConfigHandler{
		projects: projects,
		rules:    rules,
	}
}

type projectExport struct {
	Name                   string    `json:"name"`
	ShortCode              *string   `json:"short_code,omitempty"`
	Client                 *string   `json:"client,omitempty"`
	Color                  *string   `json:"color,omitempty"`
	IsBillable             *bool     `json:"is_billable,omitempty"`
	IsArchived             *bool     `json:"is_archived,omitempty"`
	IsHiddenByDefault      *bool     `json:"is_hidden_by_default,omitempty"`
	DoesNotAccumulateHours *bool     `json:"does_not_accumulate_hours,omitempty"`
	FingerprintDomains     *[]string `json:"fingerprint_domains,omitempty"`
	FingerprintEmails      *[]string `json:"fingerprint_emails,omitempty"`
	FingerprintKeywords    *[]string `json:"fingerprint_keywords,omitempty"`
}

type ruleExport struct {
	Query       string   `json:"query"`
	ProjectName *string  `json:"project_name,omitempty"`
	Skip        *bool    `json:"skip,omitempty"`
	Weight      *float32 `json:"weight,omitempty"`
	IsEnabled   *bool    `json:"is_enabled,omitempty"`
}

type configExport struct {
	Version    string          `json:"version"`
	ExportedAt time.Time       `json:"exported_at"`
	Projects   []projectExport `json:"projects"`
	Rules      []ruleExport    `json:"rules"`
}

// ExportConfig exports all projects and rules as JSON
func (h *ConfigHandler) ExportConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		writeUnauthorized(w)
		return
	}

	includeArchived := r.URL.Query().Get("include_archived") == "true"

	projects, err := h.projects.List(ctx, userID, includeArchived)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	rules, err := h.rules.List(ctx, userID, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	projectNames := make(map[string]string)
	for _, p := range projects {
		projectNames[p.ID.String()] = p.Name
	}

	projectExports := make([]projectExport, len(projects))
	for i, p := range projects {
		projectExports[i] = projectToExport(p)
	}

	ruleExports := make([]ruleExport, 0, len(rules))
	for _, rl := range rules {
		ruleExports = append(ruleExports, ruleToExport(rl, projectNames))
	}

	writeJSON(w, http.StatusOK, configExport{
		Version:    configExportVersion,
		ExportedAt: time.Now().UTC(),
		Projects:   projectExports,
		Rules:      ruleExports,
	})
}

type configImportResult struct {
	ProjectsCreated int      `json:"projects_created"`
	ProjectsUpdated int      `json:"projects_updated"`
	RulesCreated    int      `json:"rules_created"`
	RulesUpdated    int      `json:"rules_updated"`
	RulesSkipped    *int     `json:"rules_skipped,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// ImportConfig imports projects and rules from JSON
func (h *ConfigHandler) ImportConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var body configExport
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body required")
		return
	}

	var warnings []string
	var projectsCreated, projectsUpdated int
	var rulesCreated, rulesUpdated, rulesSkipped int

	existingProjects, err := h.projects.List(ctx, userID, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	existingProjectsByName := make(map[string]*store.Project)
	for _, p := range existingProjects {
		existingProjectsByName[p.Name] = p
	}

	projectIDsByName := make(map[string]string)
	for _, p := range existingProjects {
		projectIDsByName[p.Name] = p.ID.String()
	}

	for _, pExport := range body.Projects {
		if existing, ok := existingProjectsByName[pExport.Name]; ok {
			updates := projectExportToUpdates(&pExport)
			if _, err := h.projects.Update(ctx, userID, existing.ID, updates); err != nil {
				warnings = append(warnings, fmt.Sprintf("Failed to update project %q: %v", pExport.Name, err))
				continue
			}
			projectsUpdated++
		} else {
			color := "#6B7280"
			if pExport.Color != nil {
				color = *pExport.Color
			}

			isBillable := true
			if pExport.IsBillable != nil {
				isBillable = *pExport.IsBillable
			}

			isHiddenByDefault := false
			if pExport.IsHiddenByDefault != nil {
				isHiddenByDefault = *pExport.IsHiddenByDefault
			}

			doesNotAccumulateHours := false
			if pExport.DoesNotAccumulateHours != nil {
				doesNotAccumulateHours = *pExport.DoesNotAccumulateHours
			}

			var domains, emails, keywords []string
			if pExport.FingerprintDomains != nil {
				domains = *pExport.FingerprintDomains
			}
			if pExport.FingerprintEmails != nil {
				emails = *pExport.FingerprintEmails
			}
			if pExport.FingerprintKeywords != nil {
				keywords = *pExport.FingerprintKeywords
			}

			newProject, err := h.projects.Create(ctx, userID, pExport.Name, pExport.ShortCode, pExport.Client, color, isBillable, isHiddenByDefault, doesNotAccumulateHours, domains, emails, keywords)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("Failed to create project %q: %v", pExport.Name, err))
				continue
			}

			updates := projectExportToUpdates(&pExport)
			delete(updates, "fingerprint_domains")
			delete(updates, "fingerprint_emails")
			delete(updates, "fingerprint_keywords")
			if len(updates) > 0 {
				if _, err := h.projects.Update(ctx, userID, newProject.ID, updates); err != nil {
					warnings = append(warnings, fmt.Sprintf("Failed to update new project %q: %v", pExport.Name, err))
				}
			}

			projectIDsByName[pExport.Name] = newProject.ID.String()
			projectsCreated++
		}
	}

	existingProjects, err = h.projects.List(ctx, userID, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	projectIDsByName = make(map[string]string)
	for _, p := range existingProjects {
		projectIDsByName[p.Name] = p.ID.String()
	}

	existingRules, err := h.rules.List(ctx, userID, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	existingRulesByQuery := make(map[string]*store.ClassificationRule)
	for _, rl := range existingRules {
		existingRulesByQuery[rl.Query] = rl
	}

	for _, rExport := range body.Rules {
		if _, err := classification.Parse(rExport.Query); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid rule query %q: %v", rExport.Query, err))
			rulesSkipped++
			continue
		}

		isSkipRule := rExport.Skip != nil && *rExport.Skip

		var projectIDStr string
		if !isSkipRule {
			if rExport.ProjectName == nil || *rExport.ProjectName == "" {
				warnings = append(warnings, fmt.Sprintf("Rule %q has no project_name and is not a skip rule", rExport.Query))
				rulesSkipped++
				continue
			}
			projectIDStr = projectIDsByName[*rExport.ProjectName]
			if projectIDStr == "" {
				warnings = append(warnings, fmt.Sprintf("Rule %q references unknown project %q", rExport.Query, *rExport.ProjectName))
				rulesSkipped++
				continue
			}
		}

		if existing, ok := existingRulesByQuery[rExport.Query]; ok {
			if rExport.Weight != nil {
				existing.Weight = float64(*rExport.Weight)
			}
			if rExport.IsEnabled != nil {
				existing.IsEnabled = *rExport.IsEnabled
			}
			if isSkipRule {
				attended := false
				existing.Attended = &attended
				existing.ProjectID = nil
			} else if projectIDStr != "" {
				projectID, _ := uuid.Parse(projectIDStr)
				existing.ProjectID = &projectID
				existing.Attended = nil
			}

			if _, err := h.rules.Update(ctx, existing); err != nil {
				warnings = append(warnings, fmt.Sprintf("Failed to update rule %q: %v", rExport.Query, err))
				continue
			}
			rulesUpdated++
		} else {
			weight := 1.0
			if rExport.Weight != nil {
				weight = float64(*rExport.Weight)
			}

			isEnabled := true
			if rExport.IsEnabled != nil {
				isEnabled = *rExport.IsEnabled
			}

			newRule := &store.ClassificationRule{
				UserID:    userID,
				Query:     rExport.Query,
				Weight:    weight,
				IsEnabled: isEnabled,
			}

			if isSkipRule {
				attended := false
				newRule.Attended = &attended
			} else if projectIDStr != "" {
				projectID, _ := uuid.Parse(projectIDStr)
				newRule.ProjectID = &projectID
			}

			if _, err := h.rules.Create(ctx, newRule); err != nil {
				warnings = append(warnings, fmt.Sprintf("Failed to create rule %q: %v", rExport.Query, err))
				continue
			}
			rulesCreated++
		}
	}

	result := configImportResult{
		ProjectsCreated: projectsCreated,
		ProjectsUpdated: projectsUpdated,
		RulesCreated:    rulesCreated,
		RulesUpdated:    rulesUpdated,
	}

	if rulesSkipped > 0 {
		result.RulesSkipped = &rulesSkipped
	}
	if len(warnings) > 0 {
		result.Warnings = warnings
	}

	writeJSON(w, http.StatusOK, result)
}

// projectToExport converts a store.Project to a projectExport
func projectToExport(p *store.Project) projectExport {
	export := projectExport{
		Name:                   p.Name,
		ShortCode:              p.ShortCode,
		Client:                 p.Client,
		Color:                  &p.Color,
		IsBillable:             &p.IsBillable,
		IsArchived:             &p.IsArchived,
		IsHiddenByDefault:      &p.IsHiddenByDefault,
		DoesNotAccumulateHours: &p.DoesNotAccumulateHours,
	}

	if len(p.FingerprintDomains) > 0 {
		export.FingerprintDomains = &p.FingerprintDomains
	}
	if len(p.FingerprintEmails) > 0 {
		export.FingerprintEmails = &p.FingerprintEmails
	}
	if len(p.FingerprintKeywords) > 0 {
		export.FingerprintKeywords = &p.FingerprintKeywords
	}

	return export
}

// ruleToExport converts a store.ClassificationRule to a ruleExport
func ruleToExport(r *store.ClassificationRule, projectNames map[string]string) ruleExport {
	export := ruleExport{
		Query:     r.Query,
		Weight:    ptrFloat32(float32(r.Weight)),
		IsEnabled: &r.IsEnabled,
	}

	if r.Attended != nil && !*r.Attended {
		skip := true
		export.Skip = &skip
	} else if r.ProjectID != nil {
		if name, ok := projectNames[r.ProjectID.String()]; ok {
			export.ProjectName = &name
		}
	}

	return export
}

// projectExportToUpdates converts a projectExport to a map of updates
func projectExportToUpdates(p *projectExport) map[string]interface{} {
	updates := make(map[string]interface{})

	if p.ShortCode != nil {
		updates["short_code"] = *p.ShortCode
	}
	if p.Client != nil {
		updates["client"] = *p.Client
	}
	if p.Color != nil {
		updates["color"] = *p.Color
	}
	if p.IsBillable != nil {
		updates["is_billable"] = *p.IsBillable
	}
	if p.IsArchived != nil {
		updates["is_archived"] = *p.IsArchived
	}
	if p.IsHiddenByDefault != nil {
		updates["is_hidden_by_default"] = *p.IsHiddenByDefault
	}
	if p.DoesNotAccumulateHours != nil {
		updates["does_not_accumulate_hours"] = *p.DoesNotAccumulateHours
	}
	if p.FingerprintDomains != nil {
		updates["fingerprint_domains"] = *p.FingerprintDomains
	}
	if p.FingerprintEmails != nil {
		updates["fingerprint_emails"] = *p.FingerprintEmails
	}
	if p.FingerprintKeywords != nil {
		updates["fingerprint_keywords"] = *p.FingerprintKeywords
	}

	return updates
}

// ptrFloat32 returns a pointer to the given float32
func ptrFloat32(f float32) *float32 {
	return &f
}
