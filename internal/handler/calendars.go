package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/michaelwinser/timesheet-core/internal/classification"
	"github.com/michaelwinser/timesheet-core/internal/google"
	"github.com/michaelwinser/timesheet-core/internal/store"
	calsync "github.com/michaelwinser/timesheet-core/internal/sync"
	"github.com/michaelwinser/timesheet-core/internal/timeentry"
	gcal "google.golang.org/api/calendar/v3"
)

// CalendarHandler implements the calendar endpoints
type CalendarHandler struct {
	connections       *store.CalendarConnectionStore
	calendars         *store.CalendarStore
	events            *store.CalendarEventStore
	entries           *store.TimeEntryStore
	projects          *store.ProjectStore
	syncJobs          *store.SyncJobStore
	google            google.CalendarClient
	classificationSvc *classification.Service
	timeEntrySvc      *timeentry.Service
	stateMu           sync.RWMutex
	stateStore        map[string]uuid.UUID // In production, use Redis
}

// NewCalendarHandler creates a new calendar handler
func NewCalendarHandler(
	connections *store.CalendarConnectionStore,
	calendars *store.CalendarStore,
	events *store.CalendarEventStore,
	entries *store.TimeEntryStore,
	projects *store.ProjectStore,
	syncJobs *store.SyncJobStore,
	googleSvc google.CalendarClient,
	classificationSvc *classification.Service,
	timeEntrySvc *timeentry.Service,
) *CalendarHandler {
	return &CalendarHandler{
		connections:       connections,
		calendars:         calendars,
		events:            events,
		entries:           entries,
		projects:          projects,
		syncJobs:          syncJobs,
		google:            googleSvc,
		classificationSvc: classificationSvc,
		timeEntrySvc:      timeEntrySvc,
		stateStore:        make(map[string]uuid.UUID),
	}
}

// RunBackgroundSync enqueues sync jobs for every calendar across every user
// whose watermarks have gone stale. It satisfies sync.BackgroundSyncRunner;
// the actual Google API calls happen later, off the request path, when
// sync.JobWorker claims the jobs this enqueues.
func (h *CalendarHandler) RunBackgroundSync(ctx context.Context) error {
	stale, err := h.calendars.ListNeedingSync(ctx, calsync.StalenessThreshold)
	if err != nil {
		return err
	}

	if len(stale) == 0 {
		return nil
	}

	start, end := calsync.DefaultBackgroundWindow()

	enqueued := 0
	for _, cal := range stale {
		// Enqueue coalesces with whatever is already pending for this
		// calendar, so a calendar that's already queued just has its
		// window widened instead of gaining a second job.
		if _, err := h.syncJobs.Enqueue(ctx, cal.ID, store.SyncJobTypeExpandWatermarks, start, end); err != nil {
			log.Printf("Background sync: failed to enqueue job for calendar %s: %v", cal.ID, err)
			continue
		}
		enqueued++
	}

	log.Printf("Background sync: enqueued %d job(s) for %d stale calendar(s)", enqueued, len(stale))
	return nil
}

// HandleOAuthCallback processes the OAuth callback and returns an error message if failed
func (h *CalendarHandler) HandleOAuthCallback(ctx context.Context, code, state string) error {
	h.stateMu.Lock()
	userID, exists := h.stateStore[state]
	if exists {
		delete(h.stateStore, state)
	}
	h.stateMu.Unlock()

	if !exists {
		return errors.New("invalid or expired state parameter")
	}

	creds, err := h.google.ExchangeCode(ctx, code)
	if err != nil {
		return errors.New("failed to exchange authorization code")
	}

	_, err = h.connections.Create(ctx, userID, "google", *creds)
	if err != nil {
		if errors.Is(err, store.ErrCalendarAlreadyConnected) {
			return errors.New("Google Calendar is already connected")
		}
		return err
	}

	return nil
}

// GoogleAuthorize returns the OAuth URL
func (h *CalendarHandler) GoogleAuthorize(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	if h.google == nil {
		writeError(w, http.StatusUnauthorized, "not_configured", "Google Calendar integration is not configured")
		return
	}

	stateBytes := make([]byte, 16)
	rand.Read(stateBytes)
	state := hex.EncodeToString(stateBytes)

	h.stateMu.Lock()
	h.stateStore[state] = userID
	h.stateMu.Unlock()

	url := h.google.GetAuthURL(state)

	writeJSON(w, http.StatusOK, map[string]string{"url": url, "state": state})
}

// GoogleCallback handles OAuth callback
func (h *CalendarHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	h.stateMu.Lock()
	userID, exists := h.stateStore[state]
	if exists {
		delete(h.stateStore, state)
	}
	h.stateMu.Unlock()

	if !exists {
		writeError(w, http.StatusBadRequest, "invalid_state", "Invalid or expired state parameter")
		return
	}

	creds, err := h.google.ExchangeCode(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusBadRequest, "oauth_error", "Failed to exchange authorization code")
		return
	}

	conn, err := h.connections.Create(r.Context(), userID, "google", *creds)
	if err != nil {
		if errors.Is(err, store.ErrCalendarAlreadyConnected) {
			writeError(w, http.StatusBadRequest, "already_connected", "Google Calendar is already connected")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, calendarConnectionToAPI(conn))
}

// ListCalendarConnections returns all connections for the user
func (h *CalendarHandler) ListCalendarConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	connections, err := h.connections.List(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	result := make([]calendarConnectionDTO, len(connections))
	for i, c := range connections {
		result[i] = calendarConnectionToAPI(c)
	}

	writeJSON(w, http.StatusOK, result)
}

func connectionIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// DeleteCalendarConnection disconnects a calendar
func (h *CalendarHandler) DeleteCalendarConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := connectionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid connection id")
		return
	}

	if err := h.connections.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrCalendarConnectionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Calendar connection not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SyncCalendar triggers a sync for a connection (syncs all selected calendars)
func (h *CalendarHandler) SyncCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := connectionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid connection id")
		return
	}

	conn, err := h.connections.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, store.ErrCalendarConnectionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Calendar connection not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	creds := &conn.Credentials
	if time.Now().After(creds.Expiry.Add(-5 * time.Minute)) {
		newCreds, err := h.google.RefreshToken(ctx, creds)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		creds = newCreds
		h.connections.UpdateCredentials(ctx, conn.ID, *creds)
	}

	selectedCalendars, err := h.calendars.ListSelectedByConnection(ctx, conn.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	if len(selectedCalendars) == 0 {
		googleCals, err := h.google.ListCalendars(ctx, creds)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		for _, gc := range googleCals {
			cal := &store.Calendar{
				ConnectionID: conn.ID,
				UserID:       userID,
				ExternalID:   gc.ID,
				Name:         gc.Name,
				IsPrimary:    gc.IsPrimary,
				IsSelected:   gc.IsPrimary,
			}
			if gc.Color != "" {
				cal.Color = &gc.Color
			}
			h.calendars.Upsert(ctx, cal)
		}
		selectedCalendars, err = h.calendars.ListSelectedByConnection(ctx, conn.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
	}

	var minTime, maxTime *time.Time
	if startStr := r.URL.Query().Get("start_date"); startStr != "" {
		if t, err := time.Parse("2006-01-02", startStr); err == nil {
			minTime = &t
		}
	}
	if endStr := r.URL.Query().Get("end_date"); endStr != "" {
		if t, err := time.Parse("2006-01-02", endStr); err == nil {
			t = t.AddDate(0, 0, 1)
			maxTime = &t
		}
	}

	var totalCreated, totalUpdated, totalOrphaned int

	for _, cal := range selectedCalendars {
		created, updated, orphaned, err := h.syncSingleCalendar(ctx, creds, conn, cal, userID, minTime, maxTime)
		if err != nil {
			log.Printf("Failed to sync calendar %s: %v", cal.Name, err)
			continue
		}
		totalCreated += created
		totalUpdated += updated
		totalOrphaned += orphaned
	}

	h.connections.UpdateLastSynced(ctx, conn.ID)

	// Auto-apply classification rules to newly synced events. Manually
	// classified events are never force-reclassified here.
	if h.classificationSvc != nil {
		projects, err := h.projects.List(ctx, userID, true)
		if err != nil {
			log.Printf("Failed to fetch projects for classification: %v", err)
		} else {
			targets := projectsToTargetsWithNames(projects)
			result, err := h.classificationSvc.ApplyRules(ctx, userID, targets, nil, nil, false, false)
			if err != nil {
				log.Printf("Failed to apply classification rules after sync: %v", err)
			} else if len(result.Classified) > 0 {
				log.Printf("Auto-classified %d events after sync", len(result.Classified))
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"events_created":  totalCreated,
		"events_updated":  totalUpdated,
		"events_orphaned": totalOrphaned,
	})
}

// syncSingleCalendar syncs events from a single calendar
func (h *CalendarHandler) syncSingleCalendar(ctx context.Context, creds *store.OAuthCredentials, conn *store.CalendarConnection, cal *store.Calendar, userID uuid.UUID, minTime, maxTime *time.Time) (created, updated, orphaned int, err error) {
	var syncResult *google.SyncResult
	var syncMinTime, syncMaxTime time.Time

	isDefaultRangeSync := minTime == nil && maxTime == nil

	if cal.SyncToken != nil && *cal.SyncToken != "" {
		syncResult, err = h.google.FetchEventsIncremental(ctx, creds, cal.ExternalID, *cal.SyncToken)
		if err != nil {
			log.Printf("Incremental sync failed for calendar %s, falling back to full sync: %v", cal.Name, err)
			h.calendars.ClearSyncToken(ctx, cal.ID)
			syncResult = nil
			err = nil
		}
	}

	if syncResult == nil {
		syncMinTime = time.Now().AddDate(0, 0, -366)
		syncMaxTime = time.Now().AddDate(0, 0, 32)
		if minTime != nil {
			syncMinTime = *minTime
		}
		if maxTime != nil {
			syncMaxTime = *maxTime
		}

		syncResult, err = h.google.FetchEvents(ctx, creds, cal.ExternalID, syncMinTime, syncMaxTime)
		if err != nil {
			return 0, 0, 0, err
		}
	}

	externalIDs := make([]string, 0, len(syncResult.Events))

	for _, ge := range syncResult.Events {
		if ge.Status == "cancelled" {
			markErr := h.events.MarkOrphanedByExternalIDAndCalendar(ctx, cal.ID, ge.Id)
			if markErr != nil {
				log.Printf("Failed to mark event as orphaned: %v", markErr)
			}
			orphaned++
			continue
		}

		externalIDs = append(externalIDs, ge.Id)

		event := googleEventToStore(ge, conn.ID, cal.ID, userID)
		_, upsertErr := h.events.Upsert(ctx, event)
		if upsertErr != nil {
			return created, updated, orphaned, upsertErr
		}
		created++
	}

	if syncResult.FullSync && len(externalIDs) > 0 {
		orphanMinTime := syncMinTime
		orphanMaxTime := syncMaxTime

		if cal.MinSyncedDate != nil && cal.MinSyncedDate.Before(orphanMinTime) {
			orphanMinTime = *cal.MinSyncedDate
		}
		if cal.MaxSyncedDate != nil && cal.MaxSyncedDate.After(orphanMaxTime) {
			orphanMaxTime = *cal.MaxSyncedDate
		}

		if isDefaultRangeSync {
			orphanCount, markErr := h.events.MarkOrphanedInRangeExceptByCalendar(ctx, cal.ID, externalIDs, orphanMinTime, orphanMaxTime)
			if markErr != nil {
				return created, updated, orphaned, markErr
			}
			orphaned += int(orphanCount)
		} else {
			orphanCount, markErr := h.events.MarkOrphanedInRangeExceptByCalendar(ctx, cal.ID, externalIDs, syncMinTime, syncMaxTime)
			if markErr != nil {
				return created, updated, orphaned, markErr
			}
			orphaned += int(orphanCount)
		}
	}

	if syncResult.FullSync {
		h.calendars.ExpandSyncedWindow(ctx, cal.ID, syncMinTime, syncMaxTime)
	}

	if syncResult.NextSyncToken != "" {
		h.calendars.UpdateSyncToken(ctx, cal.ID, syncResult.NextSyncToken)
	}

	h.calendars.UpdateLastSynced(ctx, cal.ID)
	h.calendars.ResetSyncFailureCount(ctx, cal.ID)

	return created, updated, orphaned, nil
}

// ListCalendarSources returns all available calendars for a connection
func (h *CalendarHandler) ListCalendarSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := connectionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid connection id")
		return
	}

	conn, err := h.connections.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, store.ErrCalendarConnectionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Calendar connection not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	creds := &conn.Credentials
	if time.Now().After(creds.Expiry.Add(-5 * time.Minute)) {
		newCreds, err := h.google.RefreshToken(ctx, creds)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		creds = newCreds
		h.connections.UpdateCredentials(ctx, conn.ID, *creds)
	}

	googleCals, err := h.google.ListCalendars(ctx, creds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	for _, gc := range googleCals {
		cal := &store.Calendar{
			ConnectionID: conn.ID,
			UserID:       userID,
			ExternalID:   gc.ID,
			Name:         gc.Name,
			IsPrimary:    gc.IsPrimary,
			IsSelected:   gc.IsPrimary,
		}
		if gc.Color != "" {
			cal.Color = &gc.Color
		}
		h.calendars.Upsert(ctx, cal)
	}

	calendars, err := h.calendars.ListByConnection(ctx, conn.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	result := make([]calendarDTO, len(calendars))
	for i, c := range calendars {
		result[i] = calendarToAPI(c)
	}

	writeJSON(w, http.StatusOK, result)
}

type updateCalendarSourcesRequest struct {
	CalendarIDs []uuid.UUID `json:"calendar_ids"`
}

// UpdateCalendarSources updates which calendars are selected for sync
func (h *CalendarHandler) UpdateCalendarSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := connectionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid connection id")
		return
	}

	conn, err := h.connections.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, store.ErrCalendarConnectionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Calendar connection not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	var body updateCalendarSourcesRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body is required")
		return
	}

	if err := h.calendars.UpdateSelection(ctx, conn.ID, body.CalendarIDs); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	calendars, err := h.calendars.ListByConnection(ctx, conn.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	result := make([]calendarDTO, len(calendars))
	for i, c := range calendars {
		result[i] = calendarToAPI(c)
	}

	writeJSON(w, http.StatusOK, result)
}

// ListCalendarEvents returns events with filters
func (h *CalendarHandler) ListCalendarEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
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

	var status *store.ClassificationStatus
	if s := r.URL.Query().Get("classification_status"); s != "" {
		cs := store.ClassificationStatus(s)
		status = &cs
	}

	var connectionID *uuid.UUID
	if cidStr := r.URL.Query().Get("connection_id"); cidStr != "" {
		cid, err := uuid.Parse(cidStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid connection_id")
			return
		}
		connectionID = &cid
	}

	events, err := h.events.List(ctx, userID, startDate, endDate, status, connectionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	result := make([]calendarEventDTO, len(events))
	for i, e := range events {
		result[i] = calendarEventToAPI(e)
	}

	writeJSON(w, http.StatusOK, result)
}

func eventIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

type classifyEventRequest struct {
	ProjectID *uuid.UUID `json:"project_id"`
	Skip      *bool      `json:"skip"`
}

type classifyEventResponse struct {
	Event     calendarEventDTO `json:"event"`
	TimeEntry *timeEntryDTO    `json:"time_entry,omitempty"`
}

// ClassifyCalendarEvent classifies an event (assigns to project or skips)
func (h *CalendarHandler) ClassifyCalendarEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := eventIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid event id")
		return
	}

	event, err := h.events.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, store.ErrCalendarEventNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Calendar event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	var body classifyEventRequest
	_ = decodeBody(r, &body)

	isSkip := body.Skip != nil && *body.Skip
	var projectID *uuid.UUID
	if !isSkip && body.ProjectID != nil {
		projectID = body.ProjectID
	}

	if !isSkip && projectID == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Must provide project_id or set skip to true")
		return
	}

	updatedEvent, err := h.events.Classify(ctx, userID, id, projectID, isSkip)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	response := classifyEventResponse{Event: calendarEventToAPI(updatedEvent)}

	if err := h.classificationSvc.RecalculateTimeEntriesForEvent(ctx, userID, updatedEvent); err != nil {
		log.Printf("Failed to recalculate time entries for event %s: %v", id, err)
	}

	if !isSkip && projectID != nil {
		eventDate := time.Date(event.StartTime.Year(), event.StartTime.Month(), event.StartTime.Day(), 0, 0, 0, 0, time.UTC)
		entry, err := h.entries.GetByProjectAndDate(ctx, userID, *projectID, eventDate)
		if err == nil {
			apiEntry := timeEntryToAPI(entry, false)
			response.TimeEntry = &apiEntry
		}
	}

	writeJSON(w, http.StatusOK, response)
}

type bulkClassifyRequest struct {
	Query     string     `json:"query"`
	ProjectID *uuid.UUID `json:"project_id"`
	Skip      *bool      `json:"skip"`
}

type bulkClassifyResponse struct {
	ClassifiedCount    int `json:"classified_count"`
	SkippedCount       int `json:"skipped_count"`
	TimeEntriesUpdated int `json:"time_entries_updated"`
}

// BulkClassifyEvents classifies multiple events matching a query
func (h *CalendarHandler) BulkClassifyEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var body bulkClassifyRequest
	if err := decodeBody(r, &body); err != nil || body.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Query is required")
		return
	}

	isSkip := body.Skip != nil && *body.Skip
	if !isSkip && body.ProjectID == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Must provide project_id or set skip to true")
		return
	}

	preview, err := h.classificationSvc.PreviewRule(ctx, userID, body.Query, body.ProjectID, nil, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	var classifiedCount, skippedCount int
	affectedDates := make(map[time.Time]bool)

	for _, match := range preview.Matches {
		event, err := h.events.GetByID(ctx, userID, match.EventID)
		if err != nil {
			continue
		}

		if event.ClassificationSource != nil && *event.ClassificationSource == store.SourceManual {
			continue
		}

		_, err = h.events.Classify(ctx, userID, match.EventID, body.ProjectID, isSkip)
		if err != nil {
			continue
		}

		eventDate := time.Date(event.StartTime.Year(), event.StartTime.Month(), event.StartTime.Day(), 0, 0, 0, 0, time.UTC)
		affectedDates[eventDate] = true

		if isSkip {
			skippedCount++
		} else {
			classifiedCount++
		}
	}

	timeEntriesUpdated := 0
	for date := range affectedDates {
		if err := h.classificationSvc.RecalculateTimeEntries(ctx, userID, date); err == nil {
			timeEntriesUpdated++
		}
	}

	writeJSON(w, http.StatusOK, bulkClassifyResponse{
		ClassifiedCount:    classifiedCount,
		SkippedCount:       skippedCount,
		TimeEntriesUpdated: timeEntriesUpdated,
	})
}

type ruleEvaluationDTO struct {
	RuleID     string  `json:"rule_id"`
	Query      string  `json:"query"`
	TargetID   string  `json:"target_id"`
	TargetName *string `json:"target_name,omitempty"`
	Weight     float64 `json:"weight"`
	Source     string  `json:"source"`
	Matched    bool    `json:"matched"`
	ParseError *string `json:"parse_error,omitempty"`
}

type explanationResponse struct {
	Event       calendarEventDTO    `json:"event"`
	WinnerID    string              `json:"winner_target_id,omitempty"`
	Confidence  float64             `json:"confidence"`
	NeedsReview bool                `json:"needs_review"`
	Evaluations []ruleEvaluationDTO `json:"evaluations"`
}

// ExplainEventClassification explains how an event was or would be classified
func (h *CalendarHandler) ExplainEventClassification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := eventIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid event id")
		return
	}

	event, err := h.events.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, store.ErrCalendarEventNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Calendar event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	projects, err := h.projects.List(ctx, userID, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	targets := projectsToTargetsWithNames(projects)

	result, err := h.classificationSvc.ExplainEventClassification(ctx, userID, id, targets)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	projectNames := make(map[string]string)
	for _, p := range projects {
		projectNames[p.ID.String()] = p.Name
	}

	evaluations := make([]ruleEvaluationDTO, len(result.Evaluated))
	for i, eval := range result.Evaluated {
		dto := ruleEvaluationDTO{
			RuleID:   eval.RuleID,
			Query:    eval.Query,
			TargetID: eval.TargetID,
			Weight:   eval.Weight,
			Source:   string(eval.Source),
			Matched:  eval.Matched,
		}
		if name, ok := projectNames[eval.TargetID]; ok {
			dto.TargetName = &name
		}
		if eval.ParseError != "" {
			dto.ParseError = &eval.ParseError
		}
		evaluations[i] = dto
	}

	writeJSON(w, http.StatusOK, explanationResponse{
		Event:       calendarEventToAPI(event),
		WinnerID:    result.Result.TargetID,
		Confidence:  result.Result.Confidence,
		NeedsReview: result.Result.NeedsReview,
		Evaluations: evaluations,
	})
}

// projectsToTargetsWithNames creates classification targets with project names included
func projectsToTargetsWithNames(projects []*store.Project) []classification.Target {
	targets := make([]classification.Target, len(projects))
	for i, p := range projects {
		attrs := make(map[string]any)
		attrs["name"] = p.Name
		if len(p.FingerprintDomains) > 0 {
			attrs["domains"] = p.FingerprintDomains
		}
		if len(p.FingerprintEmails) > 0 {
			attrs["emails"] = p.FingerprintEmails
		}
		if len(p.FingerprintKeywords) > 0 {
			attrs["keywords"] = p.FingerprintKeywords
		}
		targets[i] = classification.Target{
			ID:         p.ID.String(),
			Attributes: attrs,
		}
	}
	return targets
}

type calendarConnectionDTO struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Provider     string     `json:"provider"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func calendarConnectionToAPI(c *store.CalendarConnection) calendarConnectionDTO {
	return calendarConnectionDTO{
		ID:           c.ID,
		UserID:       c.UserID,
		Provider:     c.Provider,
		LastSyncedAt: c.LastSyncedAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type calendarEventDTO struct {
	ID                       uuid.UUID  `json:"id"`
	ConnectionID             uuid.UUID  `json:"connection_id"`
	UserID                   uuid.UUID  `json:"user_id"`
	ExternalID               string     `json:"external_id"`
	Title                    string     `json:"title"`
	Description              *string    `json:"description,omitempty"`
	StartTime                time.Time  `json:"start_time"`
	EndTime                  time.Time  `json:"end_time"`
	Attendees                []string   `json:"attendees"`
	IsRecurring              bool       `json:"is_recurring"`
	ResponseStatus           *string    `json:"response_status,omitempty"`
	Transparency             *string    `json:"transparency,omitempty"`
	IsOrphaned               bool       `json:"is_orphaned"`
	IsSuppressed             bool       `json:"is_suppressed"`
	ClassificationStatus     string     `json:"classification_status"`
	ClassificationSource     *string    `json:"classification_source,omitempty"`
	ClassificationConfidence *float64   `json:"classification_confidence,omitempty"`
	IsSkipped                bool       `json:"is_skipped"`
	NeedsReview              bool       `json:"needs_review"`
	ProjectID                *uuid.UUID `json:"project_id,omitempty"`
	Project                  *projectDTO `json:"project,omitempty"`
	CalendarID               *string    `json:"calendar_id,omitempty"`
	CalendarName             *string    `json:"calendar_name,omitempty"`
	CalendarColor            *string    `json:"calendar_color,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

func calendarEventToAPI(e *store.CalendarEvent) calendarEventDTO {
	dto := calendarEventDTO{
		ID:                       e.ID,
		ConnectionID:             e.ConnectionID,
		UserID:                   e.UserID,
		ExternalID:               e.ExternalID,
		Title:                    e.Title,
		Description:              e.Description,
		StartTime:                e.StartTime,
		EndTime:                  e.EndTime,
		Attendees:                e.Attendees,
		IsRecurring:              e.IsRecurring,
		ResponseStatus:           e.ResponseStatus,
		Transparency:             e.Transparency,
		IsOrphaned:               e.IsOrphaned,
		IsSuppressed:             e.IsSuppressed,
		ClassificationStatus:     string(e.ClassificationStatus),
		IsSkipped:                e.IsSkipped,
		NeedsReview:              e.NeedsReview,
		ProjectID:                e.ProjectID,
		CalendarID:               e.CalendarExternalID,
		CalendarName:             e.CalendarName,
		CalendarColor:            e.CalendarColor,
		CreatedAt:                e.CreatedAt,
		UpdatedAt:                e.UpdatedAt,
	}
	if e.ClassificationSource != nil {
		src := string(*e.ClassificationSource)
		dto.ClassificationSource = &src
	}
	dto.ClassificationConfidence = e.ClassificationConfidence
	if e.Project != nil {
		proj := projectToAPI(e.Project)
		dto.Project = &proj
	}
	return dto
}

type calendarDTO struct {
	ID           uuid.UUID  `json:"id"`
	ConnectionID uuid.UUID  `json:"connection_id"`
	ExternalID   string     `json:"external_id"`
	Name         string     `json:"name"`
	Color        *string    `json:"color,omitempty"`
	IsPrimary    bool       `json:"is_primary"`
	IsSelected   bool       `json:"is_selected"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func calendarToAPI(c *store.Calendar) calendarDTO {
	return calendarDTO{
		ID:           c.ID,
		ConnectionID: c.ConnectionID,
		ExternalID:   c.ExternalID,
		Name:         c.Name,
		Color:        c.Color,
		IsPrimary:    c.IsPrimary,
		IsSelected:   c.IsSelected,
		LastSyncedAt: c.LastSyncedAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// googleEventToStore converts Google Calendar event to store model
func googleEventToStore(ge *gcal.Event, connID, calID uuid.UUID, userID uuid.UUID) *store.CalendarEvent {
	event := &store.CalendarEvent{
		ConnectionID:         connID,
		CalendarID:           &calID,
		UserID:               userID,
		ExternalID:           ge.Id,
		Title:                ge.Summary,
		ClassificationStatus: store.StatusPending,
	}

	if ge.Description != "" {
		event.Description = &ge.Description
	}

	if ge.Start != nil {
		if ge.Start.DateTime != "" {
			event.StartTime, _ = time.Parse(time.RFC3339, ge.Start.DateTime)
		} else if ge.Start.Date != "" {
			event.StartTime, _ = time.Parse("2006-01-02", ge.Start.Date)
		}
	}

	if ge.End != nil {
		if ge.End.DateTime != "" {
			event.EndTime, _ = time.Parse(time.RFC3339, ge.End.DateTime)
		} else if ge.End.Date != "" {
			event.EndTime, _ = time.Parse("2006-01-02", ge.End.Date)
		}
	}

	for _, a := range ge.Attendees {
		event.Attendees = append(event.Attendees, a.Email)
		if a.Self && a.ResponseStatus != "" {
			event.ResponseStatus = &a.ResponseStatus
		}
	}

	event.IsRecurring = ge.RecurringEventId != ""

	if ge.Transparency != "" {
		event.Transparency = &ge.Transparency
	}

	return event
}
