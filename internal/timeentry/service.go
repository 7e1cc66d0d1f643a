// Package timeentry provides the orchestration layer for computing and persisting time entries.
// It uses the analyzer package for pure computation and the store for persistence.
package timeentry

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/michaelwinser/timesheet-core/internal/analyzer"
	"github.com/michaelwinser/timesheet-core/internal/store"
)

// EventStore defines the interface for calendar event storage operations.
type EventStore interface {
	List(ctx context.Context, userID uuid.UUID, startDate, endDate *time.Time, status *store.ClassificationStatus, connectionID *uuid.UUID) ([]*store.CalendarEvent, error)
}

// TimeEntryStore defines the interface for time entry storage operations.
type TimeEntryStore interface {
	List(ctx context.Context, userID uuid.UUID, startDate, endDate *time.Time, projectID *uuid.UUID) ([]*store.TimeEntry, error)
	GetByProjectAndDate(ctx context.Context, userID, projectID uuid.UUID, date time.Time) (*store.TimeEntry, error)
	UpsertFromComputed(ctx context.Context, userID, projectID uuid.UUID, date time.Time, hours decimal.Decimal, title, description string, details []byte, eventIDs []uuid.UUID) (*store.TimeEntry, error)
	UpdateComputed(ctx context.Context, userID uuid.UUID, entryID uuid.UUID, hours decimal.Decimal, title, description string, details []byte, eventIDs []uuid.UUID) error
	Delete(ctx context.Context, userID, entryID uuid.UUID) error
}

// Service orchestrates time entry computation and persistence.
type Service struct {
	pool           *pgxpool.Pool
	eventStore     EventStore
	timeEntryStore TimeEntryStore
	roundingConfig analyzer.RoundingConfig
}

// NewService creates a new time entry service.
func NewService(pool *pgxpool.Pool, eventStore *store.CalendarEventStore, timeEntryStore *store.TimeEntryStore) *Service {
	return &Service{
		pool:           pool,
		eventStore:     eventStore,
		timeEntryStore: timeEntryStore,
		roundingConfig: analyzer.DefaultRoundingConfig(),
	}
}

// advisoryLockKey derives a stable int64 key for pg_advisory_xact_lock from a
// (user, date) pair, serializing concurrent recomputes of the same day.
func advisoryLockKey(userID uuid.UUID, date time.Time) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID.String() + "|" + date.Format("2006-01-02")))
	return int64(h.Sum64())
}

// RecalculateForDate recomputes all time entries for a specific date.
// This is called after calendar sync or event classification changes. The
// whole recompute runs inside a transaction holding a per-(user,date)
// Postgres advisory lock, so concurrent triggers for the same day serialize
// instead of racing each other's upserts.
func (s *Service) RecalculateForDate(ctx context.Context, userID uuid.UUID, date time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey(userID, date)); err != nil {
		return err
	}

	if err := s.recalculateForDateLocked(ctx, userID, date); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Service) recalculateForDateLocked(ctx context.Context, userID uuid.UUID, date time.Time) error {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	endOfDay := startOfDay.AddDate(0, 0, 1)

	computed, err := s.computeForDate(ctx, userID, startOfDay, endOfDay)
	if err != nil {
		return err
	}

	computedProjects := make(map[uuid.UUID]bool, len(computed))
	for _, c := range computed {
		computedProjects[c.ProjectID] = true

		details, err := json.Marshal(c.CalculationDetails)
		if err != nil {
			return err
		}

		_, err = s.timeEntryStore.UpsertFromComputed(
			ctx, userID, c.ProjectID, c.Date, c.Hours, c.Title, c.Description, details, c.ContributingEvents,
		)
		if err != nil {
			return err
		}
	}

	existingEntries, err := s.timeEntryStore.List(ctx, userID, &startOfDay, &startOfDay, nil)
	if err != nil {
		return err
	}

	for _, entry := range existingEntries {
		if entry.IsSuppressed {
			// User asked never to recreate this row; recompute must not touch it.
			continue
		}
		if computedProjects[entry.ProjectID] {
			continue
		}

		if isProtected(entry) {
			emptyDetails, _ := json.Marshal(map[string]interface{}{
				"events":        []interface{}{},
				"union_minutes": 0,
				"final_minutes": 0,
				"rounding":      "none",
			})
			if err := s.timeEntryStore.UpdateComputed(ctx, userID, entry.ID, decimal.Zero, "", "", emptyDetails, []uuid.UUID{}); err != nil {
				return err
			}
			continue
		}

		if err := s.timeEntryStore.Delete(ctx, userID, entry.ID); err != nil {
			return err
		}
	}

	return nil
}

// isProtected implements the protection predicate: pinned, locked, invoiced,
// or user-edited rows survive recompute instead of being deleted when their
// backing events disappear.
func isProtected(entry *store.TimeEntry) bool {
	return entry.IsPinned || entry.IsLocked || entry.InvoiceID != nil || entry.HasUserEdits
}

// computeForDate loads classified events in [start, end) and runs the pure
// analyzer over them, grouped by project.
func (s *Service) computeForDate(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]analyzer.ComputedTimeEntry, error) {
	classifiedStatus := store.StatusClassified
	events, err := s.eventStore.List(ctx, userID, &start, &start, &classifiedStatus, nil)
	if err != nil {
		return nil, err
	}

	analyzerEvents := make([]analyzer.Event, 0, len(events))
	for _, e := range events {
		if e.ProjectID == nil || !e.StartTime.Before(end) || e.IsSkipped {
			continue
		}
		analyzerEvents = append(analyzerEvents, analyzer.Event{
			ID:        e.ID,
			ProjectID: *e.ProjectID,
			Title:     e.Title,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
			IsAllDay:  e.IsAllDay,
		})
	}

	return analyzer.Compute(userID, start, analyzerEvents, s.roundingConfig), nil
}

// RecalculateForDateRange recomputes time entries for a range of dates.
// Used after bulk operations like calendar sync.
func (s *Service) RecalculateForDateRange(ctx context.Context, userID uuid.UUID, startDate, endDate time.Time) error {
	current := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(endDate.Year(), endDate.Month(), endDate.Day(), 0, 0, 0, 0, time.UTC)

	for !current.After(end) {
		if err := s.RecalculateForDate(ctx, userID, current); err != nil {
			return err
		}
		current = current.AddDate(0, 0, 1)
	}

	return nil
}

// RecalculateForEvent recomputes the time entry affected by a specific event.
// Called after a single event is classified.
func (s *Service) RecalculateForEvent(ctx context.Context, userID uuid.UUID, event *store.CalendarEvent) error {
	eventDate := time.Date(
		event.StartTime.Year(), event.StartTime.Month(), event.StartTime.Day(),
		0, 0, 0, 0, time.UTC,
	)

	return s.RecalculateForDate(ctx, userID, eventDate)
}

// ListMerged implements the ephemeral-by-default read: materialized rows take
// precedence per (project_id, date); the pure computer fills gaps for dates
// with classified events but no stored row. Every returned entry carries
// current computed_hours from a fresh analyzer.Compute pass, so staleness can
// always be judged against what the calendar says right now.
func (s *Service) ListMerged(ctx context.Context, userID uuid.UUID, start, end time.Time, projectID *uuid.UUID) ([]store.MergedEntry, error) {
	materialized, err := s.timeEntryStore.List(ctx, userID, &start, &end, projectID)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*store.TimeEntry, len(materialized))
	for _, e := range materialized {
		byKey[mergeKey(e.ProjectID, e.Date)] = e
	}

	merged := make([]store.MergedEntry, 0, len(materialized))
	for _, e := range materialized {
		merged = append(merged, store.MergedEntry{TimeEntry: *e})
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dayStart := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		dayEnd := dayStart.AddDate(0, 0, 1)

		computed, err := s.computeForDate(ctx, userID, dayStart, dayEnd)
		if err != nil {
			return nil, err
		}

		for _, c := range computed {
			if projectID != nil && c.ProjectID != *projectID {
				continue
			}
			if _, exists := byKey[mergeKey(c.ProjectID, dayStart)]; exists {
				continue
			}

			details, _ := json.Marshal(c.CalculationDetails)
			computedHours := c.Hours
			computedTitle := c.Title
			computedDescription := c.Description
			merged = append(merged, store.MergedEntry{
				IsEphemeral: true,
				TimeEntry: store.TimeEntry{
					ID:                   c.ID,
					UserID:               userID,
					ProjectID:            c.ProjectID,
					Date:                 dayStart,
					Hours:                c.Hours,
					ComputedHours:        &computedHours,
					Source:               "computed",
					ComputedTitle:        &computedTitle,
					ComputedDescription:  &computedDescription,
					CalculationDetails:   details,
					ContributingEventIDs: c.ContributingEvents,
				},
			})
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Date.Equal(merged[j].Date) {
			return merged[i].Date.Before(merged[j].Date)
		}
		return merged[i].ProjectID.String() < merged[j].ProjectID.String()
	})

	return merged, nil
}

func mergeKey(projectID uuid.UUID, date time.Time) string {
	return projectID.String() + "|" + date.Format("2006-01-02")
}

// ComputeForProjectAndDate computes time entry values for a specific project and date
// without persisting them. Used for auto-populating create forms and refresh operations.
// Returns nil if no classified events exist for the project on that date.
func (s *Service) ComputeForProjectAndDate(ctx context.Context, userID, projectID uuid.UUID, date time.Time) (*analyzer.ComputedTimeEntry, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	endOfDay := startOfDay.AddDate(0, 0, 1)

	computed, err := s.computeForDate(ctx, userID, startOfDay, endOfDay)
	if err != nil {
		return nil, err
	}

	for _, c := range computed {
		if c.ProjectID == projectID {
			return &c, nil
		}
	}

	return nil, nil
}
