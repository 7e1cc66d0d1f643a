package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrTimeEntryNotFound = errors.New("time entry not found")
	ErrTimeEntryInvoiced = errors.New("time entry is invoiced")
	ErrTimeEntryLocked   = errors.New("time entry is locked")
)

// TimeEntry represents a stored time entry. A row may be purely computed
// (materialized by the analyzer, never touched by a user), purely manual, or
// a blend: a computed entry the user pinned, locked, annotated, or edited.
type TimeEntry struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ProjectID   uuid.UUID
	Date        time.Time
	Hours       decimal.Decimal
	Title       *string
	Description *string
	Source      string
	InvoiceID   *uuid.UUID

	HasUserEdits bool
	IsPinned     bool
	IsLocked     bool
	IsStale      bool
	IsSuppressed bool

	// Computed fields, refreshed by the materializer on every recompute.
	ComputedHours          *decimal.Decimal
	ComputedTitle          *string
	ComputedDescription    *string
	CalculationDetails     []byte
	ContributingEventIDs   []uuid.UUID
	SnapshotComputedHours  *decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time

	// Joined data
	Project *Project
}

// MergedEntry is a TimeEntry that may or may not yet be materialized: the
// ephemeral-by-default read (timeentry.Service.ListMerged) returns one of
// these per (project, date) whether or not a row was ever stored.
type MergedEntry struct {
	TimeEntry
	IsEphemeral bool
}

// Stale reports whether a materialized entry's manually-held hours have
// drifted from what the analyzer would compute today. Only meaningful for
// rows the user has edited; computed-only rows are never stale, they just
// get overwritten.
func Stale(e *TimeEntry) bool {
	if !e.HasUserEdits || e.ComputedHours == nil || e.SnapshotComputedHours == nil {
		return false
	}
	return !e.ComputedHours.Equal(*e.SnapshotComputedHours)
}

// TimeEntryStore provides PostgreSQL-backed time entry storage
type TimeEntryStore struct {
	pool *pgxpool.Pool
}

// NewTimeEntryStore creates a new PostgreSQL time entry store
func NewTimeEntryStore(pool *pgxpool.Pool) *TimeEntryStore {
	return &TimeEntryStore{pool: pool}
}

const timeEntryColumns = `
	id, user_id, project_id, date, hours, title, description, source, invoice_id,
	has_user_edits, is_pinned, is_locked, is_stale, is_suppressed,
	computed_hours, computed_title, computed_description, calculation_details,
	contributing_event_ids, snapshot_computed_hours, created_at, updated_at
`

func scanTimeEntry(row pgx.Row, e *TimeEntry) error {
	return row.Scan(
		&e.ID, &e.UserID, &e.ProjectID, &e.Date, &e.Hours, &e.Title, &e.Description, &e.Source, &e.InvoiceID,
		&e.HasUserEdits, &e.IsPinned, &e.IsLocked, &e.IsStale, &e.IsSuppressed,
		&e.ComputedHours, &e.ComputedTitle, &e.ComputedDescription, &e.CalculationDetails,
		&e.ContributingEventIDs, &e.SnapshotComputedHours, &e.CreatedAt, &e.UpdatedAt,
	)
}

// Create adds a manual time entry, or adds hours to an existing entry for the
// same project/date.
func (s *TimeEntryStore) Create(ctx context.Context, userID, projectID uuid.UUID, date time.Time, hours decimal.Decimal, description *string) (*TimeEntry, error) {
	entry := &TimeEntry{
		ID:           uuid.New(),
		UserID:       userID,
		ProjectID:    projectID,
		Date:         date,
		Hours:        hours,
		Description:  description,
		Source:       "manual",
		HasUserEdits: true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO time_entries (id, user_id, project_id, date, hours, description, source, has_user_edits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, project_id, date) DO UPDATE SET
			hours = time_entries.hours + EXCLUDED.hours,
			description = COALESCE(EXCLUDED.description, time_entries.description),
			has_user_edits = true,
			updated_at = EXCLUDED.updated_at
	`, entry.ID, entry.UserID, entry.ProjectID, entry.Date, entry.Hours,
		entry.Description, entry.Source, entry.HasUserEdits, entry.CreatedAt, entry.UpdatedAt)

	if err != nil {
		return nil, err
	}

	return s.GetByProjectAndDate(ctx, userID, projectID, date)
}

// GetByID retrieves a time entry by ID for a specific user
func (s *TimeEntryStore) GetByID(ctx context.Context, userID, entryID uuid.UUID) (*TimeEntry, error) {
	entry := &TimeEntry{}
	err := scanTimeEntry(s.pool.QueryRow(ctx, `
		SELECT `+timeEntryColumns+`
		FROM time_entries WHERE id = $1 AND user_id = $2
	`, entryID, userID), entry)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTimeEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// GetByProjectAndDate retrieves a time entry by project and date
func (s *TimeEntryStore) GetByProjectAndDate(ctx context.Context, userID, projectID uuid.UUID, date time.Time) (*TimeEntry, error) {
	entry := &TimeEntry{}
	err := scanTimeEntry(s.pool.QueryRow(ctx, `
		SELECT `+timeEntryColumns+`
		FROM time_entries WHERE user_id = $1 AND project_id = $2 AND date = $3
	`, userID, projectID, date), entry)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTimeEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// List retrieves materialized time entries for a user with optional filters.
// This does not fill ephemeral gaps; see timeentry.Service.ListMerged for that.
func (s *TimeEntryStore) List(ctx context.Context, userID uuid.UUID, startDate, endDate *time.Time, projectID *uuid.UUID) ([]*TimeEntry, error) {
	query := `
		SELECT ` + timeEntryColumnsJoined() + `,
		       p.id, p.user_id, p.name, p.short_code, p.color, p.is_billable, p.is_archived,
		       p.is_hidden_by_default, p.does_not_accumulate_hours, p.created_at, p.updated_at
		FROM time_entries te
		JOIN projects p ON te.project_id = p.id
		WHERE te.user_id = $1
	`
	args := []interface{}{userID}
	argNum := 2

	if startDate != nil {
		query += fmt.Sprintf(" AND te.date >= $%d", argNum)
		args = append(args, *startDate)
		argNum++
	}
	if endDate != nil {
		query += fmt.Sprintf(" AND te.date <= $%d", argNum)
		args = append(args, *endDate)
		argNum++
	}
	if projectID != nil {
		query += fmt.Sprintf(" AND te.project_id = $%d", argNum)
		args = append(args, *projectID)
	}

	query += " ORDER BY te.date DESC, p.name"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*TimeEntry
	for rows.Next() {
		e := &TimeEntry{Project: &Project{}}
		err := rows.Scan(
			&e.ID, &e.UserID, &e.ProjectID, &e.Date, &e.Hours, &e.Title, &e.Description, &e.Source, &e.InvoiceID,
			&e.HasUserEdits, &e.IsPinned, &e.IsLocked, &e.IsStale, &e.IsSuppressed,
			&e.ComputedHours, &e.ComputedTitle, &e.ComputedDescription, &e.CalculationDetails,
			&e.ContributingEventIDs, &e.SnapshotComputedHours, &e.CreatedAt, &e.UpdatedAt,
			&e.Project.ID, &e.Project.UserID, &e.Project.Name, &e.Project.ShortCode,
			&e.Project.Color, &e.Project.IsBillable, &e.Project.IsArchived,
			&e.Project.IsHiddenByDefault, &e.Project.DoesNotAccumulateHours,
			&e.Project.CreatedAt, &e.Project.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// timeEntryColumnsJoined returns the column list prefixed with the "te" alias
// used by queries that join against projects.
func timeEntryColumnsJoined() string {
	return `te.id, te.user_id, te.project_id, te.date, te.hours, te.title, te.description, te.source, te.invoice_id,
	       te.has_user_edits, te.is_pinned, te.is_locked, te.is_stale, te.is_suppressed,
	       te.computed_hours, te.computed_title, te.computed_description, te.calculation_details,
	       te.contributing_event_ids, te.snapshot_computed_hours, te.created_at, te.updated_at`
}

// Update modifies the user-editable fields of an existing time entry.
// Editing a computed entry promotes it: has_user_edits becomes true and its
// snapshot is taken so future staleness can be detected.
func (s *TimeEntryStore) Update(ctx context.Context, userID, entryID uuid.UUID, hours *decimal.Decimal, description *string) (*TimeEntry, error) {
	entry, err := s.GetByID(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	if entry.IsLocked {
		return nil, ErrTimeEntryLocked
	}
	if entry.InvoiceID != nil {
		return nil, ErrTimeEntryInvoiced
	}

	now := time.Now().UTC()
	if hours != nil {
		entry.Hours = *hours
	}
	if description != nil {
		entry.Description = description
	}
	entry.HasUserEdits = true
	entry.UpdatedAt = now

	_, err = s.pool.Exec(ctx, `
		UPDATE time_entries
		SET hours = $3, description = $4, has_user_edits = true, is_stale = false,
		    snapshot_computed_hours = computed_hours, updated_at = $5
		WHERE id = $1 AND user_id = $2
	`, entryID, userID, entry.Hours, entry.Description, now)

	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, userID, entryID)
}

// SetProtection updates the pinned/locked flags on an entry.
func (s *TimeEntryStore) SetProtection(ctx context.Context, userID, entryID uuid.UUID, isPinned, isLocked *bool) (*TimeEntry, error) {
	entry, err := s.GetByID(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	if isPinned != nil {
		entry.IsPinned = *isPinned
	}
	if isLocked != nil {
		entry.IsLocked = *isLocked
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE time_entries SET is_pinned = $3, is_locked = $4, updated_at = $5
		WHERE id = $1 AND user_id = $2
	`, entryID, userID, entry.IsPinned, entry.IsLocked, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, userID, entryID)
}

// Delete removes a time entry
func (s *TimeEntryStore) Delete(ctx context.Context, userID, entryID uuid.UUID) error {
	entry, err := s.GetByID(ctx, userID, entryID)
	if err != nil {
		return err
	}
	if entry.InvoiceID != nil {
		return ErrTimeEntryInvoiced
	}

	result, err := s.pool.Exec(ctx,
		"DELETE FROM time_entries WHERE id = $1 AND user_id = $2",
		entryID, userID,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrTimeEntryNotFound
	}

	return nil
}

// UpsertFromComputed writes a freshly analyzer-computed entry. If no row
// exists yet it is created with source="computed"; if a row already exists
// with has_user_edits=true, only the computed_* audit columns,
// calculation_details, contributing_event_ids and is_stale (user hours differ
// from the new computed hours) are written, and the user's own
// hours/title/description are left untouched. Stale() derives staleness from
// computed_hours against snapshot_computed_hours.
func (s *TimeEntryStore) UpsertFromComputed(ctx context.Context, userID, projectID uuid.UUID, date time.Time, hours decimal.Decimal, title, description string, details []byte, eventIDs []uuid.UUID) (*TimeEntry, error) {
	id := uuid.New()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO time_entries (
			id, user_id, project_id, date, hours, title, description, source,
			computed_hours, computed_title, computed_description, calculation_details,
			contributing_event_ids, snapshot_computed_hours, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'computed', $5, $6, $7, $8, $9, $5, $10, $10)
		ON CONFLICT (user_id, project_id, date) DO UPDATE SET
			computed_hours = EXCLUDED.computed_hours,
			computed_title = EXCLUDED.computed_title,
			computed_description = EXCLUDED.computed_description,
			calculation_details = EXCLUDED.calculation_details,
			contributing_event_ids = EXCLUDED.contributing_event_ids,
			is_stale = (time_entries.has_user_edits AND time_entries.hours <> EXCLUDED.computed_hours),
			hours = CASE WHEN time_entries.has_user_edits THEN time_entries.hours ELSE EXCLUDED.computed_hours END,
			title = CASE WHEN time_entries.has_user_edits THEN time_entries.title ELSE EXCLUDED.title END,
			description = CASE WHEN time_entries.has_user_edits THEN time_entries.description ELSE EXCLUDED.description END,
			updated_at = $10
	`, id, userID, projectID, date, hours, title, description, details, eventIDs, now)

	if err != nil {
		return nil, err
	}

	return s.GetByProjectAndDate(ctx, userID, projectID, date)
}

// UpdateComputed overwrites the computed audit fields of an existing entry
// with the given values and marks it stale, without touching the user-held
// hours. The materializer calls it with zero hours and empty details when a
// protected entry's backing events have disappeared.
func (s *TimeEntryStore) UpdateComputed(ctx context.Context, userID, entryID uuid.UUID, hours decimal.Decimal, title, description string, details []byte, eventIDs []uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE time_entries
		SET computed_hours = $3, computed_title = $4, computed_description = $5,
		    calculation_details = $6, contributing_event_ids = $7, is_stale = true, updated_at = $8
		WHERE id = $1 AND user_id = $2
	`, entryID, userID, hours, title, description, details, eventIDs, time.Now().UTC())
	return err
}

// RefreshComputedValues updates only computed_hours ahead of a user edit, so
// the edit's snapshot_computed_hours (set in Update) reflects the calendar's
// current state rather than a value that may have gone stale since the row
// was last materialized.
func (s *TimeEntryStore) RefreshComputedValues(ctx context.Context, userID, entryID uuid.UUID, computedHours decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE time_entries SET computed_hours = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2
	`, entryID, userID, computedHours, time.Now().UTC())
	return err
}

// ResetToComputed discards any user edits on an entry, snapping its stored
// hours/title/description back to freshly computed values and clearing
// has_user_edits/is_stale so the row behaves as purely computed again.
func (s *TimeEntryStore) ResetToComputed(ctx context.Context, userID, entryID uuid.UUID, hours decimal.Decimal, title, description string, details []byte, eventIDs []uuid.UUID) (*TimeEntry, error) {
	if entry, err := s.GetByID(ctx, userID, entryID); err == nil && entry.InvoiceID != nil {
		return nil, ErrTimeEntryInvoiced
	} else if err != nil {
		return nil, err
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE time_entries
		SET hours = $3, title = $4, description = $5,
		    computed_hours = $3, computed_title = $4, computed_description = $5,
		    calculation_details = $6, contributing_event_ids = $7,
		    snapshot_computed_hours = $3, has_user_edits = false, is_stale = false,
		    updated_at = $8
		WHERE id = $1 AND user_id = $2
	`, entryID, userID, hours, title, description, details, eventIDs, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, userID, entryID)
}
