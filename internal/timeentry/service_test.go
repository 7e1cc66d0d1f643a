package timeentry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/michaelwinser/timesheet-core/internal/store"
)

// mockEventStore implements EventStore for testing.
type mockEventStore struct {
	events []*store.CalendarEvent
}

func (m *mockEventStore) List(ctx context.Context, userID uuid.UUID, startDate, endDate *time.Time, status *store.ClassificationStatus, connectionID *uuid.UUID) ([]*store.CalendarEvent, error) {
	var result []*store.CalendarEvent
	for _, e := range m.events {
		if status != nil && e.ClassificationStatus != *status {
			continue
		}
		if startDate != nil && e.StartTime.Before(*startDate) {
			continue
		}
		if endDate != nil && e.StartTime.After(endDate.AddDate(0, 0, 1)) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// mockTimeEntryStore implements TimeEntryStore for testing.
type mockTimeEntryStore struct {
	entries        []*store.TimeEntry
	upsertedCount  int
	deletedIDs     []uuid.UUID
	updatedCompIDs []uuid.UUID
}

func (m *mockTimeEntryStore) List(ctx context.Context, userID uuid.UUID, startDate, endDate *time.Time, projectID *uuid.UUID) ([]*store.TimeEntry, error) {
	var result []*store.TimeEntry
	for _, e := range m.entries {
		if startDate != nil && e.Date.Before(*startDate) {
			continue
		}
		if endDate != nil && e.Date.After(*endDate) {
			continue
		}
		if projectID != nil && e.ProjectID != *projectID {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (m *mockTimeEntryStore) GetByProjectAndDate(ctx context.Context, userID, projectID uuid.UUID, date time.Time) (*store.TimeEntry, error) {
	for _, e := range m.entries {
		if e.ProjectID == projectID && e.Date.Equal(date) {
			return e, nil
		}
	}
	return nil, nil
}

func (m *mockTimeEntryStore) UpsertFromComputed(ctx context.Context, userID, projectID uuid.UUID, date time.Time, hours decimal.Decimal, title, description string, details []byte, eventIDs []uuid.UUID) (*store.TimeEntry, error) {
	m.upsertedCount++
	for _, e := range m.entries {
		if e.ProjectID == projectID && e.Date.Equal(date) {
			e.Hours = hours
			e.ComputedHours = &hours
			return e, nil
		}
	}
	entry := &store.TimeEntry{
		ID:            uuid.New(),
		UserID:        userID,
		ProjectID:     projectID,
		Date:          date,
		Hours:         hours,
		ComputedHours: &hours,
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *mockTimeEntryStore) UpdateComputed(ctx context.Context, userID uuid.UUID, entryID uuid.UUID, hours decimal.Decimal, title, description string, details []byte, eventIDs []uuid.UUID) error {
	m.updatedCompIDs = append(m.updatedCompIDs, entryID)
	for _, e := range m.entries {
		if e.ID == entryID {
			e.ComputedHours = &hours
			e.IsStale = true
			return nil
		}
	}
	return nil
}

func (m *mockTimeEntryStore) Delete(ctx context.Context, userID, entryID uuid.UUID) error {
	m.deletedIDs = append(m.deletedIDs, entryID)
	for i, e := range m.entries {
		if e.ID == entryID {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// classifiedEvent builds a calendar event already classified to a project,
// the only shape recalculateForDateLocked's computeForDate pulls in.
func classifiedEvent(userID, projectID uuid.UUID, date time.Time, title string, startHour, endHour int) *store.CalendarEvent {
	return &store.CalendarEvent{
		ID:                   uuid.New(),
		UserID:               userID,
		Title:                title,
		StartTime:            date.Add(time.Duration(startHour) * time.Hour),
		EndTime:              date.Add(time.Duration(endHour) * time.Hour),
		ClassificationStatus: store.StatusClassified,
		ProjectID:            &projectID,
	}
}

func TestRecalculateForDate_ReclassifyEvent(t *testing.T) {
	// Event reclassified from Project A to Project B: the Project A entry
	// should be deleted and a Project B entry created.
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	projectA := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	projectB := uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	entryAID := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	eventStore := &mockEventStore{
		events: []*store.CalendarEvent{
			classifiedEvent(userID, projectB, date, "Meeting", 9, 10),
		},
	}

	entryStore := &mockTimeEntryStore{
		entries: []*store.TimeEntry{
			{ID: entryAID, UserID: userID, ProjectID: projectA, Date: date, Hours: decimal.NewFromFloat(1.0)},
		},
	}

	svc := &Service{eventStore: eventStore, timeEntryStore: entryStore}

	if err := svc.recalculateForDateLocked(context.Background(), userID, date); err != nil {
		t.Fatalf("RecalculateForDate() error = %v", err)
	}

	if len(entryStore.deletedIDs) != 1 {
		t.Errorf("Expected 1 deleted entry, got %d", len(entryStore.deletedIDs))
	}
	if len(entryStore.deletedIDs) > 0 && entryStore.deletedIDs[0] != entryAID {
		t.Errorf("Expected entry %s to be deleted, got %s", entryAID, entryStore.deletedIDs[0])
	}

	if entryStore.upsertedCount != 1 {
		t.Errorf("Expected 1 upserted entry, got %d", entryStore.upsertedCount)
	}

	var projectBEntry *store.TimeEntry
	for _, e := range entryStore.entries {
		if e.ProjectID == projectB {
			projectBEntry = e
		}
		if e.ProjectID == projectA {
			t.Errorf("Project A entry should not exist after reclassification")
		}
	}
	if projectBEntry == nil {
		t.Errorf("Project B entry should exist after reclassification")
	}
}

func TestRecalculateForDate_ProtectedEntryNotDeleted(t *testing.T) {
	// Pinned entry for an orphaned project: marked stale with zeroed computed
	// values instead of deleted.
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	projectA := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	projectB := uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	entryAID := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	eventStore := &mockEventStore{
		events: []*store.CalendarEvent{
			classifiedEvent(userID, projectB, date, "Meeting", 9, 10),
		},
	}

	entryStore := &mockTimeEntryStore{
		entries: []*store.TimeEntry{
			{ID: entryAID, UserID: userID, ProjectID: projectA, Date: date, Hours: decimal.NewFromFloat(1.0), IsPinned: true},
		},
	}

	svc := &Service{eventStore: eventStore, timeEntryStore: entryStore}

	if err := svc.recalculateForDateLocked(context.Background(), userID, date); err != nil {
		t.Fatalf("RecalculateForDate() error = %v", err)
	}

	if len(entryStore.deletedIDs) != 0 {
		t.Errorf("Expected 0 deleted entries (pinned entry protected), got %d", len(entryStore.deletedIDs))
	}
	if len(entryStore.updatedCompIDs) != 1 {
		t.Errorf("Expected 1 entry with updated computed values, got %d", len(entryStore.updatedCompIDs))
	}
	if len(entryStore.updatedCompIDs) > 0 && entryStore.updatedCompIDs[0] != entryAID {
		t.Errorf("Expected entry %s to have computed values updated, got %s", entryAID, entryStore.updatedCompIDs[0])
	}
}

func TestRecalculateForDate_LockedEntryNotDeleted(t *testing.T) {
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	projectA := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	projectB := uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	entryAID := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	eventStore := &mockEventStore{
		events: []*store.CalendarEvent{
			classifiedEvent(userID, projectB, date, "Meeting", 9, 10),
		},
	}

	entryStore := &mockTimeEntryStore{
		entries: []*store.TimeEntry{
			{ID: entryAID, UserID: userID, ProjectID: projectA, Date: date, Hours: decimal.NewFromFloat(1.0), IsLocked: true},
		},
	}

	svc := &Service{eventStore: eventStore, timeEntryStore: entryStore}

	if err := svc.recalculateForDateLocked(context.Background(), userID, date); err != nil {
		t.Fatalf("RecalculateForDate() error = %v", err)
	}

	if len(entryStore.deletedIDs) != 0 {
		t.Errorf("Expected 0 deleted entries (locked entry protected), got %d", len(entryStore.deletedIDs))
	}
}

func TestRecalculateForDate_InvoicedEntryNotDeleted(t *testing.T) {
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	projectA := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	projectB := uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	invoiceID := uuid.MustParse("99999999-9999-4999-a999-999999999999")
	entryAID := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	eventStore := &mockEventStore{
		events: []*store.CalendarEvent{
			classifiedEvent(userID, projectB, date, "Meeting", 9, 10),
		},
	}

	entryStore := &mockTimeEntryStore{
		entries: []*store.TimeEntry{
			{ID: entryAID, UserID: userID, ProjectID: projectA, Date: date, Hours: decimal.NewFromFloat(1.0), InvoiceID: &invoiceID},
		},
	}

	svc := &Service{eventStore: eventStore, timeEntryStore: entryStore}

	if err := svc.recalculateForDateLocked(context.Background(), userID, date); err != nil {
		t.Fatalf("RecalculateForDate() error = %v", err)
	}

	if len(entryStore.deletedIDs) != 0 {
		t.Errorf("Expected 0 deleted entries (invoiced entry protected), got %d", len(entryStore.deletedIDs))
	}
}

func TestRecalculateForDate_SuppressedEntryUntouched(t *testing.T) {
	// A user-suppressed entry must survive even when unprotected by pin/lock/
	// invoice, and must not be re-zeroed via UpdateComputed either — recompute
	// skips it outright.
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	projectA := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	projectB := uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	entryAID := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	eventStore := &mockEventStore{
		events: []*store.CalendarEvent{
			classifiedEvent(userID, projectB, date, "Meeting", 9, 10),
		},
	}

	entryStore := &mockTimeEntryStore{
		entries: []*store.TimeEntry{
			{ID: entryAID, UserID: userID, ProjectID: projectA, Date: date, Hours: decimal.NewFromFloat(1.0), IsSuppressed: true},
		},
	}

	svc := &Service{eventStore: eventStore, timeEntryStore: entryStore}

	if err := svc.recalculateForDateLocked(context.Background(), userID, date); err != nil {
		t.Fatalf("RecalculateForDate() error = %v", err)
	}

	if len(entryStore.deletedIDs) != 0 {
		t.Errorf("Expected 0 deleted entries (suppressed entry untouched), got %d", len(entryStore.deletedIDs))
	}
	if len(entryStore.updatedCompIDs) != 0 {
		t.Errorf("Expected 0 computed-value updates (suppressed entry untouched), got %d", len(entryStore.updatedCompIDs))
	}
}

func TestRecalculateForDate_MultipleProjects(t *testing.T) {
	// Events for B and C only: the A entry (no longer backed by any event)
	// is deleted, B's stale hours are refreshed, and C is created.
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	userID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	projectA := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	projectB := uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	projectC := uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc")
	entryAID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	entryBID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	eventStore := &mockEventStore{
		events: []*store.CalendarEvent{
			classifiedEvent(userID, projectB, date, "Meeting B", 9, 10),
			classifiedEvent(userID, projectC, date, "Meeting C", 11, 12),
		},
	}

	entryStore := &mockTimeEntryStore{
		entries: []*store.TimeEntry{
			{ID: entryAID, UserID: userID, ProjectID: projectA, Date: date, Hours: decimal.NewFromFloat(1.0)},
			{ID: entryBID, UserID: userID, ProjectID: projectB, Date: date, Hours: decimal.NewFromFloat(0.5)},
		},
	}

	svc := &Service{eventStore: eventStore, timeEntryStore: entryStore}

	if err := svc.recalculateForDateLocked(context.Background(), userID, date); err != nil {
		t.Fatalf("RecalculateForDate() error = %v", err)
	}

	if len(entryStore.deletedIDs) != 1 {
		t.Errorf("Expected 1 deleted entry, got %d", len(entryStore.deletedIDs))
	}
	if len(entryStore.deletedIDs) > 0 && entryStore.deletedIDs[0] != entryAID {
		t.Errorf("Expected entry %s to be deleted, got %s", entryAID, entryStore.deletedIDs[0])
	}

	if entryStore.upsertedCount != 2 {
		t.Errorf("Expected 2 upserted entries (B updated, C created), got %d", entryStore.upsertedCount)
	}
}
