package analyzer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUser = uuid.MustParse("99999999-9999-9999-9999-999999999999")

func TestRoundMinutes(t *testing.T) {
	cfg := DefaultRoundingConfig() // 15-minute granularity, 7-minute threshold

	tests := []struct {
		name        string
		minutes     int
		wantMinutes int
		wantDesc    string
	}{
		{"exact 15 minutes", 15, 15, "none"},
		{"exact 30 minutes", 30, 30, "none"},
		{"exact 60 minutes", 60, 60, "none"},
		{"exact 0 minutes", 0, 0, "none"},

		// Round down cases (remainder 1-6)
		{"6 minutes rounds down to 0", 6, 0, "-6m"},
		{"16 minutes rounds down", 16, 15, "-1m"},
		{"21 minutes rounds down", 21, 15, "-6m"},
		{"31 minutes rounds down", 31, 30, "-1m"},
		{"36 minutes rounds down", 36, 30, "-6m"},

		// Round up cases (remainder 7-14)
		{"7 minutes rounds up", 7, 15, "+8m"},
		{"14 minutes rounds up", 14, 15, "+1m"},
		{"22 minutes rounds up", 22, 30, "+8m"},
		{"23 minutes rounds up", 23, 30, "+7m"},
		{"29 minutes rounds up", 29, 30, "+1m"},
		{"37 minutes rounds up", 37, 45, "+8m"},
		{"44 minutes rounds up", 44, 45, "+1m"},

		// Larger values
		{"55 minutes rounds up", 55, 60, "+5m"},
		{"50 minutes", 50, 45, "-5m"},
		{"51 minutes", 51, 45, "-6m"},
		{"52 minutes", 52, 60, "+8m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMinutes, gotDesc := RoundMinutes(tt.minutes, cfg)
			assert.Equal(t, tt.wantMinutes, gotMinutes)
			assert.Equal(t, tt.wantDesc, gotDesc)
		})
	}
}

func TestRoundMinutesIdempotentOnAlreadyRounded(t *testing.T) {
	cfg := DefaultRoundingConfig()
	for _, m := range []int{0, 15, 30, 45, 60, 75, 90} {
		got, desc := RoundMinutes(m, cfg)
		assert.Equal(t, m, got)
		assert.Equal(t, "none", desc)
	}
}

func TestComputeTimeUnion(t *testing.T) {
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		events      []Event
		wantMinutes int
		wantRanges  int
	}{
		{
			name: "single event",
			events: []Event{
				makeEvent(date, "09:00", "10:00"),
			},
			wantMinutes: 60,
			wantRanges:  1,
		},
		{
			name: "two non-overlapping events",
			events: []Event{
				makeEvent(date, "09:00", "10:00"),
				makeEvent(date, "11:00", "12:00"),
			},
			wantMinutes: 120,
			wantRanges:  2,
		},
		{
			name: "two overlapping events (spec example)",
			events: []Event{
				makeEvent(date, "09:00", "09:30"),
				makeEvent(date, "09:15", "10:00"),
			},
			wantMinutes: 60,
			wantRanges:  1,
		},
		{
			name: "three overlapping events",
			events: []Event{
				makeEvent(date, "09:00", "09:45"),
				makeEvent(date, "09:30", "10:15"),
				makeEvent(date, "10:00", "10:30"),
			},
			wantMinutes: 90,
			wantRanges:  1,
		},
		{
			name: "adjacent touching events merge",
			events: []Event{
				makeEvent(date, "09:00", "10:00"),
				makeEvent(date, "10:00", "11:00"),
			},
			wantMinutes: 120,
			wantRanges:  1,
		},
		{
			name: "event fully contained in another",
			events: []Event{
				makeEvent(date, "09:00", "12:00"),
				makeEvent(date, "10:00", "11:00"),
			},
			wantMinutes: 180,
			wantRanges:  1,
		},
		{
			name: "complex overlapping pattern",
			events: []Event{
				makeEvent(date, "09:00", "10:00"),
				makeEvent(date, "09:30", "10:30"),
				makeEvent(date, "12:00", "13:00"),
				makeEvent(date, "12:30", "13:30"),
			},
			wantMinutes: 180,
			wantRanges:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sorted := make([]Event, len(tt.events))
			copy(sorted, tt.events)
			ranges := computeTimeUnion(sorted)
			assert.Len(t, ranges, tt.wantRanges)

			totalMinutes := 0
			for _, r := range ranges {
				totalMinutes += r.Minutes
			}
			assert.Equal(t, tt.wantMinutes, totalMinutes)
		})
	}
}

func TestCompute(t *testing.T) {
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	projectA := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	projectB := uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	cfg := DefaultRoundingConfig()

	tests := []struct {
		name      string
		events    []Event
		wantCount int
		wantHours map[uuid.UUID]string
	}{
		{name: "empty events", events: []Event{}, wantCount: 0},
		{
			name: "single project single event",
			events: []Event{
				{ID: uuid.New(), ProjectID: projectA, Title: "Meeting", StartTime: date.Add(9 * time.Hour), EndTime: date.Add(10 * time.Hour)},
			},
			wantCount: 1,
			wantHours: map[uuid.UUID]string{projectA: "1"},
		},
		{
			name: "single project overlapping events (spec scenario 1)",
			events: []Event{
				{ID: uuid.New(), ProjectID: projectA, Title: "Meeting 1", StartTime: date.Add(9 * time.Hour), EndTime: date.Add(9*time.Hour + 30*time.Minute)},
				{ID: uuid.New(), ProjectID: projectA, Title: "Meeting 2", StartTime: date.Add(9*time.Hour + 15*time.Minute), EndTime: date.Add(10 * time.Hour)},
			},
			wantCount: 1,
			wantHours: map[uuid.UUID]string{projectA: "1"},
		},
		{
			name: "two projects separate events",
			events: []Event{
				{ID: uuid.New(), ProjectID: projectA, Title: "Meeting A", StartTime: date.Add(9 * time.Hour), EndTime: date.Add(10 * time.Hour)},
				{ID: uuid.New(), ProjectID: projectB, Title: "Meeting B", StartTime: date.Add(11 * time.Hour), EndTime: date.Add(12 * time.Hour)},
			},
			wantCount: 2,
			wantHours: map[uuid.UUID]string{projectA: "1", projectB: "1"},
		},
		{
			name: "rounding applied (spec scenario 2a: 25min -> 0.50)",
			events: []Event{
				{ID: uuid.New(), ProjectID: projectA, Title: "Short meeting", StartTime: date.Add(9 * time.Hour), EndTime: date.Add(9*time.Hour + 25*time.Minute)},
			},
			wantCount: 1,
			wantHours: map[uuid.UUID]string{projectA: "0.5"},
		},
		{
			name: "rounding applied (spec scenario 2b: 55min -> 1.00)",
			events: []Event{
				{ID: uuid.New(), ProjectID: projectA, Title: "Long meeting", StartTime: date.Add(9 * time.Hour), EndTime: date.Add(9*time.Hour + 55*time.Minute)},
			},
			wantCount: 1,
			wantHours: map[uuid.UUID]string{projectA: "1"},
		},
		{
			name: "all-day event contributes 0 hours",
			events: []Event{
				{ID: uuid.New(), ProjectID: projectA, Title: "All-day event", StartTime: date, EndTime: date.Add(24 * time.Hour), IsAllDay: true},
			},
			wantCount: 1,
			wantHours: map[uuid.UUID]string{projectA: "0"},
		},
		{
			name: "mixed all-day and timed events",
			events: []Event{
				{ID: uuid.New(), ProjectID: projectA, Title: "All-day event", StartTime: date, EndTime: date.Add(24 * time.Hour), IsAllDay: true},
				{ID: uuid.New(), ProjectID: projectA, Title: "Meeting", StartTime: date.Add(10 * time.Hour), EndTime: date.Add(11 * time.Hour)},
			},
			wantCount: 1,
			wantHours: map[uuid.UUID]string{projectA: "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := Compute(testUser, date, tt.events, cfg)
			require.Len(t, entries, tt.wantCount)

			for _, entry := range entries {
				if want, ok := tt.wantHours[entry.ProjectID]; ok {
					assert.True(t, entry.Hours.Equal(decimal.RequireFromString(want)),
						"project %s hours = %s, want %s", entry.ProjectID, entry.Hours, want)
				}
			}
		})
	}
}

func TestComputeDeterministicIDs(t *testing.T) {
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	projectA := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	cfg := DefaultRoundingConfig()
	events := []Event{
		{ID: uuid.New(), ProjectID: projectA, Title: "Meeting", StartTime: date.Add(9 * time.Hour), EndTime: date.Add(10 * time.Hour)},
	}

	first := Compute(testUser, date, events, cfg)
	second := Compute(testUser, date, events, cfg)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID, "identical inputs must produce a stable entry id")
	assert.Equal(t, EntryID(testUser, projectA, date), first[0].ID)
}

func TestComputeCalculationDetails(t *testing.T) {
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	projectID := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	cfg := DefaultRoundingConfig()

	events := []Event{
		{
			ID:        uuid.MustParse("11111111-1111-1111-1111-111111111111"),
			ProjectID: projectID,
			Title:     "Standup",
			StartTime: date.Add(9 * time.Hour),
			EndTime:   date.Add(9*time.Hour + 15*time.Minute),
		},
		{
			ID:        uuid.MustParse("22222222-2222-2222-2222-222222222222"),
			ProjectID: projectID,
			Title:     "Planning",
			StartTime: date.Add(10 * time.Hour),
			EndTime:   date.Add(11 * time.Hour),
		},
	}

	entries := Compute(testUser, date, events, cfg)
	require.Len(t, entries, 1)

	entry := entries[0]
	details := entry.CalculationDetails

	assert.Len(t, details.Events, 2)
	assert.Len(t, details.TimeRanges, 2)
	assert.Equal(t, 75, details.UnionMinutes)
	assert.Equal(t, 75, details.FinalMinutes)
	assert.Equal(t, "none", details.Rounding)
	assert.True(t, entry.Hours.Equal(decimal.RequireFromString("1.25")))
	assert.Len(t, entry.ContributingEvents, 2)
}

func TestGenerateTitle(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   string
	}{
		{name: "empty", events: []Event{}, want: ""},
		{name: "single event", events: []Event{{Title: "Weekly Sync"}}, want: "Weekly Sync"},
		{name: "two events", events: []Event{{Title: "Weekly Sync"}, {Title: "Planning"}}, want: "Weekly Sync +1 more"},
		{name: "three events", events: []Event{{Title: "Weekly Sync"}, {Title: "Planning"}, {Title: "Review"}}, want: "Weekly Sync +2 more"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generateTitle(tt.events))
		})
	}
}

func TestGenerateDescription(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   string
	}{
		{name: "empty", events: []Event{}, want: ""},
		{name: "single event", events: []Event{{Title: "Weekly Sync"}}, want: "Weekly Sync"},
		{name: "multiple unique events", events: []Event{{Title: "Weekly Sync"}, {Title: "Planning"}}, want: "Weekly Sync, Planning"},
		{
			name:   "deduplicated events",
			events: []Event{{Title: "Weekly Sync"}, {Title: "Weekly Sync"}, {Title: "Planning"}},
			want:   "Weekly Sync, Planning",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generateDescription(tt.events))
		})
	}
}

func makeEvent(date time.Time, startTime, endTime string) Event {
	start := parseTime(date, startTime)
	end := parseTime(date, endTime)
	return Event{
		ID:        uuid.New(),
		ProjectID: uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"),
		Title:     "Test Event",
		StartTime: start,
		EndTime:   end,
	}
}

func parseTime(date time.Time, timeStr string) time.Time {
	t, _ := time.Parse("15:04", timeStr)
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}
