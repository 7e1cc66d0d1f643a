// Package analyzer provides pure functions for computing time entries from calendar events.
// Time entries are derived from classified events using clear, auditable logic.
// Nothing in this package performs I/O; the same inputs always produce the same outputs.
package analyzer

import (
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// entryNamespace is the fixed namespace used to derive deterministic ids for
// ephemeral time entries: v5(entryNamespace, userID|projectID|date).
var entryNamespace = uuid.MustParse("7d8f9a10-1c2b-4e3d-9f6a-5b4c3d2e1f00")

// EntryID derives the stable id of the (possibly ephemeral) time entry for a
// given user, project, and date. Identical inputs always produce the same id,
// whether or not the entry is ever materialized.
func EntryID(userID, projectID uuid.UUID, date time.Time) uuid.UUID {
	key := userID.String() + "|" + projectID.String() + "|" + date.Format("2006-01-02")
	return uuid.NewSHA1(entryNamespace, []byte(key))
}

// Event represents a calendar event for time entry computation.
// This is a simplified view of the calendar event with only the fields needed for calculation.
type Event struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Title     string
	StartTime time.Time
	EndTime   time.Time
	IsAllDay  bool
}

// ComputedTimeEntry represents a computed time entry for a project on a specific date.
type ComputedTimeEntry struct {
	ID                 uuid.UUID
	ProjectID          uuid.UUID
	Date               time.Time
	Hours              decimal.Decimal
	Title              string
	Description        string
	ContributingEvents []uuid.UUID
	CalculationDetails CalculationDetails
}

// CalculationDetails provides an audit trail of how hours were calculated.
type CalculationDetails struct {
	Events       []EventDetail `json:"events"`
	TimeRanges   []TimeRange   `json:"time_ranges"`
	UnionMinutes int           `json:"union_minutes"`
	Rounding     string        `json:"rounding"`
	FinalMinutes int           `json:"final_minutes"`
}

// EventDetail captures details of an event that contributed to the time entry.
type EventDetail struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Start      string `json:"start"`
	End        string `json:"end"`
	RawMinutes int    `json:"raw_minutes"`
	IsAllDay   bool   `json:"is_all_day,omitempty"`
}

// TimeRange represents a unified time range after merging overlapping events.
type TimeRange struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Minutes int    `json:"minutes"`
}

// RoundingConfig specifies how to round time entries.
type RoundingConfig struct {
	GranularityMinutes int // e.g., 15 for 15-minute increments
	ThresholdMinutes   int // remainders below this round down, at-or-above round up
}

// DefaultRoundingConfig returns the default rounding configuration:
// 15-minute granularity, round down on remainders 1-6, round up on 7-14.
func DefaultRoundingConfig() RoundingConfig {
	return RoundingConfig{
		GranularityMinutes: 15,
		ThresholdMinutes:   7,
	}
}

// Compute calculates time entries for a given date from a list of classified events.
// Events are grouped by project, overlaps are unioned, and rounding is applied.
func Compute(userID uuid.UUID, date time.Time, events []Event, roundingCfg RoundingConfig) []ComputedTimeEntry {
	byProject := make(map[uuid.UUID][]Event)
	for _, e := range events {
		byProject[e.ProjectID] = append(byProject[e.ProjectID], e)
	}

	entries := make([]ComputedTimeEntry, 0, len(byProject))
	for projectID, projectEvents := range byProject {
		entries = append(entries, computeForProject(userID, date, projectID, projectEvents, roundingCfg))
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ProjectID.String() < entries[j].ProjectID.String()
	})

	return entries
}

// computeForProject calculates a single time entry for a project from its events.
func computeForProject(userID uuid.UUID, date time.Time, projectID uuid.UUID, events []Event, roundingCfg RoundingConfig) ComputedTimeEntry {
	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].StartTime.Equal(ordered[j].StartTime) {
			return ordered[i].ID.String() < ordered[j].ID.String()
		}
		return ordered[i].StartTime.Before(ordered[j].StartTime)
	})

	var timedEvents []Event
	for _, e := range ordered {
		if !e.IsAllDay {
			timedEvents = append(timedEvents, e)
		}
	}

	details := CalculationDetails{
		Events: make([]EventDetail, 0, len(ordered)),
	}
	contributingEvents := make([]uuid.UUID, 0, len(ordered))

	for _, e := range ordered {
		rawMinutes := 0
		if !e.IsAllDay {
			rawMinutes = int(e.EndTime.Sub(e.StartTime).Minutes())
		}
		details.Events = append(details.Events, EventDetail{
			ID:         e.ID.String(),
			Title:      e.Title,
			Start:      e.StartTime.Format(time.RFC3339),
			End:        e.EndTime.Format(time.RFC3339),
			RawMinutes: rawMinutes,
			IsAllDay:   e.IsAllDay,
		})
		contributingEvents = append(contributingEvents, e.ID)
	}

	var unionMinutes int
	if len(timedEvents) > 0 {
		ranges := computeTimeUnion(timedEvents)
		details.TimeRanges = ranges
		for _, r := range ranges {
			unionMinutes += r.Minutes
		}
	}
	details.UnionMinutes = unionMinutes

	finalMinutes, rounding := RoundMinutes(unionMinutes, roundingCfg)
	details.Rounding = rounding
	details.FinalMinutes = finalMinutes

	hours := decimal.NewFromInt(int64(finalMinutes)).Div(decimal.NewFromInt(60))

	return ComputedTimeEntry{
		ID:                 EntryID(userID, projectID, date),
		ProjectID:          projectID,
		Date:               date,
		Hours:              hours,
		Title:              generateTitle(ordered),
		Description:        generateDescription(ordered),
		ContributingEvents: contributingEvents,
		CalculationDetails: details,
	}
}

// computeTimeUnion merges overlapping (and touching) time ranges, already
// sorted by start time by the caller, and returns the unified ranges.
func computeTimeUnion(sorted []Event) []TimeRange {
	if len(sorted) == 0 {
		return nil
	}

	var ranges []TimeRange
	currentStart := sorted[0].StartTime
	currentEnd := sorted[0].EndTime

	for i := 1; i < len(sorted); i++ {
		e := sorted[i]
		if e.StartTime.Before(currentEnd) || e.StartTime.Equal(currentEnd) {
			if e.EndTime.After(currentEnd) {
				currentEnd = e.EndTime
			}
		} else {
			ranges = append(ranges, TimeRange{
				Start:   currentStart.Format("15:04"),
				End:     currentEnd.Format("15:04"),
				Minutes: int(currentEnd.Sub(currentStart).Minutes()),
			})
			currentStart = e.StartTime
			currentEnd = e.EndTime
		}
	}

	ranges = append(ranges, TimeRange{
		Start:   currentStart.Format("15:04"),
		End:     currentEnd.Format("15:04"),
		Minutes: int(currentEnd.Sub(currentStart).Minutes()),
	})

	return ranges
}

// RoundMinutes applies rounding rules to minutes.
// Returns the rounded minutes and a description of the rounding applied.
func RoundMinutes(minutes int, cfg RoundingConfig) (int, string) {
	if cfg.GranularityMinutes <= 0 {
		return minutes, "none"
	}

	remainder := minutes % cfg.GranularityMinutes
	if remainder == 0 {
		return minutes, "none"
	}

	if remainder < cfg.ThresholdMinutes {
		return minutes - remainder, "-" + strconv.Itoa(remainder) + "m"
	}

	roundUp := cfg.GranularityMinutes - remainder
	return minutes + roundUp, "+" + strconv.Itoa(roundUp) + "m"
}

// generateTitle creates a short title from the event(s), ordered by start time.
func generateTitle(events []Event) string {
	if len(events) == 0 {
		return ""
	}

	title := events[0].Title
	if len(events) > 1 {
		title += " +" + strconv.Itoa(len(events)-1) + " more"
	}

	if len(title) > 50 {
		title = title[:47] + "..."
	}

	return title
}

// generateDescription creates a comma-joined list of unique event titles, ordered by start time.
func generateDescription(events []Event) string {
	if len(events) == 0 {
		return ""
	}

	seen := make(map[string]bool)
	var titles []string
	for _, e := range events {
		if !seen[e.Title] {
			titles = append(titles, e.Title)
			seen[e.Title] = true
		}
	}

	desc := ""
	for i, t := range titles {
		if i > 0 {
			desc += ", "
		}
		desc += t
	}

	return desc
}
