// Package sync tracks, per calendar, how much of its event history has been
// fetched from Google ("water marks"), decides when more needs fetching, and
// drives the background job queue that does the fetching.
package sync

import "time"

const weekLength = 7 * 24 * time.Hour

// NormalizeToWeekStart floors d to Monday 00:00:00 UTC of its containing week.
// Weeks, not days, are the unit of water-mark bookkeeping: a calendar's
// synced range always lands on week boundaries so partial-week gaps can't
// accumulate.
func NormalizeToWeekStart(d time.Time) time.Time {
	d = d.UTC().Truncate(24 * time.Hour)
	weekday := int(d.Weekday())
	if weekday == 0 {
		weekday = 7 // ISO: Sunday is day 7, not 0
	}
	return d.AddDate(0, 0, -(weekday - 1))
}

// NormalizeToWeekEnd returns the Sunday 23:59:59 UTC closing the week
// containing d.
func NormalizeToWeekEnd(d time.Time) time.Time {
	monday := NormalizeToWeekStart(d)
	return monday.Add(weekLength - time.Second)
}

// IsWeekWithinRange reports whether the week containing weekDate is fully
// covered by [minSynced, maxSynced]. A nil bound means nothing has been
// synced yet, so no week can be within range.
func IsWeekWithinRange(weekDate time.Time, minSynced, maxSynced *time.Time) bool {
	if minSynced == nil || maxSynced == nil {
		return false
	}

	weekStart := NormalizeToWeekStart(weekDate)
	weekEnd := NormalizeToWeekEnd(weekDate)

	return !weekStart.Before(*minSynced) && !weekEnd.After(*maxSynced)
}

// StalenessThreshold is how long a calendar's last sync can age before its
// data is treated as stale even though its water marks still cover the
// requested range.
const StalenessThreshold = 24 * time.Hour

// IsStale reports whether lastSyncedAt is older than StalenessThreshold.
// A nil timestamp (never synced) always counts as stale.
func IsStale(lastSyncedAt *time.Time) bool {
	if lastSyncedAt == nil {
		return true
	}
	return time.Since(*lastSyncedAt) > StalenessThreshold
}

// DefaultInitialWindow is the window fetched the moment a calendar is
// connected: four weeks of history plus one week of near-term lookahead,
// enough to classify recent events without waiting on a full backfill.
func DefaultInitialWindow() (time.Time, time.Time) {
	now := time.Now().UTC()
	start := NormalizeToWeekStart(now.AddDate(0, 0, -28))
	end := NormalizeToWeekEnd(now.AddDate(0, 0, 7))
	return start, end
}

// DefaultBackgroundWindow is the eventual target window the background
// scheduler expands a calendar's water marks toward: a full year of
// history plus five weeks of lookahead for forward-planning queries.
func DefaultBackgroundWindow() (time.Time, time.Time) {
	now := time.Now().UTC()
	start := NormalizeToWeekStart(now.AddDate(0, 0, -364))
	end := NormalizeToWeekEnd(now.AddDate(0, 0, 35))
	return start, end
}

// WeeksInRange lists every week-start date from start to end, inclusive.
func WeeksInRange(start, end time.Time) []time.Time {
	start = NormalizeToWeekStart(start)
	end = NormalizeToWeekStart(end)

	var weeks []time.Time
	for current := start; !current.After(end); current = current.Add(weekLength) {
		weeks = append(weeks, current)
	}
	return weeks
}

// MissingWeeks lists the week-start dates in [targetStart, targetEnd] that
// fall outside [minSynced, maxSynced] and therefore still need fetching.
// A target range can straddle both edges of the synced window at once (a
// request wider than what's currently synced), so both the before-min and
// after-max gaps are checked independently.
func MissingWeeks(minSynced, maxSynced *time.Time, targetStart, targetEnd time.Time) []time.Time {
	targetStart = NormalizeToWeekStart(targetStart)
	targetEnd = NormalizeToWeekStart(targetEnd)

	if minSynced == nil || maxSynced == nil {
		return WeeksInRange(targetStart, targetEnd)
	}

	var missing []time.Time

	if targetStart.Before(*minSynced) {
		gapEnd := NormalizeToWeekStart(minSynced.Add(-weekLength))
		if !gapEnd.Before(targetStart) {
			missing = append(missing, WeeksInRange(targetStart, gapEnd)...)
		}
	}

	if targetEnd.After(*maxSynced) {
		gapStart := NormalizeToWeekStart(maxSynced.Add(weekLength))
		if !gapStart.After(targetEnd) {
			missing = append(missing, WeeksInRange(gapStart, targetEnd)...)
		}
	}

	return missing
}
