package sync

import "time"

// Sync decision reasons, surfaced to callers (API responses, debug status,
// background scheduler logs) so the "why" behind a sync is never opaque.
const (
	ReasonFreshData     = "fresh_data"
	ReasonStaleData     = "stale_data"
	ReasonOutsideWindow = "outside_window"
	ReasonNoSyncedRange = "no_synced_range"
)

// SyncDecision is the outcome of evaluating a target date range against a
// calendar's current water marks.
type SyncDecision struct {
	NeedsSync bool
	Reason    string

	// MissingWeeks lists the week-start dates that fall outside the current
	// synced range and must be fetched. Empty when the target range is
	// already covered by [minSynced, maxSynced].
	MissingWeeks []time.Time

	// IsStaleRefresh is true when the target range is covered by the water
	// marks but the last sync is older than StalenessThreshold, meaning a
	// refresh (not a window expansion) is what's needed.
	IsStaleRefresh bool
}

// DecideSync determines whether a calendar needs syncing for targetStart to
// targetEnd, given its current min/max synced water marks and the time of
// its last sync. It composes MissingWeeks and IsStale rather than
// duplicating their logic:
//
//   - No water marks at all means nothing has ever been synced, so every
//     week in the target range is missing.
//   - Any week outside [minSynced, maxSynced] takes priority over staleness:
//     there's no data to be stale, it's simply not there yet.
//   - Once the range is fully covered, staleness of the last sync decides
//     whether a refresh is warranted.
func DecideSync(minSynced, maxSynced, lastSynced *time.Time, targetStart, targetEnd time.Time) SyncDecision {
	if minSynced == nil || maxSynced == nil {
		return SyncDecision{
			NeedsSync:    true,
			Reason:       ReasonNoSyncedRange,
			MissingWeeks: WeeksInRange(targetStart, targetEnd),
		}
	}

	if missing := MissingWeeks(minSynced, maxSynced, targetStart, targetEnd); len(missing) > 0 {
		return SyncDecision{
			NeedsSync:    true,
			Reason:       ReasonOutsideWindow,
			MissingWeeks: missing,
		}
	}

	if IsStale(lastSynced) {
		return SyncDecision{
			NeedsSync:      true,
			Reason:         ReasonStaleData,
			IsStaleRefresh: true,
		}
	}

	return SyncDecision{
		NeedsSync: false,
		Reason:    ReasonFreshData,
	}
}
