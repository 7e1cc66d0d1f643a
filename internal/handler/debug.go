package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/michaelwinser/timesheet-core/internal/store"
	"github.com/michaelwinser/timesheet-core/internal/sync"
)

// DebugHandler exposes a read-only snapshot of each calendar's sync water
// marks, for diagnosing "why hasn't this week synced yet" without a DB shell.
type DebugHandler struct {
	calendars   *store.CalendarStore
	connections *store.CalendarConnectionStore
	jwt         *JWTService
}

// NewDebugHandler creates a new debug handler
func NewDebugHandler(
	calendars *store.CalendarStore,
	connections *store.CalendarConnectionStore,
	jwt *JWTService,
) *DebugHandler {
	return &DebugHandler{
		calendars:   calendars,
		connections: connections,
		jwt:         jwt,
	}
}

// CalendarSyncStatus is a single calendar's water marks and failure state.
type CalendarSyncStatus struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ExternalID    string     `json:"external_id"`
	ConnectionID  string     `json:"connection_id"`
	IsSelected    bool       `json:"is_selected"`
	IsPrimary     bool       `json:"is_primary"`
	MinSyncedDate *time.Time `json:"min_synced_date"`
	MaxSyncedDate *time.Time `json:"max_synced_date"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
	SyncToken     *string    `json:"sync_token"`
	SyncTokenSet  bool       `json:"sync_token_set"`
	NeedsReauth   bool       `json:"needs_reauth"`
	SyncFailures  int        `json:"sync_failure_count"`
	IsStale       bool       `json:"is_stale"`
	SyncedWeeks   int        `json:"synced_weeks"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ConnectionSyncStatus is a connection-level staleness summary.
type ConnectionSyncStatus struct {
	ID           string     `json:"id"`
	Provider     string     `json:"provider"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	IsStale      bool       `json:"is_stale"`
	CreatedAt    time.Time  `json:"created_at"`
}

// SyncStatusResponse is the response for the sync status endpoint
type SyncStatusResponse struct {
	Timestamp          time.Time              `json:"timestamp"`
	StalenessThreshold string                 `json:"staleness_threshold"`
	DefaultInitial     SyncWindowInfo         `json:"default_initial_window"`
	DefaultBackground  SyncWindowInfo         `json:"default_background_window"`
	Connections        []ConnectionSyncStatus `json:"connections"`
	Calendars          []CalendarSyncStatus   `json:"calendars"`
}

// SyncWindowInfo describes a sync window
type SyncWindowInfo struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Weeks int    `json:"weeks"`
}

// SyncStatus returns detailed sync status for debugging
func (h *DebugHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := UserIDFromContext(ctx)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	connections, err := h.connections.List(ctx, userID)
	if err != nil {
		http.Error(w, "Failed to list connections: "+err.Error(), http.StatusInternalServerError)
		return
	}

	connStatuses := make([]ConnectionSyncStatus, 0, len(connections))
	for _, conn := range connections {
		connStatuses = append(connStatuses, newConnectionSyncStatus(conn))
	}

	var calStatuses []CalendarSyncStatus
	for _, conn := range connections {
		calendars, err := h.calendars.ListByConnection(ctx, conn.ID)
		if err != nil {
			continue
		}
		for _, cal := range calendars {
			calStatuses = append(calStatuses, newCalendarSyncStatus(cal))
		}
	}

	response := SyncStatusResponse{
		Timestamp:          time.Now().UTC(),
		StalenessThreshold: sync.StalenessThreshold.String(),
		DefaultInitial:     windowInfo(sync.DefaultInitialWindow()),
		DefaultBackground:  windowInfo(sync.DefaultBackgroundWindow()),
		Connections:        connStatuses,
		Calendars:          calStatuses,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// newConnectionSyncStatus summarizes a connection's staleness for the debug response.
func newConnectionSyncStatus(conn *store.CalendarConnection) ConnectionSyncStatus {
	return ConnectionSyncStatus{
		ID:           conn.ID.String(),
		Provider:     conn.Provider,
		LastSyncedAt: conn.LastSyncedAt,
		IsStale:      sync.IsStale(conn.LastSyncedAt),
		CreatedAt:    conn.CreatedAt,
	}
}

// newCalendarSyncStatus summarizes a calendar's water marks and failure state
// for the debug response. The sync token itself is never serialized — only
// whether one is set — since it's a bearer credential for incremental fetch.
func newCalendarSyncStatus(cal *store.Calendar) CalendarSyncStatus {
	syncedWeeks := 0
	if cal.MinSyncedDate != nil && cal.MaxSyncedDate != nil {
		syncedWeeks = len(sync.WeeksInRange(*cal.MinSyncedDate, *cal.MaxSyncedDate))
	}

	return CalendarSyncStatus{
		ID:            cal.ID.String(),
		Name:          cal.Name,
		ExternalID:    cal.ExternalID,
		ConnectionID:  cal.ConnectionID.String(),
		IsSelected:    cal.IsSelected,
		IsPrimary:     cal.IsPrimary,
		MinSyncedDate: cal.MinSyncedDate,
		MaxSyncedDate: cal.MaxSyncedDate,
		LastSyncedAt:  cal.LastSyncedAt,
		SyncToken:     nil,
		SyncTokenSet:  cal.SyncToken != nil && *cal.SyncToken != "",
		NeedsReauth:   cal.NeedsReauth,
		SyncFailures:  cal.SyncFailureCount,
		IsStale:       sync.IsStale(cal.LastSyncedAt),
		SyncedWeeks:   syncedWeeks,
		CreatedAt:     cal.CreatedAt,
		UpdatedAt:     cal.UpdatedAt,
	}
}

// windowInfo renders a [start, end) sync window as its week count and ISO dates.
func windowInfo(start, end time.Time) SyncWindowInfo {
	return SyncWindowInfo{
		Start: start.Format("2006-01-02"),
		End:   end.Format("2006-01-02"),
		Weeks: len(sync.WeeksInRange(start, end)),
	}
}
