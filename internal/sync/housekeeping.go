package sync

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// JobRetention is how long completed/failed jobs are kept before pruning.
const JobRetention = 7 * 24 * time.Hour

// syncJobStore is the subset of *store.SyncJobStore housekeeping needs.
// Declared locally (rather than importing internal/store) to keep this
// file's dependency surface to exactly what it uses.
type syncJobStore interface {
	ReclaimExpired(ctx context.Context) (int64, error)
	DeleteOldCompletedJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// HousekeepingScheduler runs queue maintenance (lease reclaim, completed-job
// pruning) on its own cron cadence, independent of the 24h BackgroundScheduler
// sync cadence and the JobWorker's own per-poll reclaim. Running it here too
// means maintenance still happens even if the job worker is disabled or
// wedged.
type HousekeepingScheduler struct {
	jobs *cron.Cron
	store syncJobStore
}

// NewHousekeepingScheduler builds a scheduler against the given job store.
// Reclaim runs hourly; retention pruning runs once daily at 03:00 server
// time, mirroring the off-peak-hours placement of cleanup jobs.
func NewHousekeepingScheduler(store syncJobStore) *HousekeepingScheduler {
	return &HousekeepingScheduler{
		jobs:  cron.New(),
		store: store,
	}
}

// Start registers the cron entries and begins running them.
func (h *HousekeepingScheduler) Start() error {
	if _, err := h.jobs.AddFunc("0 * * * *", func() {
		h.reclaim(context.Background())
	}); err != nil {
		return err
	}

	if _, err := h.jobs.AddFunc("0 3 * * *", func() {
		h.prune(context.Background())
	}); err != nil {
		return err
	}

	h.jobs.Start()
	log.Println("Sync housekeeping scheduler started (reclaim hourly, prune daily at 03:00)")
	return nil
}

// Stop waits for any in-flight cron entry to finish, then halts the
// scheduler.
func (h *HousekeepingScheduler) Stop() {
	ctx := h.jobs.Stop()
	<-ctx.Done()
}

func (h *HousekeepingScheduler) reclaim(ctx context.Context) {
	reclaimed, err := h.store.ReclaimExpired(ctx)
	if err != nil {
		log.Printf("Housekeeping: reclaim failed: %v", err)
		return
	}
	if reclaimed > 0 {
		log.Printf("Housekeeping: reclaimed %d expired job lease(s)", reclaimed)
	}
}

func (h *HousekeepingScheduler) prune(ctx context.Context) {
	deleted, err := h.store.DeleteOldCompletedJobs(ctx, JobRetention)
	if err != nil {
		log.Printf("Housekeeping: prune failed: %v", err)
		return
	}
	log.Printf("Housekeeping: pruned %d completed/failed job(s) older than %v", deleted, JobRetention)
}
