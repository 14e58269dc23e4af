package app

import (
	"context"

	pkgcron "github.com/mx-space/portal/internal/pkg/cron"
)

// registerCronJobs registers the background sweeps. The stale upload sweep
// needs the ledger and is skipped when the database is disabled.
func (a *App) registerCronJobs() {
	cronLogger := a.logger.Named("CronService")
	sessions := a.cfg.Sessions

	a.sched.Register(pkgcron.Job{
		Name:        "sweep_idle_sessions",
		Description: "Close form sessions whose lease lapsed and delete their uploads",
		Interval:    sessions.SweepInterval(),
		Fn: func(ctx context.Context) (int, error) {
			return a.sessions.SweepIdle(ctx), nil
		},
	})

	if a.ledger == nil {
		return
	}
	// Uploads orphaned by a crash are only known to the ledger, so the first
	// pass runs at boot.
	a.sched.Register(pkgcron.Job{
		Name:        "sweep_stale_uploads",
		Description: "Delete uploads left behind by sessions that never finished, every " + humanizeDuration(sessions.StaleSweepInterval()),
		Interval:    sessions.StaleSweepInterval(),
		RunAtStart:  true,
		Fn: func(ctx context.Context) (int, error) {
			return a.ledger.SweepStale(ctx, sessions.StaleUploadAfter(), a.sessions.Live, a.gateway, cronLogger)
		},
	})
}
