package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spacehub/spacehub-api/models"
	"github.com/spacehub/spacehub-api/services"
)

const sweepBatch = 50

type StaleSweeper interface {
	Stale(ctx context.Context, minAge time.Duration, limit int) ([]models.Enrollment, error)
	Sweep(ctx context.Context, enrollment models.Enrollment) (*services.VerificationResult, error)
}

// ReconcileJob re-verifies enrollments stuck in AWAITING_CONFIRMATION,
// covering webhooks that never arrived.
type ReconcileJob struct {
	sweeper StaleSweeper
	minAge  time.Duration
	logger  *slog.Logger
}

func NewReconcileJob(sweeper StaleSweeper, minAge time.Duration, logger *slog.Logger) *ReconcileJob {
	return &ReconcileJob{sweeper: sweeper, minAge: minAge, logger: logger}
}

// Schedule registers the job on c. An empty spec leaves the sweep off.
func (j *ReconcileJob) Schedule(ctx context.Context, c *cron.Cron, spec string) error {
	if spec == "" {
		j.logger.Info("reconciliation sweep disabled")
		return nil
	}
	if _, err := c.AddFunc(spec, func() { j.Run(ctx) }); err != nil {
		return err
	}
	j.logger.Info("reconciliation sweep scheduled", "spec", spec, "min_age", j.minAge)
	return nil
}

// Run sweeps one batch and returns how many enrollments reached a terminal
// state.
func (j *ReconcileJob) Run(ctx context.Context) int {
	stale, err := j.sweeper.Stale(ctx, j.minAge, sweepBatch)
	if err != nil {
		j.logger.ErrorContext(ctx, "reconciliation sweep failed to list enrollments", "error", err)
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	settled := 0
	for _, enrollment := range stale {
		if ctx.Err() != nil {
			break
		}
		result, err := j.sweeper.Sweep(ctx, enrollment)
		if err != nil {
			j.logger.WarnContext(ctx, "reconciliation sweep skipped enrollment",
				"enrollment_id", enrollment.ID,
				"error", err,
			)
			continue
		}
		if result.State == models.StateConfirmed || result.State == models.StateRejected {
			settled++
		}
	}

	j.logger.InfoContext(ctx, "reconciliation sweep finished", "checked", len(stale), "settled", settled)
	return settled
}
