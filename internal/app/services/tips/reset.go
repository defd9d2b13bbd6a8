package tips

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/pledgeworks/celebrate/internal/app/domain/compliance"
	"github.com/pledgeworks/celebrate/internal/app/storage"
	"github.com/pledgeworks/celebrate/internal/app/system"
	"github.com/pledgeworks/celebrate/pkg/logger"
)

// ResetScheduler clears every donor's sticky tip-limit flag at the
// calendar-year boundary (midnight Eastern, January 1). There is no
// mid-year reset.
type ResetScheduler struct {
	donors storage.DonorStore
	cron   *cron.Cron
	log    *logger.Logger
}

var _ system.Service = (*ResetScheduler)(nil)

// NewResetScheduler builds the annual reset job. The cron runner is pinned
// to the Eastern civil timezone so the reset fires at the correct
// wall-clock hour regardless of deployment region.
func NewResetScheduler(donors storage.DonorStore, log *logger.Logger) *ResetScheduler {
	if log == nil {
		log = logger.NewDefault("tip-limit-reset")
	}
	return &ResetScheduler{
		donors: donors,
		cron:   cron.New(cron.WithLocation(compliance.Eastern())),
		log:    log,
	}
}

func (r *ResetScheduler) Name() string { return "tip-limit-reset" }

// Start schedules the reset job and begins the cron runner.
func (r *ResetScheduler) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc("0 0 1 1 *", func() {
		r.Run(context.Background())
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info("annual tip-limit reset scheduled")
	return nil
}

// Stop halts the cron runner, waiting for a running job to finish.
func (r *ResetScheduler) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run performs one reset pass. Exported so operators can trigger it
// manually after a data correction.
func (r *ResetScheduler) Run(ctx context.Context) {
	cleared, err := r.donors.ClearTipLimitFlags(ctx)
	if err != nil {
		r.log.WithError(err).Error("clear tip-limit flags failed")
		return
	}
	r.log.Infof("cleared tip-limit flag for %d donors", cleared)
}
