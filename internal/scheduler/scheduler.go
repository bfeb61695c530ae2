// Package scheduler runs the recurring payroll and maintenance jobs.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"payroll.service/internal/core"
	"payroll.service/internal/core/model"
)

// Scheduler wires the recovery jobs onto a cron runner. All jobs calculate
// and clean up; nothing here dispatches money, payouts always go through an
// employer's approval.
type Scheduler struct {
	cron     *cron.Cron
	recovery *core.RecoveryService
}

func New(recovery *core.RecoveryService) *Scheduler {
	return &Scheduler{cron: cron.New(), recovery: recovery}
}

// Register installs the job schedule:
// daily payroll shortly after midnight, weekly on Monday, monthly on the 1st,
// the stuck-payment sweep hourly and failed-payment cleanup nightly.
func (s *Scheduler) Register() error {
	jobs := []struct {
		spec string
		name string
		run  func(ctx context.Context) error
	}{
		{"10 0 * * *", "daily-payroll", func(ctx context.Context) error {
			return s.recovery.ProcessPayrollForCycle(ctx, model.CycleDaily)
		}},
		{"20 0 * * 1", "weekly-payroll", func(ctx context.Context) error {
			return s.recovery.ProcessPayrollForCycle(ctx, model.CycleWeekly)
		}},
		{"30 0 1 * *", "monthly-payroll", func(ctx context.Context) error {
			return s.recovery.ProcessPayrollForCycle(ctx, model.CycleMonthly)
		}},
		{"0 * * * *", "stuck-payment-sweep", func(ctx context.Context) error {
			_, err := s.recovery.CheckStuckPayments(ctx)
			return err
		}},
		{"45 2 * * *", "failed-payment-cleanup", func(ctx context.Context) error {
			_, err := s.recovery.CleanupOldFailedPayments(ctx)
			return err
		}},
	}

	for _, job := range jobs {
		job := job
		_, err := s.cron.AddFunc(job.spec, func() {
			ctx := context.Background()
			log.Info().Str("job", job.name).Msg("Scheduled job starting")
			if err := job.run(ctx); err != nil {
				log.Error().Err(err).Str("job", job.name).Msg("Scheduled job failed")
				return
			}
			log.Info().Str("job", job.name).Msg("Scheduled job finished")
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Start begins the schedule and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	log.Info().Msg("Scheduler stopped")
}
