// Package refresher implements the Refresh Scheduler: a periodic
// background job that warms the Price Store for every actively held
// ticker. The cron wrapper is a thin layer over robfig/cron/v3 exposing
// the bare interfaces.Scheduler function-submission port the rest of the
// module is wired against.
package refresher

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/kdalton/tradesim/internal/common"
	"github.com/kdalton/tradesim/internal/interfaces"
)

// CronParser accepts standard 5-field cron expressions plus an optional
// leading seconds field, shared by the scheduler and the job's deadline
// computation so both read an expression identically.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronScheduler implements interfaces.Scheduler with robfig/cron/v3.
type CronScheduler struct {
	cron   *cron.Cron
	logger *common.Logger
}

// NewCronScheduler builds and starts a cron scheduler.
func NewCronScheduler(logger *common.Logger) *CronScheduler {
	s := &CronScheduler{
		cron:   cron.New(cron.WithParser(CronParser)),
		logger: logger,
	}
	s.cron.Start()
	return s
}

// Submit registers fn on the given cron expression, logging a debug line on
// each tick before fn runs. The returned cancel function removes the
// registration; it does not stop an already-running invocation.
func (s *CronScheduler) Submit(cronExpr string, fn func(ctx context.Context)) (func(), error) {
	id, err := s.cron.AddFunc(cronExpr, func() {
		s.logger.Debug().Str("schedule", cronExpr).Msg("refresh scheduler tick")
		fn(context.Background())
	})
	if err != nil {
		return nil, err
	}
	return func() { s.cron.Remove(id) }, nil
}

// Stop drains in-flight jobs and stops the underlying cron instance.
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

var _ interfaces.Scheduler = (*CronScheduler)(nil)
