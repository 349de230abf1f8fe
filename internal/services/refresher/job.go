package refresher

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kdalton/tradesim/internal/common"
	"github.com/kdalton/tradesim/internal/interfaces"
	"github.com/kdalton/tradesim/internal/models"
)

// Config tunes the refresh job.
type Config struct {
	// CronExpr is a standard cron expression, with an optional leading
	// seconds field. Default: daily at 00:00 UTC.
	CronExpr string
	// LookbackWindow bounds how recently a ticker must have appeared in a
	// non-zero holding to count as active.
	LookbackWindow time.Duration
	// WaitDeadlineSlack is how far before the next scheduled tick the
	// per-ticker rate-limiter wait deadline is set.
	WaitDeadlineSlack time.Duration
}

// DefaultConfig returns the production defaults: a daily midnight-UTC run
// over a 30-day activity window.
func DefaultConfig() Config {
	return Config{
		CronExpr:          "0 0 * * *",
		LookbackWindow:    30 * 24 * time.Hour,
		WaitDeadlineSlack: 5 * time.Minute,
	}
}

// Status is the job's run state. It is observable for diagnostics but not
// authoritative; the warm store itself is the record of what got refreshed.
type Status struct {
	Running     bool
	LastRunAt   time.Time
	LastSuccess map[models.Ticker]time.Time
	LastError   map[models.Ticker]string
}

// Job is the Refresh Scheduler: on each tick it lists actively held
// tickers and warms the Market-Data Engine's cache for each, isolating
// per-ticker failures and allowing only one run at a time.
type Job struct {
	priceStore interfaces.PriceRepository
	engine     interfaces.MarketDataEngine
	limiter    interfaces.RateLimiter
	clock      common.Clock
	logger     *common.Logger
	cfg        Config
	schedule   cron.Schedule

	mu          sync.Mutex
	running     bool
	lastRunAt   time.Time
	lastSuccess map[models.Ticker]time.Time
	lastError   map[models.Ticker]string
}

// New builds a refresh job. An invalid cfg.CronExpr falls back to
// DefaultConfig's.
func New(priceStore interfaces.PriceRepository, engine interfaces.MarketDataEngine, limiter interfaces.RateLimiter, clock common.Clock, logger *common.Logger, cfg Config) *Job {
	if cfg.CronExpr == "" {
		cfg.CronExpr = DefaultConfig().CronExpr
	}
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = DefaultConfig().LookbackWindow
	}
	if cfg.WaitDeadlineSlack <= 0 {
		cfg.WaitDeadlineSlack = DefaultConfig().WaitDeadlineSlack
	}

	schedule, err := CronParser.Parse(cfg.CronExpr)
	if err != nil {
		logger.Warn().Err(err).Str("cron", cfg.CronExpr).Msg("invalid refresh cron expression, falling back to daily default")
		cfg.CronExpr = DefaultConfig().CronExpr
		schedule, _ = CronParser.Parse(cfg.CronExpr)
	}

	return &Job{
		priceStore:  priceStore,
		engine:      engine,
		limiter:     limiter,
		clock:       clock,
		logger:      logger,
		cfg:         cfg,
		schedule:    schedule,
		lastSuccess: make(map[models.Ticker]time.Time),
		lastError:   make(map[models.Ticker]string),
	}
}

// Register submits the job on its configured cron expression.
func (j *Job) Register(scheduler interfaces.Scheduler) (cancel func(), err error) {
	return scheduler.Submit(j.cfg.CronExpr, j.Run)
}

// Run executes one refresh pass, refusing to overlap a run already in
// flight.
func (j *Job) Run(ctx context.Context) {
	if !j.tryStart() {
		j.logger.Debug().Msg("refresh run already in progress, skipping tick")
		return
	}
	defer j.finish()

	now := j.clock.Now()
	j.mu.Lock()
	j.lastRunAt = now
	j.mu.Unlock()

	tickers, err := j.priceStore.ListActiveTickers(ctx, j.cfg.LookbackWindow)
	if err != nil {
		j.logger.Error().Err(err).Msg("refresh run: failed to list active tickers")
		return
	}

	deadline := j.nextDeadline(now)
	j.logger.Info().Int("tickers", len(tickers)).Str("deadline", deadline.Format(time.RFC3339)).Msg("refresh run starting")

	for _, ticker := range tickers {
		j.refreshOne(ctx, ticker, deadline)
	}

	j.logger.Info().Int("tickers", len(tickers)).Msg("refresh run complete")
}

// refreshOne isolates a single ticker's failure from the rest of the run.
func (j *Job) refreshOne(ctx context.Context, ticker models.Ticker, deadline time.Time) {
	if err := j.limiter.WaitAcquire(ctx, deadline); err != nil {
		j.recordError(ticker, err)
		j.logger.Warn().Err(err).Str("ticker", ticker.String()).Msg("refresh run: rate budget exhausted before deadline, skipping ticker")
		return
	}

	if _, err := j.engine.GetCurrentPrice(ctx, ticker); err != nil {
		j.recordError(ticker, err)
		j.logger.Warn().Err(err).Str("ticker", ticker.String()).Msg("refresh run: failed to refresh ticker")
		return
	}

	j.mu.Lock()
	j.lastSuccess[ticker] = j.clock.Now()
	delete(j.lastError, ticker)
	j.mu.Unlock()
}

func (j *Job) recordError(ticker models.Ticker, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastError[ticker] = err.Error()
}

func (j *Job) nextDeadline(now time.Time) time.Time {
	return j.schedule.Next(now).Add(-j.cfg.WaitDeadlineSlack)
}

func (j *Job) tryStart() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return false
	}
	j.running = true
	return true
}

func (j *Job) finish() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = false
}

// Status returns a snapshot of the job's observable run state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	success := make(map[models.Ticker]time.Time, len(j.lastSuccess))
	for k, v := range j.lastSuccess {
		success[k] = v
	}
	errs := make(map[models.Ticker]string, len(j.lastError))
	for k, v := range j.lastError {
		errs[k] = v
	}
	return Status{
		Running:     j.running,
		LastRunAt:   j.lastRunAt,
		LastSuccess: success,
		LastError:   errs,
	}
}
