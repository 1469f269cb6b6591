// Package loops runs the engine's periodic maintenance: the stale-assignee
// reaper and the scheduled-task promoter.
package loops

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/opengate/opengate/internal/common/logger"
	taskservice "github.com/opengate/opengate/internal/task/service"
)

// Config tunes the loop cadence. Zero values take the defaults.
type Config struct {
	Interval  time.Duration
	ReapGrace time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.ReapGrace < 0 {
		c.ReapGrace = 0
	}
}

// DefaultReapGrace holds the reaper back after startup so a fleet
// reconnecting after a restart is not mass-released.
const DefaultReapGrace = 5 * time.Minute

// Runner schedules the background loops on a shared cron scheduler.
type Runner struct {
	tasks     *taskservice.Service
	cron      *cron.Cron
	cfg       Config
	startedAt time.Time
	log       *logger.Logger
}

// New wires the loop runner.
func New(tasks *taskservice.Service, cfg Config, log *logger.Logger) *Runner {
	cfg.applyDefaults()
	return &Runner{
		tasks: tasks,
		cron:  cron.New(),
		cfg:   cfg,
		log:   log.WithComponent("loops"),
	}
}

// Start registers the loops and launches the scheduler. ctx bounds each
// tick's store work.
func (r *Runner) Start(ctx context.Context) error {
	r.startedAt = time.Now()

	spec := "@every " + r.cfg.Interval.String()
	if _, err := r.cron.AddFunc(spec, func() { r.reapTick(ctx) }); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc(spec, func() { r.promoteTick(ctx) }); err != nil {
		return err
	}

	r.cron.Start()
	r.log.Info("Background loops started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("reap_grace", r.cfg.ReapGrace))
	return nil
}

// Stop halts the scheduler and waits for a running tick to finish.
func (r *Runner) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.log.Info("Background loops stopped")
}

// reapTick releases tasks held by silent agents. The startup grace keeps a
// freshly restarted server from reaping agents that have not had a chance
// to heartbeat yet.
func (r *Runner) reapTick(ctx context.Context) {
	if time.Since(r.startedAt) < r.cfg.ReapGrace {
		return
	}
	released, err := r.tasks.ReleaseStale(ctx)
	if err != nil {
		r.log.Error("Stale release sweep failed", zap.Error(err))
		return
	}
	if released > 0 {
		r.log.Info("Stale release sweep finished", zap.Int("released", released))
	}
}

// promoteTick moves due scheduled tasks from backlog to todo.
func (r *Runner) promoteTick(ctx context.Context) {
	promoted, err := r.tasks.PromoteScheduled(ctx)
	if err != nil {
		r.log.Error("Scheduled promotion sweep failed", zap.Error(err))
		return
	}
	if promoted > 0 {
		r.log.Info("Scheduled promotion sweep finished", zap.Int("promoted", promoted))
	}
}
