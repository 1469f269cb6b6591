package bridge

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opengate/opengate/internal/common/logger"
)

// Bridge runs one poller goroutine per configured agent. Each poller
// owns its heartbeat and wake cycle, so at most one wake is in flight
// per agent at any time.
type Bridge struct {
	cfg *Config
	log *logger.Logger
}

// New validates nothing further; LoadConfig already did.
func New(cfg *Config, log *logger.Logger) *Bridge {
	return &Bridge{cfg: cfg, log: log.WithComponent("bridge")}
}

// Run blocks until ctx is cancelled or an agent's key cannot be loaded.
func (b *Bridge) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := range b.cfg.Agents {
		agent := &b.cfg.Agents[i]
		key, err := agent.Key()
		if err != nil {
			return err
		}
		p := &poller{
			cfg:    agent,
			client: NewClient(b.cfg.Server.URL, key),
			waker:  NewWaker(agent),
			log:    b.log.WithFields(zap.String("agent", agent.Name)),
		}
		group.Go(func() error {
			p.run(ctx, b.cfg.Server.HeartbeatInterval(), b.cfg.Server.PollInterval())
			return nil
		})
	}
	b.log.Info("Bridge started",
		zap.Int("agents", len(b.cfg.Agents)),
		zap.String("server", b.cfg.Server.URL))
	return group.Wait()
}

// poller is the per-agent loop: heartbeat on one ticker, notification
// poll plus wake on another.
type poller struct {
	cfg    *AgentConfig
	client *Client
	waker  Waker
	log    *logger.Logger
}

func (p *poller) run(ctx context.Context, heartbeatEvery, pollEvery time.Duration) {
	// Prime the heartbeat so the server marks the agent online before
	// the first tick.
	p.heartbeat(ctx)

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()
	poll := time.NewTicker(pollEvery)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Poller stopped")
			return
		case <-heartbeat.C:
			p.heartbeat(ctx)
		case <-poll.C:
			p.poll(ctx)
		}
	}
}

func (p *poller) heartbeat(ctx context.Context) {
	if err := p.client.Heartbeat(ctx); err != nil {
		p.log.Warn("Heartbeat failed", zap.Error(err))
	}
}

// poll checks for unread notifications and, if any exist, runs the wake
// to completion. The wake is awaited, bounded by the configured timeout;
// a failure is logged and the whole cycle retries on the next tick.
func (p *poller) poll(ctx context.Context) {
	notifs, err := p.client.UnreadNotifications(ctx)
	if err != nil {
		p.log.Warn("Notification poll failed", zap.Error(err))
		return
	}
	if len(notifs) == 0 {
		return
	}

	summary := renderSummary(p.cfg.Name, notifs)
	wakeCtx, cancel := context.WithTimeout(ctx, p.cfg.WakeTimeout())
	defer cancel()

	if err := p.waker.Wake(wakeCtx, summary); err != nil {
		p.log.Warn("Wake failed, will retry next poll",
			zap.String("mode", string(p.cfg.WakeMode)),
			zap.Int("unread", summary.Unread),
			zap.Error(err))
		return
	}
	p.log.Info("Agent woken",
		zap.String("mode", string(p.cfg.WakeMode)),
		zap.Int("unread", summary.Unread))
}
