package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opengate/opengate/internal/common/logger"
)

// DelivererConfig tunes the webhook pipeline.
type DelivererConfig struct {
	Workers     int
	Timeout     time.Duration
	MaxAttempts int
	QueueSize   int
}

func (c *DelivererConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

type deliveryJob struct {
	pending *PendingWebhook
	task    *TaskWebhook
}

// DeliveryRecorder counts finished deliveries by outcome.
type DeliveryRecorder interface {
	RecordWebhookDelivery(outcome string)
}

// Deliverer POSTs webhook payloads to agents with bounded retry. Delivery
// happens off the request path; a full queue drops the webhook rather than
// blocking the command that produced it.
type Deliverer struct {
	store   *Store
	cfg     DelivererConfig
	client  *http.Client
	queue   chan deliveryJob
	group   *errgroup.Group
	cancel  context.CancelFunc
	metrics DeliveryRecorder
	log     *logger.Logger
	backoff func(attempt int) time.Duration
}

// SetMetrics attaches a metrics recorder. Safe to skip in tests.
func (d *Deliverer) SetMetrics(m DeliveryRecorder) {
	d.metrics = m
}

func (d *Deliverer) recordOutcome(outcome string) {
	if d.metrics != nil {
		d.metrics.RecordWebhookDelivery(outcome)
	}
}

// NewDeliverer creates a stopped deliverer; call Start to launch workers.
func NewDeliverer(store *Store, cfg DelivererConfig, log *logger.Logger) *Deliverer {
	cfg.applyDefaults()
	return &Deliverer{
		store:  store,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		queue:  make(chan deliveryJob, cfg.QueueSize),
		log:    log,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
	}
}

// Start launches the worker pool. Workers drain the queue until Stop is
// called or the parent context is cancelled.
func (d *Deliverer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job, ok := <-d.queue:
					if !ok {
						return nil
					}
					d.run(ctx, job)
				}
			}
		})
	}
	d.log.Info("Webhook deliverer started", zap.Int("workers", d.cfg.Workers), zap.Int("max_attempts", d.cfg.MaxAttempts))
}

// Stop cancels workers and waits for in-flight deliveries to finish.
func (d *Deliverer) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.group != nil {
		_ = d.group.Wait()
	}
}

// Enqueue schedules notification webhooks for asynchronous delivery.
func (d *Deliverer) Enqueue(pending []*PendingWebhook) {
	for _, p := range pending {
		d.push(deliveryJob{pending: p})
	}
}

// EnqueueTask schedules a per-task webhook carrying the full task object.
func (d *Deliverer) EnqueueTask(tw *TaskWebhook) {
	if tw == nil || tw.WebhookURL == "" {
		return
	}
	d.push(deliveryJob{task: tw})
}

func (d *Deliverer) push(job deliveryJob) {
	select {
	case d.queue <- job:
	default:
		d.log.Warn("Webhook queue full, dropping delivery", zap.Int("queue_size", d.cfg.QueueSize))
	}
}

func (d *Deliverer) run(ctx context.Context, job deliveryJob) {
	switch {
	case job.pending != nil:
		d.deliverNotification(ctx, job.pending)
	case job.task != nil:
		d.deliverTask(ctx, job.task)
	}
}

// deliverNotification POSTs the notification envelope with retry. Any 2xx
// acks the notification; exhausting the attempts marks it failed but leaves
// it unread.
func (d *Deliverer) deliverNotification(ctx context.Context, p *PendingWebhook) {
	body, err := json.Marshal(map[string]any{
		"event":           "notification",
		"notification_id": p.NotificationID,
		"event_type":      p.EventType,
		"title":           p.Title,
		"body":            p.Body,
		"timestamp":       p.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		d.log.Error("Failed to marshal notification webhook", zap.Error(err))
		return
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		statusCode, err := d.post(ctx, p.WebhookURL, body)
		d.logAttempt(ctx, &DeliveryLog{
			AgentID:    p.AgentID,
			URL:        p.WebhookURL,
			EventType:  p.EventType,
			Attempt:    attempt,
			StatusCode: statusCode,
			Success:    err == nil,
			Error:      errString(err),
		})
		if err == nil {
			if markErr := d.store.MarkWebhookResult(ctx, p.NotificationID, true); markErr != nil {
				d.log.Error("Failed to mark webhook delivered", zap.Int64("notification_id", p.NotificationID), zap.Error(markErr))
			}
			d.recordOutcome("delivered")
			return
		}
		d.log.Warn("Notification webhook attempt failed",
			zap.Int64("notification_id", p.NotificationID),
			zap.String("agent_id", p.AgentID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < d.cfg.MaxAttempts && !d.sleep(ctx, d.backoff(attempt)) {
			break
		}
	}

	if err := d.store.MarkWebhookResult(ctx, p.NotificationID, false); err != nil {
		d.log.Error("Failed to mark webhook failed", zap.Int64("notification_id", p.NotificationID), zap.Error(err))
	}
	d.recordOutcome("failed")
}

// deliverTask POSTs the full task object with the same retry policy. Task
// webhooks have no inbox row to ack; outcomes live in the delivery log.
func (d *Deliverer) deliverTask(ctx context.Context, tw *TaskWebhook) {
	body, err := json.Marshal(map[string]any{
		"event":     tw.EventType,
		"task":      tw.Task,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		d.log.Error("Failed to marshal task webhook", zap.Error(err))
		return
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		statusCode, err := d.post(ctx, tw.WebhookURL, body)
		d.logAttempt(ctx, &DeliveryLog{
			AgentID:    tw.AgentID,
			URL:        tw.WebhookURL,
			EventType:  tw.EventType,
			TaskID:     tw.Task.ID,
			Attempt:    attempt,
			StatusCode: statusCode,
			Success:    err == nil,
			Error:      errString(err),
		})
		if err == nil {
			d.recordOutcome("delivered")
			return
		}
		d.log.Warn("Task webhook attempt failed",
			zap.String("task_id", tw.Task.ID),
			zap.String("agent_id", tw.AgentID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < d.cfg.MaxAttempts && !d.sleep(ctx, d.backoff(attempt)) {
			break
		}
	}
	d.recordOutcome("failed")
}

func (d *Deliverer) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Deliverer) logAttempt(ctx context.Context, entry *DeliveryLog) {
	if err := d.store.LogDelivery(ctx, entry); err != nil {
		d.log.Error("Failed to record webhook attempt", zap.Error(err))
	}
}

// sleep waits for the backoff duration; false means the context ended first.
func (d *Deliverer) sleep(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
