// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/olegiv/ocms-workflow/internal/metrics"
	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/store"
)

// retryBatchSize caps how many stored deliveries one RetryPending call queues.
const retryBatchSize = 100

// Dispatcher records webhook deliveries and sends them from a worker pool.
// It implements workflow.Sink.
type Dispatcher struct {
	queries *store.Queries
	logger  *slog.Logger
	metrics *metrics.Metrics
	client  *http.Client
	now     func() time.Time

	queue   chan *QueuedDelivery
	workers int
	wg      sync.WaitGroup
	done    chan struct{}

	mu       sync.Mutex
	running  bool
	inflight map[int64]struct{}
}

// QueuedDelivery represents a delivery queued for processing.
type QueuedDelivery struct {
	DeliveryID int64
	WebhookID  int64
	Event      string
	Payload    []byte
	URL        string
	Secret     string
	Headers    map[string]string
}

// Config holds dispatcher configuration.
type Config struct {
	Workers   int // concurrent delivery workers
	QueueSize int
	// AllowPrivateNetworks disables the dial-time address guard.
	AllowPrivateNetworks bool
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Workers:   3,
		QueueSize: 100,
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records delivery outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock overrides the time source used for retry scheduling.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithHTTPClient replaces the outbound HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// NewDispatcher creates a new webhook dispatcher.
func NewDispatcher(db *sql.DB, logger *slog.Logger, cfg Config, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		queries:  store.New(db),
		logger:   logger,
		client:   newHTTPClient(cfg.AllowPrivateNetworks),
		now:      time.Now,
		queue:    make(chan *QueuedDelivery, cfg.QueueSize),
		workers:  cfg.Workers,
		done:     make(chan struct{}),
		inflight: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func newHTTPClient(allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if !allowPrivate {
		transport.DialContext = guardedDialContext(dialer)
	}
	return &http.Client{
		Timeout:   RequestTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return nil
		},
	}
}

// Start starts the dispatcher workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info("starting webhook dispatcher", "workers", d.workers)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Stop stops the dispatcher and waits for in-flight deliveries to finish.
// Queued but unsent deliveries stay pending in the database.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info("stopping webhook dispatcher")
	close(d.done)
	d.wg.Wait()
	d.logger.Info("webhook dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	d.logger.Debug("webhook worker started", "worker_id", id)

	for {
		select {
		case <-d.done:
			d.logger.Debug("webhook worker stopping", "worker_id", id)
			return
		case <-ctx.Done():
			d.logger.Debug("webhook worker context cancelled", "worker_id", id)
			return
		case qd := <-d.queue:
			d.processDelivery(ctx, qd)
			d.mu.Lock()
			delete(d.inflight, qd.DeliveryID)
			d.mu.Unlock()
		}
	}
}

// enqueue hands qd to the workers unless it is already queued or the queue
// is full. Deliveries that are not queued remain pending for RetryPending.
func (d *Dispatcher) enqueue(qd *QueuedDelivery) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return false
	}
	if _, ok := d.inflight[qd.DeliveryID]; ok {
		return false
	}
	select {
	case d.queue <- qd:
		d.inflight[qd.DeliveryID] = struct{}{}
		return true
	default:
		d.logger.Warn("delivery queue full, delivery will be retried later", "delivery_id", qd.DeliveryID)
		return false
	}
}

// Emit implements workflow.Sink.
func (d *Dispatcher) Emit(ctx context.Context, ev model.TransitionEvent) error {
	_, err := d.Dispatch(ctx, NewContentEvent(ev))
	return err
}

// Dispatch stores one delivery per subscribed webhook and queues them for
// sending. It returns the number of deliveries created.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) (int, error) {
	webhooks, err := d.queries.ListWebhooksForEvent(ctx, event.Type)
	if err != nil {
		return 0, fmt.Errorf("listing webhooks for %s: %w", event.Type, err)
	}
	if len(webhooks) == 0 {
		d.logger.Debug("no webhooks subscribed to event", "event_type", event.Type)
		return 0, nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("encoding %s payload: %w", event.Type, err)
	}

	created := 0
	for _, wh := range webhooks {
		// ListWebhooksForEvent matches with LIKE; confirm against the parsed list.
		if !webhookToModel(wh).HasEvent(event.Type) {
			continue
		}
		if _, err := d.deliver(ctx, wh, event, payload); err != nil {
			d.logger.Error("failed to create delivery record",
				"error", err,
				"webhook_id", wh.ID,
				"event_type", event.Type)
			continue
		}
		created++
	}

	return created, nil
}

// SendTest stores and queues a webhook.test delivery for one webhook,
// regardless of its event subscriptions. It returns the delivery ID.
func (d *Dispatcher) SendTest(ctx context.Context, webhookID int64) (int64, error) {
	wh, err := d.queries.GetWebhook(ctx, webhookID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("loading webhook %d: %w", webhookID, err)
	}

	event := NewEvent(model.EventWebhookTest, TestEventData{
		Message:   "Test delivery from ocms-workflow",
		Timestamp: d.now().UTC(),
	})
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("encoding test payload: %w", err)
	}
	return d.deliver(ctx, wh, event, payload)
}

// deliver records one pending delivery of payload to wh and queues it.
func (d *Dispatcher) deliver(ctx context.Context, wh store.Webhook, event *Event, payload []byte) (int64, error) {
	now := d.now()
	delivery, err := d.queries.CreateWebhookDelivery(ctx, store.CreateWebhookDeliveryParams{
		WebhookID: wh.ID,
		Event:     event.Type,
		Payload:   string(payload),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return 0, err
	}

	d.logger.Debug("webhook delivery created",
		"delivery_id", delivery.ID,
		"webhook_id", wh.ID,
		"webhook_name", wh.Name,
		"event_type", event.Type,
		"event_id", event.ID)

	d.enqueue(&QueuedDelivery{
		DeliveryID: delivery.ID,
		WebhookID:  wh.ID,
		Event:      event.Type,
		Payload:    payload,
		URL:        wh.Url,
		Secret:     wh.Secret,
		Headers:    webhookToModel(wh).GetHeaders(),
	})
	return delivery.ID, nil
}

// RetryPending queues stored deliveries that are pending or whose retry time
// has passed. It returns how many were queued.
func (d *Dispatcher) RetryPending(ctx context.Context) (int, error) {
	rows, err := d.queries.ListRetryableDeliveries(ctx, store.ListRetryableDeliveriesParams{
		Now:   d.now(),
		Limit: retryBatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("listing retryable deliveries: %w", err)
	}

	queued := 0
	for _, row := range rows {
		m := &model.Webhook{Headers: row.Headers}
		if d.enqueue(&QueuedDelivery{
			DeliveryID: row.ID,
			WebhookID:  row.WebhookID,
			Event:      row.Event,
			Payload:    []byte(row.Payload),
			URL:        row.Url,
			Secret:     row.Secret,
			Headers:    m.GetHeaders(),
		}) {
			queued++
		}
	}
	if queued > 0 {
		d.logger.Info("queued webhook retries", "count", queued)
	}
	return queued, nil
}

// GenerateSignature generates an HMAC-SHA256 signature for the payload.
func GenerateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies an HMAC-SHA256 signature.
func VerifySignature(payload []byte, signature, secret string) bool {
	expectedSig := GenerateSignature(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expectedSig))
}

func webhookToModel(wh store.Webhook) *model.Webhook {
	return &model.Webhook{
		ID:        wh.ID,
		Name:      wh.Name,
		URL:       wh.Url,
		Secret:    wh.Secret,
		Events:    wh.Events,
		Headers:   wh.Headers,
		IsActive:  wh.IsActive,
		CreatedAt: wh.CreatedAt,
		UpdatedAt: wh.UpdatedAt,
	}
}
