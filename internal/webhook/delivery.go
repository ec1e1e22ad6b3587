// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package webhook

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/olegiv/ocms-workflow/internal/model"
	"github.com/olegiv/ocms-workflow/internal/store"
)

// Delivery limits.
const (
	MaxAttempts    = 5
	InitialBackoff = time.Minute
	MaxBackoff     = 24 * time.Hour
	RequestTimeout = 30 * time.Second
	maxStoredBody  = 10 << 10
	userAgent      = "ocms-workflow-webhook/1"
)

// Request headers set on every delivery.
const (
	HeaderSignature  = "X-Webhook-Signature"
	HeaderEvent      = "X-Webhook-Event"
	HeaderDeliveryID = "X-Webhook-Delivery-ID"
)

// outcome classifies one HTTP attempt.
type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRetry
	outcomePermanent
)

// attempt is the result of posting one delivery.
type attempt struct {
	outcome outcome
	code    int
	body    string
	err     error
}

// processDelivery posts one queued delivery and persists the result. A
// delivery ends delivered, failed with a retry time, or dead once
// MaxAttempts is reached or the endpoint rejects it permanently.
func (d *Dispatcher) processDelivery(ctx context.Context, qd *QueuedDelivery) {
	log := d.logger.With("delivery_id", qd.DeliveryID, "webhook_id", qd.WebhookID)

	rec, err := d.queries.GetWebhookDelivery(ctx, qd.DeliveryID)
	if err != nil {
		log.Error("failed to load delivery", "error", err)
		return
	}
	if rec.Status == model.DeliveryStatusDelivered || rec.Status == model.DeliveryStatusDead {
		log.Debug("delivery already settled", "status", rec.Status)
		return
	}

	a := d.post(ctx, qd)
	now := d.now()
	attempts := rec.Attempts + 1

	status := model.DeliveryStatusFailed
	switch {
	case a.outcome == outcomeDelivered:
		status = model.DeliveryStatusDelivered
		err = d.queries.UpdateDeliverySuccess(ctx, store.UpdateDeliverySuccessParams{
			ResponseCode: sql.NullInt64{Int64: int64(a.code), Valid: true},
			ResponseBody: sql.NullString{String: a.body, Valid: true},
			DeliveredAt:  sql.NullTime{Time: now, Valid: true},
			UpdatedAt:    now,
			ID:           qd.DeliveryID,
		})
	case a.outcome == outcomePermanent || attempts >= MaxAttempts:
		status = model.DeliveryStatusDead
		err = d.queries.UpdateDeliveryDead(ctx, store.UpdateDeliveryDeadParams{
			ErrorMessage: nullString(errText(a.err)),
			UpdatedAt:    now,
			ID:           qd.DeliveryID,
		})
	default:
		next := now.Add(calculateBackoff(attempts))
		err = d.queries.UpdateDeliveryRetry(ctx, store.UpdateDeliveryRetryParams{
			ResponseCode: sql.NullInt64{Int64: int64(a.code), Valid: a.code > 0},
			ResponseBody: nullString(a.body),
			ErrorMessage: nullString(errText(a.err)),
			NextRetryAt:  sql.NullTime{Time: next, Valid: true},
			UpdatedAt:    now,
			ID:           qd.DeliveryID,
		})
		log = log.With("next_retry_at", next.Format(time.RFC3339))
	}
	if err != nil {
		log.Error("failed to record delivery result", "status", status, "error", err)
		return
	}

	d.metrics.WebhookDelivery(status)
	switch status {
	case model.DeliveryStatusDelivered:
		log.Info("webhook delivered", "status_code", a.code)
	case model.DeliveryStatusDead:
		log.Warn("webhook delivery dead", "attempts", attempts, "reason", errText(a.err))
	default:
		log.Info("webhook delivery will be retried", "attempt", attempts, "reason", errText(a.err))
	}
}

// post sends the signed payload. Transport errors, 5xx, 408 and 429 are
// retryable; any other non-2xx status is permanent.
func (d *Dispatcher) post(ctx context.Context, qd *QueuedDelivery) attempt {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, qd.URL, bytes.NewReader(qd.Payload))
	if err != nil {
		return attempt{outcome: outcomePermanent, err: fmt.Errorf("building request: %w", err)}
	}

	// Subscriber headers go first so the signed headers always win.
	for k, v := range qd.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, GenerateSignature(qd.Payload, qd.Secret))
	req.Header.Set(HeaderEvent, qd.Event)
	req.Header.Set(HeaderDeliveryID, strconv.FormatInt(qd.DeliveryID, 10))

	resp, err := d.client.Do(req)
	if err != nil {
		return attempt{outcome: outcomeRetry, err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxStoredBody))
	a := attempt{code: resp.StatusCode, body: string(raw)}

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		a.outcome = outcomeDelivered
		return a
	case code >= 500, code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		a.outcome = outcomeRetry
	default:
		a.outcome = outcomePermanent
	}
	a.err = fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return a
}

// calculateBackoff doubles InitialBackoff for each attempt after the first,
// capped at MaxBackoff.
func calculateBackoff(attempts int64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 20 {
		return MaxBackoff
	}
	return min(InitialBackoff<<(attempts-1), MaxBackoff)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
