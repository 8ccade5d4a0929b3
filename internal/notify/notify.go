// Package notify delivers decision events to configured webhook
// endpoints. Delivery is fire-and-forget with bounded retries: a slow or
// failing endpoint never blocks the decision path.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Event types dispatched by the engine's decision hook.
const (
	EventAccessDenied = "access.denied"
	EventHighRisk     = "access.high_risk"
)

// highRiskThreshold is the risk score at or above which an allowed
// decision still dispatches an access.high_risk event.
const highRiskThreshold = 0.7

// Event is the webhook payload.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Dispatcher POSTs decision events to a fixed set of endpoint URLs,
// signing each body with HMAC-SHA256 over a shared secret.
type Dispatcher struct {
	endpoints  []string
	secret     string
	httpClient *http.Client
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// NewDispatcher creates a Dispatcher. With no endpoints it is inert.
func NewDispatcher(endpoints []string, secret string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		endpoints:  endpoints,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

// Dispatch fans an event out to every endpoint in the background.
func (d *Dispatcher) Dispatch(eventType string, payload map[string]string) {
	if len(d.endpoints) == 0 {
		return
	}
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	for _, url := range d.endpoints {
		go d.deliver(url, event)
	}
}

// ShouldNotify reports whether a decision warrants an event, and which.
func ShouldNotify(allowed bool, riskScore float64) (string, bool) {
	if !allowed {
		return EventAccessDenied, true
	}
	if riskScore >= highRiskThreshold {
		return EventHighRisk, true
	}
	return "", false
}

// deliver sends the event to a single endpoint with retries
// (1s, 5s backoff between attempts).
func (d *Dispatcher) deliver(url string, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("notify: marshal event", zap.Error(err))
		return
	}
	signature := sign(body, d.secret)

	delays := []time.Duration{0, 1 * time.Second, 5 * time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		time.Sleep(delays[attempt-1])

		success, errMsg := d.doDelivery(url, body, signature)
		if d.onMetrics != nil {
			d.onMetrics(success)
		}
		if success {
			return
		}
		d.logger.Warn("notify: delivery failed",
			zap.String("url", url),
			zap.String("event", event.Type),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

// doDelivery performs a single HTTP POST.
func (d *Dispatcher) doDelivery(url string, body []byte, signature string) (bool, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gatewise-Signature", signature)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, ""
	}
	return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// sign computes an HMAC-SHA256 signature over the body.
func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
