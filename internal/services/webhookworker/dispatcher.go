package webhookworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/farmflow/notify/internal/domain/webhook"
	"github.com/farmflow/notify/internal/signature"
)

const (
	headerSignature = "X-Webhook-Signature"
	headerEvent     = "X-Webhook-Event"
)

// Envelope is the wire format. The signature covers the exact marshaled
// bytes; receivers must verify against the raw request body.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Result is the raw outcome of one dispatch attempt. StatusCode is 0
// when no response was received at all.
type Result struct {
	StatusCode int
	Body       string
	Err        error
}

func (r Result) Success() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Transient reports whether the failure is worth another pass: transport
// errors, 5xx, and the two 4xx codes that signal pressure rather than a
// broken registration (408, 429). Any other response is permanent.
func (r Result) Transient() bool {
	if r.Err != nil {
		return true
	}
	if r.StatusCode >= 500 {
		return true
	}
	return r.StatusCode == http.StatusRequestTimeout || r.StatusCode == http.StatusTooManyRequests
}

// ErrorString is the diagnostic persisted as last_error.
func (r Result) ErrorString() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return fmt.Sprintf("unexpected status %d", r.StatusCode)
}

type DispatcherConfig struct {
	UserAgent        string        `mapstructure:"user_agent"`
	DefaultTimeout   time.Duration `mapstructure:"default_timeout"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
}

type Dispatcher struct {
	client *http.Client
	cfg    DispatcherConfig
	log    *zap.Logger
	now    func() time.Time
}

func NewDispatcher(client *http.Client, cfg DispatcherConfig, log *zap.Logger) *Dispatcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "farmflow-notify/1.0"
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 2048
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		client: client,
		cfg:    cfg,
		log:    log.With(zap.String("component", "webhook.dispatcher")),
		now:    time.Now,
	}
}

// WithClock replaces the timestamp source, for tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch marshals the envelope once, signs those exact bytes, and
// POSTs them with the registration's headers and timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, reg *webhook.Registration, event string, payload json.RawMessage) Result {
	body, err := json.Marshal(Envelope{
		Event:     event,
		Timestamp: d.now().UTC().Format(time.RFC3339),
		Data:      payload,
	})
	if err != nil {
		return Result{Err: fmt.Errorf("marshal envelope: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, reg.Timeout(d.cfg.DefaultTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reg.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set(headerSignature, signature.Sign(reg.Secret, body))
	req.Header.Set(headerEvent, event)
	for k, v := range reg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()

	truncated, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxResponseBytes))
	if err != nil {
		return Result{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	return Result{StatusCode: resp.StatusCode, Body: string(truncated)}
}

// TestDelivery sends one synthetic, signed event outside the queue.
// Nothing is persisted; the raw outcome goes back to the caller.
func (d *Dispatcher) TestDelivery(ctx context.Context, reg *webhook.Registration) Result {
	payload, err := json.Marshal(map[string]any{
		"registration_id": reg.ID.String(),
		"name":            reg.Name,
		"message":         "test delivery from farmflow",
	})
	if err != nil {
		return Result{Err: err}
	}
	return d.Dispatch(ctx, reg, "webhook.test", payload)
}
