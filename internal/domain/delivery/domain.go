package delivery

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/farmflow/notify/internal/domain/webhook"
)

// ErrNotCancellable means the row was not in pending state; cancelled is
// reachable only from pending.
var ErrNotCancellable = errors.New("delivery not cancellable")

// Status is the lifecycle state of a queued delivery.
// pending/retrying rows are eligible for a claim; success, failed and
// cancelled are terminal. cancelled is reachable only from pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusRetrying  Status = "retrying"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// WebhookDelivery is one unit of outbound webhook work. Registration is
// populated on claimed rows (joined from the active registration) so the
// worker can dispatch without a second lookup.
type WebhookDelivery struct {
	ID             uuid.UUID
	RegistrationID uuid.UUID
	Event          string
	Payload        []byte
	Status         Status
	Attempts       int
	MaxAttempts    int
	NextAttemptAt  time.Time
	ResponseStatus *int
	ResponseBody   *string
	LastError      *string
	CreatedAt      time.Time
	DeliveredAt    *time.Time

	Registration *webhook.Registration
}

// EmailDelivery is one unit of outbound email work. When TemplateKey is
// set, Subject/HTMLBody/TextBody are empty and the worker renders them at
// claim time from TemplateVars.
type EmailDelivery struct {
	ID           uuid.UUID
	To           string
	CC           []string
	BCC          []string
	TemplateKey  string
	TemplateVars map[string]any
	Subject      string
	HTMLBody     string
	TextBody     string
	Priority     int
	Status       Status
	Attempts     int
	MaxAttempts  int
	LastError    *string
	CreatedAt    time.Time
	DeliveredAt  *time.Time
}

// Exhausted reports whether the post-increment attempt count has reached
// the ceiling, making the next failure terminal.
func (d *WebhookDelivery) Exhausted() bool { return d.Attempts >= d.MaxAttempts }

func (d *EmailDelivery) Exhausted() bool { return d.Attempts >= d.MaxAttempts }
