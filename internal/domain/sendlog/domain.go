package sendlog

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable audit row, appended for every email send
// attempt regardless of outcome. Separate from the mutable delivery row.
type Entry struct {
	ID         int64
	DeliveryID uuid.UUID
	To         string
	Subject    string
	OK         bool
	Error      string
	SentAt     time.Time
}
