package accounting

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Event types emitted after a posting commits.
const (
	EventPostingCreated = "ledger.posting.created"
	EventPostingVoided  = "ledger.posting.voided"
)

// EventLine is the wire view of one journal line.
type EventLine struct {
	AccountCode string   `json:"account_code"`
	Position    Position `json:"position"`
	Amount      string   `json:"amount"`
}

// PostingEvent notifies downstream consumers about committed ledger changes.
type PostingEvent struct {
	Type            string      `json:"type"`
	PostingID       uuid.UUID   `json:"posting_id"`
	ReversalOf      *uuid.UUID  `json:"reversal_of,omitempty"`
	TransactionDate time.Time   `json:"transaction_date"`
	ReferenceNumber string      `json:"reference_number,omitempty"`
	SourceModule    string      `json:"source_module,omitempty"`
	SourceRef       string      `json:"source_ref,omitempty"`
	Lines           []EventLine `json:"lines,omitempty"`
	OccurredAt      time.Time   `json:"occurred_at"`
}

// EventPublisher delivers posting events. Delivery happens after commit, so a
// failure never rolls back the posting.
type EventPublisher interface {
	Publish(ctx context.Context, evt PostingEvent) error
}
