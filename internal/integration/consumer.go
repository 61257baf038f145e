package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Event types accepted from upstream modules.
const (
	EventInvoiceIssued   = "invoice.issued"
	EventPaymentReceived = "payment.received"
	EventPayrollAccrued  = "payroll.accrued"
)

// Envelope wraps an upstream event on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var (
	// ErrUnknownEvent marks envelopes whose type has no hook.
	ErrUnknownEvent = errors.New("integration: unknown event type")
	// ErrMalformedEvent marks payloads that do not decode.
	ErrMalformedEvent = errors.New("integration: malformed event")
)

// Dispatch decodes env and runs the matching hook.
func (h *Hooks) Dispatch(ctx context.Context, env Envelope) error {
	switch env.Type {
	case EventInvoiceIssued:
		var evt InvoiceIssuedEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		return h.HandleInvoiceIssued(ctx, evt)
	case EventPaymentReceived:
		var evt PaymentReceivedEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		return h.HandlePaymentReceived(ctx, evt)
	case EventPayrollAccrued:
		var evt PayrollAccruedEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		return h.HandlePayrollAccrued(ctx, evt)
	}
	return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewReader builds a consumer-group reader for upstream events.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
}

// maxRetryDelay caps the pause between dispatch attempts of one event.
const maxRetryDelay = 30 * time.Second

// rejected reports whether err condemns the event itself, so redelivering it
// would fail the same way.
func rejected(err error) bool {
	if errors.Is(err, ErrUnknownEvent) || errors.Is(err, ErrMalformedEvent) {
		return true
	}
	switch accounting.KindOf(err) {
	case accounting.KindValidation, accounting.KindNotFound, accounting.KindIntegrity:
		return true
	}
	return false
}

// Consume feeds messages from r into the hooks until ctx ends. Every message
// is committed once handled. Rejected events are logged with their payload and
// committed so they do not block the partition; any other failure is retried
// on the same message with backoff, keeping partition order.
func (h *Hooks) Consume(ctx context.Context, r messageReader) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := h.handle(ctx, msg); err != nil {
			return nil
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// handle only fails when ctx ends.
func (h *Hooks) handle(ctx context.Context, msg kafka.Message) error {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		h.logger.ErrorContext(ctx, "integration message rejected",
			slog.Int64("offset", msg.Offset),
			slog.String("payload", string(msg.Value)),
			slog.Any("error", err))
		return nil
	}
	delay := h.retryDelay
	if delay <= 0 {
		delay = time.Second
	}
	for attempt := 1; ; attempt++ {
		err := h.Dispatch(ctx, env)
		if err == nil {
			return nil
		}
		if rejected(err) {
			h.logger.ErrorContext(ctx, "integration event rejected",
				slog.Int64("offset", msg.Offset),
				slog.String("type", env.Type),
				slog.String("payload", string(env.Payload)),
				slog.Any("error", err))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.logger.WarnContext(ctx, "integration event failed",
			slog.Int64("offset", msg.Offset),
			slog.String("type", env.Type),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.Any("error", err))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, maxRetryDelay)
	}
}
