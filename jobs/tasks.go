package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueClose carries period-close tasks; it is drained ahead of QueueDefault.
	QueueClose = "ledger_close"
	// QueueDefault carries scans and everything else.
	QueueDefault = "default"
	// TaskPeriodClose closes ledger periods for one account or for all detail accounts.
	TaskPeriodClose = "ledger:period_close"
	// TaskGLIntegrity cross-checks general ledger lines against journal entries.
	TaskGLIntegrity = "ledger:gl_integrity"
)

// PeriodClosePayload selects the period to close. Empty bounds mean the
// previous calendar month relative to the worker clock; an empty account code
// closes every postable account.
type PeriodClosePayload struct {
	AccountCode string `json:"account_code,omitempty"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
	ActorID     int64  `json:"actor_id,omitempty"`
}

// GLIntegrityPayload bounds the integrity scan; empty bounds scan everything.
type GLIntegrityPayload struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// NewPeriodCloseTask creates an Asynq task for closing a period.
func NewPeriodCloseTask(payload PeriodClosePayload) (*asynq.Task, error) {
	if (payload.Start == "") != (payload.End == "") {
		return nil, fmt.Errorf("period close: start and end must be given together")
	}
	if payload.Start != "" {
		if _, _, err := parseBounds(payload.Start, payload.End); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPeriodClose, body, asynq.Queue(QueueClose), asynq.MaxRetry(3), asynq.Timeout(30*time.Minute)), nil
}

// NewGLIntegrityTask creates an Asynq task for the GL integrity scan.
func NewGLIntegrityTask(payload GLIntegrityPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1), asynq.Timeout(time.Hour)), nil
}

func parseDate(raw string) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", raw, err)
	}
	return d, nil
}

func parseBounds(start, end string) (time.Time, time.Time, error) {
	from, err := parseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("period end %s before start %s", end, start)
	}
	return from, to, nil
}

// previousMonth returns the first and last day of the month before now.
func previousMonth(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	firstOfThis := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfThis.AddDate(0, -1, 0), firstOfThis.AddDate(0, 0, -1)
}
