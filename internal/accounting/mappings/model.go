package mappings

import "time"

// AccountMapping links integration keys to ledger account codes.
type AccountMapping struct {
	Module      string
	Key         string
	AccountCode string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
