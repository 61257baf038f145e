package shared

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// AccountLockKey maps an account id onto the bigint keyspace of Postgres advisory locks.
func AccountLockKey(id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("ledger:account:"))
	_, _ = h.Write(id[:])
	return int64(binary.BigEndian.Uint64(h.Sum(nil)))
}

// FinanceLockKey builds redis keys for the period close critical section.
// scope is an account code, or "all" for a run over every detail account.
func FinanceLockKey(scope string, start, end time.Time) string {
	return fmt.Sprintf("finance:period:%s:%s:%s:lock", scope, start.Format(time.DateOnly), end.Format(time.DateOnly))
}
