package app

import (
	"os"
	"strconv"
)

const testModeEnv = "LEDGER_TEST_MODE"

// InTestMode reports whether LEDGER_TEST_MODE asks binaries to skip dialing
// Redis, Postgres and Kafka. Any value strconv.ParseBool accepts as true
// enables it.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	return err == nil && on
}
