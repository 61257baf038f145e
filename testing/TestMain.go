// Package testing pins the environment of test binaries that import it: the
// ledger runs on the memory store and never dials Kafka.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

// defaults apply only when the variable is unset.
var defaults = map[string]string{
	"LEDGER_STORE": "memory",
	"LOG_FORMAT":   "json",
	"LOG_LEVEL":    "warn",
}

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("LEDGER_TEST_MODE", "1")
		_ = os.Unsetenv("KAFKA_BROKERS")
		for key, value := range defaults {
			if _, ok := os.LookupEnv(key); !ok {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
