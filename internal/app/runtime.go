package app

import (
	"os"
	"strconv"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

// InTestMode reports whether binaries should return before touching Postgres,
// Redis or the network. Accepts any strconv.ParseBool truthy value.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	return err == nil && on
}
