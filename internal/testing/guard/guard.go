// Package guard puts binaries into test mode. Test files blank-import it so
// calling a main function returns before touching Postgres or Redis.
package guard

import "os"

const testModeEnv = "ODYSSEY_TEST_MODE"

func init() {
	if os.Getenv(testModeEnv) == "" {
		_ = os.Setenv(testModeEnv, "1")
	}
}
