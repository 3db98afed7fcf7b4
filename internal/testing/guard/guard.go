// Package guard switches the process into test mode when imported for side effects.
// Tests importing it never reach Postgres or Redis through app.LoadConfig defaults.
package guard

import (
	"os"

	"github.com/tapline/tapline/internal/app"
)

func init() {
	if os.Getenv("TAPLINE_TEST_MODE") == "" {
		_ = os.Setenv("TAPLINE_TEST_MODE", "1")
	}
	if os.Getenv("STORAGE_DRIVER") == "" {
		_ = os.Setenv("STORAGE_DRIVER", "memory")
	}
	app.RefreshTestMode()
}
