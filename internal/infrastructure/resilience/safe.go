package resilience

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Safely runs a periodic job and converts a panic into a logged error so a
// scheduler keeps running.
func Safely(job string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job, r)
			slog.Error("periodic_job_panic", "job", job, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
	return nil
}
