// Package async runs fire-and-forget background work for callers that must
// answer before the work completes, such as webhook handlers.
package async

import "log/slog"

// Dispatch runs fn on its own goroutine. A panic in fn is logged instead of
// crashing the process.
func Dispatch(log *slog.Logger, task string, fn func()) {
	if log == nil {
		log = slog.Default()
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("background task panicked", "task", task, "panic", r)
			}
		}()
		fn()
	}()
}
