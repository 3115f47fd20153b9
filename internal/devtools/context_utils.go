// internal/devtools/context_utils.go
package devtools

import (
	"context"
)

// CombineContext creates a new context derived from ctx1 (the session context)
// that is canceled when *either* ctx1 or ctx2 (the operational context) is
// canceled. Values come from ctx1, which carries the chromedp target, while
// ctx2 carries the caller's deadline and frame watch.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancelCause(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			// Keep the operational cause so a frame detach or deadline is
			// still visible to callers of context.Cause.
			cancel(context.Cause(ctx2))
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, func() { cancel(context.Canceled) }
}
