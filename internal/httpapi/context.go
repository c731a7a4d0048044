package httpapi

import (
	"context"
)

// joinContexts returns a context that is canceled when either a or b is done.
// The returned cancel func must be called when the handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(b)
	if a.Err() != nil {
		cancel()
		return ctx, cancel
	}
	stop := context.AfterFunc(a, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
