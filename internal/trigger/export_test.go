package trigger

import "context"

// AcquireSession exposes session acquisition to the external test package.
func (t *Trigger) AcquireSession(ctx context.Context) (Session, error) {
	return t.session(ctx)
}

// Dispatch exposes batch dispatch to the external test package.
func (t *Trigger) Dispatch(ctx context.Context, handler RequestHandler, events []Event) BatchResult {
	return t.dispatch(ctx, handler, events)
}
