package trigger

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import "context"

// Listener receives batches of events from a change source. Change sources may
// call OnEvents from arbitrary goroutines and may overlap calls for different
// listeners.
type Listener interface {
	OnEvents(ctx context.Context, events []Event)
}

// SubscribeOptions scopes a subscription on a change source.
type SubscribeOptions struct {
	// EventTypes is the mask of change kinds to deliver.
	EventTypes EventType
	// Path is the absolute path events are scoped to.
	Path string
	// Deep includes changes anywhere below Path, not only on Path itself.
	Deep bool
	// Identifiers restricts delivery to events with these identifiers. Nil means no restriction.
	Identifiers []string
	// ExcludedPaths drops events below any of these paths.
	ExcludedPaths []string
	// NoLocal drops events caused by the subscribing session itself.
	NoLocal bool
}

// ChangeSource is a push-based feed of change events.
type ChangeSource interface {
	Subscribe(ctx context.Context, listener Listener, opts SubscribeOptions) error
	Unsubscribe(ctx context.Context, listener Listener) error
}

// Session is an authenticated handle used to open subscriptions.
type Session interface {
	ChangeSource() (ChangeSource, error)
	// IsLive reports whether the session can still be used.
	IsLive() bool
	Logout()
}

// SessionProvider authenticates a service identity against the content store.
type SessionProvider interface {
	OpenSession(ctx context.Context, serviceID string) (Session, error)
}

// RequestHandler consumes replication requests. Identity must be stable for a
// logically distinct handler; it is the registry key.
type RequestHandler interface {
	Identity() string
	Handle(ctx context.Context, req Request) error
}

// Filter decides whether an event is an organic change worth reacting to, as
// opposed to one caused by the replication system's own writes.
type Filter interface {
	IsSafe(event Event) (bool, error)
}

// Translator turns one event into at most one request. A nil request means
// the event does not call for replication.
type Translator interface {
	ProcessEvent(ctx context.Context, event Event) (*Request, error)
}

// Strategy is the domain-specific extension point of a Trigger.
type Strategy interface {
	Filter
	Translator
}

// EventTypeProvider is implemented by strategies that listen to a mask other
// than DefaultEventTypes.
type EventTypeProvider interface {
	EventTypes() EventType
}
