package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Change sources and session
// providers return these (optionally wrapped) so callers can branch on them
// without knowing the backend.
//
// - ErrNotFound: service identity or listener is unknown to the store
// - ErrUnavailable: the store could not be reached
// - ErrInvalidState: operation not valid in the current state (e.g. session logged out)
// - ErrClosed: the provider or subscription has been closed
var (
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidState = errors.New("invalid state")
	ErrClosed       = errors.New("closed")
)
