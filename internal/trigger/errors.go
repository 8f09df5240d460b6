package trigger

import (
	"errors"
	"fmt"
)

var (
	ErrNilHandler    = errors.New("request handler is required")
	ErrInvalidConfig = errors.New("invalid trigger config")

	errNilSession = errors.New("provider returned no session")
)

// SessionAcquisitionError reports that no session could be opened for the
// configured service identity.
type SessionAcquisitionError struct {
	ServiceID string
	Err       error
}

func (e *SessionAcquisitionError) Error() string {
	return fmt.Sprintf("acquire session for service %q: %v", e.ServiceID, e.Err)
}

func (e *SessionAcquisitionError) Unwrap() error { return e.Err }

// RegistrationError reports that a handler could not be attached. When the
// session could not be opened, Err is a *SessionAcquisitionError.
type RegistrationError struct {
	Identity string
	Err      error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("unable to register handler %s: %v", e.Identity, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// DeregistrationError reports that a handler's listener could not be detached.
// The registry entry is kept so the call can be retried.
type DeregistrationError struct {
	Identity string
	Err      error
}

func (e *DeregistrationError) Error() string {
	return fmt.Sprintf("unable to unregister handler %s: %v", e.Identity, e.Err)
}

func (e *DeregistrationError) Unwrap() error { return e.Err }

// Stage names where per-event processing can fail.
const (
	StageFilter    = "filter"
	StageTranslate = "translate"
	StageHandle    = "handle"
)

// EventError is a contained failure while processing one event of a batch.
// It never reaches callers of Register or Unregister.
type EventError struct {
	Stage string
	Event Event
	Err   error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s event %s: %v", e.Stage, e.Event, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }
