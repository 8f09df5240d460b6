// Package strategy holds the filters and translators content triggers are
// built from.
package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"contentsync/internal/trigger"
)

var ErrInvalidPath = errors.New("event path must be absolute")

// NodeEvents replicates the node affected by each change: removed nodes are
// deleted, everything else (added, moved, property changes on the node) is
// added again.
type NodeEvents struct {
	filter trigger.Filter
	types  trigger.EventType
	now    func() time.Time
}

type Option func(*NodeEvents)

// WithFilter replaces the default SafeFilter.
func WithFilter(f trigger.Filter) Option {
	return func(n *NodeEvents) {
		if f != nil {
			n.filter = f
		}
	}
}

// WithEventTypes narrows the mask the trigger subscribes with.
func WithEventTypes(types trigger.EventType) Option {
	return func(n *NodeEvents) {
		n.types = types
	}
}

// WithClock sets the time source used to stamp requests.
func WithClock(now func() time.Time) Option {
	return func(n *NodeEvents) {
		if now != nil {
			n.now = now
		}
	}
}

func NewNodeEvents(opts ...Option) *NodeEvents {
	n := &NodeEvents{
		filter: NewSafeFilter(),
		types:  trigger.DefaultEventTypes,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *NodeEvents) IsSafe(event trigger.Event) (bool, error) {
	return n.filter.IsSafe(event)
}

func (n *NodeEvents) EventTypes() trigger.EventType {
	return n.types
}

func (n *NodeEvents) ProcessEvent(_ context.Context, event trigger.Event) (*trigger.Request, error) {
	if len(event.Path) == 0 || event.Path[0] != '/' {
		return nil, ErrInvalidPath
	}

	var action trigger.ActionType
	switch {
	case event.Type == trigger.NodeRemoved:
		action = trigger.ActionDelete
	case event.Type == trigger.NodeAdded, event.Type == trigger.NodeMoved, event.Type.IsProperty():
		action = trigger.ActionAdd
	default:
		return nil, nil
	}

	return &trigger.Request{
		ID:     uuid.NewString(),
		Time:   n.now(),
		Action: action,
		Paths:  []string{event.NodePath()},
	}, nil
}
