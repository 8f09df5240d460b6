// Package filter applies subscription options to raw change events for change
// sources whose transport carries every change of the store.
package filter

import (
	"slices"

	"contentsync/internal/trigger"
)

// Match reports whether event should be delivered to a subscription opened
// with opts by the session authenticated as sessionUser.
func Match(event trigger.Event, opts trigger.SubscribeOptions, sessionUser string) bool {
	if !event.Type.Intersects(opts.EventTypes) {
		return false
	}

	associated := event.AssociatedPath()
	if opts.Path != "" {
		if opts.Deep {
			if !trigger.IsDescendantOrSelf(opts.Path, associated) {
				return false
			}
		} else if associated != opts.Path {
			return false
		}
	}

	for _, excluded := range opts.ExcludedPaths {
		if trigger.IsDescendantOrSelf(excluded, event.Path) {
			return false
		}
	}

	if opts.Identifiers != nil && !slices.Contains(opts.Identifiers, event.Identifier) {
		return false
	}

	if opts.NoLocal && sessionUser != "" && event.UserID == sessionUser {
		return false
	}
	return true
}

// Select returns the events of a batch that match, preserving order.
func Select(events []trigger.Event, opts trigger.SubscribeOptions, sessionUser string) []trigger.Event {
	var out []trigger.Event
	for _, event := range events {
		if Match(event, opts, sessionUser) {
			out = append(out, event)
		}
	}
	return out
}
