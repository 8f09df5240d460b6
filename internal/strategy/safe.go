package strategy

import (
	"contentsync/internal/trigger"
)

// DoNotReplicate is the user data marker the replication system attaches to
// its own writes. Events carrying it are never replicated again.
const DoNotReplicate = "do.not.replicate"

// DefaultIgnoredPaths hold replication queues and repository internals.
var DefaultIgnoredPaths = []string{"/var/replication", "/jcr:system"}

// SafeFilter rejects events produced by the replication system itself and
// events below ignored paths.
type SafeFilter struct {
	IgnoredPaths []string
}

// NewSafeFilter returns a filter ignoring DefaultIgnoredPaths plus extra.
func NewSafeFilter(extra ...string) SafeFilter {
	paths := make([]string, 0, len(DefaultIgnoredPaths)+len(extra))
	paths = append(paths, DefaultIgnoredPaths...)
	paths = append(paths, extra...)
	return SafeFilter{IgnoredPaths: trigger.CleanPaths(paths)}
}

func (f SafeFilter) IsSafe(event trigger.Event) (bool, error) {
	if event.UserData == DoNotReplicate {
		return false, nil
	}
	for _, p := range f.IgnoredPaths {
		if trigger.IsDescendantOrSelf(p, event.Path) {
			return false, nil
		}
	}
	return true, nil
}

// Chain passes an event only when every filter passes it. The first error
// stops evaluation.
type Chain []trigger.Filter

func (c Chain) IsSafe(event trigger.Event) (bool, error) {
	for _, f := range c {
		ok, err := f.IsSafe(event)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
