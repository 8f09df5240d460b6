package trigger

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// EventType is a bit mask of change kinds reported by a change source.
// Values match the JCR observation constants so masks can be exchanged with
// content repositories without translation.
type EventType int

const (
	NodeAdded       EventType = 1
	NodeRemoved     EventType = 2
	PropertyAdded   EventType = 4
	PropertyRemoved EventType = 8
	PropertyChanged EventType = 16
	NodeMoved       EventType = 32
	Persist         EventType = 64
)

// DefaultEventTypes covers the full structural and property change surface.
const DefaultEventTypes = NodeAdded | NodeMoved | NodeRemoved | PropertyAdded | PropertyChanged | PropertyRemoved

var eventTypeNames = []struct {
	t    EventType
	name string
}{
	{NodeAdded, "NODE_ADDED"},
	{NodeRemoved, "NODE_REMOVED"},
	{PropertyAdded, "PROPERTY_ADDED"},
	{PropertyRemoved, "PROPERTY_REMOVED"},
	{PropertyChanged, "PROPERTY_CHANGED"},
	{NodeMoved, "NODE_MOVED"},
	{Persist, "PERSIST"},
}

// Has reports whether every bit of other is set in t.
func (t EventType) Has(other EventType) bool {
	return other != 0 && t&other == other
}

// Intersects reports whether t and other share at least one bit.
func (t EventType) Intersects(other EventType) bool {
	return t&other != 0
}

// IsProperty reports whether t is a single property event.
func (t EventType) IsProperty() bool {
	return t == PropertyAdded || t == PropertyRemoved || t == PropertyChanged
}

// String renders the mask as pipe-separated JCR names, e.g. "NODE_ADDED|NODE_MOVED".
func (t EventType) String() string {
	if t == 0 {
		return "NONE"
	}
	var parts []string
	rest := t
	for _, n := range eventTypeNames {
		if t&n.t != 0 {
			parts = append(parts, n.name)
			rest &^= n.t
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", int(rest)))
	}
	return strings.Join(parts, "|")
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It accepts the output of
// String as well as a single name.
func (t *EventType) UnmarshalText(text []byte) error {
	parsed, err := ParseEventType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseEventType parses pipe-separated JCR event names.
func ParseEventType(s string) (EventType, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "NONE" {
		return 0, nil
	}
	var out EventType
	for _, part := range strings.Split(s, "|") {
		part = strings.ToUpper(strings.TrimSpace(part))
		found := false
		for _, n := range eventTypeNames {
			if n.name == part {
				out |= n.t
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown event type: %q", part)
		}
	}
	return out, nil
}

// Event is a read-only record of one change reported by a change source.
type Event struct {
	Type       EventType         `json:"type"`
	Path       string            `json:"path"`
	Identifier string            `json:"identifier,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	UserData   string            `json:"userData,omitempty"`
	Date       time.Time         `json:"date"`
	Info       map[string]string `json:"info,omitempty"`
}

// AssociatedPath is the path of the node the event is reported on: the owning
// node for property events and the parent node for node events.
func (e Event) AssociatedPath() string {
	return ParentPath(e.Path)
}

// NodePath is the path of the node affected by the event. For property events
// this is the node owning the property.
func (e Event) NodePath() string {
	if e.Type.IsProperty() {
		return ParentPath(e.Path)
	}
	return e.Path
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Type, e.Path)
}

// ParentPath returns the parent of an absolute content path. The parent of
// the root is the root.
func ParentPath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	return path.Dir(strings.TrimSuffix(p, "/"))
}

// IsDescendantOrSelf reports whether p equals root or lies below it.
func IsDescendantOrSelf(root, p string) bool {
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	root = strings.TrimSuffix(root, "/")
	return p == root || strings.HasPrefix(p, root+"/")
}

// CleanPaths trims whitespace and trailing slashes from each path and drops
// empty entries and duplicates. Order is preserved.
func CleanPaths(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p != "/" {
			p = strings.TrimRight(p, "/")
		}
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// ActionType is the replication action carried by a Request.
type ActionType string

const (
	ActionAdd    ActionType = "ADD"
	ActionDelete ActionType = "DELETE"
	ActionPoll   ActionType = "POLL"
)

// Request is the replication instruction produced from an accepted event.
type Request struct {
	ID     string     `json:"id"`
	Time   time.Time  `json:"time"`
	Action ActionType `json:"action"`
	Paths  []string   `json:"paths"`
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s", r.Action, strings.Join(r.Paths, ","))
}
