package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"contentsync/internal/trigger"
)

func TestMatch(t *testing.T) {
	deep := trigger.SubscribeOptions{EventTypes: trigger.DefaultEventTypes, Path: "/content/foo", Deep: true}
	shallow := deep
	shallow.Deep = false

	tests := []struct {
		name  string
		event trigger.Event
		opts  trigger.SubscribeOptions
		user  string
		want  bool
	}{
		{"deep descendant", trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/bar/baz"}, deep, "", true},
		{"deep child of root", trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/bar"}, deep, "", true},
		{"outside path", trigger.Event{Type: trigger.NodeAdded, Path: "/content/foobar/x"}, deep, "", false},
		{"type not in mask", trigger.Event{Type: trigger.Persist, Path: "/content/foo/bar"}, deep, "", false},
		{"shallow direct child", trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/bar"}, shallow, "", true},
		{"shallow grandchild", trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/bar/baz"}, shallow, "", false},
		{"shallow property on root", trigger.Event{Type: trigger.PropertyChanged, Path: "/content/foo/jcr:title"}, shallow, "", true},
		{
			"excluded path",
			trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/tmp/x"},
			trigger.SubscribeOptions{EventTypes: trigger.NodeAdded, Path: "/content/foo", Deep: true, ExcludedPaths: []string{"/content/foo/tmp"}},
			"", false,
		},
		{
			"identifier allowed",
			trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/a", Identifier: "id-1"},
			trigger.SubscribeOptions{EventTypes: trigger.NodeAdded, Path: "/content/foo", Deep: true, Identifiers: []string{"id-1"}},
			"", true,
		},
		{
			"identifier not allowed",
			trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/a", Identifier: "id-2"},
			trigger.SubscribeOptions{EventTypes: trigger.NodeAdded, Path: "/content/foo", Deep: true, Identifiers: []string{"id-1"}},
			"", false,
		},
		{
			"no local drops own change",
			trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/a", UserID: "svc"},
			trigger.SubscribeOptions{EventTypes: trigger.NodeAdded, Path: "/content/foo", Deep: true, NoLocal: true},
			"svc", false,
		},
		{
			"no local keeps others",
			trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/a", UserID: "author"},
			trigger.SubscribeOptions{EventTypes: trigger.NodeAdded, Path: "/content/foo", Deep: true, NoLocal: true},
			"svc", true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.event, tt.opts, tt.user))
		})
	}
}

func TestSelectPreservesOrder(t *testing.T) {
	opts := trigger.SubscribeOptions{EventTypes: trigger.NodeAdded, Path: "/content", Deep: true}
	in := []trigger.Event{
		{Type: trigger.NodeAdded, Path: "/content/c"},
		{Type: trigger.NodeAdded, Path: "/etc/x"},
		{Type: trigger.NodeAdded, Path: "/content/a"},
	}
	out := Select(in, opts, "")
	assert.Equal(t, []trigger.Event{in[0], in[2]}, out)
	assert.Empty(t, Select(nil, opts, ""))
}
