package trigger_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentsync/internal/trigger"
)

func TestDefaultEventTypes(t *testing.T) {
	types := trigger.DefaultEventTypes
	for _, want := range []trigger.EventType{
		trigger.NodeAdded, trigger.NodeMoved, trigger.NodeRemoved,
		trigger.PropertyAdded, trigger.PropertyChanged, trigger.PropertyRemoved,
	} {
		assert.True(t, types.Has(want), want.String())
	}
	assert.False(t, types.Has(trigger.Persist))
}

func TestEventTypeText(t *testing.T) {
	mask := trigger.NodeAdded | trigger.PropertyChanged
	assert.Equal(t, "NODE_ADDED|PROPERTY_CHANGED", mask.String())

	parsed, err := trigger.ParseEventType("node_added | PROPERTY_CHANGED")
	require.NoError(t, err)
	assert.Equal(t, mask, parsed)

	_, err = trigger.ParseEventType("NODE_RENAMED")
	assert.Error(t, err)

	data, err := json.Marshal(trigger.Event{Type: trigger.NodeRemoved, Path: "/content/a"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"NODE_REMOVED"`)

	var decoded trigger.Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, trigger.NodeRemoved, decoded.Type)
}

func TestEventPaths(t *testing.T) {
	node := trigger.Event{Type: trigger.NodeAdded, Path: "/content/foo/bar"}
	assert.Equal(t, "/content/foo", node.AssociatedPath())
	assert.Equal(t, "/content/foo/bar", node.NodePath())

	prop := trigger.Event{Type: trigger.PropertyChanged, Path: "/content/foo/bar/jcr:title"}
	assert.Equal(t, "/content/foo/bar", prop.AssociatedPath())
	assert.Equal(t, "/content/foo/bar", prop.NodePath())

	assert.Equal(t, "/", trigger.ParentPath("/content"))
	assert.Equal(t, "/", trigger.ParentPath("/"))
}

func TestIsDescendantOrSelf(t *testing.T) {
	assert.True(t, trigger.IsDescendantOrSelf("/content/foo", "/content/foo"))
	assert.True(t, trigger.IsDescendantOrSelf("/content/foo", "/content/foo/bar"))
	assert.True(t, trigger.IsDescendantOrSelf("/content/foo/", "/content/foo/bar"))
	assert.False(t, trigger.IsDescendantOrSelf("/content/foo", "/content/foobar"))
	assert.True(t, trigger.IsDescendantOrSelf("/", "/anything"))
}

func TestCleanPaths(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "nil", in: nil, want: nil},
		{name: "trims and drops empty", in: []string{" /a ", "", "  "}, want: []string{"/a"}},
		{name: "strips trailing slash", in: []string{"/a/", "/a"}, want: []string{"/a"}},
		{name: "keeps root", in: []string{"/", "//"}, want: []string{"/"}},
		{name: "preserves order", in: []string{"/b", "/a", "/b"}, want: []string{"/b", "/a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trigger.CleanPaths(tt.in))
		})
	}
}
