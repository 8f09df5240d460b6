package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetInfo(t *testing.T) {
	m := New()
	m.SetInfo("v1.2.3", "redis", "/content")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BuildInfo.WithLabelValues("v1.2.3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendInfo.WithLabelValues("redis", "/content")))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
	assert.Contains(t, names, "contentsync_backend_info")
}
