package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotPanics(t, func() { New(reg) })

	m.MessagesReceived.WithLabelValues("INVITE").Inc()
	m.ParseErrors.Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("INVITE")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ParseErrors))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMessageKind(t *testing.T) {
	assert.Equal(t, "BYE", MessageKind(true, "BYE", 0))
	assert.Equal(t, "1xx", MessageKind(false, "", 180))
	assert.Equal(t, "2xx", MessageKind(false, "", 200))
	assert.Equal(t, "4xx", MessageKind(false, "", 487))
	assert.Equal(t, "6xx", MessageKind(false, "", 603))
}
