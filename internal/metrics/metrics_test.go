package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Fetches.Inc()
	m.Hits.WithLabelValues(TierDisk).Inc()
	m.Pending.Set(3)

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	// Unlabelled instruments are always exported, vectors only once a child exists
	assert.Equal(t, 4, count)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Pending))
}

func TestNewUnregistered(t *testing.T) {
	a := New(nil)
	b := New(nil)

	a.Requests.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(a.Requests))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.Requests))
}
