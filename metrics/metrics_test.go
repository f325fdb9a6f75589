package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/plh/core"
)

func TestEngine(t *testing.T) {
	stats := core.Stats{Updates: 3, Operations: 40, Accepts: 2, Rejects: 1, ScalingActive: true}
	reg := prometheus.NewRegistry()
	e := NewEngine(reg, func() core.Stats { return stats }, func() float64 { return -123.5 })

	assert.Equal(t, 3.0, testutil.ToFloat64(e.Updates))
	assert.Equal(t, 40.0, testutil.ToFloat64(e.Operations))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Rejects))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.ScalingActive))
	assert.Equal(t, -123.5, testutil.ToFloat64(e.LogLikelihood))

	stats.Rejects = 5
	stats.ScalingActive = false
	assert.Equal(t, 5.0, testutil.ToFloat64(e.Rejects))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.ScalingActive))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewEngine(reg, func() core.Stats { return core.Stats{Matrices: 7} }, nil)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "plh_core_matrices_total 7"), body)
	assert.False(t, strings.Contains(body, "plh_log_likelihood"))
}

func TestRealEngine(t *testing.T) {
	c, err := core.New[float64](core.Dims{Nodes: 3, Tips: 2, Patterns: 1, States: 2, Categories: 1})
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	e := NewEngine(reg, c.Stats, nil)
	require.NoError(t, c.SetTipStates(0, []int{0}))
	require.NoError(t, c.SetTipStates(1, []int{1}))
	require.NoError(t, c.SetTransitionMatrix(0, 0, []float64{0.9, 0.1, 0.1, 0.9}))
	require.NoError(t, c.SetTransitionMatrix(1, 0, []float64{0.9, 0.1, 0.1, 0.9}))
	require.NoError(t, c.UpdatePartials([]core.Operation{{Child1: 0, Child2: 1, Parent: 2}}))
	c.Reject()
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Operations))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Rejects))
}
