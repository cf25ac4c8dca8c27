package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/woxQAQ/ndll/internal/handle"
	"github.com/woxQAQ/ndll/pkg/ndll"
)

var _ ndll.Observer = (*Collector)(nil)

func TestCollector_Loads(t *testing.T) {
	c := NewCollector()

	c.ObserveLoad("add", 2, true)
	c.ObserveLoad("add", 2, true)
	c.ObserveLoad("sum", ndll.VarArgs, false)

	require.Equal(t, 2.0, testutil.ToFloat64(c.loads.WithLabelValues("add", "2", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.loads.WithLabelValues("sum", "mult", "failed")))
}

func TestCollector_Calls(t *testing.T) {
	c := NewCollector()

	c.ObserveCall("add", 2, time.Millisecond)
	c.ObserveCall("add", 2, 2*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(c.calls.WithLabelValues("add", "2")))
	require.Equal(t, 1, testutil.CollectAndCount(c.duration))
}

func TestCollector_RegistryStats(t *testing.T) {
	c := NewCollector()

	c.SetRegistryStats(handle.Stats{Transient: 3, Memory: 1, MemoryBytes: 64, Persistent: 2})

	require.Equal(t, 3.0, testutil.ToFloat64(c.handles.WithLabelValues("transient")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.handles.WithLabelValues("persistent")))
	require.Equal(t, 64.0, testutil.ToFloat64(c.memory))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.ObserveCall("add", 2, time.Microsecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `ndll_calls_total{arity="2",function="add"} 1`), body)
	require.Contains(t, body, "ndll_call_duration_seconds_bucket")
}
