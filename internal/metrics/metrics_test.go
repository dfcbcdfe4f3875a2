package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.DryRun("ok")
	m.Submit("ok")
	m.SyncTick(nil)
	m.Heights(1, 2)
	m.Event("notify", "ok")
	m.HTTPRequest("/", 200, time.Millisecond)
}

func TestCounters(t *testing.T) {
	m := New()
	m.Submit("ok")
	m.Submit("ok")
	m.Submit("relay_rejected")
	m.SyncTick(errors.New("boom"))
	m.Heights(10, 12)

	require.Equal(t, 2.0, testutil.ToFloat64(m.submits.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.submits.WithLabelValues("relay_rejected")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.syncTicks.WithLabelValues("error")))
	require.Equal(t, 12.0, testutil.ToFloat64(m.chainHeight))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "partnership_wallet_height 10")
}
