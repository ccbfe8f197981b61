package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsEndpoint(t *testing.T) {
	m := New()
	m.RateLimited.WithLabelValues("chat").Inc()
	m.RateLimited.WithLabelValues("chat").Inc()
	require.NoError(t, m.GaugeFunc("active_rooms", "Rooms with local participants.", func() float64 { return 3 }))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RateLimited.WithLabelValues("chat")))

	e := echo.New()
	require.NoError(t, NewMetricsController(m).Resolve(e))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `signaling_rate_limited_total{class="chat"} 2`)
	assert.Contains(t, rec.Body.String(), "signaling_active_rooms 3")
}

func TestGaugeFuncDuplicate(t *testing.T) {
	m := New()
	require.NoError(t, m.GaugeFunc("live_connections", "Open websocket connections.", func() float64 { return 0 }))
	assert.Error(t, m.GaugeFunc("live_connections", "Open websocket connections.", func() float64 { return 0 }))
}
