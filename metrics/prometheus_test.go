package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	m := NewMetrics("qaflow-test")
	m.RegisterBuildInfo("qaflow", "v1.2.3", "gateway")
	c := m.NewCounterVec(prometheus.CounterOpts{Name: "qa_test_total", Help: "test"}, []string{"kind"})
	c.WithLabelValues("x").Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `qa_test_total{kind="x"} 3`)
	assert.Contains(t, body, `build_info{role="gateway",service="qaflow",version="v1.2.3"} 1`)
}
