package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := NewHTTPMetricsWith(registry, registry, Config{ServiceName: "repairpay"})

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/settlements/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settlements/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, float64(3), promtestutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/settlements/:id", "200")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "repairpay_api_requests_total"))
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewHTTPMetricsWith(registry, registry, Config{})
	second := NewHTTPMetricsWith(registry, registry, Config{})

	first.ObserveRequest("post", "/api/orders", http.StatusCreated, 0)
	second.ObserveRequest("post", "/api/orders", http.StatusCreated, 0)
	assert.Equal(t, float64(2), promtestutil.ToFloat64(first.requests.WithLabelValues("POST", "/api/orders", "201")))
}
