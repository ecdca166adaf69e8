package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Connections.Inc()
	m.Messages.WithLabelValues("chat").Add(3)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.Messages.WithLabelValues("chat")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "roleooc_connections 1"), "expected connections gauge in output")
	assert.True(t, strings.Contains(body, `roleooc_messages_routed_total{kind="chat"} 3`))
}

func TestNewUsesPrivateRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
