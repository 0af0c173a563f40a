package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New(nil)
	b := New(nil)

	a.QueriesTotal.WithLabelValues("answered").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.QueriesTotal.WithLabelValues("answered")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.QueriesTotal.WithLabelValues("answered")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	m := New(nil)
	m.CacheLookupsTotal.WithLabelValues("hit").Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `docqa_cache_lookups_total{result="hit"} 3`)
}
