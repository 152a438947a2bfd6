package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePage("fresh")
	m.ObservePage("fresh")
	m.ObservePage("not_modified")
	m.ObserveRefresh("refreshed", 20*time.Millisecond)
	m.ObserveLanguageFailures(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pageFetches.WithLabelValues("fresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pageFetches.WithLabelValues("not_modified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("refreshed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.languageFailures))
}
