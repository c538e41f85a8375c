package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.EntryFinished("Success", time.Second)
	m.EntryFinished("Success", 2*time.Second)
	m.EntryFinished("NotFound", time.Second)
	m.MediaFetched("title", "downloaded", 2048)
	m.MediaFetched("title", "missed", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.entriesTotal.WithLabelValues("Success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entriesTotal.WithLabelValues("NotFound")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.mediaBytes.WithLabelValues("title")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mediaTotal.WithLabelValues("title", "missed")))

	m.WorkerStarted()
	m.WorkerStarted()
	m.WorkerStopped()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeWorkers))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var m *ScrapeMetrics
	assert.NotPanics(t, func() {
		m.EntryFinished("Error", time.Second)
		m.MediaFetched("video", "downloaded", 10)
		m.WorkerStarted()
		m.WorkerStopped()
		m.StubResolved("ok")
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	m.StubResolved("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `retroscrape_stub_downloads_total{result="ok"} 1`)
}
