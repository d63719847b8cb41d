package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordLookup(t *testing.T) {
	m := New()

	m.RecordLookup(LookupOK, 20*time.Millisecond)
	m.RecordLookup(LookupOK, 30*time.Millisecond)
	m.RecordLookup(LookupStale, 10*time.Millisecond)
	m.RecordLookup(LookupSkipped, 0)

	require.Equal(t, 2.0, testutil.ToFloat64(m.lookups.WithLabelValues(LookupOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues(LookupStale)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues(LookupSkipped)))

	// Skipped lookups are not timed
	require.Equal(t, 1, testutil.CollectAndCount(m.lookupDuration))
}

func TestRecordCaptureAndTransition(t *testing.T) {
	m := New()

	m.RecordCapture("photo", CaptureSaved)
	m.RecordCapture("video", CaptureFailed)
	m.RecordTransition("idle")
	m.RecordTransition("idle")

	require.Equal(t, 1.0, testutil.ToFloat64(m.captures.WithLabelValues("photo", CaptureSaved)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.captures.WithLabelValues("video", CaptureFailed)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("idle")))
}

func TestSetHistorySize(t *testing.T) {
	m := New()
	m.SetHistorySize(4)
	require.Equal(t, 4.0, testutil.ToFloat64(m.historySize))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordLookup(LookupOK, time.Second)
		m.RecordCapture("photo", CaptureSaved)
		m.RecordTransition("idle")
		m.SetHistorySize(1)
	})
	require.Nil(t, m.Registry())
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordCapture("photo", CaptureSaved)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `shutter_captures_total{kind="photo",outcome="saved"} 1`))
	require.True(t, strings.Contains(string(body), "go_goroutines"))
}
