package stats

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nocbridge/internal/noc"
	"github.com/banshee-data/nocbridge/internal/testutil"
)

func exchange(packets int, trig noc.Trigger) noc.ExchangeEvent {
	return noc.ExchangeEvent{Packets: packets, Bytes: packets * 32, Trigger: trig, Latency: time.Duration(packets) * time.Millisecond}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Dist{}, Summarize(nil))

	one := Summarize([]float64{4})
	assert.Equal(t, Dist{N: 1, Mean: 4, P50: 4, P95: 4, Max: 4}, one)

	d := Summarize([]float64{5, 1, 3})
	assert.Equal(t, 3, d.N)
	assert.InDelta(t, 3.0, d.Mean, 1e-9)
	assert.InDelta(t, 2.0, d.StdDev, 1e-9)
	assert.Equal(t, 3.0, d.P50)
	assert.Equal(t, 5.0, d.P95)
	assert.Equal(t, 5.0, d.Max)
}

func TestCollector_WindowWraps(t *testing.T) {
	c := NewCollector(3)
	for i := 1; i <= 5; i++ {
		c.PointersExchanged(exchange(i, noc.TriggerTimer))
	}
	assert.Equal(t, []float64{3, 4, 5}, c.Batches())

	s := c.Summary()
	assert.Equal(t, 5, s.Exchanges)
	assert.Equal(t, map[string]int{"timer": 5}, s.ByTrigger)
	assert.Equal(t, 3, s.Batch.N)
	assert.InDelta(t, 4.0, s.Batch.Mean, 1e-9)
	assert.InDelta(t, 128.0, s.Bytes.Mean, 1e-9)
	assert.InDelta(t, 4000.0, s.LatencyUs.Mean, 1e-9)
}

func TestCollector_DefaultWindow(t *testing.T) {
	c := NewCollector(0)
	assert.Len(t, c.samples, DefaultWindow)
	assert.Empty(t, c.Batches())
	assert.Equal(t, Dist{}, c.Summary().Batch)
}

func TestHistogram(t *testing.T) {
	assert.Nil(t, Histogram(nil))
	assert.Equal(t, []int{0, 2, 0, 1}, Histogram([]float64{1, 3, 1}))
}

func TestWriteBatchPlot(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteBatchPlot(&buf, nil, "png"), ErrNoSamples)

	require.NoError(t, WriteBatchPlot(&buf, []float64{1, 2, 2, 5}, "png"))
	assert.Equal(t, []byte("\x89PNG"), buf.Bytes()[:4])

	buf.Reset()
	require.NoError(t, WriteBatchPlot(&buf, []float64{1, 1, 1}, "svg"))
	assert.Contains(t, buf.String(), "<svg")
}

func TestSaveBatchPlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batches.png")
	require.NoError(t, SaveBatchPlot(path, []float64{2, 3}, "test"))
	assert.FileExists(t, path)
}

func TestRenderBatchChart(t *testing.T) {
	c := NewCollector(8)
	c.PointersExchanged(exchange(2, noc.TriggerLatencyCritical))

	var buf bytes.Buffer
	require.NoError(t, RenderBatchChart(&buf, c.Summary(), c.Batches()))
	assert.Contains(t, buf.String(), "Packets per pointer exchange")
}

func TestAttachAdminRoutes(t *testing.T) {
	c := NewCollector(8)
	mux := http.NewServeMux()
	c.AttachAdminRoutes(mux)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/debug/noc-batches.png")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	c.PointersExchanged(exchange(3, noc.TriggerAlmostFull))

	w = get("/debug/noc-batches")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var s Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, 1, s.Exchanges)
	assert.Equal(t, 1, s.ByTrigger["almost_full"])

	w = get("/debug/noc-batches-chart")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = get("/debug/noc-batches.png")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}
