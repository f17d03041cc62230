package stats

import (
	"bytes"
	"errors"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/nocbridge/internal/httputil"
)

// AttachAdminRoutes registers the batching summary, chart and plot under
// /debug/.
func (c *Collector) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("noc-batches", "NoC exchange batch statistics", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, c.Summary())
	})

	debug.HandleFunc("noc-batches-chart", "NoC exchange batch histogram", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := RenderBatchChart(&buf, c.Summary(), c.Batches()); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	})

	debug.HandleSilentFunc("noc-batches.png", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		err := WriteBatchPlot(&buf, c.Batches(), "png")
		if errors.Is(err, ErrNoSamples) {
			httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	})
}
