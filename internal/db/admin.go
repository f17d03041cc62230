package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/nocbridge/internal/httputil"
	"github.com/banshee-data/nocbridge/internal/monitoring"
	"github.com/banshee-data/nocbridge/internal/security"
)

const defaultTraceLimit = 100

// AttachAdminRoutes mounts a tailsql console over the trace database plus
// JSON trace views and a backup download under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "NoC trace DB",
	})
	debug.Handle("tailsql/", "SQL console over the NoC trace", tsql.NewMux())

	debug.HandleFunc("noc-trace", "recorded NoC exchanges and packets", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultTraceLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				httputil.BadRequest(w, "invalid limit")
				return
			}
			limit = n
		}

		summary, err := db.Summary()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		packets, err := db.RecentPackets(r.URL.Query().Get("path"), limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{
			"summary": summary,
			"packets": packets,
		})
	})

	debug.Handle("trace-backup", "download a gzipped copy of the trace database", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("noc-trace-backup-%d.db", time.Now().UnixNano()))
		if err := db.Snapshot(backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("[db] failed to remove backup file: %v", err)
			}
		}()

		f, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
		w.Header().Set("Content-Type", "application/gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, f); err != nil {
			monitoring.Logf("[db] backup copy: %v", err)
		}
	}))

	debug.HandleFunc("trace-snapshot", "POST name=<file> to snapshot the trace next to the live database", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		name := r.FormValue("name")
		if name == "" {
			httputil.BadRequest(w, "missing name")
			return
		}
		dst := filepath.Join(filepath.Dir(db.path), security.SanitizeFilename(name))
		if err := db.Snapshot(dst); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		monitoring.Logf("[db] trace snapshot written to %s", dst)
		httputil.WriteJSONOK(w, map[string]string{"path": dst})
	})
	return nil
}
