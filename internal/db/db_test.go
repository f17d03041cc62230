package db

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nocbridge/internal/config"
	"github.com/banshee-data/nocbridge/internal/hwsim"
	"github.com/banshee-data/nocbridge/internal/noc"
	"github.com/banshee-data/nocbridge/internal/testutil"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestOpen_MigratesToLatest(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
	assert.True(t, tableExists(t, db, "packets"))
	assert.True(t, tableExists(t, db, "exchanges"))

	// Reopening an up to date database is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDownAndUp(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, tableExists(t, db, "exchanges"))
	assert.True(t, tableExists(t, db, "packets"))

	require.NoError(t, db.MigrateUp())
	assert.True(t, tableExists(t, db, "exchanges"))
}

func TestRecorder_WritesEvents(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db, 16)

	now := time.Unix(1700000000, 0)
	sent := testutil.DummyPacket(6)
	rec.PacketWritten(noc.WriteEvent{Time: now, Packet: sent, Offset: 64, Size: 20, Trigger: noc.TriggerLatencyCritical})
	rec.PointersExchanged(noc.ExchangeEvent{
		Time: now.Add(time.Millisecond), WriteWord: 21, ReadWord: 21, Packets: 1, Bytes: 20,
		Trigger: noc.TriggerLatencyCritical, Latency: 150 * time.Microsecond,
	})
	got := testutil.DeferredPacket(7, 3)
	rec.PacketReceived(got)
	require.NoError(t, rec.Close())

	assert.Equal(t, RecorderStats{Recorded: 3}, rec.Stats())

	packets, err := db.RecentPackets("", 10)
	require.NoError(t, err)
	require.Len(t, packets, 2)

	// Newest first.
	assert.Equal(t, PathReceive, packets[0].Path)
	assert.Equal(t, *got, packets[0].Packet)
	assert.Nil(t, packets[0].RingOffset)
	assert.Empty(t, packets[0].Cause)

	assert.Equal(t, PathSend, packets[1].Path)
	assert.Equal(t, *sent, packets[1].Packet)
	require.NotNil(t, packets[1].RingOffset)
	assert.Equal(t, int64(64), *packets[1].RingOffset)
	assert.Equal(t, int64(20), *packets[1].RingSize)
	assert.Equal(t, "latency_critical", packets[1].Cause)
	assert.True(t, packets[1].Recorded.Equal(now))

	sentOnly, err := db.RecentPackets(PathSend, 10)
	require.NoError(t, err)
	assert.Len(t, sentOnly, 1)

	exchanges, err := db.Exchanges(0, 10)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, uint32(21), exchanges[0].WriteWord)
	assert.Equal(t, 20, exchanges[0].Bytes)
	assert.Equal(t, 150*time.Microsecond, exchanges[0].Latency)
	assert.Equal(t, "latency_critical", exchanges[0].Cause)
}

func TestRecorder_IgnoresEventsAfterClose(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db, 1)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	rec.PacketReceived(testutil.DummyPacket(1))
	assert.Equal(t, RecorderStats{}, rec.Stats())
}

func TestSummary(t *testing.T) {
	db := openTestDB(t)

	empty, err := db.Summary()
	require.NoError(t, err)
	assert.Zero(t, empty.Exchanges)
	assert.Zero(t, empty.MeanBatch)

	now := time.Now()
	for i, n := range []int{1, 3, 5} {
		require.NoError(t, db.insertExchange(now, noc.ExchangeEvent{WriteWord: uint32(i), Packets: n, Trigger: noc.TriggerTimer}))
	}
	require.NoError(t, db.insertExchange(now, noc.ExchangeEvent{Packets: 3, Trigger: noc.TriggerBackpressure}))
	require.NoError(t, db.insertPacket(PathReceive, now, testutil.DummyPacket(2), nil, 0, ""))

	s, err := db.Summary()
	require.NoError(t, err)
	assert.Equal(t, int64(4), s.Exchanges)
	assert.Equal(t, int64(0), s.SentPackets)
	assert.Equal(t, int64(1), s.ReceivedPackets)
	assert.InDelta(t, 3.0, s.MeanBatch, 1e-9)
	assert.Equal(t, map[string]int64{"timer": 3, "backpressure": 1}, s.ByCause)

	page, err := db.Exchanges(1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 3, page[0].Packets)
	assert.Equal(t, 5, page[1].Packets)
}

func TestRecorder_ObservesBridge(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db, 64)

	b, err := noc.Init(context.Background(), config.DefaultSettings(), hwsim.New(hwsim.WithLoopback()), noc.WithObserver(rec))
	require.NoError(t, err)

	require.NoError(t, b.SendPacket(testutil.DummyPacket(12)))
	require.Eventually(t, func() bool { return rec.Stats().Recorded == 3 }, 2*time.Second, 2*time.Millisecond)
	require.NoError(t, b.Stop())
	require.NoError(t, rec.Close())

	s, err := db.Summary()
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.SentPackets)
	assert.Equal(t, int64(1), s.ReceivedPackets)
	assert.Equal(t, int64(1), s.Exchanges)
	assert.Equal(t, int64(1), s.ByCause["latency_critical"])
}

func TestAttachAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.insertPacket(PathReceive, time.Now(), testutil.DummyPacket(2), nil, 0, ""))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	t.Run("trace", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/noc-trace?limit=5", nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)

		var body struct {
			Summary TraceSummary   `json:"summary"`
			Packets []PacketRecord `json:"packets"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, int64(1), body.Summary.ReceivedPackets)
		assert.Len(t, body.Packets, 1)
	})

	t.Run("bad limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/noc-trace?limit=zero", nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	t.Run("tailsql registered", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/tailsql/", nil))
		if w.Code == http.StatusNotFound {
			t.Error("expected /debug/tailsql/ to be registered, got 404")
		}
	})

	t.Run("backup", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/trace-backup", nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)
		assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
		assert.NotZero(t, w.Body.Len())
	})

	t.Run("snapshot", func(t *testing.T) {
		form := url.Values{"name": {"../run 1.db"}}
		req := testutil.LocalRequest(http.MethodPost, "/debug/trace-snapshot", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)

		want := filepath.Join(filepath.Dir(db.Path()), "run_1.db")
		assert.FileExists(t, want)

		// same name again: refuses to overwrite
		req = testutil.LocalRequest(http.MethodPost, "/debug/trace-snapshot", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w = httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	t.Run("snapshot requires POST", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/trace-snapshot?name=x", nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	})
}

func TestSnapshot(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.insertPacket(PathSend, time.Now(), testutil.DummyPacket(4), nil, 16, "timer"))

	dst := filepath.Join(filepath.Dir(db.Path()), "copy.db")
	require.NoError(t, db.Snapshot(dst))

	cp, err := Open(dst)
	require.NoError(t, err)
	defer cp.Close()
	s, err := cp.Summary()
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.SentPackets)

	assert.Error(t, db.Snapshot(dst), "existing file")
	assert.Error(t, db.Snapshot("/etc/nocbridge-snapshot.db"), "outside allowed directories")
}
