package db

import (
	"database/sql"
	"time"

	"github.com/banshee-data/nocbridge/internal/noc"
	"github.com/banshee-data/nocbridge/internal/packet"
)

func (db *DB) insertPacket(path string, at time.Time, p *packet.Packet, offset *uint32, size int, cause string) error {
	var ringOffset, ringSize, causeCol interface{}
	if offset != nil {
		ringOffset = int64(*offset)
		ringSize = size
		causeCol = cause
	}
	_, err := db.Exec(
		`INSERT INTO packets (
			recorded_ns, path, src_idp, dst_idp, hw_addr_global, hw_addr_local,
			priority, direction, latency_critical, payload_len, payload,
			ring_offset, ring_size, cause
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UnixNano(), path, int64(p.SrcIDP), int64(p.DstIDP), int(p.HWAddrGlobal), int(p.HWAddrLocal),
		int(p.Priority), int(p.Direction), p.LatencyCritical, len(p.Payload), p.Payload,
		ringOffset, ringSize, causeCol,
	)
	return err
}

func (db *DB) insertExchange(at time.Time, ev noc.ExchangeEvent) error {
	_, err := db.Exec(
		`INSERT INTO exchanges (recorded_ns, write_word, read_word, packets, bytes, cause, latency_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		at.UnixNano(), int64(ev.WriteWord), int64(ev.ReadWord), ev.Packets, ev.Bytes,
		ev.Trigger.String(), ev.Latency.Nanoseconds(),
	)
	return err
}

// PacketRecord is one row of the packets table.
type PacketRecord struct {
	ID         int64         `json:"id"`
	Recorded   time.Time     `json:"recorded"`
	Path       string        `json:"path"`
	Packet     packet.Packet `json:"packet"`
	RingOffset *int64        `json:"ring_offset,omitempty"`
	RingSize   *int64        `json:"ring_size,omitempty"`
	Cause      string        `json:"cause,omitempty"`
}

// RecentPackets returns up to limit packets, newest first. An empty path
// selects both directions.
func (db *DB) RecentPackets(path string, limit int) ([]PacketRecord, error) {
	rows, err := db.Query(
		`SELECT packet_id, recorded_ns, path, src_idp, dst_idp, hw_addr_global, hw_addr_local,
			priority, direction, latency_critical, payload, ring_offset, ring_size, cause
		FROM packets
		WHERE ? = '' OR path = ?
		ORDER BY packet_id DESC LIMIT ?`,
		path, path, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PacketRecord
	for rows.Next() {
		var (
			rec                      PacketRecord
			recordedNs, src, dst     int64
			global, local, prio, dir int
			offset, size             sql.NullInt64
			cause                    sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &recordedNs, &rec.Path, &src, &dst, &global, &local,
			&prio, &dir, &rec.Packet.LatencyCritical, &rec.Packet.Payload, &offset, &size, &cause,
		); err != nil {
			return nil, err
		}
		rec.Recorded = time.Unix(0, recordedNs)
		rec.Packet.SrcIDP = uint32(src)
		rec.Packet.DstIDP = uint32(dst)
		rec.Packet.HWAddrGlobal = uint8(global)
		rec.Packet.HWAddrLocal = uint8(local)
		rec.Packet.Priority = uint8(prio)
		rec.Packet.Direction = packet.Direction(dir)
		if offset.Valid {
			rec.RingOffset = &offset.Int64
		}
		if size.Valid {
			rec.RingSize = &size.Int64
		}
		rec.Cause = cause.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ExchangeRecord is one row of the exchanges table.
type ExchangeRecord struct {
	ID        int64         `json:"id"`
	Recorded  time.Time     `json:"recorded"`
	WriteWord uint32        `json:"write_word"`
	ReadWord  uint32        `json:"read_word"`
	Packets   int           `json:"packets"`
	Bytes     int           `json:"bytes"`
	Cause     string        `json:"cause"`
	Latency   time.Duration `json:"latency_ns"`
}

// Exchanges returns up to limit exchanges in the order they happened,
// skipping the first offset rows.
func (db *DB) Exchanges(offset, limit int) ([]ExchangeRecord, error) {
	rows, err := db.Query(
		`SELECT exchange_id, recorded_ns, write_word, read_word, packets, bytes, cause, latency_ns
		FROM exchanges ORDER BY exchange_id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExchangeRecord
	for rows.Next() {
		var (
			rec                   ExchangeRecord
			recordedNs, latencyNs int64
			writeWord, readWord   int64
		)
		if err := rows.Scan(&rec.ID, &recordedNs, &writeWord, &readWord, &rec.Packets, &rec.Bytes, &rec.Cause, &latencyNs); err != nil {
			return nil, err
		}
		rec.Recorded = time.Unix(0, recordedNs)
		rec.WriteWord = uint32(writeWord)
		rec.ReadWord = uint32(readWord)
		rec.Latency = time.Duration(latencyNs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TraceSummary aggregates the trace tables.
type TraceSummary struct {
	SentPackets     int64            `json:"sent_packets"`
	ReceivedPackets int64            `json:"received_packets"`
	Exchanges       int64            `json:"exchanges"`
	ByCause         map[string]int64 `json:"exchanges_by_cause"`
	MeanBatch       float64          `json:"mean_batch"`
}

// Summary counts recorded packets and exchanges.
func (db *DB) Summary() (TraceSummary, error) {
	s := TraceSummary{ByCause: make(map[string]int64)}

	err := db.QueryRow(
		`SELECT
			COALESCE(SUM(CASE WHEN path = 'sw2hw' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN path = 'hw2sw' THEN 1 ELSE 0 END), 0)
		FROM packets`,
	).Scan(&s.SentPackets, &s.ReceivedPackets)
	if err != nil {
		return s, err
	}

	err = db.QueryRow(`SELECT COUNT(*), COALESCE(AVG(packets), 0) FROM exchanges`).Scan(&s.Exchanges, &s.MeanBatch)
	if err != nil {
		return s, err
	}

	rows, err := db.Query(`SELECT cause, COUNT(*) FROM exchanges GROUP BY cause`)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var cause string
		var n int64
		if err := rows.Scan(&cause, &n); err != nil {
			return s, err
		}
		s.ByCause[cause] = n
	}
	return s, rows.Err()
}
