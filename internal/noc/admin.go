package noc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/nocbridge/internal/httputil"
	"github.com/banshee-data/nocbridge/internal/packet"
)

// AttachAdminRoutes registers the bridge debug routes under /debug/.
func (b *Bridge) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("noc-stats", "NoC bridge counters and ring offsets", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, b.Stats())
	})

	debug.HandleFunc("noc-rings", "hex dump of both NoC rings", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := b.DumpRings(&buf); err != nil {
			http.Error(w, "Failed to dump rings", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(buf.Bytes())
	})

	// Queues one packet built from form fields; payload is hex encoded.
	debug.HandleSilentFunc("noc-send", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		p, err := packetFromForm(r)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := b.SendPacket(p); err != nil {
			writeSendError(w, err)
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{"queued": true, "payload_len": len(p.Payload)})
	})

	// Server-Sent Events stream of received packets.
	debug.HandleSilentFunc("noc-tail", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		c := make(chan *packet.Packet, 16)
		id, err := b.RegisterPacketHandler(func(p *packet.Packet) error {
			select {
			case c <- p:
			default:
				// slow reader, drop rather than stall dispatch
			}
			return nil
		})
		if err != nil {
			writeSendError(w, err)
			return
		}
		defer b.UnregisterPacketHandler(id)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case p := <-c:
				data, err := json.Marshal(p)
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
					return
				}
				flusher.Flush()
			case <-b.Done():
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}

func writeSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, ErrOutOfMemory):
		httputil.TooManyRequests(w, err.Error())
	case errors.Is(err, ErrClosed):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func packetFromForm(r *http.Request) (*packet.Packet, error) {
	p := &packet.Packet{}
	var err error

	payload := strings.TrimSpace(r.FormValue("payload"))
	if payload == "" {
		return nil, errors.New("missing payload")
	}
	if p.Payload, err = hex.DecodeString(payload); err != nil {
		return nil, fmt.Errorf("payload must be hex: %v", err)
	}

	fields := []struct {
		name string
		bits int
		set  func(uint64)
	}{
		{"src_idp", 32, func(v uint64) { p.SrcIDP = uint32(v) }},
		{"dst_idp", 32, func(v uint64) { p.DstIDP = uint32(v) }},
		{"hw_addr_global", 8, func(v uint64) { p.HWAddrGlobal = uint8(v) }},
		{"hw_addr_local", 8, func(v uint64) { p.HWAddrLocal = uint8(v) }},
		{"priority", 8, func(v uint64) { p.Priority = uint8(v) }},
		{"direction", 8, func(v uint64) { p.Direction = packet.Direction(v) }},
	}
	for _, f := range fields {
		s := strings.TrimSpace(r.FormValue(f.name))
		if s == "" {
			continue
		}
		v, err := strconv.ParseUint(s, 0, f.bits)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", f.name, s)
		}
		f.set(v)
	}

	if s := strings.TrimSpace(r.FormValue("latency_critical")); s != "" {
		if p.LatencyCritical, err = strconv.ParseBool(s); err != nil {
			return nil, fmt.Errorf("invalid latency_critical %q", s)
		}
	}
	return p, nil
}
