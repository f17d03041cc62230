// Package testutil provides shared test utilities and fixtures.
//
// This package centralises packet fixtures and admin-route request helpers
// so package tests build packets the same way.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/nocbridge/internal/packet"
)

// Dummy packet addressing, matching the reference hardware test bench.
const (
	DummySrcIDP uint32 = 0x03040506
	DummyDstIDP uint32 = 0x0708090a
)

// DummyPacket returns a latency-critical packet to global address 1 whose
// payload bytes count up from 11.
func DummyPacket(payloadLen int) *packet.Packet {
	p := &packet.Packet{
		HWAddrGlobal:    1,
		LatencyCritical: true,
		SrcIDP:          DummySrcIDP,
		DstIDP:          DummyDstIDP,
		Payload:         make([]byte, payloadLen),
	}
	for i := range p.Payload {
		p.Payload[i] = byte(i + 11)
	}
	return p
}

// DeferredPacket returns a non-latency-critical packet tagged with seq in
// its source IDP so ordering can be checked after transport.
func DeferredPacket(seq, payloadLen int) *packet.Packet {
	p := DummyPacket(payloadLen)
	p.LatencyCritical = false
	p.SrcIDP = uint32(seq)
	return p
}

// ClonePacket returns a deep copy of p.
func ClonePacket(p *packet.Packet) *packet.Packet {
	c := *p
	c.Payload = append([]byte(nil), p.Payload...)
	return &c
}

// LocalRequest creates an httptest request that appears to come from
// localhost, which tsweb.AllowDebugAccess requires for /debug/ routes.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
