package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nocbridge/internal/config"
	"github.com/banshee-data/nocbridge/internal/hwsim"
	"github.com/banshee-data/nocbridge/internal/packet"
	"github.com/banshee-data/nocbridge/internal/seriallink"
)

func TestFlagDefaults(t *testing.T) {
	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"listen", *listen, ":8080"},
		{"grpc-listen", *grpcListen, ":50051"},
		{"serial", *serialPort, ""},
		{"baud", *baudRate, seriallink.DefaultBaudRate},
		{"loopback", *loopback, true},
		{"db", *dbFile, "nocbridge_trace.db"},
		{"demo", *demoCount, 0},
		{"demo-interval", *demoEvery, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("-%s default = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := loadSettings("", false)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSettings(), s)
}

func TestLoadSettings_FileAndVerbose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ring_buffer_size": 8192, "batch_timeout": "5ms"}`), 0o644))

	s, err := loadSettings(path, true)
	require.NoError(t, err)
	assert.Equal(t, 8192, s.RingBufferSize)
	assert.Equal(t, 5*time.Millisecond, s.BatchTimeout)
	assert.True(t, s.Verbose)
}

func TestLoadSettings_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ring_buffer_size": 64, "max_payload_size": 1024}`), 0o644))

	_, err := loadSettings(path, false)
	assert.Error(t, err)

	_, err = loadSettings(filepath.Join(t.TempDir(), "missing.json"), false)
	assert.Error(t, err)
}

func TestOpenPeer_Simulated(t *testing.T) {
	peer, closer, err := openPeer("", seriallink.PortOptions{}, packet.Codec{}, true)
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, &hwsim.Peer{}, peer)
}

func TestOpenPeer_MissingDevice(t *testing.T) {
	opts, err := seriallink.PortOptions{}.Normalize()
	require.NoError(t, err)
	_, _, err = openPeer(filepath.Join(t.TempDir(), "no-such-tty"), opts, packet.Codec{}, false)
	assert.Error(t, err)
}
