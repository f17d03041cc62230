package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultBridgeConfig(t *testing.T) {
	cfg := DefaultBridgeConfig()

	if cfg.RingBufferSize == nil || *cfg.RingBufferSize != 4096 {
		t.Errorf("Expected RingBufferSize 4096, got %v", cfg.RingBufferSize)
	}
	if cfg.BatchTimeout == nil || *cfg.BatchTimeout != "100ms" {
		t.Errorf("Expected BatchTimeout '100ms', got %v", cfg.BatchTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}

	if got, want := cfg.Settings(), DefaultSettings(); got != want {
		t.Errorf("DefaultBridgeConfig().Settings() = %+v, want %+v", got, want)
	}
}

func TestEmptyBridgeConfig_Getters(t *testing.T) {
	cfg := EmptyBridgeConfig()

	if got := cfg.GetRingBufferSize(); got != DefaultRingBufferSize {
		t.Errorf("GetRingBufferSize() = %d, want %d", got, DefaultRingBufferSize)
	}
	if got := cfg.GetAlmostFullThreshold(); got != DefaultRingBufferSize/2 {
		t.Errorf("GetAlmostFullThreshold() = %d, want half the ring", got)
	}
	if got := cfg.GetBatchTimeout(); got != 100*time.Millisecond {
		t.Errorf("GetBatchTimeout() = %v, want 100ms", got)
	}
	if got := cfg.GetMailboxSize(); got != 4 {
		t.Errorf("GetMailboxSize() = %d, want 4", got)
	}
	if cfg.GetVerbose() {
		t.Error("GetVerbose() should default to false")
	}
}

func TestAlmostFullThreshold_FollowsRingSize(t *testing.T) {
	cfg := EmptyBridgeConfig()
	cfg.RingBufferSize = ptrInt(256)
	if got := cfg.GetAlmostFullThreshold(); got != 128 {
		t.Errorf("GetAlmostFullThreshold() = %d, want 128", got)
	}
}

func TestGetBatchTimeout_BadValueFallsBack(t *testing.T) {
	cfg := EmptyBridgeConfig()
	cfg.BatchTimeout = ptrString("soon")
	if got := cfg.GetBatchTimeout(); got != DefaultBatchTimeout {
		t.Errorf("GetBatchTimeout() = %v, want default", got)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject an unparseable batch_timeout")
	}
}

func TestLoadBridgeConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bridge.json")
	testJSON := `{
  "ring_buffer_size": 64,
  "mailbox_size": 2,
  "batch_timeout": "250ms",
  "max_payload_size": 16,
  "verbose": true
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadBridgeConfig(configPath)
	if err != nil {
		t.Fatalf("LoadBridgeConfig failed: %v", err)
	}

	s := cfg.Settings()
	if s.RingBufferSize != 64 {
		t.Errorf("RingBufferSize = %d, want 64", s.RingBufferSize)
	}
	if s.AlmostFullThreshold != 32 {
		t.Errorf("AlmostFullThreshold = %d, want 32", s.AlmostFullThreshold)
	}
	if s.BatchTimeout != 250*time.Millisecond {
		t.Errorf("BatchTimeout = %v, want 250ms", s.BatchTimeout)
	}
	if s.HeaderSize != DefaultHeaderSize {
		t.Errorf("HeaderSize = %d, want default %d", s.HeaderSize, DefaultHeaderSize)
	}
	if !s.Verbose {
		t.Error("Verbose = false, want true")
	}
}

func TestLoadBridgeConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		path := filepath.Join(tmpDir, name)
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("bridge.yaml", "{}"), ".json extension"},
		{"missing file", filepath.Join(tmpDir, "nope.json"), "failed to stat"},
		{"bad json", write("bad.json", "{"), "failed to parse"},
		{"ring too small for max packet", write("small.json", `{"ring_buffer_size": 64}`), "usable"},
		{"unaligned ring", write("odd.json", `{"ring_buffer_size": 4098}`), "multiple of 4"},
		{"short header", write("hdr.json", `{"header_size": 8}`), "header_size"},
		{"zero mailbox", write("mbox.json", `{"mailbox_size": 0}`), "mailbox_size"},
		{"threshold past ring", write("thr.json", `{"almost_full_threshold": 5000}`), "almost_full_threshold"},
		{"negative timeout", write("neg.json", `{"batch_timeout": "-1s"}`), "batch_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBridgeConfig(tt.path)
			if err == nil {
				t.Fatalf("LoadBridgeConfig(%s) succeeded, want error containing %q", tt.path, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if got, want := cfg.Settings(), DefaultSettings(); got != want {
		t.Errorf("defaults file drifted from built-in defaults:\n got %+v\nwant %+v", got, want)
	}
}

func TestSettings_MaxRecordSize(t *testing.T) {
	s := DefaultSettings()
	s.MaxPayloadSize = 11
	if got := s.MaxRecordSize(); got != 28 {
		t.Errorf("MaxRecordSize() = %d, want 28", got)
	}
}
