package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical bridge defaults file.
const DefaultConfigPath = "config/bridge.defaults.json"

// Defaults used when a field is omitted.
const (
	DefaultRingBufferSize   = 4096
	DefaultMailboxSize      = 4
	DefaultBatchTimeout     = 100 * time.Millisecond
	DefaultMaxPayloadSize   = 1024
	DefaultHeaderSize       = 10
	DefaultSafetyMargin     = 0
	DefaultMaxQueuedPackets = 1024
	DefaultMaxHandlers      = 64

	minHeaderSize   = 10
	lengthFieldSize = 4
)

// BridgeConfig is the JSON configuration for the NoC bridge. Every field is
// optional; the Get* methods fall back to the defaults above.
type BridgeConfig struct {
	// Send and receive rings
	RingBufferSize *int `json:"ring_buffer_size,omitempty"`
	SafetyMargin   *int `json:"safety_margin,omitempty"`

	// Mailboxes
	MailboxSize *int `json:"mailbox_size,omitempty"`

	// Batching policy
	AlmostFullThreshold *int    `json:"almost_full_threshold,omitempty"` // bytes; defaults to half the ring
	BatchTimeout        *string `json:"batch_timeout,omitempty"`         // duration string like "100ms"

	// Packet limits
	MaxPayloadSize   *int `json:"max_payload_size,omitempty"`
	HeaderSize       *int `json:"header_size,omitempty"`
	MaxQueuedPackets *int `json:"max_queued_packets,omitempty"`
	MaxHandlers      *int `json:"max_handlers,omitempty"`

	Verbose *bool `json:"verbose,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptyBridgeConfig returns a BridgeConfig with all fields set to nil.
func EmptyBridgeConfig() *BridgeConfig {
	return &BridgeConfig{}
}

// DefaultBridgeConfig returns a BridgeConfig with every field populated from
// the built-in defaults.
func DefaultBridgeConfig() *BridgeConfig {
	return &BridgeConfig{
		RingBufferSize:      ptrInt(DefaultRingBufferSize),
		SafetyMargin:        ptrInt(DefaultSafetyMargin),
		MailboxSize:         ptrInt(DefaultMailboxSize),
		AlmostFullThreshold: ptrInt(DefaultRingBufferSize / 2),
		BatchTimeout:        ptrString(DefaultBatchTimeout.String()),
		MaxPayloadSize:      ptrInt(DefaultMaxPayloadSize),
		HeaderSize:          ptrInt(DefaultHeaderSize),
		MaxQueuedPackets:    ptrInt(DefaultMaxQueuedPackets),
		MaxHandlers:         ptrInt(DefaultMaxHandlers),
		Verbose:             ptrBool(false),
	}
}

// LoadBridgeConfig loads a BridgeConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file keep their defaults, so partial configs are safe.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyBridgeConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the defaults file from DefaultConfigPath,
// searching parent directories so it works from package test directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *BridgeConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/*
	}
	for _, path := range candidates {
		if cfg, err := LoadBridgeConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration is self-consistent, including that
// a maximum-size packet fits in an empty ring.
func (c *BridgeConfig) Validate() error {
	if c.BatchTimeout != nil && *c.BatchTimeout != "" {
		d, err := time.ParseDuration(*c.BatchTimeout)
		if err != nil {
			return fmt.Errorf("invalid batch_timeout '%s': %w", *c.BatchTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("batch_timeout must be positive, got %s", d)
		}
	}
	return c.Settings().Validate()
}

// GetRingBufferSize returns the ring size in bytes or the default.
func (c *BridgeConfig) GetRingBufferSize() int {
	if c.RingBufferSize == nil {
		return DefaultRingBufferSize
	}
	return *c.RingBufferSize
}

// GetSafetyMargin returns the safety margin or the default.
func (c *BridgeConfig) GetSafetyMargin() int {
	if c.SafetyMargin == nil {
		return DefaultSafetyMargin
	}
	return *c.SafetyMargin
}

// GetMailboxSize returns the mailbox depth or the default.
func (c *BridgeConfig) GetMailboxSize() int {
	if c.MailboxSize == nil {
		return DefaultMailboxSize
	}
	return *c.MailboxSize
}

// GetAlmostFullThreshold returns the threshold, defaulting to half the ring.
func (c *BridgeConfig) GetAlmostFullThreshold() int {
	if c.AlmostFullThreshold == nil {
		return c.GetRingBufferSize() / 2
	}
	return *c.AlmostFullThreshold
}

// GetBatchTimeout parses and returns the BatchTimeout as a time.Duration.
func (c *BridgeConfig) GetBatchTimeout() time.Duration {
	if c.BatchTimeout == nil || *c.BatchTimeout == "" {
		return DefaultBatchTimeout
	}
	d, err := time.ParseDuration(*c.BatchTimeout)
	if err != nil {
		return DefaultBatchTimeout
	}
	return d
}

// GetMaxPayloadSize returns the maximum payload size or the default.
func (c *BridgeConfig) GetMaxPayloadSize() int {
	if c.MaxPayloadSize == nil {
		return DefaultMaxPayloadSize
	}
	return *c.MaxPayloadSize
}

// GetHeaderSize returns the header size or the default.
func (c *BridgeConfig) GetHeaderSize() int {
	if c.HeaderSize == nil {
		return DefaultHeaderSize
	}
	return *c.HeaderSize
}

// GetMaxQueuedPackets returns the send queue limit or the default.
func (c *BridgeConfig) GetMaxQueuedPackets() int {
	if c.MaxQueuedPackets == nil {
		return DefaultMaxQueuedPackets
	}
	return *c.MaxQueuedPackets
}

// GetMaxHandlers returns the handler registry limit or the default.
func (c *BridgeConfig) GetMaxHandlers() int {
	if c.MaxHandlers == nil {
		return DefaultMaxHandlers
	}
	return *c.MaxHandlers
}

// GetVerbose returns the verbose flag or false.
func (c *BridgeConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// Settings is the resolved form of BridgeConfig consumed by the bridge.
type Settings struct {
	RingBufferSize      int
	SafetyMargin        int
	MailboxSize         int
	AlmostFullThreshold int
	BatchTimeout        time.Duration
	MaxPayloadSize      int
	HeaderSize          int
	MaxQueuedPackets    int
	MaxHandlers         int
	Verbose             bool
}

// Settings resolves every field, applying defaults.
func (c *BridgeConfig) Settings() Settings {
	return Settings{
		RingBufferSize:      c.GetRingBufferSize(),
		SafetyMargin:        c.GetSafetyMargin(),
		MailboxSize:         c.GetMailboxSize(),
		AlmostFullThreshold: c.GetAlmostFullThreshold(),
		BatchTimeout:        c.GetBatchTimeout(),
		MaxPayloadSize:      c.GetMaxPayloadSize(),
		HeaderSize:          c.GetHeaderSize(),
		MaxQueuedPackets:    c.GetMaxQueuedPackets(),
		MaxHandlers:         c.GetMaxHandlers(),
		Verbose:             c.GetVerbose(),
	}
}

// DefaultSettings returns the resolved defaults.
func DefaultSettings() Settings {
	return EmptyBridgeConfig().Settings()
}

// MaxRecordSize is the ring footprint of a maximum-size packet.
func (s Settings) MaxRecordSize() int {
	return (lengthFieldSize + s.HeaderSize + s.MaxPayloadSize + 3) &^ 3
}

// Validate checks the resolved settings.
func (s Settings) Validate() error {
	if s.RingBufferSize < 16 || s.RingBufferSize%4 != 0 {
		return fmt.Errorf("ring_buffer_size must be a multiple of 4 and at least 16, got %d", s.RingBufferSize)
	}
	if s.MailboxSize < 1 {
		return fmt.Errorf("mailbox_size must be at least 1, got %d", s.MailboxSize)
	}
	if s.HeaderSize < minHeaderSize {
		return fmt.Errorf("header_size must be at least %d, got %d", minHeaderSize, s.HeaderSize)
	}
	if s.MaxPayloadSize < 1 {
		return fmt.Errorf("max_payload_size must be positive, got %d", s.MaxPayloadSize)
	}
	if s.SafetyMargin < 0 {
		return fmt.Errorf("safety_margin must be non-negative, got %d", s.SafetyMargin)
	}
	if usable := s.RingBufferSize - 1 - s.SafetyMargin; s.MaxRecordSize() > usable {
		return fmt.Errorf("max packet needs %d ring bytes but only %d are usable", s.MaxRecordSize(), usable)
	}
	if s.AlmostFullThreshold < 0 || s.AlmostFullThreshold >= s.RingBufferSize {
		return fmt.Errorf("almost_full_threshold must be in [0, %d), got %d", s.RingBufferSize, s.AlmostFullThreshold)
	}
	if s.BatchTimeout <= 0 {
		return fmt.Errorf("batch_timeout must be positive, got %s", s.BatchTimeout)
	}
	if s.MaxQueuedPackets < 0 {
		return fmt.Errorf("max_queued_packets must be non-negative, got %d", s.MaxQueuedPackets)
	}
	if s.MaxHandlers < 1 {
		return fmt.Errorf("max_handlers must be at least 1, got %d", s.MaxHandlers)
	}
	return nil
}
