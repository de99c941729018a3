// Package config holds the recognized configuration options (spec §6):
// maxPacketSize, streamScale, targetFrameRate, pixelFormat, colorSpace,
// bitrate, keyFrameInterval, latencyMode, muteLocalAudioWhileStreaming, and
// the MIRAGE_SIGNPOST diagnostics toggle. Grounded on the teacher's
// Config/applyDefaults shape in
// _examples/alxayo-rtmp-go/internal/rtmp/server/server.go, generalized from
// listener/chunk knobs to encoder/transport knobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// PixelFormat enumerates the recognized capture/encode pixel formats (spec
// §6). 4:4:4 variants are only valid when explicitly selected.
type PixelFormat string

const (
	PixelFormatBGRA8       PixelFormat = "bgra8"
	PixelFormatBGR10A2     PixelFormat = "bgr10a2"
	PixelFormatNV12        PixelFormat = "nv12"
	PixelFormatP010        PixelFormat = "p010"
	PixelFormatYUV444BGRA8 PixelFormat = "4:4:4:bgra8"
	PixelFormatYUV444P010  PixelFormat = "4:4:4:p010"
)

// ColorSpace enumerates the recognized color spaces (spec §6).
type ColorSpace string

const (
	ColorSpaceSRGB      ColorSpace = "sRGB"
	ColorSpaceDisplayP3 ColorSpace = "displayP3"
)

// LatencyMode trades encoder buffering for latency (spec §6).
type LatencyMode string

const (
	LatencyModeBalanced LatencyMode = "balanced"
	LatencyModeLowest   LatencyMode = "lowest"
)

// Config holds one host (or client) process's recognized options (spec §6).
// Zero-valued fields are filled in by applyDefaults when the config is
// loaded or constructed via New.
type Config struct {
	MaxPacketSize                int         `json:"maxPacketSize"`
	StreamScale                  float64     `json:"streamScale"`
	TargetFrameRate              int         `json:"targetFrameRate"`
	PixelFormat                  PixelFormat `json:"pixelFormat"`
	ColorSpace                   ColorSpace  `json:"colorSpace"`
	BitrateBps                   uint64      `json:"bitrate"`
	KeyFrameIntervalFrames       int         `json:"keyFrameInterval"`
	LatencyMode                  LatencyMode `json:"latencyMode"`
	MuteLocalAudioWhileStreaming bool        `json:"muteLocalAudioWhileStreaming"`
	Signpost                     int         `json:"MIRAGE_SIGNPOST"`
}

// Defaults matches the values called out as bracketed defaults in spec §6.
// IPv6Safe is the conservative MaxPacketSize that avoids IPv6 path-MTU
// fragmentation without a PMTU probe (1232, the DNS-flag-day-recommended
// safe UDP payload size; this protocol's header and tag are carved out of
// it, not subtracted beforehand).
const (
	DefaultMaxPacketSizeIPv6Safe = 1232
	DefaultTargetFrameRate60     = 60
	DefaultTargetFrameRate120    = 120
	DefaultKeyFrameIntervalBase  = 240
)

// New returns a Config with every recognized option at its spec §6 default.
func New() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

// applyDefaults fills zero values with the defaults named in spec §6.
func (c *Config) applyDefaults() {
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = DefaultMaxPacketSizeIPv6Safe
	}
	if c.StreamScale == 0 {
		c.StreamScale = 1.0
	}
	if c.TargetFrameRate == 0 {
		c.TargetFrameRate = DefaultTargetFrameRate60
	}
	if c.PixelFormat == "" {
		c.PixelFormat = PixelFormatBGRA8
	}
	if c.ColorSpace == "" {
		c.ColorSpace = ColorSpaceSRGB
	}
	if c.BitrateBps == 0 {
		c.BitrateBps = 20_000_000
	}
	if c.KeyFrameIntervalFrames == 0 {
		c.KeyFrameIntervalFrames = DefaultKeyFrameIntervalBase
	}
	if c.LatencyMode == "" {
		c.LatencyMode = LatencyModeBalanced
	}
}

// Validate rejects combinations the spec forbids or that would corrupt the
// wire protocol (spec §6/§9: streamScale is fixed at session start; 4:4:4
// variants are only valid "when explicitly selected", i.e. this validation
// never rejects them; it rejects frame rates, pixel formats, color spaces
// and latency modes the protocol doesn't recognize at all, and a
// non-positive maxPacketSize or streamScale).
func (c *Config) Validate() error {
	if c.TargetFrameRate != DefaultTargetFrameRate60 && c.TargetFrameRate != DefaultTargetFrameRate120 {
		return fmt.Errorf("config: targetFrameRate must be 60 or 120, got %d", c.TargetFrameRate)
	}
	switch c.PixelFormat {
	case PixelFormatBGRA8, PixelFormatBGR10A2, PixelFormatNV12, PixelFormatP010,
		PixelFormatYUV444BGRA8, PixelFormatYUV444P010:
	default:
		return fmt.Errorf("config: unrecognized pixelFormat %q", c.PixelFormat)
	}
	switch c.ColorSpace {
	case ColorSpaceSRGB, ColorSpaceDisplayP3:
	default:
		return fmt.Errorf("config: unrecognized colorSpace %q", c.ColorSpace)
	}
	switch c.LatencyMode {
	case LatencyModeBalanced, LatencyModeLowest:
	default:
		return fmt.Errorf("config: unrecognized latencyMode %q", c.LatencyMode)
	}
	if c.MaxPacketSize <= 0 {
		return fmt.Errorf("config: maxPacketSize must be positive")
	}
	if c.StreamScale <= 0 {
		return fmt.Errorf("config: streamScale must be positive")
	}
	return nil
}

// LoadFile reads a JSON config file, applies defaults to unset fields, and
// validates the result.
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ReloadableFields is the subset of Config the host may change at runtime
// without restarting (spec §4.7's adaptive-fallback machinery already
// mutates bitrate at runtime; this generalizes that to operator-driven
// file edits). streamScale and pixelFormat are deliberately excluded: per
// spec §9 "scale is fixed at session start" and resolution/pixel-format
// changes require a stream reset, not a hot field swap.
type ReloadableFields struct {
	BitrateBps             uint64
	KeyFrameIntervalFrames int
	LatencyMode            LatencyMode
}

// Reloadable extracts the fields a running host may hot-swap.
func (c Config) Reloadable() ReloadableFields {
	return ReloadableFields{
		BitrateBps:             c.BitrateBps,
		KeyFrameIntervalFrames: c.KeyFrameIntervalFrames,
		LatencyMode:            c.LatencyMode,
	}
}
