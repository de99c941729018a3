package main

import (
	"encoding/binary"

	"github.com/miragekit/core/internal/hoststream"
)

// syntheticEncoder stands in for the platform VideoEncoder/CaptureSource
// traits spec §9 calls out as pluggable, platform-only collaborators
// (VideoToolbox/ScreenCaptureKit are out of this module's scope). It
// produces deterministic placeholder frame bytes sized roughly like a
// compressed frame at the configured resolution and quality, so the host
// binary can exercise the real fragment/seal/send path end-to-end without
// a real HEVC bitstream (spec Non-goals: "HEVC bitstream internals").
type syntheticEncoder struct {
	width, height int
}

func newSyntheticEncoder(width, height int) *syntheticEncoder {
	return &syntheticEncoder{width: width, height: height}
}

// EncodeFrame returns placeholder bytes for frameNumber, sized by quality
// (itself derived from hoststream.QualityForBPP/KeyframeQuality) and
// whether this is a keyframe recovery/startup frame.
func (e *syntheticEncoder) EncodeFrame(frameNumber uint32, isKeyframe bool, quality float64) []byte {
	basePixels := e.width * e.height
	// A rough stand-in for "bytes per frame at this quality": scales with
	// resolution and the quality fraction, floored so tiny streams still
	// produce a nonzero payload to fragment and send.
	size := int(float64(basePixels) * quality / 64)
	if isKeyframe {
		size = int(float64(size) / hoststream.KeyframeQualityMultiplier)
	}
	if size < 64 {
		size = 64
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf, frameNumber)
	return buf
}
