// Package hoststream implements the host-owned per-stream encoder policy
// (spec §4.7, C7): keyframe recovery escalation, the bpp→quality mapping
// table, FEC parity sizing, and automatic-mode bitrate fallback. It is owned
// by the host service the way
// _examples/alxayo-rtmp-go/internal/rtmp/server/registry.go's Stream is
// owned by the server's registry, keyed by StreamID.
package hoststream

import (
	"sort"
	"time"
)

// Recovery escalation windows and FEC parity sizes (spec §4.7).
const (
	RecoveryWindow = 4 * time.Second

	FECParityKeyframe    = 8
	FECParitySoftRecovery = 0
	FECParityHardRecovery = 16
)

// Adaptive bitrate fallback parameters (automatic mode only, spec §4.7).
const (
	AdaptiveReductionFraction = 0.15
	AdaptiveCooldown          = 15 * time.Second
	AdaptiveBitrateFloorBps   = 8_000_000
)

// Compression ceiling and quality clamp bounds.
const (
	FrameQualityCeiling = 0.80
	QualityFloor        = 0.08
	KeyframeQualityMultiplier = 0.85
)

// bppPoint is one (bits-per-pixel-per-second, quality) anchor of the
// interpolation table (spec §4.7).
type bppPoint struct {
	bpp     float64
	quality float64
}

var qualityTable = []bppPoint{
	{0.015, 0.10},
	{0.03, 0.20},
	{0.05, 0.32},
	{0.08, 0.50},
	{0.12, 0.68},
	{0.18, 0.80},
	{0.25, 0.92},
}

// QualityForBPP linearly interpolates the bpp→quality table and clamps the
// result to [QualityFloor, FrameQualityCeiling].
func QualityForBPP(bpp float64) float64 {
	n := len(qualityTable)
	if bpp <= qualityTable[0].bpp {
		return clampQuality(qualityTable[0].quality)
	}
	if bpp >= qualityTable[n-1].bpp {
		return clampQuality(qualityTable[n-1].quality)
	}
	idx := sort.Search(n, func(i int) bool { return qualityTable[i].bpp >= bpp })
	lo, hi := qualityTable[idx-1], qualityTable[idx]
	frac := (bpp - lo.bpp) / (hi.bpp - lo.bpp)
	q := lo.quality + frac*(hi.quality-lo.quality)
	return clampQuality(q)
}

func clampQuality(q float64) float64 {
	if q < QualityFloor {
		return QualityFloor
	}
	if q > FrameQualityCeiling {
		return FrameQualityCeiling
	}
	return q
}

// KeyframeQuality derives the keyframe-specific quality from a frame
// quality value: min(frameQuality, frameQuality*0.85), floored at
// QualityFloor (spec §4.7).
func KeyframeQuality(frameQuality float64) float64 {
	kq := frameQuality * KeyframeQualityMultiplier
	if kq > frameQuality {
		kq = frameQuality
	}
	if kq < QualityFloor {
		kq = QualityFloor
	}
	return kq
}

// RecoveryMode classifies a keyframe recovery request's severity.
type RecoveryMode int

const (
	RecoveryNone RecoveryMode = iota
	RecoverySoft
	RecoveryHard
)

// EncoderMode distinguishes automatic adaptive-bitrate behavior from
// operator-pinned custom settings (spec §4.7: "Custom mode never adjusts
// parameters automatically").
type EncoderMode int

const (
	ModeAutomatic EncoderMode = iota
	ModeCustom
)

// StreamContext holds one host-owned stream's encoder policy state.
type StreamContext struct {
	StreamID   uint16
	Mode       EncoderMode
	BitrateBps uint64

	// SoftRecoveryCount and HardRecoveryCount tally escalations applied by
	// RequestKeyframeRecovery (spec §3 StreamContext: softRecoveryCount /
	// hardRecoveryCount); PendingKeyframeRequiresReset/Flush mirror the
	// same entity's pendingKeyframeRequiresReset/Flush fields, latched by
	// a hard-recovery escalation until the caller clears them.
	SoftRecoveryCount            uint64
	HardRecoveryCount            uint64
	PendingKeyframeRequiresReset bool
	PendingKeyframeRequiresFlush bool

	epoch                       uint16
	lastRecoveryRequestTime     time.Time
	haveLastRecoveryRequestTime bool
	keyframeInFlight            bool

	lastAdaptiveReduction     time.Time
	haveLastAdaptiveReduction bool
}

// New returns a StreamContext with the given starting bitrate.
func New(streamID uint16, mode EncoderMode, initialBitrateBps uint64) *StreamContext {
	return &StreamContext{StreamID: streamID, Mode: mode, BitrateBps: initialBitrateBps}
}

// Epoch returns the stream's current epoch, bumped only on hard recovery.
func (s *StreamContext) Epoch() uint16 { return s.epoch }

// RequestKeyframeRecovery processes a keyframe request at now. Escalation
// (spec §8 "Recovery escalation": two requests within RecoveryWindow MUST
// raise hardRecoveryCount exactly once, independent of whether a prior
// recovery keyframe has finished sending) is evaluated on every call.
// `suppressed` reports only whether *emission* of a new recovery keyframe
// should be skipped because one is already in flight (spec §4.7: "a
// keyframe in flight suppresses duplicate requests until it is fully
// sent") — it gates the encoder queue, not the escalation counters.
func (s *StreamContext) RequestKeyframeRecovery(now time.Time) (mode RecoveryMode, suppressed bool) {
	escalate := s.haveLastRecoveryRequestTime && now.Sub(s.lastRecoveryRequestTime) < RecoveryWindow
	s.lastRecoveryRequestTime = now
	s.haveLastRecoveryRequestTime = true

	if escalate {
		s.epoch++
		s.HardRecoveryCount++
		s.PendingKeyframeRequiresReset = true
		s.PendingKeyframeRequiresFlush = true
		mode = RecoveryHard
	} else {
		s.SoftRecoveryCount++
		mode = RecoverySoft
	}

	if s.keyframeInFlight {
		return mode, true
	}
	s.keyframeInFlight = true
	return mode, false
}

// CompleteKeyframeSend clears the in-flight suppression once the recovery
// keyframe has been fully sent, along with the pending reset/flush latch
// the completed keyframe just satisfied.
func (s *StreamContext) CompleteKeyframeSend() {
	s.keyframeInFlight = false
	s.PendingKeyframeRequiresReset = false
	s.PendingKeyframeRequiresFlush = false
}

// FECParitySize returns the parity block size for a frame given whether it
// is a keyframe and the active recovery mode (spec §4.7).
func FECParitySize(isKeyframe bool, mode RecoveryMode) int {
	if isKeyframe {
		return FECParityKeyframe
	}
	if mode == RecoveryHard {
		return FECParityHardRecovery
	}
	return FECParitySoftRecovery
}

// ShouldQueueScheduledKeyframe is always false: scheduled periodic
// keyframes are disabled; only startup and recovery keyframes emit
// keyframes (spec §4.7).
func (s *StreamContext) ShouldQueueScheduledKeyframe() bool { return false }

// ApplyAdaptiveFallback reduces the bitrate by AdaptiveReductionFraction,
// subject to AdaptiveCooldown and AdaptiveBitrateFloorBps, and only in
// automatic mode. It reports whether a reduction was actually applied.
func (s *StreamContext) ApplyAdaptiveFallback(now time.Time) bool {
	if s.Mode != ModeAutomatic {
		return false
	}
	if s.haveLastAdaptiveReduction && now.Sub(s.lastAdaptiveReduction) < AdaptiveCooldown {
		return false
	}
	if s.BitrateBps <= AdaptiveBitrateFloorBps {
		return false
	}
	reduced := uint64(float64(s.BitrateBps) * (1 - AdaptiveReductionFraction))
	if reduced < AdaptiveBitrateFloorBps {
		reduced = AdaptiveBitrateFloorBps
	}
	s.BitrateBps = reduced
	s.lastAdaptiveReduction = now
	s.haveLastAdaptiveReduction = true
	return true
}
