// Package sender implements the UDP packet sender and backpressure policy
// (spec §4.8, C8): fragment sizing bounded by max_packet_size, queued-byte
// accounting that gates low-latency frame drop, capture-restart pacing, and
// the encoder in-flight cap. Grounded on the teacher's bufpool-backed I/O
// style in _examples/alxayo-rtmp-go/internal/bufpool/pool.go, generalized
// from TCP chunk buffers to UDP fragment buffers.
package sender

import (
	"time"

	"github.com/miragekit/core/internal/wire"
)

// Capture-restart pacing parameters (spec §4.8).
const (
	RestartCooldownBase       = 3 * time.Second
	RestartCooldownMultiplier = 2
	RestartCooldownCap        = 18 * time.Second
	RestartStableWindow       = 20 * time.Second

	DisplayCaptureStallThreshold = 1500 * time.Millisecond
	WindowCaptureStallThreshold  = 8 * time.Second

	HardRecoveryAfterRestarts = 3
)

// FragmentSize returns the maximum plaintext fragment payload size that fits
// within maxPacketSize once headerSize and the AEAD tag are accounted for
// (spec §4.8: "header.payloadLength + tagLen ≤ max_packet_size - headerSize").
func FragmentSize(maxPacketSize, headerSize, tagSize int) int {
	n := maxPacketSize - headerSize - tagSize
	if n < 0 {
		return 0
	}
	return n
}

// FragmentCount returns how many fragments a frame of frameByteCount bytes
// needs given a fragment payload capacity.
func FragmentCount(frameByteCount, fragmentCapacity int) uint16 {
	if fragmentCapacity <= 0 {
		return 0
	}
	n := (frameByteCount + fragmentCapacity - 1) / fragmentCapacity
	if n < 1 {
		n = 1
	}
	return uint16(n)
}

// QueueThreshold computes the queued-bytes backpressure threshold, scaled
// by encoded area × frame rate (spec §4.8).
func QueueThreshold(encodedWidth, encodedHeight int, frameRate float64, bytesPerPixelPerFrame float64) int {
	area := float64(encodedWidth) * float64(encodedHeight)
	return int(area * frameRate * bytesPerPixelPerFrame)
}

// QueueTracker tracks queued bytes awaiting send and decides, per incoming
// frame, whether to admit it or drop it for backpressure (spec §4.8: "the
// producer drops incoming frames ... rather than queueing").
type QueueTracker struct {
	threshold  int
	queued     int
}

// NewQueueTracker returns a tracker with the given byte threshold.
func NewQueueTracker(threshold int) *QueueTracker { return &QueueTracker{threshold: threshold} }

// SetThreshold updates the threshold, e.g. after a resolution/frame-rate
// change recomputes QueueThreshold.
func (q *QueueTracker) SetThreshold(threshold int) { q.threshold = threshold }

// Admit reports whether a frame of frameBytes should be admitted to the
// send queue; if so, the bytes are added to the tracked total.
func (q *QueueTracker) Admit(frameBytes int) bool {
	if q.queued+frameBytes > q.threshold {
		return false
	}
	q.queued += frameBytes
	return true
}

// Sent records that frameBytes have left the queue (sent or dropped after
// admission).
func (q *QueueTracker) Sent(frameBytes int) {
	q.queued -= frameBytes
	if q.queued < 0 {
		q.queued = 0
	}
}

// QueuedBytes returns the current queued byte total.
func (q *QueueTracker) QueuedBytes() int { return q.queued }

// InFlightCap returns the encoder in-flight cap for a given target frame
// rate (spec §4.8: "1 at 60 Hz, 2 at 120 Hz").
func InFlightCap(targetFrameRate int) int {
	if targetFrameRate > 60 {
		return 2
	}
	return 1
}

// CaptureKind distinguishes display vs window capture for stall threshold
// selection.
type CaptureKind int

const (
	CaptureDisplay CaptureKind = iota
	CaptureWindow
)

// StallThreshold returns the stall duration that triggers a capture
// restart attempt for the given capture kind.
func StallThreshold(kind CaptureKind) time.Duration {
	if kind == CaptureWindow {
		return WindowCaptureStallThreshold
	}
	return DisplayCaptureStallThreshold
}

// RestartPacer tracks capture-restart attempts and computes the next
// cooldown via exponential backoff, resetting after a stable window and
// escalating to hard recovery after 3 consecutive restarts (spec §4.8).
type RestartPacer struct {
	consecutiveRestarts int
	lastRestart         time.Time
	haveLastRestart     bool
}

// NextCooldown returns the cooldown to wait before the next restart
// attempt at now, and whether this restart should escalate the next
// keyframe to hard recovery (3rd+ consecutive restart).
func (p *RestartPacer) NextCooldown(now time.Time) (cooldown time.Duration, escalateHardRecovery bool) {
	if p.haveLastRestart && now.Sub(p.lastRestart) >= RestartStableWindow {
		p.consecutiveRestarts = 0
	}
	p.consecutiveRestarts++
	p.lastRestart = now
	p.haveLastRestart = true

	cooldown = RestartCooldownBase
	for i := 1; i < p.consecutiveRestarts; i++ {
		cooldown *= RestartCooldownMultiplier
		if cooldown >= RestartCooldownCap {
			cooldown = RestartCooldownCap
			break
		}
	}
	return cooldown, p.consecutiveRestarts >= HardRecoveryAfterRestarts
}

// ConsecutiveRestarts exposes the current streak for diagnostics.
func (p *RestartPacer) ConsecutiveRestarts() int { return p.consecutiveRestarts }

// ValidateFrameFragments checks the invariant sum(payloadLength) ==
// frameByteCount across a set of headers for the same frame, and that
// fragmentIndex < fragmentCount for each (spec §3 FrameHeader invariant).
func ValidateFrameFragments(headers []wire.FrameHeader) bool {
	if len(headers) == 0 {
		return false
	}
	var total uint32
	for _, h := range headers {
		if h.FragmentIndex >= h.FragmentCount {
			return false
		}
		total += h.PayloadLength
	}
	return total == headers[0].FrameByteCount
}
