// Package reassembler implements the per-stream frame reassembler (spec
// §3/§4.5/§8): fragment admission, epoch/dimension-token/CRC/staleness
// validation, keyframe-preserving delivery ordering, and pending-frame
// timeouts. A Reassembler is single-writer: its owning task calls
// ProcessPacket serially per stream, mirroring the teacher's single-goroutine
// per-connection ownership in
// _examples/alxayo-rtmp-go/internal/rtmp/server/registry.go's per-stream
// Stream type.
package reassembler

import (
	"time"

	"github.com/miragekit/core/internal/wire"
)

// PFrameTimeout and the default keyframe timeout bound how long an
// incomplete frame stays pending before cleanup_old_frames discards it
// (spec §4.5/§5).
const (
	PFrameTimeout          = 500 * time.Millisecond
	DefaultKeyframeTimeout = 4 * time.Second

	// oldFrameThreshold is the wrap-around-safe distance beyond which a
	// frameNumber smaller than lastCompletedFrame is treated as a genuine
	// wrap rather than a stale duplicate (spec §4.5 rule 6, §4.5 closing
	// "Wrap-around" note).
	oldFrameThreshold = 1000

	// requestKeyframeThreshold is should_request_keyframe()'s pending-count
	// trigger (spec §4.5).
	requestKeyframeThreshold = 5
)

// DropReason names a counter bumped when a packet is admitted-rejected.
type DropReason int

const (
	DropNone DropReason = iota
	DropEpoch
	DropToken
	DropAwaitingKeyframe
	DropCRC
	DropOld
)

// Counters tallies the reassembler's admission and delivery outcomes (spec
// §3 ReassemblerState).
type Counters struct {
	PacketsDiscardedOld        uint64
	PacketsDiscardedCRC        uint64
	PacketsDiscardedToken      uint64
	PacketsDiscardedEpoch      uint64
	PacketsDiscardedAwaiting   uint64
	TotalPacketsReceived       uint64
	FramesDelivered            uint64
	DroppedFrameCount          uint64
}

// pendingFrame mirrors spec §3's PendingFrame entity.
type pendingFrame struct {
	fragments      map[uint16][]byte
	totalFragments uint16
	receivedCount  uint16
	isKeyframe     bool
	timestamp      uint64
	receivedAt     time.Time
	contentRect    wire.ContentRect
	frameByteCount uint32
}

// DeliverFunc receives a completed, ordered frame.
type DeliverFunc func(streamID uint16, frameBytes []byte, isKeyframe bool, timestamp uint64, rect wire.ContentRect)

// Reassembler holds one stream's reassembly state.
type Reassembler struct {
	streamID        uint16
	keyframeTimeout time.Duration
	tokenEnabled    bool
	deliver         DeliverFunc

	currentEpoch           uint16
	expectedDimensionToken uint16
	haveDimensionToken     bool

	lastCompletedFrame    uint32
	haveCompletedFrame    bool
	lastDeliveredKeyframe uint32
	haveDeliveredKeyframe bool

	awaitingKeyframe bool
	awaitingSince    time.Time

	pending map[uint32]*pendingFrame

	Counters Counters
}

// New returns a Reassembler for streamID. keyframeTimeout bounds how long an
// incomplete keyframe is retained; tokenEnabled turns on dimension-token
// validation (spec §4.5 rule 3).
func New(streamID uint16, keyframeTimeout time.Duration, tokenEnabled bool, deliver DeliverFunc) *Reassembler {
	if keyframeTimeout <= 0 {
		keyframeTimeout = DefaultKeyframeTimeout
	}
	return &Reassembler{
		streamID:        streamID,
		keyframeTimeout: keyframeTimeout,
		tokenEnabled:    tokenEnabled,
		deliver:         deliver,
		awaitingKeyframe: true, // no keyframe has ever been seen
		pending:         make(map[uint32]*pendingFrame),
	}
}

// ProcessPacket admits or drops a single fragment. payload is the decrypted
// fragment bytes (decryption happens one layer up, in the AEAD/session
// receive path); header.Checksum is verified against payload here, as the
// media AEAD tag alone does not populate the reassembler's counters.
func (r *Reassembler) ProcessPacket(header wire.FrameHeader, payload []byte) DropReason {
	r.Counters.TotalPacketsReceived++
	r.cleanupOldFrames(time.Now())

	isKeyframe := header.IsKeyframe()

	if header.Epoch != r.currentEpoch {
		if isKeyframe {
			r.resetForNewEpoch(header.Epoch)
		} else {
			r.Counters.PacketsDiscardedEpoch++
			r.enterAwaitingKeyframeLocked()
			return DropEpoch
		}
	} else if header.IsDiscontinuity() {
		if isKeyframe {
			r.resetForNewEpoch(header.Epoch)
		} else {
			r.Counters.PacketsDiscardedEpoch++
			r.enterAwaitingKeyframeLocked()
			return DropEpoch
		}
	}

	if r.tokenEnabled {
		if isKeyframe {
			r.expectedDimensionToken = header.DimensionToken
			r.haveDimensionToken = true
		} else if r.haveDimensionToken && header.DimensionToken != r.expectedDimensionToken {
			r.Counters.PacketsDiscardedToken++
			return DropToken
		}
	}

	if r.awaitingKeyframe && !isKeyframe {
		r.Counters.PacketsDiscardedAwaiting++
		return DropAwaitingKeyframe
	}

	if !wire.VerifyChecksum(payload, header.Checksum) {
		r.Counters.PacketsDiscardedCRC++
		return DropCRC
	}

	if !isKeyframe && r.haveCompletedFrame && isOld(header.FrameNumber, r.lastCompletedFrame) {
		r.Counters.PacketsDiscardedOld++
		return DropOld
	}

	r.admit(header, payload, isKeyframe)
	return DropNone
}

func (r *Reassembler) resetForNewEpoch(epoch uint16) {
	r.currentEpoch = epoch
	r.awaitingKeyframe = false
	for fn, pf := range r.pending {
		if !pf.isKeyframe {
			delete(r.pending, fn)
		}
	}
}

func (r *Reassembler) enterAwaitingKeyframeLocked() {
	r.awaitingKeyframe = true
	if r.awaitingSince.IsZero() {
		r.awaitingSince = time.Now()
	}
}

func (r *Reassembler) admit(header wire.FrameHeader, payload []byte, isKeyframe bool) {
	pf, ok := r.pending[header.FrameNumber]
	if !ok {
		pf = &pendingFrame{
			fragments:      make(map[uint16][]byte, header.FragmentCount),
			totalFragments: header.FragmentCount,
			isKeyframe:     isKeyframe,
			timestamp:      header.Timestamp,
			receivedAt:     time.Now(),
			contentRect:    header.ContentRect,
			frameByteCount: header.FrameByteCount,
		}
		r.pending[header.FrameNumber] = pf
	}
	if _, dup := pf.fragments[header.FragmentIndex]; !dup {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		pf.fragments[header.FragmentIndex] = buf
		pf.receivedCount++
	}

	if pf.receivedCount < pf.totalFragments {
		return
	}

	frame := make([]byte, 0, pf.frameByteCount)
	for i := uint16(0); i < pf.totalFragments; i++ {
		frame = append(frame, pf.fragments[i]...)
	}
	delete(r.pending, header.FrameNumber)

	if isKeyframe {
		if r.haveDeliveredKeyframe && !isNewer(header.FrameNumber, r.lastDeliveredKeyframe) {
			return
		}
		r.lastDeliveredKeyframe = header.FrameNumber
		r.haveDeliveredKeyframe = true
		r.awaitingKeyframe = false
		r.awaitingSince = time.Time{}
		for fn, p := range r.pending {
			if !p.isKeyframe && !isNewer(fn, header.FrameNumber) {
				delete(r.pending, fn)
			}
		}
	} else {
		if r.haveCompletedFrame && !isNewer(header.FrameNumber, r.lastCompletedFrame) {
			return
		}
		if r.haveDeliveredKeyframe && !isNewer(header.FrameNumber, r.lastDeliveredKeyframe) {
			return
		}
	}

	r.lastCompletedFrame = header.FrameNumber
	r.haveCompletedFrame = true
	r.Counters.FramesDelivered++
	if r.deliver != nil {
		r.deliver(r.streamID, frame, isKeyframe, pf.timestamp, pf.contentRect)
	}
}

// cleanupOldFrames discards pending frames that have outlived their
// lifetime: P-frames after PFrameTimeout, keyframes after the configured
// keyframeTimeout (spec §4.5).
func (r *Reassembler) cleanupOldFrames(now time.Time) {
	for fn, pf := range r.pending {
		limit := PFrameTimeout
		if pf.isKeyframe {
			limit = r.keyframeTimeout
		}
		if now.Sub(pf.receivedAt) > limit {
			delete(r.pending, fn)
			r.Counters.DroppedFrameCount++
		}
	}
}

// EnterKeyframeOnlyMode purges all non-keyframe pending entries and blocks
// admission of further P-frames until a keyframe is delivered (spec §4.5:
// used by the client on decode errors or decode backpressure).
func (r *Reassembler) EnterKeyframeOnlyMode() {
	r.enterAwaitingKeyframeLocked()
	for fn, pf := range r.pending {
		if !pf.isKeyframe {
			delete(r.pending, fn)
		}
	}
}

// ShouldRequestKeyframe reports whether the pending-frame backlog indicates
// the stream needs a keyframe request (spec §4.5).
func (r *Reassembler) ShouldRequestKeyframe() bool {
	return len(r.pending) > requestKeyframeThreshold
}

// PendingCount exposes the current backlog size for diagnostics/metrics.
func (r *Reassembler) PendingCount() int { return len(r.pending) }

// isOld implements spec §4.5 rule 6 literally: candidate is old relative to
// lastCompleted iff it is behind by a distance under oldFrameThreshold,
// wrap-safely.
func isOld(candidate, lastCompleted uint32) bool {
	if candidate == lastCompleted {
		return false
	}
	diff := lastCompleted - candidate // wraps naturally in uint32
	return diff > 0 && diff < oldFrameThreshold
}

// isNewer reports whether a is ahead of b on the 32-bit wrap-around circle,
// generalizing the §4.5 wrap-around note to general frameNumber ordering
// comparisons (delivery gating), not just the "old" rejection.
func isNewer(a, b uint32) bool {
	diff := a - b
	return diff != 0 && diff < (1<<31)
}
