package clientstream

import (
	"sync"
	"time"
)

// StreamController runs on the client per active stream, forwarding
// reassembled frames to the decoder and tracking input-blocking/recovery
// state (spec §4.6).
type StreamController struct {
	StreamID        uint16
	keyframeTimeout time.Duration

	mu                sync.Mutex
	inputBlocked      bool
	hasReceivedFirst  bool
	lastRecoveryAsked time.Time
	haveLastRecovery  bool

	RequestKeyframe func(streamID uint16)
}

// NewStreamController returns a controller whose recovery loop requests a
// keyframe at most once per keyframeTimeout (spec §4.6: "not more often
// than once per timeout").
func NewStreamController(streamID uint16, keyframeTimeout time.Duration, requestKeyframe func(streamID uint16)) *StreamController {
	return &StreamController{StreamID: streamID, keyframeTimeout: keyframeTimeout, RequestKeyframe: requestKeyframe}
}

// OnFrameDelivered marks the first-frame gate and clears input blocking on
// successful delivery (decoder accepted the frame cleanly).
func (c *StreamController) OnFrameDelivered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasReceivedFirst = true
	c.inputBlocked = false
}

// HasReceivedFirstFrame gates UI readiness signals (spec §4.6).
func (c *StreamController) HasReceivedFirstFrame() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasReceivedFirst
}

// BlockInput suppresses this stream's input events, e.g. on a decoder
// awaiting-dimension-change or repeated-error report (spec §4.6/§7).
func (c *StreamController) BlockInput() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputBlocked = true
}

// UnblockInput resumes input dispatch once the decoder recovers.
func (c *StreamController) UnblockInput() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputBlocked = false
}

// InputBlocked reports whether this stream's input events are currently
// suppressed.
func (c *StreamController) InputBlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputBlocked
}

// MaybeRequestRecoveryKeyframe requests a keyframe via RequestKeyframe if
// the stream is input-blocked and at least keyframeTimeout has elapsed
// since the last request. Intended to be called periodically (e.g. by a
// ticker) by the controller's owning recovery loop.
func (c *StreamController) MaybeRequestRecoveryKeyframe(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inputBlocked {
		return false
	}
	if c.haveLastRecovery && now.Sub(c.lastRecoveryAsked) < c.keyframeTimeout {
		return false
	}
	c.lastRecoveryAsked = now
	c.haveLastRecovery = true
	if c.RequestKeyframe != nil {
		c.RequestKeyframe(c.StreamID)
	}
	return true
}
