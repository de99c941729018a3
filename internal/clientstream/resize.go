// Package clientstream implements the client-owned per-stream controller
// (spec §4.6, C6): the resize pipeline, input-blocking recovery loop, and
// first-frame gating. It is owned by the client service the way
// _examples/alxayo-rtmp-go/internal/rtmp/server/registry.go's Stream is
// owned server-side, mirrored to the client.
package clientstream

import "math"

// MaxResizePixelWidth/Height cap the pixel geometry sent to the encoder
// (spec §3/§4.6).
const (
	MaxResizePixelWidth  = 5120
	MaxResizePixelHeight = 2880

	// AspectDeltaThreshold/ScaleDeltaThreshold are the minimum changes that
	// warrant publishing a new ResizeEvent after the first layout (spec
	// §4.6: "aspect Δ>0.01, scale Δ>0.01, pixel size change").
	AspectDeltaThreshold = 0.01
	ScaleDeltaThreshold  = 0.01
)

// ResizeState is the resize pipeline's state machine (spec §3).
type ResizeState int

const (
	ResizeIdle ResizeState = iota
	ResizeAwaiting
)

// ResizeEvent is published to the host over the control channel when the
// client's drawable geometry changes enough to warrant a stream
// reconfiguration.
type ResizeEvent struct {
	PixelWidth    int
	PixelHeight   int
	RelativeScale float64
}

// ResizeInput is the raw geometry the renderer reports (spec §4.6:
// "(pixelSize, screenBounds, scaleFactor)").
type ResizeInput struct {
	DrawableWidth  float64
	DrawableHeight float64
	ScreenWidth    float64
	ScreenHeight   float64
	ScaleFactor    float64
}

// ResizePipeline tracks the client's resize state and decides when a new
// geometry change is significant enough to publish.
type ResizePipeline struct {
	state ResizeState

	haveLast      bool
	lastAspect    float64
	lastScale     float64
	lastPixelW    int
	lastPixelH    int
}

// NewResizePipeline returns an idle pipeline.
func NewResizePipeline() *ResizePipeline { return &ResizePipeline{state: ResizeIdle} }

// State returns the pipeline's current state.
func (p *ResizePipeline) State() ResizeState { return p.state }

// Process computes the capped, even-aligned pixel geometry and relative
// scale for in, and reports whether this change should be published as a
// ResizeEvent. The first call is always absorbed silently (spec §4.6:
// "First layout is absorbed silently").
func (p *ResizePipeline) Process(in ResizeInput) (event ResizeEvent, publish bool) {
	pixelW, pixelH := capAndAlign(in.DrawableWidth*in.ScaleFactor, in.DrawableHeight*in.ScaleFactor)

	screenArea := in.ScreenWidth * in.ScreenHeight
	drawableArea := in.DrawableWidth * in.ScaleFactor * in.DrawableHeight * in.ScaleFactor
	relativeScale := 1.0
	if screenArea > 0 {
		relativeScale = drawableArea / screenArea
		if relativeScale > 1 {
			relativeScale = 1
		}
	}

	aspect := 0.0
	if pixelH > 0 {
		aspect = float64(pixelW) / float64(pixelH)
	}

	event = ResizeEvent{PixelWidth: pixelW, PixelHeight: pixelH, RelativeScale: relativeScale}

	if !p.haveLast {
		p.haveLast = true
		p.lastAspect, p.lastScale, p.lastPixelW, p.lastPixelH = aspect, relativeScale, pixelW, pixelH
		return event, false
	}

	significant := pixelW != p.lastPixelW || pixelH != p.lastPixelH ||
		math.Abs(aspect-p.lastAspect) > AspectDeltaThreshold ||
		math.Abs(relativeScale-p.lastScale) > ScaleDeltaThreshold

	if !significant {
		return event, false
	}

	p.lastAspect, p.lastScale, p.lastPixelW, p.lastPixelH = aspect, relativeScale, pixelW, pixelH
	p.state = ResizeAwaiting
	return event, true
}

// AckReceived transitions back to idle once the host acknowledges the
// resize.
func (p *ResizePipeline) AckReceived() { p.state = ResizeIdle }

// Timeout returns the pipeline to idle if the host acknowledgement is lost
// (spec §4.6).
func (p *ResizePipeline) Timeout() { p.state = ResizeIdle }

// capAndAlign bounds w,h to the maximum resize dimensions preserving
// aspect, then rounds down to even pixels (HEVC requirement).
func capAndAlign(w, h float64) (int, int) {
	if w > MaxResizePixelWidth || h > MaxResizePixelHeight {
		scale := math.Min(MaxResizePixelWidth/w, MaxResizePixelHeight/h)
		w *= scale
		h *= scale
	}
	return evenFloor(w), evenFloor(h)
}

func evenFloor(v float64) int {
	n := int(math.Floor(v))
	if n%2 != 0 {
		n--
	}
	if n < 0 {
		n = 0
	}
	return n
}
