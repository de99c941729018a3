// Package control implements the control channel (spec §4.4, §6): envelope
// framing over the length-prefixed wire.Envelope, registry-dispatched
// message handlers, and the HelloV2 handshake state machine.
package control

// MessageType identifies a ControlMessage's payload shape (spec §3, §6).
type MessageType uint16

const (
	TypeHello                       MessageType = 1
	TypeHelloResponse               MessageType = 2
	TypeInputEvent                  MessageType = 3
	TypeWindowList                  MessageType = 4
	TypeWindowListRequest           MessageType = 5
	TypeSessionStateUpdate          MessageType = 6
	TypeStreamEncoderSettingsChange MessageType = 7
	TypeQualityTestRequest          MessageType = 8
	TypeQualityTestResult           MessageType = 9
	TypePing                        MessageType = 10
	TypePong                        MessageType = 11
	TypeAudioStreamStarted          MessageType = 12
	TypeAudioStreamStopped          MessageType = 13
)

// String renders a MessageType's name for logging; unknown types are
// rendered as "unknown" so forward-compatible extension types don't panic a
// log line (spec §9: "unknown types logged and skipped").
func (t MessageType) String() string {
	switch t {
	case TypeHello:
		return "hello"
	case TypeHelloResponse:
		return "helloResponse"
	case TypeInputEvent:
		return "inputEvent"
	case TypeWindowList:
		return "windowList"
	case TypeWindowListRequest:
		return "windowListRequest"
	case TypeSessionStateUpdate:
		return "sessionStateUpdate"
	case TypeStreamEncoderSettingsChange:
		return "streamEncoderSettingsChange"
	case TypeQualityTestRequest:
		return "qualityTestRequest"
	case TypeQualityTestResult:
		return "qualityTestResult"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	case TypeAudioStreamStarted:
		return "audioStreamStarted"
	case TypeAudioStreamStopped:
		return "audioStreamStopped"
	default:
		return "unknown"
	}
}

// StylusPayload carries stylus input with optional presence: legacy payloads
// lacking the field decode with Stylus == nil (spec §8 scenario 7).
type StylusPayload struct {
	Altitude float64 `json:"altitude"`
	Azimuth  float64 `json:"azimuth"`
	TiltX    float64 `json:"tiltX"`
	TiltY    float64 `json:"tiltY"`
	Pressure float64 `json:"pressure"`
}

// InputEvent is dispatched onto a dedicated low-latency queue bypassing the
// main coordination thread (spec §4.4).
type InputEvent struct {
	StreamID  uint16         `json:"streamID"`
	Kind      string         `json:"kind"` // "mouseDown", "mouseUp", "mouseMove", "keyDown", "keyUp", "scroll", ...
	X         float64        `json:"x,omitempty"`
	Y         float64        `json:"y,omitempty"`
	KeyCode   uint32         `json:"keyCode,omitempty"`
	Modifiers uint32         `json:"modifiers,omitempty"`
	Stylus    *StylusPayload `json:"stylus,omitempty"`
}

// WindowInfo describes one capturable window for WindowList.
type WindowInfo struct {
	WindowID uint32 `json:"windowID"`
	Title    string `json:"title"`
	AppName  string `json:"appName"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// WindowList enumerates capturable windows/displays.
type WindowList struct {
	Windows []WindowInfo `json:"windows"`
}

// WindowListRequest has no fields; its presence is the request.
type WindowListRequest struct{}

// SessionStateUpdate reports the session lifecycle signal (spec §7).
type SessionStateUpdate struct {
	State string `json:"state"` // "active", "locked", "disconnected"
}

// StreamEncoderSettingsChange requests a live change to a stream's encoder
// configuration (bitrate, frame rate, latency mode, ...), or a keyframe
// recovery request with every other field left unset (spec §4.6/§4.7: the
// client's input-blocking recovery loop has no dedicated wire message of
// its own, so it rides this one, the way a bitrate change does).
type StreamEncoderSettingsChange struct {
	StreamID        uint16  `json:"streamID"`
	BitrateBps      *uint64 `json:"bitrateBps,omitempty"`
	FrameRate       *int    `json:"frameRate,omitempty"`
	LatencyMode     *string `json:"latencyMode,omitempty"`
	RequestKeyframe bool    `json:"requestKeyframe,omitempty"`
}

// QualityTestRequest asks the host to run the staged quality probe (C10).
type QualityTestRequest struct {
	TestID string `json:"testID"`
	Stages []struct {
		ID              string `json:"id"`
		DurationMs      int    `json:"durationMs"`
		TargetBitrateBps uint64 `json:"targetBitrateBps"`
	} `json:"stages"`
}

// QualityTestResult reports the client's accumulator conclusions.
type QualityTestResult struct {
	TestID              string  `json:"testID"`
	MaxStableBitrateBps  uint64  `json:"maxStableBitrateBps"`
	StageResults         []struct {
		StageID        string  `json:"stageID"`
		ThroughputBps  uint64  `json:"throughputBps"`
		LossFraction   float64 `json:"lossFraction"`
	} `json:"stageResults"`
	CodecBenchmarkMs float64 `json:"codecBenchmarkMs,omitempty"`
}

// Ping/Pong carry a correlation nonce for RTT measurement and liveness.
type Ping struct {
	Nonce uint64 `json:"nonce"`
}

type Pong struct {
	Nonce uint64 `json:"nonce"`
}

// AudioStreamStarted/Stopped announce audio stream lifecycle independent of
// the video stream's lifecycle.
type AudioStreamStarted struct {
	StreamID        uint16 `json:"streamID"`
	SampleRate      uint32 `json:"sampleRate"`
	ChannelCount    uint8  `json:"channelCount"`
	SamplesPerFrame uint16 `json:"samplesPerFrame"`
}

type AudioStreamStopped struct {
	StreamID uint16 `json:"streamID"`
}
