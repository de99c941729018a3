package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miragekit/core/internal/archive"
	"github.com/miragekit/core/internal/config"
	"github.com/miragekit/core/internal/control"
	"github.com/miragekit/core/internal/display"
	"github.com/miragekit/core/internal/hoststream"
	"github.com/miragekit/core/internal/identity"
	"github.com/miragekit/core/internal/mediacrypto"
	"github.com/miragekit/core/internal/metrics"
	"github.com/miragekit/core/internal/sender"
	"github.com/miragekit/core/internal/session"
	"github.com/miragekit/core/internal/wire"
)

// hostService owns every live client session on a MirageKit host process,
// tying internal/session's handshake orchestration to a per-stream encode
// loop the way the teacher's internal/rtmp/server.Server owns its
// connections (DESIGN.md's internal/session entry).
type hostService struct {
	identity *identity.Identity
	hostID   string
	metrics  *metrics.Metrics
	display  *display.SharedVirtualDisplayManager
	recorder *archive.Recorder // nil if --archive was not set
	log      *slog.Logger

	nonces *session.NonceCache

	mu       sync.Mutex
	cfg      config.Config
	dataConn net.PacketConn
	sessions map[string]*clientSession // keyed by hex(UDP registration token)

	nextStreamID uint32
}

// clientSession is one accepted control connection's live state: its
// derived media key, assigned stream, and the client UDP address learned
// once its registration datagram arrives.
type clientSession struct {
	conn   *control.Conn
	msc    *session.MediaSessionContext
	stream *hoststream.StreamContext

	mu       sync.Mutex
	addr     net.Addr
	addrSet  bool
	addrCond *sync.Cond

	width, height int
	closed        chan struct{}

	// recording is non-nil only when the host was started with --archive;
	// it buffers every encoded frame this session's send loop produces
	// until the connection ends.
	recording *archive.SessionRecording

	// pendingKeyframe holds the escalation mode (hoststream.RecoverySoft /
	// RecoveryHard) of a keyframe recovery request the control read loop
	// has accepted but the send loop hasn't yet emitted a frame for.
	pendingKeyframe int32
}

func newHostService(id *identity.Identity, hostID string, cfg config.Config, m *metrics.Metrics, dm *display.SharedVirtualDisplayManager, recorder *archive.Recorder, log *slog.Logger) *hostService {
	return &hostService{
		identity: id,
		hostID:   hostID,
		metrics:  m,
		display:  dm,
		recorder: recorder,
		log:      log,
		nonces:   session.NewNonceCache(),
		cfg:      cfg,
		sessions: make(map[string]*clientSession),
	}
}

// applyReloadableConfig is the config.Watcher onChange callback: it
// updates every live stream's bitrate without tearing down a connection
// (spec §9 supplemented feature: hot config reload). The reloaded
// keyframe interval and latency mode are not applied to live streams.
func (h *hostService) applyReloadableConfig(fields config.ReloadableFields) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cs := range h.sessions {
		cs.stream.BitrateBps = fields.BitrateBps
	}
	h.log.Info("applied reloaded encoder settings", "bitrate_bps", fields.BitrateBps)
}

func (h *hostService) handleConnection(ctx context.Context, nc net.Conn) {
	log := h.log.With("peer_addr", nc.RemoteAddr().String())
	conn := control.NewConn(nc)
	defer conn.Close()

	verify := session.HostVerifier(h.nonces, func(hello *control.HelloV2) (accept bool, reasonCode string, requiresAuth bool) {
		return true, "", false
	})

	result, err := control.ServerHandshake(conn, h.identity, h.hostID, verify)
	if err != nil {
		log.Warn("handshake failed", "error", err)
		return
	}
	log = log.With("device_id", result.Hello.DeviceID)

	sessionKey, err := session.DeriveSessionKeyFromHandshake(h.identity, result.Hello.PublicKey, session.CanonicalHelloFieldsForDerivation(result.Hello, result.Response))
	if err != nil {
		log.Warn("session key derivation failed", "error", err)
		return
	}
	msc, err := session.NewMediaSessionContext(sessionKey, result.UDPToken)
	if err != nil {
		log.Warn("media session setup failed", "error", err)
		return
	}
	defer msc.Zeroize()

	h.mu.Lock()
	cfg := h.cfg
	streamID := uint16(h.nextStreamID%0xFFFE) + 1
	h.nextStreamID++
	h.mu.Unlock()

	cs := &clientSession{
		conn:   conn,
		msc:    msc,
		stream: hoststream.New(streamID, hoststream.ModeAutomatic, cfg.BitrateBps),
		width:  serveFlags.width,
		height: serveFlags.height,
		closed: make(chan struct{}),
	}
	cs.addrCond = sync.NewCond(&cs.mu)

	tokenKey := hex.EncodeToString(result.UDPToken)
	h.mu.Lock()
	h.sessions[tokenKey] = cs
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, tokenKey)
		h.mu.Unlock()
	}()

	if h.recorder != nil {
		cs.recording = h.recorder.StartSession(tokenKey)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := cs.recording.Close(closeCtx); err != nil {
				log.Warn("session recording upload failed", "error", err)
			}
		}()
	}

	disp, err := h.display.Acquire(display.ConsumerStream, display.Resolution{Width: cs.width, Height: cs.height}, float64(cfg.TargetFrameRate), string(cfg.ColorSpace))
	if err != nil {
		log.Warn("display acquire failed", "error", err)
		return
	}
	defer h.display.Release(display.ConsumerStream)
	log.Info("stream display ready", "display_id", disp.DisplayID, "hidpi_scale", disp.HiDPIScale)

	h.metrics.ActiveSessions.Inc()
	defer h.metrics.ActiveSessions.Dec()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go h.sendLoop(connCtx, cs, cfg)

	h.controlReadLoop(connCtx, cs, log)
	close(cs.closed)
}

// controlReadLoop dispatches inbound control messages through a registry,
// the way the teacher's server.go attaches a per-connection handler table
// (spec §4.4, §9: unknown types are logged and skipped).
func (h *hostService) controlReadLoop(ctx context.Context, cs *clientSession, log *slog.Logger) {
	reg := control.NewRegistry()
	reg.Register(control.TypePing, func(raw json.RawMessage) error {
		var p control.Ping
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return cs.conn.Send(control.TypePong, control.Pong{Nonce: p.Nonce})
	})
	reg.Register(control.TypeWindowListRequest, func(raw json.RawMessage) error {
		return cs.conn.Send(control.TypeWindowList, control.WindowList{Windows: []control.WindowInfo{
			{WindowID: 1, Title: "Virtual Display", AppName: "mirage-host", Width: cs.width, Height: cs.height},
		}})
	})
	reg.Register(control.TypeStreamEncoderSettingsChange, func(raw json.RawMessage) error {
		var change control.StreamEncoderSettingsChange
		if err := json.Unmarshal(raw, &change); err != nil {
			return err
		}
		if change.BitrateBps != nil {
			cs.stream.BitrateBps = *change.BitrateBps
		}
		if change.RequestKeyframe {
			mode, suppressed := cs.stream.RequestKeyframeRecovery(time.Now())
			if !suppressed {
				atomic.StoreInt32(&cs.pendingKeyframe, int32(mode))
				modeLabel := "soft"
				if mode == hoststream.RecoveryHard {
					modeLabel = "hard"
				}
				h.metrics.RecordKeyframeRequest(streamIDLabel(cs.stream.StreamID), modeLabel)
				log.Info("keyframe recovery requested", "mode", modeLabel)
			}
		}
		return nil
	})
	reg.Register(control.TypeInputEvent, func(raw json.RawMessage) error {
		// Injected via a dedicated low-latency path on a real platform
		// backend (spec §5); this module has no input-injection
		// collaborator, so inbound events are acknowledged by being
		// accepted here and otherwise dropped.
		return nil
	})

	for {
		env, err := cs.conn.ReadEnvelope(time.Now().Add(control.PingInterval * 3))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Info("control connection ended", "error", err)
			return
		}
		if err := reg.Dispatch(control.MessageType(env.Type), env.Payload); err != nil {
			if control.IsUnknownType(err) {
				log.Debug("skipping unrecognized control message", "type", env.Type)
				continue
			}
			log.Warn("control dispatch failed", "error", err)
		}
	}
}

// waitForAddr blocks until the client's UDP endpoint is known (learned
// from its registration datagram, spec §6) or ctx is done.
func (cs *clientSession) waitForAddr(ctx context.Context) (net.Addr, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cs.mu.Lock()
			cs.addrCond.Broadcast()
			cs.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	for !cs.addrSet {
		if ctx.Err() != nil {
			return nil, false
		}
		cs.addrCond.Wait()
	}
	return cs.addr, true
}

func (cs *clientSession) setAddr(addr net.Addr) {
	cs.mu.Lock()
	cs.addr = addr
	cs.addrSet = true
	cs.addrCond.Broadcast()
	cs.mu.Unlock()
}

// sendLoop drives one stream's placeholder encode+fragment+seal+send
// pipeline (spec §4.7/§4.8, C7/C8) once the client's UDP endpoint is
// known.
func (h *hostService) sendLoop(ctx context.Context, cs *clientSession, cfg config.Config) {
	addr, ok := cs.waitForAddr(ctx)
	if !ok {
		return
	}

	enc := newSyntheticEncoder(cs.width, cs.height)
	fragCap := sender.FragmentSize(cfg.MaxPacketSize, wire.FrameHeaderSize+1, mediacrypto.TagSize)
	queue := sender.NewQueueTracker(sender.QueueThreshold(cs.width, cs.height, float64(cfg.TargetFrameRate), 0.12))

	interval := time.Second / time.Duration(cfg.TargetFrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var frameNumber uint32
	var seq uint32
	dimensionToken := uint16(1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pendingMode := hoststream.RecoveryMode(atomic.SwapInt32(&cs.pendingKeyframe, int32(hoststream.RecoveryNone)))
		isKeyframe := frameNumber == 0 || pendingMode != hoststream.RecoveryNone
		if pendingMode != hoststream.RecoveryNone {
			cs.stream.CompleteKeyframeSend()
		}

		bpp := float64(cfg.BitrateBps) / (float64(cs.width*cs.height) * float64(cfg.TargetFrameRate))
		quality := hoststream.QualityForBPP(bpp)
		if isKeyframe {
			quality = hoststream.KeyframeQuality(quality)
		}
		frameBytes := enc.EncodeFrame(frameNumber, isKeyframe, quality)
		if cs.recording != nil {
			cs.recording.AppendFrame(cs.stream.StreamID, frameBytes, isKeyframe, uint64(time.Now().UnixNano()))
		}

		if !queue.Admit(len(frameBytes)) {
			h.metrics.RecordFrameDrop(streamIDLabel(cs.stream.StreamID), "backpressure")
			frameNumber++
			continue
		}

		count := sender.FragmentCount(len(frameBytes), fragCap)
		for i := uint16(0); i < count; i++ {
			start := int(i) * fragCap
			end := start + fragCap
			if end > len(frameBytes) {
				end = len(frameBytes)
			}
			fragPayload := frameBytes[start:end]

			var flags uint8
			if isKeyframe {
				flags |= wire.FlagKeyframe
			}
			if i == count-1 {
				flags |= wire.FlagEndOfFrame
			}
			hdr := wire.FrameHeader{
				Flags:          flags,
				StreamID:       cs.stream.StreamID,
				SequenceNumber: seq,
				Timestamp:      uint64(time.Now().UnixNano()),
				FrameNumber:    frameNumber,
				FragmentIndex:  i,
				FragmentCount:  count,
				PayloadLength:  uint32(len(fragPayload)),
				FrameByteCount: uint32(len(frameBytes)),
				Checksum:       wire.Checksum(fragPayload),
				ContentRect:    wire.ContentRect{X: 0, Y: 0, Width: float32(cs.width), Height: float32(cs.height)},
				DimensionToken: dimensionToken,
				Epoch:          cs.stream.Epoch(),
			}
			sealed := cs.msc.Cipher().Seal(mediacrypto.NonceFields{
				Direction:     mediacrypto.DirectionHostToClient,
				MediaKind:     mediacrypto.MediaKindVideo,
				Epoch:         uint8(hdr.Epoch),
				StreamID:      hdr.StreamID,
				SequenceNum:   hdr.SequenceNumber,
				FragmentIndex: hdr.FragmentIndex,
			}, fragPayload)

			datagram := make([]byte, 1+wire.FrameHeaderSize+len(sealed))
			datagram[0] = wire.MediaKindVideo
			hdr.MarshalTo(datagram[1 : 1+wire.FrameHeaderSize])
			copy(datagram[1+wire.FrameHeaderSize:], sealed)

			if _, err := h.dataConn.WriteTo(datagram, addr); err != nil {
				h.log.Warn("media send failed", "error", err)
			}
			seq++
		}
		queue.Sent(len(frameBytes))
		h.metrics.SetQueuedBytes(streamIDLabel(cs.stream.StreamID), queue.QueuedBytes())
		frameNumber++
	}
}

func (h *hostService) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cs := range h.sessions {
		cs.msc.Zeroize()
	}
}

func streamIDLabel(streamID uint16) string {
	return hex.EncodeToString([]byte{byte(streamID >> 8), byte(streamID)})
}
