package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/miragekit/core/internal/clientstream"
	"github.com/miragekit/core/internal/control"
	"github.com/miragekit/core/internal/mediacrypto"
	"github.com/miragekit/core/internal/reassembler"
	"github.com/miragekit/core/internal/session"
	"github.com/miragekit/core/internal/wire"
)

// clientSession is the live state of one connection to a host: the control
// channel, the connected media socket, and the lazily-created per-stream
// reassembler/controller pair (a client only ever carries one active video
// stream per connection, unlike the host's map-of-sessions).
type clientSession struct {
	conn     *control.Conn
	dataConn net.Conn
	msc      *session.MediaSessionContext
	log      *slog.Logger

	mu         sync.Mutex
	streamID   uint16
	haveStream bool
	reasm      *reassembler.Reassembler
	controller *clientstream.StreamController
	resize     *clientstream.ResizePipeline
}

func newClientSession(conn *control.Conn, dataConn net.Conn, msc *session.MediaSessionContext, log *slog.Logger) *clientSession {
	return &clientSession{
		conn:     conn,
		dataConn: dataConn,
		msc:      msc,
		log:      log,
		resize:   clientstream.NewResizePipeline(),
	}
}

// ensureStream lazily creates the reassembler and recovery controller the
// first time a frame header names a stream ID, since the client learns its
// stream assignment from the media path rather than from the handshake.
func (cl *clientSession) ensureStream(streamID uint16) *reassembler.Reassembler {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.haveStream && cl.streamID == streamID {
		return cl.reasm
	}
	cl.streamID = streamID
	cl.haveStream = true
	cl.controller = clientstream.NewStreamController(streamID, reassembler.DefaultKeyframeTimeout, cl.requestKeyframe)
	cl.reasm = reassembler.New(streamID, reassembler.DefaultKeyframeTimeout, true, cl.deliverFrame)
	return cl.reasm
}

// deliverFrame is the reassembler's DeliverFunc: a stand-in for handing the
// completed frame to a decoder/renderer (out of this module's scope). It
// marks the controller's liveness and logs the delivery so drops/recoveries
// are observable without a real display pipeline.
func (cl *clientSession) deliverFrame(streamID uint16, frameBytes []byte, isKeyframe bool, timestamp uint64, rect wire.ContentRect) {
	cl.mu.Lock()
	controller := cl.controller
	cl.mu.Unlock()
	if controller != nil {
		controller.OnFrameDelivered()
	}
	cl.log.Debug("frame delivered", "stream_id", streamID, "bytes", len(frameBytes), "keyframe", isKeyframe, "timestamp", timestamp)
}

// requestKeyframe sends a StreamEncoderSettingsChange carrying only
// RequestKeyframe=true back over the control channel (spec §4.6/§4.7's
// recovery loop has no dedicated wire message of its own).
func (cl *clientSession) requestKeyframe(streamID uint16) {
	msg := control.StreamEncoderSettingsChange{StreamID: streamID, RequestKeyframe: true}
	if err := cl.conn.Send(control.TypeStreamEncoderSettingsChange, msg); err != nil {
		cl.log.Warn("failed to send keyframe recovery request", "error", err)
	}
}

// receiveLoop demuxes the connected UDP media socket: each datagram is
// [1 media-kind byte][56-byte FrameHeader][sealed payload]. Audio datagrams
// are outside this module's scope and are dropped after the leading byte is
// inspected.
func (cl *clientSession) receiveLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		cl.dataConn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, err := cl.dataConn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cl.log.Warn("media socket read failed", "error", err)
			return
		}
		cl.handleDatagram(buf[:n])
	}
}

func (cl *clientSession) handleDatagram(datagram []byte) {
	if len(datagram) < 1+wire.FrameHeaderSize {
		return
	}
	kind := datagram[0]
	if kind != wire.MediaKindVideo {
		cl.log.Debug("dropping non-video media datagram", "kind", kind)
		return
	}

	hdr, err := wire.ParseFrameHeader(datagram[1 : 1+wire.FrameHeaderSize])
	if err != nil {
		cl.log.Debug("dropping unparseable frame header", "error", err)
		return
	}
	sealed := datagram[1+wire.FrameHeaderSize:]

	plaintext, err := cl.msc.Cipher().Open(mediacrypto.NonceFields{
		Direction:     mediacrypto.DirectionHostToClient,
		MediaKind:     mediacrypto.MediaKindVideo,
		Epoch:         uint8(hdr.Epoch),
		StreamID:      hdr.StreamID,
		SequenceNum:   hdr.SequenceNumber,
		FragmentIndex: hdr.FragmentIndex,
	}, sealed)
	if err != nil {
		// spec §4.3/§7: AEAD open failures are silent drops, never bubbled.
		return
	}

	reasm := cl.ensureStream(hdr.StreamID)
	if reason := reasm.ProcessPacket(hdr, plaintext); reason != reassembler.DropNone {
		cl.log.Debug("dropped fragment", "reason", reason, "stream_id", hdr.StreamID)
	}
}

// recoveryLoop polls the stream controller once a second for the
// input-blocking recovery condition (spec §4.7): while the controller's
// input is blocked, it asks for a keyframe at most once per keyframe
// timeout. This loop does not itself block input; that happens only where
// BlockInput is called.
func (cl *clientSession) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cl.mu.Lock()
			controller := cl.controller
			cl.mu.Unlock()
			if controller == nil {
				continue
			}
			if controller.MaybeRequestRecoveryKeyframe(now) {
				cl.log.Info("requested keyframe recovery", "blocked_input", controller.InputBlocked())
			}
		}
	}
}

// controlReadLoop dispatches inbound control-channel messages: pong replies
// to this client's own pings aren't tracked here (neither binary runs a
// background ping sender, and PongTimeout is not enforced on either side;
// inbound pings are answered with a pong), window lists, and session
// state updates are logged for now since this module has no window picker UI.
func (cl *clientSession) controlReadLoop(ctx context.Context) error {
	registry := control.NewRegistry()
	registry.Register(control.TypePing, func(raw json.RawMessage) error {
		return cl.conn.Send(control.TypePong, control.Pong{})
	})
	registry.Register(control.TypeWindowList, func(raw json.RawMessage) error {
		var wl control.WindowList
		if err := json.Unmarshal(raw, &wl); err != nil {
			return err
		}
		cl.log.Info("received window list", "count", len(wl.Windows))
		return nil
	})
	registry.Register(control.TypeSessionStateUpdate, func(raw json.RawMessage) error {
		var upd control.SessionStateUpdate
		if err := json.Unmarshal(raw, &upd); err != nil {
			return err
		}
		cl.log.Info("session state update", "state", upd)
		return nil
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		env, err := cl.conn.ReadEnvelope(time.Now().Add(control.PingInterval * 3))
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}
		if err := registry.Dispatch(control.MessageType(env.Type), env.Payload); err != nil {
			if control.IsUnknownType(err) {
				cl.log.Debug("skipping unrecognized control message", "type", control.MessageType(env.Type))
				continue
			}
			cl.log.Warn("control dispatch failed", "error", err)
		}
	}
}
