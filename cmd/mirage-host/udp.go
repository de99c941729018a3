package main

import (
	"encoding/hex"
	"net"

	"github.com/miragekit/core/internal/session"
)

// receiveUDP demuxes the host's single data-port listener: the only
// inbound datagrams a host expects are UDP registration tokens (spec §6)
// proving a client's endpoint is authorized to receive media. A real
// bidirectional deployment would also demux client→host audio/input
// datagrams here; this module's Non-goals exclude audio encode internals
// and the host never needs anything else from that socket.
func (h *hostService) receiveUDP() {
	buf := make([]byte, 2048)
	for {
		n, addr, err := h.dataConn.ReadFrom(buf)
		if err != nil {
			return
		}
		h.handleRegistration(buf[:n], addr)
	}
}

func (h *hostService) handleRegistration(datagram []byte, addr net.Addr) {
	kind, deviceID, token, err := session.ParseRegistration(datagram)
	if err != nil {
		h.log.Debug("dropping unrecognized udp datagram", "peer", addr.String())
		return
	}

	switch kind {
	case session.RegistrationToken:
		h.mu.Lock()
		cs, ok := h.sessions[hex.EncodeToString(token)]
		h.mu.Unlock()
		if !ok || !cs.msc.VerifyRegistrationToken(token) {
			h.log.Debug("udp registration token not recognized", "peer", addr.String())
			return
		}
		cs.setAddr(addr)
		h.log.Info("client registered for media", "peer", addr.String(), "stream_id", cs.stream.StreamID)
	case session.RegistrationDeviceID:
		// The magic+deviceID fallback form names a device rather than a
		// session token; without a session bound to the same addr yet,
		// there is nothing to register it against. A host advertising
		// service discovery metadata (spec §6 Bonjour TXT record) would
		// use deviceID here to pre-authorize a UDP endpoint ahead of the
		// control handshake completing; this module always completes
		// the handshake first, so deviceID-only registration is logged
		// and otherwise ignored.
		h.log.Debug("received device-id registration", "device_id", hex.EncodeToString(deviceID), "peer", addr.String())
	}
}
