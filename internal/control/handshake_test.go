package control

import (
	"net"
	"testing"
	"time"

	"github.com/miragekit/core/internal/identity"
)

func TestHandshakeAcceptsAndDerivesCorrelatedResponse(t *testing.T) {
	clientConnRaw, hostConnRaw := net.Pipe()
	defer clientConnRaw.Close()
	defer hostConnRaw.Close()

	clientID, _ := identity.Generate()
	hostID, _ := identity.Generate()

	clientConn := NewConn(clientConnRaw)
	hostConn := NewConn(hostConnRaw)

	done := make(chan *ServerHandshakeResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := ServerHandshake(hostConn, hostID, "host-1", func(hello *HelloV2) (bool, string, bool, error) {
			return true, "", false, nil
		})
		if err != nil {
			errCh <- err
			return
		}
		done <- res
	}()

	res, err := ClientHandshake(clientConn, clientID, "device-1", "Test Device", "mac", 2,
		map[string]any{"maxFrameRate": 120.0}, map[string]any{"preferredCodec": "hevc"})
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if !res.Response.Accepted {
		t.Fatalf("expected acceptance")
	}
	if len(res.ClientNonce) != 16 {
		t.Fatalf("expected 16-byte client nonce, got %d", len(res.ClientNonce))
	}

	select {
	case srvRes := <-done:
		if srvRes.Hello.DeviceID != "device-1" {
			t.Fatalf("unexpected device id on host side: %q", srvRes.Hello.DeviceID)
		}
		if len(srvRes.UDPToken) != UDPTokenSize {
			t.Fatalf("expected %d-byte udp token, got %d", UDPTokenSize, len(srvRes.UDPToken))
		}
	case err := <-errCh:
		t.Fatalf("server handshake: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for server handshake result")
	}
}

func TestHandshakeRejectionSurfacesReasonCode(t *testing.T) {
	clientConnRaw, hostConnRaw := net.Pipe()
	defer clientConnRaw.Close()
	defer hostConnRaw.Close()

	clientID, _ := identity.Generate()
	hostID, _ := identity.Generate()

	clientConn := NewConn(clientConnRaw)
	hostConn := NewConn(hostConnRaw)

	go func() {
		_, _ = ServerHandshake(hostConn, hostID, "host-1", func(hello *HelloV2) (bool, string, bool, error) {
			return false, "deviceNotAuthorized", false, nil
		})
	}()

	_, err := ClientHandshake(clientConn, clientID, "device-1", "Test Device", "mac", 2,
		map[string]any{}, map[string]any{})
	if err == nil {
		t.Fatalf("expected rejected handshake to surface as an error")
	}
}
