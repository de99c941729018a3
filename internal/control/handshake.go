package control

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	mirageerrors "github.com/miragekit/core/internal/errors"
	"github.com/miragekit/core/internal/identity"
)

// HandshakeTimeout bounds both sides of the HelloV2 exchange (spec §4.4: the
// client fails the handshake if no response arrives within this window).
const HandshakeTimeout = 5 * time.Second

// ClientHandshakeResult carries everything the caller needs to stand up a
// MediaSessionContext after a successful handshake.
type ClientHandshakeResult struct {
	Response    *HelloResponseV2
	ClientNonce []byte
}

// ClientHandshake runs the client side of the HelloV2 state machine: build
// and sign a Hello, send it, and wait for a signed HelloResponse within
// HandshakeTimeout. It implements the start -> awaitResponse -> ready/failed
// transitions described in spec §4.4; failed(reasonCode) and failed(timeout)
// are distinguished by the returned error's classification.
func ClientHandshake(conn *Conn, id *identity.Identity, deviceID, deviceName, deviceType string, protocolVersion int, capabilities, negotiation map[string]any) (*ClientHandshakeResult, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("control: generate client nonce: %w", err)
	}

	hello := &HelloV2{
		DeviceID:        deviceID,
		DeviceName:      deviceName,
		DeviceType:      deviceType,
		ProtocolVersion: protocolVersion,
		Capabilities:    capabilities,
		Negotiation:     negotiation,
		KeyID:           id.KeyID(),
		PublicKey:       id.PublicKeyBytes(),
		TimestampMs:     time.Now().UnixMilli(),
		Nonce:           hex.EncodeToString(nonce),
	}
	if err := hello.Sign(id); err != nil {
		return nil, err
	}
	if err := conn.Send(TypeHello, hello); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(HandshakeTimeout)
	env, err := conn.ReadEnvelope(deadline)
	if err != nil {
		if mirageerrors.IsTimeout(err) {
			return nil, mirageerrors.NewTimeoutError("control.handshake.awaitResponse", HandshakeTimeout, err)
		}
		return nil, err
	}
	if MessageType(env.Type) != TypeHelloResponse {
		return nil, mirageerrors.NewProtocolError("control.handshake", fmt.Errorf("expected helloResponse, got %s", MessageType(env.Type)))
	}

	resp := &HelloResponseV2{}
	if err := DecodePayload(env, resp); err != nil {
		return nil, mirageerrors.NewProtocolError("control.handshake.decodeResponse", err)
	}
	if resp.RequestNonce != hello.Nonce {
		return nil, mirageerrors.NewProtocolError("control.handshake", fmt.Errorf("response nonce does not correlate to request"))
	}
	if err := resp.Verify(); err != nil {
		return nil, mirageerrors.NewAuthenticationError("control.handshake.verifyResponse", err)
	}
	if !resp.Accepted {
		return nil, mirageerrors.NewAuthenticationError("control.handshake", fmt.Errorf("host rejected handshake: %s", resp.ReasonCode))
	}

	return &ClientHandshakeResult{Response: resp, ClientNonce: nonce}, nil
}
