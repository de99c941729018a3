package control

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	mirageerrors "github.com/miragekit/core/internal/errors"
	"github.com/miragekit/core/internal/identity"
)

// HelloFreshnessWindow bounds how far a Hello's timestamp may drift from the
// host's clock before it is rejected as stale, ahead of any replay-cache
// lookup performed by the caller's verify callback (spec §4.4/§7: nonce
// replay window is ±60s).
const HelloFreshnessWindow = 60 * time.Second

// UDPTokenSize is the length of the registration token minted on acceptance.
const UDPTokenSize = 32

// HelloVerifier is invoked by ServerHandshake after signature and freshness
// checks pass, so the caller (internal/session) can apply replay-cache and
// authorization policy without this package depending on session state.
type HelloVerifier func(hello *HelloV2) (accept bool, reasonCode string, requiresAuth bool, err error)

// ServerHandshakeResult carries the accepted Hello, the signed response the
// host sent back, and the minted UDP registration token. The caller needs
// Response (not just Hello) to reproduce the exact HostNonce/HostKeyID the
// session-key derivation salt binds (spec §4.2) — deriving from freshly
// regenerated values would disagree with what the client derives from the
// response it actually received.
type ServerHandshakeResult struct {
	Hello    *HelloV2
	Response *HelloResponseV2
	UDPToken []byte
}

// ServerHandshake runs the host side of the HelloV2 exchange: read and
// authenticate a Hello within HandshakeTimeout, apply verify, and send a
// signed response. Duplicate or out-of-order handshakes are rejected by
// verify reporting accept=false; a stale or badly signed Hello is rejected
// here before verify is ever called.
func ServerHandshake(conn *Conn, id *identity.Identity, hostID string, verify HelloVerifier) (*ServerHandshakeResult, error) {
	deadline := time.Now().Add(HandshakeTimeout)
	env, err := conn.ReadEnvelope(deadline)
	if err != nil {
		if mirageerrors.IsTimeout(err) {
			return nil, mirageerrors.NewTimeoutError("control.handshake.awaitHello", HandshakeTimeout, err)
		}
		return nil, err
	}
	if MessageType(env.Type) != TypeHello {
		return nil, mirageerrors.NewProtocolError("control.handshake", fmt.Errorf("expected hello, got %s", MessageType(env.Type)))
	}

	hello := &HelloV2{}
	if err := DecodePayload(env, hello); err != nil {
		return nil, mirageerrors.NewProtocolError("control.handshake.decodeHello", err)
	}

	if err := hello.Verify(); err != nil {
		respondRejected(conn, id, hostID, hello.Nonce, "badSignature")
		return nil, mirageerrors.NewAuthenticationError("control.handshake.verifyHello", err)
	}

	skew := time.Since(time.UnixMilli(hello.TimestampMs))
	if skew < 0 {
		skew = -skew
	}
	if skew > HelloFreshnessWindow {
		respondRejected(conn, id, hostID, hello.Nonce, "staleTimestamp")
		return nil, mirageerrors.NewAuthenticationError("control.handshake", fmt.Errorf("hello timestamp skew %s exceeds window", skew))
	}

	accept, reasonCode, requiresAuth, err := verify(hello)
	if err != nil {
		return nil, fmt.Errorf("control: handshake verify: %w", err)
	}
	if !accept {
		respondRejected(conn, id, hostID, hello.Nonce, reasonCode)
		return nil, mirageerrors.NewAuthenticationError("control.handshake", fmt.Errorf("handshake rejected: %s", reasonCode))
	}

	token := make([]byte, UDPTokenSize)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("control: generate udp token: %w", err)
	}
	hostNonce := make([]byte, 16)
	if _, err := rand.Read(hostNonce); err != nil {
		return nil, fmt.Errorf("control: generate host nonce: %w", err)
	}

	resp := &HelloResponseV2{
		Accepted:             true,
		RequiresAuth:         requiresAuth,
		RequestNonce:         hello.Nonce,
		HostID:               hostID,
		HostKeyID:            id.KeyID(),
		HostPublicKey:        id.PublicKeyBytes(),
		HostTimestampMs:      time.Now().UnixMilli(),
		HostNonce:            hex.EncodeToString(hostNonce),
		UDPRegistrationToken: token,
	}
	if err := resp.Sign(id); err != nil {
		return nil, err
	}
	if err := conn.Send(TypeHelloResponse, resp); err != nil {
		return nil, err
	}

	return &ServerHandshakeResult{Hello: hello, Response: resp, UDPToken: token}, nil
}

// respondRejected best-efforts a signed rejection response; send failures are
// ignored since the connection is being torn down regardless.
func respondRejected(conn *Conn, id *identity.Identity, hostID, requestNonce, reasonCode string) {
	resp := &HelloResponseV2{
		Accepted:        false,
		ReasonCode:      reasonCode,
		RequestNonce:    requestNonce,
		HostID:          hostID,
		HostKeyID:       id.KeyID(),
		HostPublicKey:   id.PublicKeyBytes(),
		HostTimestampMs: time.Now().UnixMilli(),
		HostNonce:       hex.EncodeToString(make([]byte, 16)),
	}
	if err := resp.Sign(id); err != nil {
		return
	}
	_ = conn.Send(TypeHelloResponse, resp)
}
