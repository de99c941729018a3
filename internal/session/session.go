// Package session orchestrates the handshake (spec §4.4/§11), owning the
// MediaSessionContext (the derived media key and UDP registration token) and
// the replay-protection nonce cache, tying internal/control,
// internal/identity, and internal/mediacrypto together the way the teacher's
// internal/rtmp/server.Server owns a connection's lifecycle state.
package session

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/miragekit/core/internal/control"
	"github.com/miragekit/core/internal/identity"
	"github.com/miragekit/core/internal/mediacrypto"
)

// NonceWindow (T) bounds handshake timestamp skew and the nonce cache
// lifetime (2T), per spec §4.2.
const NonceWindow = 60 * time.Second

// MediaSessionContext holds the derived media session key, the UDP
// registration token, and the AEAD ciphers built from the key. It is created
// at hello acceptance and destroyed on disconnect (zeroized).
type MediaSessionContext struct {
	SessionKey           []byte
	UDPRegistrationToken []byte

	cipher *mediacrypto.Cipher
}

// NewMediaSessionContext builds the AEAD cipher from an already-derived
// session key and wraps the registration token.
func NewMediaSessionContext(sessionKey, udpToken []byte) (*MediaSessionContext, error) {
	c, err := mediacrypto.NewCipher(sessionKey)
	if err != nil {
		return nil, err
	}
	return &MediaSessionContext{SessionKey: sessionKey, UDPRegistrationToken: udpToken, cipher: c}, nil
}

// Cipher returns the AEAD cipher built from SessionKey.
func (m *MediaSessionContext) Cipher() *mediacrypto.Cipher { return m.cipher }

// VerifyRegistrationToken performs a constant-time comparison against the
// session's registration token (spec §4.3: "constant-time equality is used
// for any registration token comparison").
func (m *MediaSessionContext) VerifyRegistrationToken(candidate []byte) bool {
	if len(candidate) != len(m.UDPRegistrationToken) {
		return false
	}
	return subtle.ConstantTimeCompare(candidate, m.UDPRegistrationToken) == 1
}

// Zeroize overwrites the session key and token in place on disconnect.
func (m *MediaSessionContext) Zeroize() {
	for i := range m.SessionKey {
		m.SessionKey[i] = 0
	}
	for i := range m.UDPRegistrationToken {
		m.UDPRegistrationToken[i] = 0
	}
}

// NonceCache tracks recently-seen handshake nonces to reject replay within
// 2T of first observation (spec §4.2).
type NonceCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewNonceCache returns an empty cache.
func NewNonceCache() *NonceCache {
	return &NonceCache{seen: make(map[string]time.Time)}
}

// CheckAndRemember reports whether nonce is fresh (not seen within the
// cache's retention window) and records it. A false return means the caller
// MUST reject the handshake as a replay.
func (c *NonceCache) CheckAndRemember(nonce string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(now)
	if _, ok := c.seen[nonce]; ok {
		return false
	}
	c.seen[nonce] = now
	return true
}

func (c *NonceCache) evictLocked(now time.Time) {
	cutoff := now.Add(-2 * NonceWindow)
	for n, t := range c.seen {
		if t.Before(cutoff) {
			delete(c.seen, n)
		}
	}
}

// HostVerifier builds a control.HelloVerifier backed by cache, applying the
// nonce replay check ahead of whatever authorization decision authorize
// makes. The timestamp window is checked by control's server handshake
// before the verifier runs, not here.
func HostVerifier(cache *NonceCache, authorize func(hello *control.HelloV2) (accept bool, reasonCode string, requiresAuth bool)) control.HelloVerifier {
	return func(hello *control.HelloV2) (bool, string, bool, error) {
		if !cache.CheckAndRemember(hello.Nonce, time.Now()) {
			return false, "nonceReplay", false, nil
		}
		accept, reasonCode, requiresAuth := authorize(hello)
		return accept, reasonCode, requiresAuth, nil
	}
}

// DeriveSessionKeyFromHandshake computes the 32-byte media session key both
// sides must agree on, per spec §4.2: salt binds both identities/keyIDs/
// nonces and a fixed type discriminant; the shared secret comes from ECDH
// over the long-term identity keypairs.
func DeriveSessionKeyFromHandshake(local *identity.Identity, peerPublicKey []byte, in identity.SessionKeyInputs) ([]byte, error) {
	shared, err := local.ECDH(peerPublicKey)
	if err != nil {
		return nil, err
	}
	salt := identity.DerivationSalt(in)
	return identity.DeriveSessionKey(shared, salt)
}

// CanonicalHelloFieldsForDerivation extracts the SessionKeyInputs from a
// completed client/host handshake pair. Kept here rather than in
// internal/identity or internal/control so neither package needs to know
// about the other's types.
func CanonicalHelloFieldsForDerivation(hello *control.HelloV2, resp *control.HelloResponseV2) identity.SessionKeyInputs {
	return identity.SessionKeyInputs{
		ClientID:    hello.DeviceID,
		ClientKeyID: hello.KeyID,
		ClientNonce: hello.Nonce,
		HostID:      resp.HostID,
		HostKeyID:   resp.HostKeyID,
		HostNonce:   resp.HostNonce,
	}
}
