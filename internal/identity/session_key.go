package identity

import (
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/miragekit/core/internal/canon"
)

// SessionKeyInputs carries the fields both sides hash into the derivation
// salt (spec §4.2).
type SessionKeyInputs struct {
	ClientID      string
	ClientKeyID   string
	ClientNonce   string // hex-encoded 128-bit nonce
	HostID        string
	HostKeyID     string
	HostNonce     string
}

const mediaSessionInfo = "mirage-media-session-v1"

// DerivationSalt computes Salt = SHA-256(canonical{...,type="media-key-derivation-v1"}).
func DerivationSalt(in SessionKeyInputs) []byte {
	payload := canon.CanonicalPayload(canon.Fields{
		"clientID":    in.ClientID,
		"clientKeyID": in.ClientKeyID,
		"clientNonce": in.ClientNonce,
		"hostID":      in.HostID,
		"hostKeyID":   in.HostKeyID,
		"hostNonce":   in.HostNonce,
		"type":        "media-key-derivation-v1",
	})
	sum := sha256.Sum256(payload)
	return sum[:]
}

// ECDH computes the raw shared secret between id's long-lived P-256 key and
// a peer's uncompressed SEC1 public key bytes. MirageKit reuses the identity
// signing keypair for key agreement — HelloV2 carries a single publicKey
// field, not a separate ephemeral ECDH key.
func (id *Identity) ECDH(peerPubBytes []byte) ([]byte, error) {
	curve := ecdh.P256()
	privBytes := make([]byte, 32)
	id.priv.D.FillBytes(privBytes)
	priv, err := curve.NewPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("identity: load ECDH private key: %w", err)
	}
	peerPub, err := curve.NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, fmt.Errorf("identity: load peer ECDH public key: %w", err)
	}
	shared, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("identity: ECDH: %w", err)
	}
	return shared, nil
}

// DeriveSessionKey computes the 32-byte MediaSessionContext key:
// HKDF-SHA256(sharedSecret, salt, info="mirage-media-session-v1", L=32).
func DeriveSessionKey(sharedSecret, salt []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, sharedSecret, salt, []byte(mediaSessionInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("identity: HKDF expand: %w", err)
	}
	return key, nil
}
