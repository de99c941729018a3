// Package identity implements MirageKit's long-lived device identity (spec
// §4.2): a P-256 ECDSA signing keypair, its derived keyID, canonical-payload
// signing/verification, and the ECDH+HKDF session key derivation used to
// agree on a MediaSessionContext key during the handshake.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"

	mirageerrors "github.com/miragekit/core/internal/errors"
)

// Identity holds a device's long-lived P-256 signing keypair.
type Identity struct {
	priv *ecdsa.PrivateKey
}

// Generate creates a new random P-256 identity.
func Generate() (*Identity, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return &Identity{priv: priv}, nil
}

// FromPrivateKey wraps an existing P-256 private key (e.g. loaded from
// platform Keychain storage, which is out of this module's scope).
func FromPrivateKey(priv *ecdsa.PrivateKey) (*Identity, error) {
	if priv == nil || priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("identity: private key must be non-nil P-256")
	}
	return &Identity{priv: priv}, nil
}

// PublicKeyBytes returns the uncompressed SEC1 public key encoding.
func (id *Identity) PublicKeyBytes() []byte {
	return elliptic.Marshal(elliptic.P256(), id.priv.PublicKey.X, id.priv.PublicKey.Y)
}

// KeyID is the lowercase hex SHA-256 of the raw public key bytes.
func (id *Identity) KeyID() string {
	return KeyIDFromPublicKey(id.PublicKeyBytes())
}

// KeyIDFromPublicKey computes the keyID for an arbitrary public key's
// uncompressed SEC1 bytes, used to verify a peer's claimed keyID.
func KeyIDFromPublicKey(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// Sign produces a DER-encoded ECDSA signature over payload (typically the
// output of canon.CanonicalPayload).
func (id *Identity) Sign(payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	sig, err := ecdsa.SignASN1(rand.Reader, id.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("identity: sign: %w", err)
	}
	return sig, nil
}

// Verify checks a DER-encoded ECDSA signature over payload against a peer's
// raw uncompressed public key bytes.
func Verify(pubBytes, payload, sig []byte) error {
	x, y := elliptic.Unmarshal(elliptic.P256(), pubBytes)
	if x == nil {
		return mirageerrors.NewAuthenticationError("verify.unmarshal_key", fmt.Errorf("invalid public key encoding"))
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	digest := sha256.Sum256(payload)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return mirageerrors.NewAuthenticationError("verify.signature", fmt.Errorf("signature mismatch"))
	}
	return nil
}

// ParsePKIXPublicKey is a convenience wrapper for identities whose public key
// arrives PKIX-encoded rather than as raw SEC1 bytes (e.g. from an external
// trust store). It returns the raw uncompressed SEC1 bytes MirageKit uses on
// the wire.
func ParsePKIXPublicKey(der []byte) ([]byte, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("identity: parse PKIX key: %w", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok || ecPub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("identity: PKIX key is not P-256 ECDSA")
	}
	return elliptic.Marshal(elliptic.P256(), ecPub.X, ecPub.Y), nil
}
