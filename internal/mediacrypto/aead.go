// Package mediacrypto implements MirageKit's per-packet media AEAD (spec
// §4.3): ChaCha20-Poly1305 with a deterministic 12-byte nonce built from
// wire header fields, so nonces never repeat within a (direction, media
// kind, epoch, stream) tuple without the sender ever persisting nonce state.
package mediacrypto

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Direction values for nonce byte 1.
const (
	DirectionHostToClient uint8 = 1
	DirectionClientToHost uint8 = 2
)

// Media kind values for nonce byte 2 (mirrors wire.MediaKindVideo/Audio).
const (
	MediaKindVideo uint8 = 1
	MediaKindAudio uint8 = 2
)

const nonceVersion uint8 = 1

// TagSize is the ChaCha20-Poly1305 authentication tag length.
const TagSize = chacha20poly1305.Overhead

// NonceFields are the wire header fields the nonce is deterministically
// built from (spec §4.3). AAD is always empty — the header travels in the
// clear and these same fields already make the nonce unique per packet.
type NonceFields struct {
	Direction     uint8
	MediaKind     uint8
	Epoch         uint8 // low byte of the video epoch; 0 for audio
	StreamID      uint16
	SequenceNum   uint32
	FragmentIndex uint16
}

// BuildNonce constructs the 12-byte deterministic nonce.
func BuildNonce(f NonceFields) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	n[0] = nonceVersion
	n[1] = f.Direction
	n[2] = f.MediaKind
	n[3] = f.Epoch
	binary.LittleEndian.PutUint16(n[4:6], f.StreamID)
	binary.LittleEndian.PutUint32(n[6:10], f.SequenceNum)
	binary.LittleEndian.PutUint16(n[10:12], f.FragmentIndex)
	return n
}

// Cipher wraps a 32-byte media session key for per-packet seal/open.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte MediaSessionContext key.
func NewCipher(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("mediacrypto: new AEAD: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext, returning ciphertext||tag. AAD is always empty
// per spec §4.3.
func (c *Cipher) Seal(f NonceFields, plaintext []byte) []byte {
	nonce := BuildNonce(f)
	return c.aead.Seal(nil, nonce[:], plaintext, nil)
}

// Open decrypts wire (ciphertext||tag), returning the plaintext. It fails
// cleanly — returning an error rather than panicking — on truncation (<16
// bytes), a wrong tag, or a malformed nonce. Per spec §4.3 and §7, callers on
// the media path MUST treat any Open failure as a silent drop plus a
// decryptFailed counter bump, never as a bubbled error.
func (c *Cipher) Open(f NonceFields, wire []byte) ([]byte, error) {
	if len(wire) < TagSize {
		return nil, fmt.Errorf("mediacrypto: truncated packet: %d bytes < tag size %d", len(wire), TagSize)
	}
	nonce := BuildNonce(f)
	plaintext, err := c.aead.Open(nil, nonce[:], wire, nil)
	if err != nil {
		return nil, fmt.Errorf("mediacrypto: open failed: %w", err)
	}
	return plaintext, nil
}
