package control

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/miragekit/core/internal/canon"
	"github.com/miragekit/core/internal/identity"
)

// HelloV2 is the client's signed handshake opener (spec §4.4). PublicKey and
// the computed signature travel as base64 strings on the wire via
// encoding/json's default []byte handling.
type HelloV2 struct {
	DeviceID        string         `json:"deviceID"`
	DeviceName      string         `json:"deviceName"`
	DeviceType      string         `json:"deviceType"`
	ProtocolVersion int            `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	Negotiation     map[string]any `json:"negotiation"`
	ICloudUserID    string         `json:"iCloudUserID,omitempty"`
	KeyID           string         `json:"keyID"`
	PublicKey       []byte         `json:"publicKey"`
	TimestampMs     int64          `json:"timestampMs"`
	Nonce           string         `json:"nonce"` // hex-encoded 128-bit value
	Signature       []byte         `json:"signature"`
}

// canonicalFields builds the (fieldName, stringValue) set the signature is
// computed over, excluding the signature field itself.
func (h *HelloV2) canonicalFields() (canon.Fields, error) {
	capsB64, err := canon.EncodeEmbedded(h.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("control: encode capabilities: %w", err)
	}
	negB64, err := canon.EncodeEmbedded(h.Negotiation)
	if err != nil {
		return nil, fmt.Errorf("control: encode negotiation: %w", err)
	}
	f := canon.Fields{
		"deviceID":        h.DeviceID,
		"deviceName":      h.DeviceName,
		"deviceType":      h.DeviceType,
		"protocolVersion": strconv.Itoa(h.ProtocolVersion),
		"capabilities":    capsB64,
		"negotiation":     negB64,
		"keyID":           h.KeyID,
		"publicKey":       base64.StdEncoding.EncodeToString(h.PublicKey),
		"timestampMs":     strconv.FormatInt(h.TimestampMs, 10),
		"nonce":           h.Nonce,
	}
	if h.ICloudUserID != "" {
		f["iCloudUserID"] = h.ICloudUserID
	}
	return f, nil
}

// Sign computes and stores h's DER-encoded ECDSA signature using id.
func (h *HelloV2) Sign(id *identity.Identity) error {
	f, err := h.canonicalFields()
	if err != nil {
		return err
	}
	sig, err := id.Sign(canon.CanonicalPayload(f))
	if err != nil {
		return fmt.Errorf("control: sign hello: %w", err)
	}
	h.Signature = sig
	return nil
}

// Verify checks h.Signature against h.PublicKey and h.KeyID's consistency.
func (h *HelloV2) Verify() error {
	if identity.KeyIDFromPublicKey(h.PublicKey) != h.KeyID {
		return fmt.Errorf("control: keyID does not match publicKey")
	}
	f, err := h.canonicalFields()
	if err != nil {
		return err
	}
	return identity.Verify(h.PublicKey, canon.CanonicalPayload(f), h.Signature)
}

// NonceBytes decodes the hex-encoded nonce.
func (h *HelloV2) NonceBytes() ([]byte, error) { return hex.DecodeString(h.Nonce) }

// HelloResponseV2 is the host's signed response. On acceptance it carries the
// host's identity fields (for the client to derive the session key) and the
// UDP registration token, itself inside the signed envelope.
type HelloResponseV2 struct {
	Accepted             bool   `json:"accepted"`
	ReasonCode           string `json:"reasonCode,omitempty"`
	RequiresAuth         bool   `json:"requiresAuth"`
	RequestNonce         string `json:"requestNonce"` // echoes HelloV2.Nonce
	HostID               string `json:"hostID"`
	HostKeyID            string `json:"keyID"`
	HostPublicKey        []byte `json:"publicKey"`
	HostTimestampMs      int64  `json:"timestampMs"`
	HostNonce            string `json:"nonce"`
	UDPRegistrationToken []byte `json:"udpRegistrationToken,omitempty"`
	Signature            []byte `json:"signature"`
}

func (r *HelloResponseV2) canonicalFields() canon.Fields {
	f := canon.Fields{
		"accepted":        strconv.FormatBool(r.Accepted),
		"requiresAuth":    strconv.FormatBool(r.RequiresAuth),
		"requestNonce":    r.RequestNonce,
		"hostID":          r.HostID,
		"keyID":           r.HostKeyID,
		"publicKey":       base64.StdEncoding.EncodeToString(r.HostPublicKey),
		"timestampMs":     strconv.FormatInt(r.HostTimestampMs, 10),
		"nonce":           r.HostNonce,
	}
	if r.ReasonCode != "" {
		f["reasonCode"] = r.ReasonCode
	}
	if len(r.UDPRegistrationToken) > 0 {
		f["udpRegistrationToken"] = base64.StdEncoding.EncodeToString(r.UDPRegistrationToken)
	}
	return f
}

// Sign computes and stores r's DER-encoded ECDSA signature using id.
func (r *HelloResponseV2) Sign(id *identity.Identity) error {
	sig, err := id.Sign(canon.CanonicalPayload(r.canonicalFields()))
	if err != nil {
		return fmt.Errorf("control: sign hello response: %w", err)
	}
	r.Signature = sig
	return nil
}

// Verify checks r.Signature against r.HostPublicKey and keyID consistency.
func (r *HelloResponseV2) Verify() error {
	if identity.KeyIDFromPublicKey(r.HostPublicKey) != r.HostKeyID {
		return fmt.Errorf("control: host keyID does not match publicKey")
	}
	return identity.Verify(r.HostPublicKey, canon.CanonicalPayload(r.canonicalFields()), r.Signature)
}
