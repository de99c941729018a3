package session

import (
	"bytes"
	"testing"

	"github.com/miragekit/core/internal/control"
)

func TestParseRegistrationDeviceIDForm(t *testing.T) {
	var deviceID [DeviceIDSize]byte
	copy(deviceID[:], "0123456789abcdef")
	datagram := BuildMagicRegistration(deviceID)

	kind, gotDeviceID, gotToken, err := ParseRegistration(datagram)
	if err != nil {
		t.Fatalf("ParseRegistration: %v", err)
	}
	if kind != RegistrationDeviceID {
		t.Fatalf("kind = %v, want RegistrationDeviceID", kind)
	}
	if !bytes.Equal(gotDeviceID, deviceID[:]) {
		t.Fatalf("deviceID mismatch")
	}
	if gotToken != nil {
		t.Fatalf("expected nil token for device-ID form")
	}
}

func TestParseRegistrationTokenForm(t *testing.T) {
	token := bytes.Repeat([]byte{0xAB}, control.UDPTokenSize)
	datagram := BuildTokenRegistration(token)

	kind, gotDeviceID, gotToken, err := ParseRegistration(datagram)
	if err != nil {
		t.Fatalf("ParseRegistration: %v", err)
	}
	if kind != RegistrationToken {
		t.Fatalf("kind = %v, want RegistrationToken", kind)
	}
	if gotDeviceID != nil {
		t.Fatalf("expected nil deviceID for token form")
	}
	if !bytes.Equal(gotToken, token) {
		t.Fatalf("token mismatch")
	}
}

func TestParseRegistrationRejectsUnrecognizedLength(t *testing.T) {
	if _, _, _, err := ParseRegistration([]byte("too short")); err == nil {
		t.Fatalf("expected error for unrecognized datagram length")
	}
}
