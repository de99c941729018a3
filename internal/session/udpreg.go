package session

import (
	"encoding/binary"
	"fmt"

	"github.com/miragekit/core/internal/control"
)

// UDPRegistrationMagic identifies the device-ID-keyed fallback
// registration datagram (spec §6: "magic(u32=MIRAGE_QT_REG) ||
// deviceID(16)"), used before a session's 32-byte registration token has
// been negotiated (e.g. a quality-test probe registering independently of
// an active media session).
const UDPRegistrationMagic uint32 = 0x4D524752 // ASCII "MRGR"

// DeviceIDSize is the fixed byte length of a device identifier in the
// magic-prefixed registration form.
const DeviceIDSize = 16

// RegistrationKind classifies which of the two accepted registration
// datagram shapes arrived (spec §6).
type RegistrationKind int

const (
	RegistrationUnknown RegistrationKind = iota
	RegistrationDeviceID
	RegistrationToken
)

// BuildMagicRegistration returns the magic+deviceID registration datagram.
func BuildMagicRegistration(deviceID [DeviceIDSize]byte) []byte {
	buf := make([]byte, 4+DeviceIDSize)
	binary.LittleEndian.PutUint32(buf[0:4], UDPRegistrationMagic)
	copy(buf[4:], deviceID[:])
	return buf
}

// BuildTokenRegistration returns the bare-token registration datagram: the
// session's 32-byte UDP registration token, unframed.
func BuildTokenRegistration(token []byte) []byte {
	out := make([]byte, len(token))
	copy(out, token)
	return out
}

// ParseRegistration classifies an inbound UDP registration datagram sent to
// the data port before the host accepts media packets from that peer (spec
// §6): either the magic+deviceID form or a bare registration-token-sized
// payload.
func ParseRegistration(datagram []byte) (kind RegistrationKind, deviceID []byte, token []byte, err error) {
	switch {
	case len(datagram) == 4+DeviceIDSize && binary.LittleEndian.Uint32(datagram[0:4]) == UDPRegistrationMagic:
		return RegistrationDeviceID, datagram[4:], nil, nil
	case len(datagram) == control.UDPTokenSize:
		return RegistrationToken, nil, datagram, nil
	default:
		return RegistrationUnknown, nil, nil, fmt.Errorf("session: unrecognized registration datagram of length %d", len(datagram))
	}
}
