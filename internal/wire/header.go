// Package wire implements MirageKit's bit-exact wire primitives (spec §3,
// §4.1): the fixed-size video frame header, the audio packet header, CRC32
// fragment checksums, a small varint utility, and the control-channel
// envelope codec. All multi-byte integers are little-endian; there is a
// single canonical layout per header type.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Flag bits for FrameHeader.Flags.
const (
	FlagKeyframe      uint8 = 1 << 0
	FlagEndOfFrame    uint8 = 1 << 1
	FlagDiscontinuity uint8 = 1 << 2
)

// FrameHeaderSize is the fixed wire size of a video FrameHeader in bytes
// (spec §6: "MirageHeader(56 bytes fixed)").
const FrameHeaderSize = 56

// ContentRect is the sub-region of the encoded frame buffer containing
// non-padded pixels, in scaled-pixel coordinates.
type ContentRect struct {
	X, Y, Width, Height float32
}

// FrameHeader precedes every UDP video payload fragment. It travels on the
// wire in the clear; only the payload that follows is ciphertext||tag.
type FrameHeader struct {
	Flags           uint8
	StreamID        uint16
	SequenceNumber  uint32
	Timestamp       uint64 // monotonic presentation timestamp, nanoseconds
	FrameNumber     uint32 // monotonic per stream
	FragmentIndex   uint16
	FragmentCount   uint16
	PayloadLength   uint32 // length of this fragment's payload
	FrameByteCount  uint32 // total encoded frame size across all fragments
	Checksum        uint32 // CRC32 (Ethernet, reflected) over this fragment's payload
	ContentRect     ContentRect
	DimensionToken  uint16
	Epoch           uint16
}

// IsKeyframe reports whether the keyframe flag bit is set.
func (h *FrameHeader) IsKeyframe() bool { return h.Flags&FlagKeyframe != 0 }

// IsEndOfFrame reports whether this fragment is the last of the frame.
func (h *FrameHeader) IsEndOfFrame() bool { return h.Flags&FlagEndOfFrame != 0 }

// IsDiscontinuity reports whether the discontinuity flag bit is set.
func (h *FrameHeader) IsDiscontinuity() bool { return h.Flags&FlagDiscontinuity != 0 }

// Marshal serializes h into its fixed 56-byte wire layout.
func (h *FrameHeader) Marshal() []byte {
	buf := make([]byte, FrameHeaderSize)
	h.MarshalTo(buf)
	return buf
}

// MarshalTo writes h's wire layout into buf, which must be at least
// FrameHeaderSize bytes.
func (h *FrameHeader) MarshalTo(buf []byte) {
	_ = buf[FrameHeaderSize-1]
	buf[0] = h.Flags
	buf[1] = 0 // reserved
	binary.LittleEndian.PutUint16(buf[2:4], h.StreamID)
	binary.LittleEndian.PutUint32(buf[4:8], h.SequenceNumber)
	binary.LittleEndian.PutUint64(buf[8:16], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[16:20], h.FrameNumber)
	binary.LittleEndian.PutUint16(buf[20:22], h.FragmentIndex)
	binary.LittleEndian.PutUint16(buf[22:24], h.FragmentCount)
	binary.LittleEndian.PutUint32(buf[24:28], h.PayloadLength)
	binary.LittleEndian.PutUint32(buf[28:32], h.FrameByteCount)
	binary.LittleEndian.PutUint32(buf[32:36], h.Checksum)
	binary.LittleEndian.PutUint32(buf[36:40], math.Float32bits(h.ContentRect.X))
	binary.LittleEndian.PutUint32(buf[40:44], math.Float32bits(h.ContentRect.Y))
	binary.LittleEndian.PutUint32(buf[44:48], math.Float32bits(h.ContentRect.Width))
	binary.LittleEndian.PutUint32(buf[48:52], math.Float32bits(h.ContentRect.Height))
	binary.LittleEndian.PutUint16(buf[52:54], h.DimensionToken)
	binary.LittleEndian.PutUint16(buf[54:56], h.Epoch)
}

// ParseFrameHeader deserializes a FrameHeader from its fixed 56-byte layout.
func ParseFrameHeader(buf []byte) (FrameHeader, error) {
	if len(buf) < FrameHeaderSize {
		return FrameHeader{}, fmt.Errorf("wire: short frame header: want %d bytes, got %d", FrameHeaderSize, len(buf))
	}
	var h FrameHeader
	h.Flags = buf[0]
	h.StreamID = binary.LittleEndian.Uint16(buf[2:4])
	h.SequenceNumber = binary.LittleEndian.Uint32(buf[4:8])
	h.Timestamp = binary.LittleEndian.Uint64(buf[8:16])
	h.FrameNumber = binary.LittleEndian.Uint32(buf[16:20])
	h.FragmentIndex = binary.LittleEndian.Uint16(buf[20:22])
	h.FragmentCount = binary.LittleEndian.Uint16(buf[22:24])
	h.PayloadLength = binary.LittleEndian.Uint32(buf[24:28])
	h.FrameByteCount = binary.LittleEndian.Uint32(buf[28:32])
	h.Checksum = binary.LittleEndian.Uint32(buf[32:36])
	h.ContentRect.X = math.Float32frombits(binary.LittleEndian.Uint32(buf[36:40]))
	h.ContentRect.Y = math.Float32frombits(binary.LittleEndian.Uint32(buf[40:44]))
	h.ContentRect.Width = math.Float32frombits(binary.LittleEndian.Uint32(buf[44:48]))
	h.ContentRect.Height = math.Float32frombits(binary.LittleEndian.Uint32(buf[48:52]))
	h.DimensionToken = binary.LittleEndian.Uint16(buf[52:54])
	h.Epoch = binary.LittleEndian.Uint16(buf[54:56])
	if h.FragmentIndex >= h.FragmentCount {
		return FrameHeader{}, fmt.Errorf("wire: invalid header: fragmentIndex %d >= fragmentCount %d", h.FragmentIndex, h.FragmentCount)
	}
	return h, nil
}

// Media kind discriminators. These prefix every UDP datagram (one byte,
// cleartext) so a receiver knows which header layout follows before parsing
// it; they also select the AEAD nonce's media-kind byte (spec §4.3).
const (
	MediaKindVideo uint8 = 1
	MediaKindAudio uint8 = 2
)

// AudioHeaderSize is the fixed wire size of an AudioPacketHeader in bytes.
const AudioHeaderSize = 46

// AudioPacketHeader parallels FrameHeader for audio packets: codec
// identification plus the same seq/frame/fragment/checksum machinery.
type AudioPacketHeader struct {
	CodecTag        uint32 // four-character codec tag, e.g. 'o','p','u','s'
	SampleRate      uint32
	ChannelCount    uint8
	SamplesPerFrame uint16
	StreamID        uint16
	SequenceNumber  uint32
	Timestamp       uint64
	FrameNumber     uint32
	FragmentIndex   uint16
	FragmentCount   uint16
	PayloadLength   uint32
	FrameByteCount  uint32
	Checksum        uint32
}

// Marshal serializes h into its fixed 46-byte wire layout.
func (h *AudioPacketHeader) Marshal() []byte {
	buf := make([]byte, AudioHeaderSize)
	h.MarshalTo(buf)
	return buf
}

// MarshalTo writes h's wire layout into buf, which must be at least
// AudioHeaderSize bytes.
func (h *AudioPacketHeader) MarshalTo(buf []byte) {
	_ = buf[AudioHeaderSize-1]
	binary.LittleEndian.PutUint32(buf[0:4], h.CodecTag)
	binary.LittleEndian.PutUint32(buf[4:8], h.SampleRate)
	buf[8] = h.ChannelCount
	buf[9] = 0 // reserved
	binary.LittleEndian.PutUint16(buf[10:12], h.SamplesPerFrame)
	binary.LittleEndian.PutUint16(buf[12:14], h.StreamID)
	binary.LittleEndian.PutUint32(buf[14:18], h.SequenceNumber)
	binary.LittleEndian.PutUint64(buf[18:26], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[26:30], h.FrameNumber)
	binary.LittleEndian.PutUint16(buf[30:32], h.FragmentIndex)
	binary.LittleEndian.PutUint16(buf[32:34], h.FragmentCount)
	binary.LittleEndian.PutUint32(buf[34:38], h.PayloadLength)
	binary.LittleEndian.PutUint32(buf[38:42], h.FrameByteCount)
	binary.LittleEndian.PutUint32(buf[42:46], h.Checksum)
}

// ParseAudioPacketHeader deserializes an AudioPacketHeader from its fixed
// 46-byte layout.
func ParseAudioPacketHeader(buf []byte) (AudioPacketHeader, error) {
	if len(buf) < AudioHeaderSize {
		return AudioPacketHeader{}, fmt.Errorf("wire: short audio header: want %d bytes, got %d", AudioHeaderSize, len(buf))
	}
	var h AudioPacketHeader
	h.CodecTag = binary.LittleEndian.Uint32(buf[0:4])
	h.SampleRate = binary.LittleEndian.Uint32(buf[4:8])
	h.ChannelCount = buf[8]
	h.SamplesPerFrame = binary.LittleEndian.Uint16(buf[10:12])
	h.StreamID = binary.LittleEndian.Uint16(buf[12:14])
	h.SequenceNumber = binary.LittleEndian.Uint32(buf[14:18])
	h.Timestamp = binary.LittleEndian.Uint64(buf[18:26])
	h.FrameNumber = binary.LittleEndian.Uint32(buf[26:30])
	h.FragmentIndex = binary.LittleEndian.Uint16(buf[30:32])
	h.FragmentCount = binary.LittleEndian.Uint16(buf[32:34])
	h.PayloadLength = binary.LittleEndian.Uint32(buf[34:38])
	h.FrameByteCount = binary.LittleEndian.Uint32(buf[38:42])
	h.Checksum = binary.LittleEndian.Uint32(buf[42:46])
	if h.FragmentIndex >= h.FragmentCount {
		return AudioPacketHeader{}, fmt.Errorf("wire: invalid audio header: fragmentIndex %d >= fragmentCount %d", h.FragmentIndex, h.FragmentCount)
	}
	return h, nil
}
