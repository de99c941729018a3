package wire

import (
	"encoding/binary"
	"fmt"
)

// EnvelopeMagic is the fixed magic value prefixing every control channel
// envelope (spec §6: magic(u32=0x4D524147) — ASCII "MRAG").
const EnvelopeMagic uint32 = 0x4D524147

// EnvelopeHeaderSize is the size of the fixed envelope prefix: magic(u32) |
// type(u16) | reserved(u16) | length(u32).
const EnvelopeHeaderSize = 12

// Envelope is a length-prefixed control channel message:
// magic(u32) | type(u16) | reserved(u16) | length(u32) | payload[length].
// Payload MUST be a canonical (sorted-key) JSON object; see internal/canon.
type Envelope struct {
	Type    uint16
	Payload []byte
}

// Marshal serializes e into its wire form, ready to write to the control
// channel's byte stream.
func (e Envelope) Marshal() []byte {
	buf := make([]byte, EnvelopeHeaderSize+len(e.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], EnvelopeMagic)
	binary.LittleEndian.PutUint16(buf[4:6], e.Type)
	binary.LittleEndian.PutUint16(buf[6:8], 0)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(e.Payload)))
	copy(buf[EnvelopeHeaderSize:], e.Payload)
	return buf
}

// MaxPayloadLength bounds a single envelope's payload to guard against a
// corrupt or hostile peer claiming an enormous length and stalling the
// receive buffer indefinitely.
const MaxPayloadLength = 16 * 1024 * 1024

// Decoder incrementally extracts envelopes from a byte stream. A single
// Feed call may supply data spanning multiple envelopes, or less than one;
// the decoder buffers across calls and Next drains whatever is complete.
type Decoder struct {
	buf []byte
}

// Feed appends newly read bytes to the decoder's internal buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next extracts the next complete envelope from the buffered bytes, if one
// is available. ok is false if more data must be read first. An error is
// returned if the buffered prefix is not a valid envelope header (bad magic
// or an oversized length claim) — this is a fatal protocol violation.
func (d *Decoder) Next() (env Envelope, ok bool, err error) {
	if len(d.buf) < EnvelopeHeaderSize {
		return Envelope{}, false, nil
	}
	magic := binary.LittleEndian.Uint32(d.buf[0:4])
	if magic != EnvelopeMagic {
		return Envelope{}, false, fmt.Errorf("wire: bad envelope magic 0x%08x", magic)
	}
	typ := binary.LittleEndian.Uint16(d.buf[4:6])
	length := binary.LittleEndian.Uint32(d.buf[8:12])
	if length > MaxPayloadLength {
		return Envelope{}, false, fmt.Errorf("wire: envelope length %d exceeds max %d", length, MaxPayloadLength)
	}
	total := EnvelopeHeaderSize + int(length)
	if len(d.buf) < total {
		return Envelope{}, false, nil
	}
	payload := make([]byte, length)
	copy(payload, d.buf[EnvelopeHeaderSize:total])
	d.buf = d.buf[total:]
	return Envelope{Type: typ, Payload: payload}, true, nil
}

// Pending returns the number of buffered bytes not yet forming a complete
// envelope.
func (d *Decoder) Pending() int { return len(d.buf) }
