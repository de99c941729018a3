package control

import (
	"encoding/json"
	"fmt"

	"github.com/miragekit/core/internal/canon"
	"github.com/miragekit/core/internal/wire"
)

// EncodeMessage marshals payload as canonical, sorted-key JSON (spec §4.1:
// "Payload MUST be a canonical JSON object where keys are emitted sorted
// lexicographically") and wraps it in a wire.Envelope of the given type,
// ready to write to the control channel.
func EncodeMessage(t MessageType, payload any) (wire.Envelope, error) {
	body, err := canon.MarshalJSON(payload)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("control: encode %s payload: %w", t, err)
	}
	return wire.Envelope{Type: uint16(t), Payload: body}, nil
}

// DecodePayload unmarshals an envelope's payload into v.
func DecodePayload(env wire.Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("control: decode %s payload: %w", MessageType(env.Type), err)
	}
	return nil
}
