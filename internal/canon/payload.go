package canon

import (
	"encoding/base64"
	"sort"
	"strings"
)

// Fields is an unordered set of (fieldName, stringValue) pairs making up a
// signed message. Embedded structures (capabilities, negotiation, ...) must
// already be serialized as canonical JSON then base64-encoded by the caller
// before being added here — see EncodeEmbedded.
type Fields map[string]string

// CanonicalPayload builds the byte string signatures are computed over:
// (fieldName, stringValue) pairs sorted by fieldName, joined as "key=value"
// with newline separators (spec §4.2). The result is identical regardless
// of the order fields were inserted in.
func CanonicalPayload(f Fields) []byte {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(f[k])
	}
	return []byte(b.String())
}

// EncodeEmbedded serializes v as canonical JSON then base64-encodes it, for
// inclusion as a single field value inside a CanonicalPayload (spec §4.2:
// "Embedded structures ... are serialized as sorted-key JSON then
// Base64-encoded before inclusion").
func EncodeEmbedded(v any) (string, error) {
	raw, err := MarshalJSON(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
