// Package canon implements MirageKit's stable-key JSON encoder and the
// canonical "key=value" payload builder signatures are computed over (spec
// §4.1, §4.2). Signature stability requires byte-identical output regardless
// of struct field order or map iteration order, so every object's keys are
// sorted lexicographically before encoding.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// MarshalJSON encodes v as canonical JSON: every object's keys are emitted
// in sorted lexicographic order, recursively, with the same escaping rules
// as encoding/json (HTML-escaping disabled, since this is not going into a
// browser context and must stay byte-stable).
func MarshalJSON(v any) ([]byte, error) {
	// Round-trip through encoding/json to normalize v into generic
	// map[string]any / []any / scalar shapes, then re-encode with sorted
	// keys. This keeps canon decoupled from any particular struct's field
	// tags while still handling structs, maps, and slices uniformly.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canon: normalize: %w", err)
	}
	var buf []byte
	buf = appendCanonical(buf, generic)
	return buf, nil
}

func appendCanonical(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...)
	case bool:
		if t {
			return append(buf, "true"...)
		}
		return append(buf, "false"...)
	case json.Number:
		return append(buf, t.String()...)
	case string:
		return appendString(buf, t)
	case []any:
		buf = append(buf, '[')
		for i, e := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonical(buf, e)
		}
		return append(buf, ']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendString(buf, k)
			buf = append(buf, ':')
			buf = appendCanonical(buf, t[k])
		}
		return append(buf, '}')
	default:
		// Shouldn't happen given UseNumber()-decoded input, but fail soft
		// rather than panic on an unexpected type.
		return appendString(buf, fmt.Sprintf("%v", t))
	}
}

// appendString appends s as a JSON string literal with HTML escaping
// disabled.
func appendString(buf []byte, s string) []byte {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return append(buf, bytes.TrimSuffix(b.Bytes(), []byte("\n"))...)
}

// FormatFloat renders a float the way MirageKit's canonical string payload
// builder does for non-string scalar fields: shortest round-trippable
// decimal form, matching strconv's 'g' formatting.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
