package canon

import (
	"testing"
)

func TestMarshalJSONSortsKeysRegardlessOfInputOrder(t *testing.T) {
	a := map[string]any{"zebra": 1, "apple": 2, "mango": 3}
	b := map[string]any{"mango": 3, "apple": 2, "zebra": 1}

	ja, err := MarshalJSON(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	jb, err := MarshalJSON(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if string(ja) != string(jb) {
		t.Fatalf("expected identical canonical output, got %s vs %s", ja, jb)
	}
	want := `{"apple":2,"mango":3,"zebra":1}`
	if string(ja) != want {
		t.Fatalf("got %s want %s", ja, want)
	}
}

func TestMarshalJSONNestedObjects(t *testing.T) {
	v := map[string]any{
		"outer": map[string]any{"b": 2, "a": 1},
		"list":  []any{3, 1, 2},
	}
	got, err := MarshalJSON(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"list":[3,1,2],"outer":{"a":1,"b":2}}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestCanonicalPayloadOrderIndependence(t *testing.T) {
	f1 := Fields{"deviceID": "abc", "timestampMs": "1000", "nonce": "xyz"}
	f2 := Fields{"nonce": "xyz", "timestampMs": "1000", "deviceID": "abc"}

	p1 := CanonicalPayload(f1)
	p2 := CanonicalPayload(f2)
	if string(p1) != string(p2) {
		t.Fatalf("expected order-independent output, got %q vs %q", p1, p2)
	}
	want := "deviceID=abc\nnonce=xyz\ntimestampMs=1000"
	if string(p1) != want {
		t.Fatalf("got %q want %q", p1, want)
	}
}

func TestEncodeEmbeddedRoundTripsDeterministically(t *testing.T) {
	caps1 := map[string]any{"hevc": true, "maxFps": 120}
	caps2 := map[string]any{"maxFps": 120, "hevc": true}

	e1, err := EncodeEmbedded(caps1)
	if err != nil {
		t.Fatalf("encode 1: %v", err)
	}
	e2, err := EncodeEmbedded(caps2)
	if err != nil {
		t.Fatalf("encode 2: %v", err)
	}
	if e1 != e2 {
		t.Fatalf("expected identical base64 output regardless of map order, got %s vs %s", e1, e2)
	}
}
