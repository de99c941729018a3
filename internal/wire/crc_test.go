package wire

import "testing"

func TestChecksumSanity(t *testing.T) {
	a := Checksum([]byte("Hello, World!"))
	b := Checksum([]byte("Hello, World!"))
	c := Checksum([]byte("Hello, MirageKit!"))
	if a != b {
		t.Fatalf("expected identical input to produce identical CRC, got %x vs %x", a, b)
	}
	if a == c {
		t.Fatalf("expected different input to produce different CRC")
	}
	if a == 0 || c == 0 {
		t.Fatalf("expected nonzero CRCs, got a=%x c=%x", a, c)
	}
}

func TestVerifyChecksumBitFlip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	sum := Checksum(payload)
	if !VerifyChecksum(payload, sum) {
		t.Fatalf("expected checksum to verify")
	}
	flipped := append([]byte(nil), payload...)
	flipped[0] ^= 0x01
	if VerifyChecksum(flipped, sum) {
		t.Fatalf("expected single-bit mutation to fail checksum verification")
	}
}
