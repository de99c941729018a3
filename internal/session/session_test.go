package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/miragekit/core/internal/control"
	"github.com/miragekit/core/internal/identity"
	"github.com/miragekit/core/internal/mediacrypto"
)

func TestMediaSessionContextSealOpenRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	token := bytes.Repeat([]byte{0x01}, 32)
	ctx, err := NewMediaSessionContext(key, token)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	f := mediacrypto.NonceFields{Direction: mediacrypto.DirectionHostToClient, MediaKind: mediacrypto.MediaKindVideo}
	wire := ctx.Cipher().Seal(f, []byte("frame bytes"))
	got, err := ctx.Cipher().Open(f, wire)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(got) != "frame bytes" {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestVerifyRegistrationTokenConstantTime(t *testing.T) {
	ctx, _ := NewMediaSessionContext(bytes.Repeat([]byte{1}, 32), []byte("exact-token-bytes-32-bytes-long"))
	if !ctx.VerifyRegistrationToken([]byte("exact-token-bytes-32-bytes-long")) {
		t.Fatalf("expected matching token to verify")
	}
	if ctx.VerifyRegistrationToken([]byte("wrong-token-bytes-32-bytes-longx")) {
		t.Fatalf("expected mismatched token to fail")
	}
	if ctx.VerifyRegistrationToken([]byte("short")) {
		t.Fatalf("expected length mismatch to fail")
	}
}

func TestZeroizeClearsSecrets(t *testing.T) {
	ctx, _ := NewMediaSessionContext(bytes.Repeat([]byte{9}, 32), bytes.Repeat([]byte{9}, 32))
	ctx.Zeroize()
	for _, b := range ctx.SessionKey {
		if b != 0 {
			t.Fatalf("expected session key to be zeroized")
		}
	}
	for _, b := range ctx.UDPRegistrationToken {
		if b != 0 {
			t.Fatalf("expected token to be zeroized")
		}
	}
}

func TestNonceCacheRejectsReplay(t *testing.T) {
	c := NewNonceCache()
	now := time.Unix(1700000000, 0)
	if !c.CheckAndRemember("abc", now) {
		t.Fatalf("expected first observation to be fresh")
	}
	if c.CheckAndRemember("abc", now.Add(time.Second)) {
		t.Fatalf("expected replayed nonce to be rejected")
	}
}

func TestNonceCacheEvictsAfterTwoWindows(t *testing.T) {
	c := NewNonceCache()
	start := time.Unix(1700000000, 0)
	c.CheckAndRemember("abc", start)
	later := start.Add(2*NonceWindow + time.Second)
	if !c.CheckAndRemember("abc", later) {
		t.Fatalf("expected nonce to be evictable and fresh again after 2T")
	}
}

func TestHostVerifierRejectsNonceReplayBeforeAuthorize(t *testing.T) {
	c := NewNonceCache()
	c.CheckAndRemember("dup-nonce", time.Now())
	called := false
	verifier := HostVerifier(c, func(hello *control.HelloV2) (bool, string, bool) {
		called = true
		return true, "", false
	})
	accept, reasonCode, _, err := verifier(&control.HelloV2{Nonce: "dup-nonce"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accept {
		t.Fatalf("expected replayed nonce to be rejected")
	}
	if reasonCode != "nonceReplay" {
		t.Fatalf("expected reasonCode nonceReplay, got %q", reasonCode)
	}
	if called {
		t.Fatalf("authorize callback should not run after a replay rejection")
	}
}

func TestDeriveSessionKeyFromHandshakeIsSymmetric(t *testing.T) {
	client, _ := identity.Generate()
	host, _ := identity.Generate()

	in := identity.SessionKeyInputs{
		ClientID: "client-1", ClientKeyID: client.KeyID(), ClientNonce: "aa",
		HostID: "host-1", HostKeyID: host.KeyID(), HostNonce: "bb",
	}

	clientKey, err := DeriveSessionKeyFromHandshake(client, host.PublicKeyBytes(), in)
	if err != nil {
		t.Fatalf("client derive: %v", err)
	}
	hostKey, err := DeriveSessionKeyFromHandshake(host, client.PublicKeyBytes(), in)
	if err != nil {
		t.Fatalf("host derive: %v", err)
	}
	if !bytes.Equal(clientKey, hostKey) {
		t.Fatalf("expected both sides to derive the identical session key")
	}
}
