package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/miragekit/core/internal/identity"
)

func testIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return id
}

func TestCreateSignsRequestAndDecodesResponse(t *testing.T) {
	id := testIdentity(t)
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		if r.URL.Path != "/v1/session/create" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(SessionHandle{SessionID: "sess-123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "com.example.mirage", id, nil)
	handle, err := c.Create(context.Background(), "host-1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if handle.SessionID != "sess-123" {
		t.Fatalf("SessionID = %q", handle.SessionID)
	}

	for _, h := range []string{
		"x-mirage-app-id", "x-mirage-app-timestamp-ms", "x-mirage-app-nonce",
		"x-mirage-app-signature", "x-mirage-key-id", "x-mirage-public-key",
		"x-mirage-timestamp-ms", "x-mirage-nonce", "x-mirage-signature",
		"x-mirage-body-sha256",
	} {
		if gotHeaders.Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
	if gotHeaders.Get("x-mirage-session-id") != "" {
		t.Errorf("session-id header should be empty on create (no session yet)")
	}
}

func TestHeartbeatIncludesSessionIDHeader(t *testing.T) {
	id := testIdentity(t)
	var gotSessionID string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSessionID = r.Header.Get("x-mirage-session-id")
		json.NewEncoder(w).Encode(SessionHandle{SessionID: "sess-123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "com.example.mirage", id, nil)
	if _, err := c.Heartbeat(context.Background(), "sess-123"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if gotSessionID != "sess-123" {
		t.Fatalf("x-mirage-session-id = %q", gotSessionID)
	}
}

func TestErrorStatusReturnsError(t *testing.T) {
	id := testIdentity(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("nope"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "com.example.mirage", id, nil)
	if err := c.Close(context.Background(), "sess-123"); err == nil {
		t.Fatalf("expected error on 403 response")
	}
}

func TestContinuationTokenExpiryReadsExpClaim(t *testing.T) {
	want := time.Now().Add(30 * time.Second).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": want.Unix(),
		"sub": "host-1",
	})
	signed, err := tok.SignedString([]byte("server-only-secret-client-never-needs"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	got, err := ContinuationTokenExpiry(signed)
	if err != nil {
		t.Fatalf("ContinuationTokenExpiry: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("expiry = %v, want %v", got, want)
	}
}

func TestContinuationTokenExpiryRejectsMalformedToken(t *testing.T) {
	if _, err := ContinuationTokenExpiry("not-a-jwt"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}
