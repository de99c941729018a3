// Package signaling implements the optional external HTTPS signaling
// collaborator named but left "without an implementation home" by spec §6:
// the /v1/session/{create,heartbeat,close,join,presence} endpoints, their
// x-mirage-* signed-request headers, and the canonical "worker-request-v1"
// payload reused from §4.2's signing scheme. Grounded on the teacher's
// HTTP-client conventions (context-scoped requests, typed response
// structs, logger-attached request IDs) generalized to this request/
// response shape, since the teacher itself has no outbound HTTP client to
// imitate directly — signing reuses internal/canon and internal/identity
// verbatim.
package signaling

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/miragekit/core/internal/canon"
	"github.com/miragekit/core/internal/identity"
)

// WorkerRequestPayloadType is the canonical payload type discriminant
// signed requests to the signaling service use (spec §6).
const WorkerRequestPayloadType = "worker-request-v1"

// Client calls the optional signaling HTTPS endpoints, signing every
// request the way spec §4.2 signs a handshake hello.
type Client struct {
	baseURL string
	appID   string
	id      *identity.Identity
	hc      *http.Client
}

// NewClient returns a Client that signs requests with id and identifies
// the calling application as appID (the "app-*" header family; this
// module has no separate app-level attestation identity of its own, so
// app-signature reuses the same device identity as the session-level
// signature below it).
func NewClient(baseURL, appID string, id *identity.Identity, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, appID: appID, id: id, hc: hc}
}

// Candidate is a STUN-discovered transport candidate the host advertises
// through the signaling service (spec §6).
type Candidate struct {
	Transport string `json:"transport"` // "quic"
	Address   string `json:"address"`
	Port      int    `json:"port"`
}

// SessionHandle is returned by Create and threaded through subsequent
// calls.
type SessionHandle struct {
	SessionID         string      `json:"sessionID"`
	ContinuationToken string      `json:"continuationToken,omitempty"`
	Candidates        []Candidate `json:"candidates,omitempty"`
}

// Create opens a signaling session for hostID, advertising candidates.
func (c *Client) Create(ctx context.Context, hostID string, candidates []Candidate) (*SessionHandle, error) {
	body := map[string]any{"hostID": hostID, "candidates": candidates}
	var handle SessionHandle
	if err := c.do(ctx, "", "POST", "/v1/session/create", body, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// Heartbeat keeps sessionID alive. Callers should invoke this before the
// continuation token minted at Create (or the previous Heartbeat) expires;
// see ContinuationTokenExpiry.
func (c *Client) Heartbeat(ctx context.Context, sessionID string) (*SessionHandle, error) {
	var handle SessionHandle
	if err := c.do(ctx, sessionID, "POST", "/v1/session/heartbeat", nil, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// Close tears down sessionID.
func (c *Client) Close(ctx context.Context, sessionID string) error {
	return c.do(ctx, sessionID, "POST", "/v1/session/close", nil, nil)
}

// Join requests this client be admitted to an existing hostID's session.
func (c *Client) Join(ctx context.Context, sessionID, hostID string) (*SessionHandle, error) {
	body := map[string]any{"hostID": hostID}
	var handle SessionHandle
	if err := c.do(ctx, sessionID, "POST", "/v1/session/join", body, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// PresenceState reports whether a host is currently reachable through the
// signaling service.
type PresenceState struct {
	Online bool `json:"online"`
}

// Presence queries hostID's reachability.
func (c *Client) Presence(ctx context.Context, sessionID, hostID string) (*PresenceState, error) {
	var state PresenceState
	if err := c.do(ctx, sessionID, "GET", "/v1/session/presence?hostID="+hostID, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ContinuationTokenExpiry returns the expiry time embedded in a
// server-issued continuation token, read without signature verification:
// trust in this token already rests on the TLS channel plus the
// session-level signature that accompanied the response carrying it, so
// the client only needs the exp claim to schedule its next heartbeat, not
// to re-establish trust.
func ContinuationTokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("signaling: parse continuation token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("signaling: continuation token has no exp claim: %w", err)
	}
	return exp.Time, nil
}

// do issues a signed HTTP request and decodes the JSON response into out
// (skipped if out is nil).
func (c *Client) do(ctx context.Context, sessionID, method, path string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = canon.MarshalJSON(body)
		if err != nil {
			return fmt.Errorf("signaling: encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("signaling: build request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	if err := c.sign(req, sessionID, bodyBytes); err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("signaling: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("signaling: %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("signaling: decode response: %w", err)
	}
	return nil
}

// sign computes the canonical worker-request-v1 signature and attaches
// every x-mirage-* header spec §6 enumerates.
func (c *Client) sign(req *http.Request, sessionID string, body []byte) error {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("signaling: generate nonce: %w", err)
	}
	nonceHex := hex.EncodeToString(nonce)
	timestampMs := time.Now().UnixMilli()
	bodySum := sha256.Sum256(body)
	bodySHA256 := hex.EncodeToString(bodySum[:])

	fields := canon.Fields{
		"sessionID":   sessionID,
		"appID":       c.appID,
		"keyID":       c.id.KeyID(),
		"timestampMs": strconv.FormatInt(timestampMs, 10),
		"nonce":       nonceHex,
		"bodySHA256":  bodySHA256,
		"type":        WorkerRequestPayloadType,
	}
	sig, err := c.id.Sign(canon.CanonicalPayload(fields))
	if err != nil {
		return fmt.Errorf("signaling: sign request: %w", err)
	}
	sigHex := hex.EncodeToString(sig)
	pubHex := hex.EncodeToString(c.id.PublicKeyBytes())

	h := req.Header
	if sessionID != "" {
		h.Set("x-mirage-session-id", sessionID)
	}
	h.Set("x-mirage-app-id", c.appID)
	h.Set("x-mirage-app-timestamp-ms", strconv.FormatInt(timestampMs, 10))
	h.Set("x-mirage-app-nonce", nonceHex)
	h.Set("x-mirage-app-signature", sigHex)
	h.Set("x-mirage-key-id", c.id.KeyID())
	h.Set("x-mirage-public-key", pubHex)
	h.Set("x-mirage-timestamp-ms", strconv.FormatInt(timestampMs, 10))
	h.Set("x-mirage-nonce", nonceHex)
	h.Set("x-mirage-signature", sigHex)
	h.Set("x-mirage-body-sha256", bodySHA256)
	return nil
}
