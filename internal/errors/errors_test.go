package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
	"time"
)

// fakeTimeoutErr simulates a net.Error with Timeout semantics (we don't need full net.Error here).
type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string { return "fake timeout" }
func (fakeTimeoutErr) Timeout() bool { return true }

func TestIsProtocolErrorClassification(t *testing.T) {
	root := stdErrors.New("root")
	wrapped := fmt.Errorf("adding context: %w", root)
	p := NewProtocolError("handshake.order", wrapped)
	if !IsProtocolError(p) {
		t.Fatalf("expected IsProtocolError=true for protocol error")
	}
	if !stdErrors.Is(p, root) {
		t.Fatalf("expected errors.Is to find root cause")
	}
	var pe *ProtocolError
	if !stdErrors.As(p, &pe) {
		t.Fatalf("expected errors.As to *ProtocolError")
	}
	if pe.Op != "handshake.order" {
		t.Fatalf("unexpected op: %s", pe.Op)
	}

	auth := NewAuthenticationError("hello.verify", nil)
	if !IsAuthenticationError(auth) {
		t.Fatalf("expected authentication error classified")
	}
	if IsProtocolError(auth) {
		t.Fatalf("authentication error should not classify as protocol")
	}

	codec := NewCodecError("decode.session", nil)
	if !IsCodecError(codec) {
		t.Fatalf("expected codec error classified")
	}

	res := NewResourceError("display.create", nil)
	if !IsResourceError(res) {
		t.Fatalf("expected resource error classified")
	}
}

func TestTransportErrorFatality(t *testing.T) {
	transient := NewTransportError("control.read", stdErrors.New("reset"), false)
	isT, fatal := IsTransportError(transient)
	if !isT || fatal {
		t.Fatalf("expected transient transport error, got isT=%v fatal=%v", isT, fatal)
	}
	fatalErr := NewTransportError("control.read", stdErrors.New("closed"), true)
	isT, fatal = IsTransportError(fatalErr)
	if !isT || !fatal {
		t.Fatalf("expected fatal transport error, got isT=%v fatal=%v", isT, fatal)
	}
	if isT, _ := IsTransportError(stdErrors.New("plain")); isT {
		t.Fatalf("plain error should not classify as transport")
	}
}

func TestIsTimeout(t *testing.T) {
	root := fakeTimeoutErr{}
	to := NewTimeoutError("handshake.read", 5*time.Second, root)
	if !IsTimeout(to) {
		t.Fatalf("expected TimeoutError recognized")
	}
	if IsProtocolError(to) {
		t.Fatalf("timeout should NOT be protocol error")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Fatalf("expected context deadline recognized")
	}
	var ne error = root
	if !IsTimeout(ne) {
		t.Fatalf("expected net-like timeout recognized")
	}
}

func TestUnwrapChains(t *testing.T) {
	base := stdErrors.New("io EOF")
	l1 := fmt.Errorf("read: %w", base)
	l2 := NewProtocolError("control.read", l1)
	if !stdErrors.Is(l2, base) {
		t.Fatalf("errors.Is should reach base cause")
	}
	var cm classMarker
	if !stdErrors.As(l2, &cm) {
		t.Fatalf("expected to match classMarker via As")
	}
}

func TestNilSafety(t *testing.T) {
	if IsProtocolError(nil) {
		t.Fatalf("nil should not be protocol error")
	}
	if IsTimeout(nil) {
		t.Fatalf("nil should not be timeout")
	}
	if isT, fatal := IsTransportError(nil); isT || fatal {
		t.Fatalf("nil should not be transport error")
	}
}

func TestConstructorWithoutCause(t *testing.T) {
	ck := NewCodecError("decode.flush", nil)
	if ck == nil {
		t.Fatalf("constructor returned nil")
	}
	if errStr := ck.Error(); errStr == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestNilErrBranchesAndStrings(t *testing.T) {
	p := NewProtocolError("op1", nil)
	if p == nil {
		t.Fatalf("nil protocol error")
	}
	if !IsProtocolError(p) {
		t.Fatalf("expected protocol classification")
	}
	if s := p.Error(); s == "" || s == "protocol error:" {
		t.Fatalf("unexpected protocol error string: %q", s)
	}

	a := NewAuthenticationError("op2", nil)
	if s := a.Error(); s == "" || s == "authentication error:" {
		t.Fatalf("bad authentication error string: %q", s)
	}

	c := NewCodecError("op3", nil)
	if s := c.Error(); s == "" {
		t.Fatalf("empty codec error string")
	}

	r := NewResourceError("op4", nil)
	if s := r.Error(); s == "" {
		t.Fatalf("empty resource error string")
	}

	to := NewTimeoutError("op5", 100*time.Millisecond, nil)
	if !IsTimeout(to) {
		t.Fatalf("timeout classification failed")
	}
	if IsProtocolError(to) {
		t.Fatalf("timeout misclassified as protocol")
	}
	if s := to.Error(); s == "" {
		t.Fatalf("empty timeout error string")
	}
}

func TestNegativePredicates(t *testing.T) {
	if IsProtocolError(stdErrors.New("plain")) {
		t.Fatalf("plain error shouldn't be protocol")
	}
	if IsTimeout(stdErrors.New("plain")) {
		t.Fatalf("plain error shouldn't be timeout")
	}
}
