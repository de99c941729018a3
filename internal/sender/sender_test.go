package sender

import (
	"testing"
	"time"

	"github.com/miragekit/core/internal/wire"
)

func TestFragmentSizeSubtractsHeaderAndTag(t *testing.T) {
	got := FragmentSize(1200, 32, 16)
	if got != 1200-32-16 {
		t.Fatalf("got %d", got)
	}
}

func TestFragmentSizeFloorsAtZero(t *testing.T) {
	if got := FragmentSize(10, 32, 16); got != 0 {
		t.Fatalf("expected floor at 0, got %d", got)
	}
}

func TestFragmentCountRoundsUp(t *testing.T) {
	if got := FragmentCount(2500, 1000); got != 3 {
		t.Fatalf("got %d", got)
	}
	if got := FragmentCount(0, 1000); got != 1 {
		t.Fatalf("expected at least 1 fragment, got %d", got)
	}
}

func TestQueueTrackerAdmitsUntilThreshold(t *testing.T) {
	q := NewQueueTracker(1000)
	if !q.Admit(400) {
		t.Fatalf("expected admit")
	}
	if !q.Admit(500) {
		t.Fatalf("expected admit")
	}
	if q.Admit(200) {
		t.Fatalf("expected drop once over threshold")
	}
	q.Sent(400)
	if !q.Admit(300) {
		t.Fatalf("expected admit after bytes drained")
	}
}

func TestQueueTrackerSentNeverGoesNegative(t *testing.T) {
	q := NewQueueTracker(1000)
	q.Sent(500)
	if q.QueuedBytes() != 0 {
		t.Fatalf("expected floor at 0, got %d", q.QueuedBytes())
	}
}

func TestInFlightCapByFrameRate(t *testing.T) {
	if InFlightCap(60) != 1 {
		t.Fatalf("expected cap 1 at 60Hz")
	}
	if InFlightCap(120) != 2 {
		t.Fatalf("expected cap 2 at 120Hz")
	}
}

func TestStallThresholdByCaptureKind(t *testing.T) {
	if StallThreshold(CaptureDisplay) != DisplayCaptureStallThreshold {
		t.Fatalf("unexpected display threshold")
	}
	if StallThreshold(CaptureWindow) != WindowCaptureStallThreshold {
		t.Fatalf("unexpected window threshold")
	}
}

func TestRestartPacerExponentialBackoffWithCap(t *testing.T) {
	p := &RestartPacer{}
	base := time.Unix(0, 0)

	c1, hard1 := p.NextCooldown(base)
	if c1 != RestartCooldownBase || hard1 {
		t.Fatalf("unexpected first cooldown: %v hard=%v", c1, hard1)
	}

	c2, hard2 := p.NextCooldown(base.Add(time.Second))
	if c2 != RestartCooldownBase*RestartCooldownMultiplier || hard2 {
		t.Fatalf("unexpected second cooldown: %v hard=%v", c2, hard2)
	}

	c3, hard3 := p.NextCooldown(base.Add(2 * time.Second))
	if !hard3 {
		t.Fatalf("expected hard recovery escalation on 3rd consecutive restart")
	}
	if c3 > RestartCooldownCap {
		t.Fatalf("expected cooldown capped at %v, got %v", RestartCooldownCap, c3)
	}
}

func TestRestartPacerResetsAfterStableWindow(t *testing.T) {
	p := &RestartPacer{}
	base := time.Unix(0, 0)
	p.NextCooldown(base)
	p.NextCooldown(base.Add(time.Second))

	_, hard := p.NextCooldown(base.Add(time.Second + RestartStableWindow))
	if hard {
		t.Fatalf("expected streak reset after stable window elapsed")
	}
	if p.ConsecutiveRestarts() != 1 {
		t.Fatalf("expected streak reset to 1, got %d", p.ConsecutiveRestarts())
	}
}

func TestValidateFrameFragmentsSumMismatchFails(t *testing.T) {
	headers := []wire.FrameHeader{
		{FragmentIndex: 0, FragmentCount: 2, PayloadLength: 100, FrameByteCount: 250},
		{FragmentIndex: 1, FragmentCount: 2, PayloadLength: 100, FrameByteCount: 250},
	}
	if ValidateFrameFragments(headers) {
		t.Fatalf("expected mismatch (100+100 != 250) to fail validation")
	}
}

func TestValidateFrameFragmentsSumMatches(t *testing.T) {
	headers := []wire.FrameHeader{
		{FragmentIndex: 0, FragmentCount: 2, PayloadLength: 150, FrameByteCount: 250},
		{FragmentIndex: 1, FragmentCount: 2, PayloadLength: 100, FrameByteCount: 250},
	}
	if !ValidateFrameFragments(headers) {
		t.Fatalf("expected matching sum to validate")
	}
}

func TestValidateFrameFragmentsRejectsOutOfRangeIndex(t *testing.T) {
	headers := []wire.FrameHeader{
		{FragmentIndex: 2, FragmentCount: 2, PayloadLength: 250, FrameByteCount: 250},
	}
	if ValidateFrameFragments(headers) {
		t.Fatalf("expected fragmentIndex >= fragmentCount to fail validation")
	}
}
