package display

import (
	"errors"
	"testing"
)

func newTestManager(t *testing.T) (*SharedVirtualDisplayManager, *int) {
	t.Helper()
	creates := 0
	m := NewSharedVirtualDisplayManager(
		func(res Resolution, refreshRate float64, colorSpace string, hidpiScale, serialSlot int) (string, string, error) {
			creates++
			return "display-1", "space-1", nil
		},
		func(displayID string) {},
		func(displayID string, res Resolution) error { return nil },
	)
	return m, &creates
}

func TestAcquireCreatesOnFirstConsumer(t *testing.T) {
	m, creates := newTestManager(t)
	ctx, err := m.Acquire(ConsumerStream, Resolution{1920, 1080}, 60, "sRGB")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.HasActiveDisplay() {
		t.Fatalf("expected active display")
	}
	if ctx.HiDPIScale != 2 {
		t.Fatalf("expected HiDPI 2x on first successful creation, got %d", ctx.HiDPIScale)
	}
	if *creates != 1 {
		t.Fatalf("expected exactly 1 creation, got %d", *creates)
	}
}

func TestAcquireReusesDisplayWhenCompatible(t *testing.T) {
	m, creates := newTestManager(t)
	m.Acquire(ConsumerStream, Resolution{1920, 1080}, 60, "sRGB")
	m.Acquire(ConsumerUnlock, Resolution{1920, 1080}, 60, "sRGB")
	if *creates != 1 {
		t.Fatalf("expected reuse (1 creation), got %d", *creates)
	}
	if m.ActiveConsumerCount() != 2 {
		t.Fatalf("expected 2 active consumers, got %d", m.ActiveConsumerCount())
	}
}

func TestRefreshRateMismatchForcesRecreation(t *testing.T) {
	m, creates := newTestManager(t)
	m.Acquire(ConsumerStream, Resolution{1920, 1080}, 60, "sRGB")
	m.Acquire(ConsumerUnlock, Resolution{1920, 1080}, 120, "sRGB")
	if *creates != 2 {
		t.Fatalf("expected recreation on refresh rate mismatch, got %d creations", *creates)
	}
}

func TestColorSpaceMismatchForcesRecreation(t *testing.T) {
	m, creates := newTestManager(t)
	m.Acquire(ConsumerStream, Resolution{1920, 1080}, 60, "sRGB")
	m.Acquire(ConsumerUnlock, Resolution{1920, 1080}, 60, "displayP3")
	if *creates != 2 {
		t.Fatalf("expected recreation on colorspace mismatch, got %d creations", *creates)
	}
}

func TestResizeWithinToleranceIsNoop(t *testing.T) {
	m, creates := newTestManager(t)
	m.Acquire(ConsumerStream, Resolution{1920, 1080}, 60, "sRGB")
	m.Acquire(ConsumerUnlock, Resolution{1921, 1081}, 60, "sRGB")
	if *creates != 1 {
		t.Fatalf("expected no recreation within 2px tolerance, got %d creations", *creates)
	}
}

func TestResizeBeyondToleranceAttemptsInPlaceThenFallsBackToRecreate(t *testing.T) {
	resizeCalls := 0
	resizeErr := error(nil)
	createCalls := 0
	m := NewSharedVirtualDisplayManager(
		func(res Resolution, refreshRate float64, colorSpace string, hidpiScale, serialSlot int) (string, string, error) {
			createCalls++
			return "display-1", "space-1", nil
		},
		func(displayID string) {},
		func(displayID string, res Resolution) error {
			resizeCalls++
			return resizeErr
		},
	)

	m.Acquire(ConsumerStream, Resolution{1920, 1080}, 60, "sRGB")
	m.Acquire(ConsumerUnlock, Resolution{1280, 720}, 60, "sRGB")
	if resizeCalls != 1 {
		t.Fatalf("expected 1 in-place resize attempt, got %d", resizeCalls)
	}
	if createCalls != 1 {
		t.Fatalf("expected resize to succeed without recreation, got %d creations", createCalls)
	}

	resizeErr = errors.New("resize rejected")
	m.Acquire(ConsumerDesktopStream, Resolution{2560, 1440}, 60, "sRGB")
	if resizeCalls != 2 {
		t.Fatalf("expected a second in-place resize attempt, got %d", resizeCalls)
	}
	if createCalls != 2 {
		t.Fatalf("expected rejected resize to fall back to recreation, got %d creations", createCalls)
	}
}

func TestDisplayRefcountDestroyedOnLastRelease(t *testing.T) {
	m, _ := newTestManager(t)
	m.Acquire(ConsumerStream, Resolution{1920, 1080}, 60, "sRGB")
	m.Acquire(ConsumerUnlock, Resolution{1920, 1080}, 60, "sRGB")

	m.Release(ConsumerStream)
	if !m.HasActiveDisplay() {
		t.Fatalf("expected display to remain while a consumer still holds it")
	}

	m.Release(ConsumerUnlock)
	if m.HasActiveDisplay() {
		t.Fatalf("expected display destroyed once all consumers released")
	}
}

func TestCreationFallsBackToHiDPI1xOnRetinaFailure(t *testing.T) {
	attempts := []int{}
	m := NewSharedVirtualDisplayManager(
		func(res Resolution, refreshRate float64, colorSpace string, hidpiScale, serialSlot int) (string, string, error) {
			attempts = append(attempts, hidpiScale)
			if hidpiScale == 2 {
				return "", "", errResize
			}
			return "display-1", "space-1", nil
		},
		func(displayID string) {},
		nil,
	)
	ctx, err := m.Acquire(ConsumerStream, Resolution{1920, 1080}, 60, "sRGB")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.HiDPIScale != 1 {
		t.Fatalf("expected fallback to 1x, got %d", ctx.HiDPIScale)
	}
	if len(attempts) != 2 || attempts[0] != 2 || attempts[1] != 1 {
		t.Fatalf("expected retry ladder [2,1], got %v", attempts)
	}
}

func TestCreationFailsWhenBothScalesFail(t *testing.T) {
	m := NewSharedVirtualDisplayManager(
		func(res Resolution, refreshRate float64, colorSpace string, hidpiScale, serialSlot int) (string, string, error) {
			return "", "", errResize
		},
		func(displayID string) {},
		nil,
	)
	if _, err := m.Acquire(ConsumerStream, Resolution{1920, 1080}, 60, "sRGB"); err == nil {
		t.Fatalf("expected error when both HiDPI scales fail")
	}
	if m.HasActiveDisplay() {
		t.Fatalf("expected no active display after failed creation")
	}
}

func TestSerialSlotAlternatesAcrossRecreations(t *testing.T) {
	var slots []int
	m := NewSharedVirtualDisplayManager(
		func(res Resolution, refreshRate float64, colorSpace string, hidpiScale, serialSlot int) (string, string, error) {
			slots = append(slots, serialSlot)
			return "display-1", "space-1", nil
		},
		func(displayID string) {},
		nil,
	)
	m.Acquire(ConsumerStream, Resolution{1920, 1080}, 60, "sRGB")
	m.Acquire(ConsumerUnlock, Resolution{1920, 1080}, 120, "sRGB") // mismatch forces recreate
	if len(slots) != 2 || slots[0] == slots[1] {
		t.Fatalf("expected alternating serial slots across recreations, got %v", slots)
	}
}

var errResize = &resizeTestError{}

type resizeTestError struct{}

func (*resizeTestError) Error() string { return "retina activation failed validation" }
