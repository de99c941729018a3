package main

import (
	"fmt"
	"sync/atomic"

	"github.com/miragekit/core/internal/display"
)

// syntheticDisplayCounter mints deterministic display/space IDs for the
// placeholder display backend below, standing in for the real
// CGVirtualDisplay platform call (spec §9: DisplayLease is a pluggable
// trait; the real implementation is out of this module's scope).
var syntheticDisplayCounter uint64

func syntheticCreateDisplay(res display.Resolution, refreshRate float64, colorSpace string, hidpiScale, serialSlot int) (displayID, spaceID string, err error) {
	n := atomic.AddUint64(&syntheticDisplayCounter, 1)
	displayID = fmt.Sprintf("synthetic-display-%d", n)
	spaceID = fmt.Sprintf("synthetic-space-%d", n)
	return displayID, spaceID, nil
}

func syntheticDestroyDisplay(displayID string) {}

func syntheticResizeInPlace(displayID string, res display.Resolution) error {
	return nil
}
