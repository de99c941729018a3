// Package display implements the shared virtual display manager (spec
// §4.9, C9): a per-host-session singleton owning at most one virtual
// display shared by multiple consumers, with recreate-on-mismatch,
// HiDPI-fallback creation, and serial-slot alternation. Grounded on the
// teacher's single-threaded actor-style registry in
// _examples/alxayo-rtmp-go/internal/rtmp/server/registry.go, which
// serializes stream lifecycle transitions behind a single mutex the same
// way this manager serializes display lifecycle transitions.
package display

import (
	stdErrors "errors"
	"sync"

	mirageerrors "github.com/miragekit/core/internal/errors"
)

// Consumer identifies who is holding a reference to the shared display
// (spec §3: "stream/loginDisplay/unlock/desktopStream").
type Consumer string

const (
	ConsumerStream        Consumer = "stream"
	ConsumerLoginDisplay  Consumer = "loginDisplay"
	ConsumerUnlock        Consumer = "unlock"
	ConsumerDesktopStream Consumer = "desktopStream"
)

// ResizeTolerancePixels is the no-op tolerance for in-place resolution
// changes (spec §4.9: "resize within 2 pixels is a no-op").
const ResizeTolerancePixels = 2

// Resolution is a width/height pair.
type Resolution struct {
	Width  int
	Height int
}

// ClientDisplayInfo records what a given consumer requested, used to
// detect resolution/refresh/colorspace mismatches on later acquires.
type ClientDisplayInfo struct {
	Resolution   Resolution
	RefreshRate  float64
	ColorSpace   string
}

// ManagedDisplayContext describes a live virtual display (spec §3).
type ManagedDisplayContext struct {
	DisplayID   string
	SpaceID     string
	Resolution  Resolution
	RefreshRate float64
	ColorSpace  string
	HiDPIScale  int // 2 or 1, per the creation-retry ladder
	SerialSlot  int // 0 or 1, alternated on recreation
}

// CreateDisplayFunc is supplied by the platform layer to actually create
// a virtual display at the given resolution/refresh/colorspace/HiDPI
// scale/serial slot, returning a display handle opaque to this package.
// It returns an error if creation (or the paired logical+pixel
// ready-check) fails — the manager interprets that as a signal to retry
// at a lower HiDPI scale.
type CreateDisplayFunc func(res Resolution, refreshRate float64, colorSpace string, hidpiScale, serialSlot int) (displayID, spaceID string, err error)

// DestroyDisplayFunc tears down a previously created display.
type DestroyDisplayFunc func(displayID string)

// ResizeInPlaceFunc attempts an in-place resolution change on an existing
// display, returning an error if the platform rejects it (the manager
// then falls back to destroy+recreate).
type ResizeInPlaceFunc func(displayID string, res Resolution) error

// SharedVirtualDisplayManager owns at most one virtual display, shared
// by reference-counted consumers (spec §4.9). Every public method takes
// the manager's mutex, so it is safe for concurrent use; platform
// callbacks run while that mutex is held.
type SharedVirtualDisplayManager struct {
	mu sync.Mutex

	shared          *ManagedDisplayContext
	activeConsumers map[Consumer]ClientDisplayInfo
	nextSerialSlot  int

	CreateDisplay    CreateDisplayFunc
	DestroyDisplay   DestroyDisplayFunc
	ResizeInPlace    ResizeInPlaceFunc
}

// NewSharedVirtualDisplayManager returns an empty manager wired to the
// given platform callbacks.
func NewSharedVirtualDisplayManager(create CreateDisplayFunc, destroy DestroyDisplayFunc, resize ResizeInPlaceFunc) *SharedVirtualDisplayManager {
	return &SharedVirtualDisplayManager{
		activeConsumers: make(map[Consumer]ClientDisplayInfo),
		CreateDisplay:   create,
		DestroyDisplay:  destroy,
		ResizeInPlace:   resize,
	}
}

// HasActiveDisplay reports whether a display currently exists (spec
// §4.9: "hasActiveDisplay ⇔ sharedDisplay != nil").
func (m *SharedVirtualDisplayManager) HasActiveDisplay() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shared != nil
}

// Acquire registers consumer's interest in the shared display, creating
// it if absent, recreating it if refreshRate/colorSpace mismatch an
// already-live display, or resizing in-place (falling back to recreate)
// on a resolution change beyond tolerance (spec §4.9).
func (m *SharedVirtualDisplayManager) Acquire(consumer Consumer, res Resolution, refreshRate float64, colorSpace string) (*ManagedDisplayContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := ClientDisplayInfo{Resolution: res, RefreshRate: refreshRate, ColorSpace: colorSpace}

	if m.shared == nil {
		ctx, err := m.createWithFallback(res, refreshRate, colorSpace)
		if err != nil {
			return nil, err
		}
		m.shared = ctx
		m.activeConsumers[consumer] = info
		return m.shared, nil
	}

	if m.shared.RefreshRate != refreshRate || m.shared.ColorSpace != colorSpace {
		if err := m.recreateLocked(res, refreshRate, colorSpace); err != nil {
			return nil, err
		}
		m.activeConsumers[consumer] = info
		return m.shared, nil
	}

	if !withinTolerance(m.shared.Resolution, res) {
		if m.ResizeInPlace != nil {
			if err := m.ResizeInPlace(m.shared.DisplayID, res); err == nil {
				m.shared.Resolution = res
				m.activeConsumers[consumer] = info
				return m.shared, nil
			}
		}
		if err := m.recreateLocked(res, refreshRate, colorSpace); err != nil {
			return nil, err
		}
	}

	m.activeConsumers[consumer] = info
	return m.shared, nil
}

// Release drops consumer's reference, destroying the display once no
// consumers remain (spec §4.9: "destroyed iff activeConsumers.is_empty()").
func (m *SharedVirtualDisplayManager) Release(consumer Consumer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.activeConsumers, consumer)
	if len(m.activeConsumers) == 0 && m.shared != nil {
		if m.DestroyDisplay != nil {
			m.DestroyDisplay(m.shared.DisplayID)
		}
		m.shared = nil
	}
}

// ActiveConsumerCount reports how many consumers currently hold a
// reference.
func (m *SharedVirtualDisplayManager) ActiveConsumerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeConsumers)
}

func (m *SharedVirtualDisplayManager) recreateLocked(res Resolution, refreshRate float64, colorSpace string) error {
	if m.DestroyDisplay != nil && m.shared != nil {
		m.DestroyDisplay(m.shared.DisplayID)
	}
	ctx, err := m.createWithFallback(res, refreshRate, colorSpace)
	if err != nil {
		m.shared = nil
		return err
	}
	m.shared = ctx
	return nil
}

// createWithFallback retries creation at HiDPI=2, falling back to 1x if
// Retina activation fails validation. The serial slot alternates on every
// (re)creation; the 2x and 1x attempts of one call share the same slot
// (spec §4.9).
func (m *SharedVirtualDisplayManager) createWithFallback(res Resolution, refreshRate float64, colorSpace string) (*ManagedDisplayContext, error) {
	if m.CreateDisplay == nil {
		return nil, mirageerrors.NewResourceError("display.create", stdErrors.New("no CreateDisplay callback configured"))
	}

	slot := m.nextSerialSlot
	m.nextSerialSlot = (m.nextSerialSlot + 1) % 2

	for _, scale := range []int{2, 1} {
		displayID, spaceID, err := m.CreateDisplay(res, refreshRate, colorSpace, scale, slot)
		if err == nil {
			return &ManagedDisplayContext{
				DisplayID:   displayID,
				SpaceID:     spaceID,
				Resolution:  res,
				RefreshRate: refreshRate,
				ColorSpace:  colorSpace,
				HiDPIScale:  scale,
				SerialSlot:  slot,
			}, nil
		}
	}
	return nil, mirageerrors.NewResourceError("display.create", stdErrors.New("creation failed at HiDPI 2x and 1x"))
}

// withinTolerance reports whether b is within ResizeTolerancePixels of a
// in both dimensions (spec §4.9: "resize within 2 pixels is a no-op").
func withinTolerance(a, b Resolution) bool {
	return abs(a.Width-b.Width) <= ResizeTolerancePixels && abs(a.Height-b.Height) <= ResizeTolerancePixels
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
