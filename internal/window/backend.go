package window

import (
	"strings"
	"time"
)

// ID names a logical overlay surface. At most one live handle exists per ID.
type ID string

// Well-known surface identities.
const (
	ControlPanel   ID = "control-panel"
	DrawingCanvas  ID = "drawing-canvas"
	DrawingToolbar ID = "drawing-toolbar"
	TouchDetector  ID = "touch-detector"
)

const touchMarkerPrefix = "touch-marker/"

// TouchMarker returns the surface identity of a single touch marker.
func TouchMarker(key string) ID {
	return ID(touchMarkerPrefix + key)
}

// IsTouchMarker reports whether id names a touch marker surface.
func (id ID) IsTouchMarker() bool {
	return strings.HasPrefix(string(id), touchMarkerPrefix)
}

// MatchParent sizes a surface dimension to the full screen.
const MatchParent = -1

// Gravity anchors a surface's offset to a screen edge.
type Gravity int

const (
	GravityTopStart Gravity = iota
	GravityTopEnd
	GravityBottomCenter
)

func (g Gravity) String() string {
	switch g {
	case GravityTopEnd:
		return "top-end"
	case GravityBottomCenter:
		return "bottom-center"
	default:
		return "top-start"
	}
}

// Flag controls how a surface participates in focus and input.
type Flag uint8

const (
	// FlagNotFocusable keeps keyboard focus on the application below.
	FlagNotFocusable Flag = 1 << iota
	// FlagNotTouchable makes the surface fully transparent to input.
	FlagNotTouchable
	// FlagNotTouchModal lets input the surface does not consume reach
	// the layers beneath it.
	FlagNotTouchModal
	// FlagLayoutInScreen positions the surface in absolute screen space.
	FlagLayoutInScreen
)

// Has reports whether all bits of f are set.
func (fl Flag) Has(f Flag) bool {
	return fl&f == f
}

// Geometry describes a surface position and size
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Descriptor is the layout and appearance applied to a registered surface.
type Descriptor struct {
	Geometry Geometry          `json:"geometry"`
	Gravity  Gravity           `json:"gravity"`
	Flags    Flag              `json:"flags"`
	Visible  bool              `json:"visible"`
	Tints    map[string]uint32 `json:"tints,omitempty"`
}

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	c := d
	if d.Tints != nil {
		c.Tints = make(map[string]uint32, len(d.Tints))
		for k, v := range d.Tints {
			c.Tints[k] = v
		}
	}
	return c
}

// NativeWindow is the compositor's own reference to a registered surface.
type NativeWindow uint32

// Compositor is the host platform's window manager. Implementations are
// not required to tolerate repeated removal of the same window; the
// Registry guarantees they never see one.
type Compositor interface {
	// Add registers a new always-on-top surface.
	Add(id ID, d Descriptor) (NativeWindow, error)

	// Update reapplies layout and appearance to a registered surface.
	Update(w NativeWindow, d Descriptor) error

	// Remove unregisters a surface.
	Remove(w NativeWindow) error

	// Close releases the connection to the display server
	Close() error

	// Name returns the backend name (e.g., "x11", "memory")
	Name() string
}

// Phase is the stage of a pointer gesture.
type Phase int

const (
	PhaseDown Phase = iota
	PhaseMove
	PhaseUp
	PhaseCancel
)

func (p Phase) String() string {
	switch p {
	case PhaseDown:
		return "down"
	case PhaseMove:
		return "move"
	case PhaseUp:
		return "up"
	default:
		return "cancel"
	}
}

// ParsePhase converts a wire name to a Phase.
func ParsePhase(s string) (Phase, bool) {
	switch strings.ToLower(s) {
	case "down":
		return PhaseDown, true
	case "move":
		return PhaseMove, true
	case "up":
		return PhaseUp, true
	case "cancel":
		return PhaseCancel, true
	}
	return PhaseCancel, false
}

// PointerEvent is a single touch or pointer sample in screen coordinates.
type PointerEvent struct {
	Surface ID
	Phase   Phase
	X       float64
	Y       float64
	Time    time.Time
}

// InputSource is implemented by compositors that deliver pointer input
// for the surfaces they host.
type InputSource interface {
	Input() <-chan PointerEvent
}
