package window

import (
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
)

var (
	_ Compositor  = (*X11Compositor)(nil)
	_ InputSource = (*X11Compositor)(nil)
)

// X11Compositor hosts overlay surfaces as override-redirect X11 windows.
// Surfaces flagged not-touchable or not-touch-modal get an empty input
// shape so clicks reach the windows beneath; not-touch-modal surfaces
// observe the pointer by polling instead.
type X11Compositor struct {
	conn      *xgb.Conn
	screen    *xproto.ScreenInfo
	root      xproto.Window
	shapeOK   bool
	mu        sync.RWMutex
	surfaces  map[xproto.Window]ID
	flags     map[xproto.Window]Flag
	observers map[xproto.Window]ID
	input     chan PointerEvent
	stopChan  chan struct{}
	closeOnce sync.Once
	// PollInterval controls how often observing surfaces sample the pointer
	PollInterval time.Duration
}

// NewX11Compositor connects to the X server named by $DISPLAY
func NewX11Compositor() (*X11Compositor, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	c := &X11Compositor{
		conn:         conn,
		screen:       screen,
		root:         screen.Root,
		surfaces:     make(map[xproto.Window]ID),
		flags:        make(map[xproto.Window]Flag),
		observers:    make(map[xproto.Window]ID),
		input:        make(chan PointerEvent, 128),
		stopChan:     make(chan struct{}),
		PollInterval: 16 * time.Millisecond,
	}

	if err := shape.Init(conn); err != nil {
		logger.WithComponent("x11-compositor").Warn().
			Err(err).
			Msg("SHAPE extension unavailable, pass-through surfaces will intercept input")
	} else {
		c.shapeOK = true
	}

	go c.readEvents()
	go c.pollPointer()

	return c, nil
}

// Name returns the backend name
func (c *X11Compositor) Name() string {
	return "x11"
}

// ScreenSize returns the default screen dimensions in pixels
func (c *X11Compositor) ScreenSize() (int, int) {
	return int(c.screen.WidthInPixels), int(c.screen.HeightInPixels)
}

// Input returns pointer events for hosted surfaces
func (c *X11Compositor) Input() <-chan PointerEvent {
	return c.input
}

// resolve converts a descriptor into absolute screen geometry
func (c *X11Compositor) resolve(d Descriptor) (x, y, w, h int) {
	sw, sh := c.ScreenSize()
	w, h = d.Geometry.Width, d.Geometry.Height
	if w == MatchParent || w <= 0 {
		w = sw
	}
	if h == MatchParent || h <= 0 {
		h = sh
	}

	switch d.Gravity {
	case GravityTopEnd:
		x = sw - w - d.Geometry.X
		y = d.Geometry.Y
	case GravityBottomCenter:
		x = (sw-w)/2 + d.Geometry.X
		y = sh - h - d.Geometry.Y
	default:
		x = d.Geometry.X
		y = d.Geometry.Y
	}
	return x, y, w, h
}

func backgroundPixel(d Descriptor) uint32 {
	if d.Tints == nil {
		return 0x000000
	}
	if v, ok := d.Tints["background"]; ok {
		return v & 0x00FFFFFF
	}
	return 0x000000
}

// Add creates and maps an override-redirect window for the surface
func (c *X11Compositor) Add(id ID, d Descriptor) (NativeWindow, error) {
	log := logger.WithComponent("x11-compositor")

	wid, err := xproto.NewWindowId(c.conn)
	if err != nil {
		return 0, fmt.Errorf("failed to create window ID: %w", err)
	}

	x, y, w, h := c.resolve(d)

	eventMask := inputEventMask(d.Flags)

	// Value order follows the CW bit order: BackPixel, OverrideRedirect, EventMask
	mask := uint32(xproto.CwBackPixel | xproto.CwOverrideRedirect | xproto.CwEventMask)
	values := []uint32{backgroundPixel(d), 1, eventMask}

	err = xproto.CreateWindowChecked(
		c.conn,
		c.screen.RootDepth,
		wid,
		c.root,
		int16(x), int16(y),
		uint16(w), uint16(h),
		0,
		xproto.WindowClassInputOutput,
		c.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return 0, fmt.Errorf("failed to create window: %w", err)
	}

	if passesInput(d.Flags) {
		if err := c.clearInputShape(wid); err != nil {
			log.Warn().Err(err).Str("surface", string(id)).Msg("Failed to make surface input-transparent")
		}
	}

	if d.Visible {
		if err := xproto.MapWindowChecked(c.conn, wid).Check(); err != nil {
			xproto.DestroyWindow(c.conn, wid)
			return 0, fmt.Errorf("failed to map window: %w", err)
		}
	}
	c.conn.Sync()

	c.mu.Lock()
	c.surfaces[wid] = id
	c.flags[wid] = d.Flags
	if d.Flags.Has(FlagNotTouchModal) {
		c.observers[wid] = id
	}
	c.mu.Unlock()

	log.Debug().
		Str("surface", string(id)).
		Uint32("window_id", uint32(wid)).
		Int("x", x).Int("y", y).Int("width", w).Int("height", h).
		Msg("Overlay window created")

	return NativeWindow(wid), nil
}

// inputEventMask selects pointer events for surfaces that take input
func inputEventMask(f Flag) uint32 {
	if passesInput(f) {
		return 0
	}
	return xproto.EventMaskButtonPress |
		xproto.EventMaskButtonRelease |
		xproto.EventMaskButtonMotion
}

// passesInput reports whether clicks on the surface reach the windows
// beneath it
func passesInput(f Flag) bool {
	return f.Has(FlagNotTouchable) || f.Has(FlagNotTouchModal)
}

func (c *X11Compositor) clearInputShape(wid xproto.Window) error {
	if !c.shapeOK {
		return fmt.Errorf("shape extension not initialized")
	}
	return shape.RectanglesChecked(
		c.conn,
		shape.SoSet,
		shape.SkInput,
		xproto.ClipOrderingUnsorted,
		wid,
		0, 0,
		nil,
	).Check()
}

// restoreInputShape resets the input region to the window bounds
func (c *X11Compositor) restoreInputShape(wid xproto.Window) error {
	if !c.shapeOK {
		return fmt.Errorf("shape extension not initialized")
	}
	return shape.MaskChecked(c.conn, shape.SoSet, shape.SkInput, wid, 0, 0, xproto.PixmapNone).Check()
}

// applyFlags switches input handling when a surface's touch flags change
func (c *X11Compositor) applyFlags(wid xproto.Window, id ID, prev, next Flag) error {
	c.mu.Lock()
	c.flags[wid] = next
	if next.Has(FlagNotTouchModal) {
		c.observers[wid] = id
	} else {
		delete(c.observers, wid)
	}
	c.mu.Unlock()

	if inputEventMask(prev) != inputEventMask(next) {
		if err := xproto.ChangeWindowAttributesChecked(
			c.conn, wid, xproto.CwEventMask, []uint32{inputEventMask(next)},
		).Check(); err != nil {
			return fmt.Errorf("failed to set event mask: %w", err)
		}
	}

	if !c.shapeOK {
		return nil
	}
	switch {
	case passesInput(next) && !passesInput(prev):
		return c.clearInputShape(wid)
	case !passesInput(next) && passesInput(prev):
		return c.restoreInputShape(wid)
	}
	return nil
}

// Update moves, resizes, restacks and shows or hides the window, and
// switches input pass-through when the touch flags change
func (c *X11Compositor) Update(w NativeWindow, d Descriptor) error {
	wid := xproto.Window(w)

	c.mu.RLock()
	id, ok := c.surfaces[wid]
	prev := c.flags[wid]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("window %d is not an overlay surface", w)
	}

	if prev != d.Flags {
		if err := c.applyFlags(wid, id, prev, d.Flags); err != nil {
			return fmt.Errorf("failed to update input handling: %w", err)
		}
	}

	x, y, width, height := c.resolve(d)
	mask := uint16(xproto.ConfigWindowX | xproto.ConfigWindowY |
		xproto.ConfigWindowWidth | xproto.ConfigWindowHeight |
		xproto.ConfigWindowStackMode)
	values := []uint32{
		uint32(int32(x)), uint32(int32(y)),
		uint32(width), uint32(height),
		xproto.StackModeAbove,
	}
	if err := xproto.ConfigureWindowChecked(c.conn, wid, mask, values).Check(); err != nil {
		return fmt.Errorf("failed to configure window: %w", err)
	}

	if err := xproto.ChangeWindowAttributesChecked(
		c.conn, wid, xproto.CwBackPixel, []uint32{backgroundPixel(d)},
	).Check(); err != nil {
		return fmt.Errorf("failed to set background: %w", err)
	}

	if d.Visible {
		xproto.MapWindow(c.conn, wid)
	} else {
		xproto.UnmapWindow(c.conn, wid)
	}
	xproto.ClearArea(c.conn, false, wid, 0, 0, 0, 0)
	c.conn.Sync()
	return nil
}

// Remove destroys the window
func (c *X11Compositor) Remove(w NativeWindow) error {
	wid := xproto.Window(w)

	c.mu.Lock()
	_, ok := c.surfaces[wid]
	delete(c.surfaces, wid)
	delete(c.flags, wid)
	delete(c.observers, wid)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("window %d is not an overlay surface", w)
	}

	if err := xproto.DestroyWindowChecked(c.conn, wid).Check(); err != nil {
		return fmt.Errorf("failed to destroy window: %w", err)
	}
	c.conn.Sync()
	return nil
}

// Close destroys remaining windows and closes the X connection
func (c *X11Compositor) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)

		c.mu.Lock()
		for wid := range c.surfaces {
			xproto.DestroyWindow(c.conn, wid)
		}
		c.surfaces = make(map[xproto.Window]ID)
		c.flags = make(map[xproto.Window]Flag)
		c.observers = make(map[xproto.Window]ID)
		c.mu.Unlock()

		c.conn.Sync()
		c.conn.Close()
	})
	return nil
}

func (c *X11Compositor) emit(ev PointerEvent) {
	select {
	case c.input <- ev:
	default:
		// Skip if channel is full
	}
}

// readEvents forwards button and motion events on input-accepting surfaces
func (c *X11Compositor) readEvents() {
	log := logger.WithComponent("x11-compositor")
	for {
		ev, xerr := c.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			return
		}
		if xerr != nil {
			log.Debug().Str("error", xerr.Error()).Msg("X error")
			continue
		}

		var (
			wid   xproto.Window
			phase Phase
			x, y  int16
		)
		switch e := ev.(type) {
		case xproto.ButtonPressEvent:
			if e.Detail != xproto.ButtonIndex1 {
				continue
			}
			wid, phase, x, y = e.Event, PhaseDown, e.RootX, e.RootY
		case xproto.MotionNotifyEvent:
			wid, phase, x, y = e.Event, PhaseMove, e.RootX, e.RootY
		case xproto.ButtonReleaseEvent:
			if e.Detail != xproto.ButtonIndex1 {
				continue
			}
			wid, phase, x, y = e.Event, PhaseUp, e.RootX, e.RootY
		default:
			continue
		}

		c.mu.RLock()
		id, ok := c.surfaces[wid]
		c.mu.RUnlock()
		if !ok {
			continue
		}
		c.emit(PointerEvent{Surface: id, Phase: phase, X: float64(x), Y: float64(y), Time: time.Now()})
	}
}

// pollPointer samples the pointer for observing surfaces, which never
// receive input directly
func (c *X11Compositor) pollPointer() {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	var (
		pressed bool
		lastX   int16
		lastY   int16
	)

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
		}

		c.mu.RLock()
		ids := make([]ID, 0, len(c.observers))
		for _, id := range c.observers {
			ids = append(ids, id)
		}
		c.mu.RUnlock()
		if len(ids) == 0 {
			pressed = false
			continue
		}

		reply, err := xproto.QueryPointer(c.conn, c.root).Reply()
		if err != nil {
			continue
		}
		down := reply.Mask&xproto.KeyButMaskButton1 != 0

		var phase Phase
		switch {
		case down && !pressed:
			phase = PhaseDown
		case down && (reply.RootX != lastX || reply.RootY != lastY):
			phase = PhaseMove
		case !down && pressed:
			phase = PhaseUp
		default:
			pressed = down
			continue
		}
		pressed = down
		lastX, lastY = reply.RootX, reply.RootY

		now := time.Now()
		for _, id := range ids {
			c.emit(PointerEvent{Surface: id, Phase: phase, X: float64(lastX), Y: float64(lastY), Time: now})
		}
	}
}
