// Package controls implements the floating recording control panel: a
// draggable handle that expands into stop, pause/resume and restart
// buttons.
package controls

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
	"github.com/bryanchriswhite/OverlayRecorder/internal/overlay"
	"github.com/bryanchriswhite/OverlayRecorder/internal/window"
)

// Button identifies a control in the expanded panel
type Button string

const (
	ButtonStop    Button = "stop"
	ButtonPause   Button = "pause"
	ButtonResume  Button = "resume"
	ButtonRestart Button = "restart"
)

// Actions are invoked when the matching button is pressed. Each hook runs
// on its own goroutine so it may call back into the session controller.
type Actions struct {
	OnStop    func()
	OnPause   func()
	OnResume  func()
	OnRestart func()
}

// Options tune gestures and placement
type Options struct {
	TapSlop         float64
	DoubleTapWindow time.Duration
	InitialX        int
	InitialY        int
	ScreenWidth     int
	HandleSize      int
	ButtonSize      int
}

// DefaultOptions returns the stock gesture thresholds and placement
func DefaultOptions() Options {
	return Options{
		TapSlop:         10,
		DoubleTapWindow: 300 * time.Millisecond,
		InitialX:        50,
		InitialY:        150,
		ScreenWidth:     1920,
		HandleSize:      56,
		ButtonSize:      48,
	}
}

// State is a snapshot of the panel
type State struct {
	Attached bool     `json:"attached"`
	Expanded bool     `json:"expanded"`
	Hidden   bool     `json:"hidden"`
	Paused   bool     `json:"paused"`
	X        int      `json:"x"`
	Y        int      `json:"y"`
	Buttons  []Button `json:"buttons,omitempty"`
}

// Panel is the floating control surface
type Panel struct {
	registry *window.Registry
	styles   *overlay.Manager
	actions  Actions
	opts     Options

	mu          sync.Mutex
	attached    bool
	style       overlay.Style
	unsubscribe func()

	expanded bool
	hidden   bool
	paused   bool
	x, y     int

	// gesture state
	dragging     bool
	pressed      Button
	initialX     int
	initialY     int
	initialTouch [2]float64
	lastTap      time.Time
}

// NewPanel creates a detached panel. styles supplies the latest overlay
// style whenever the panel attaches.
func NewPanel(registry *window.Registry, styles *overlay.Manager, actions Actions, opts Options) *Panel {
	return &Panel{
		registry: registry,
		styles:   styles,
		actions:  actions,
		opts:     opts,
		style:    styles.Current(),
		x:        opts.InitialX,
		y:        opts.InitialY,
	}
}

// Attach registers the panel collapsed at its initial position. Attaching
// a live panel is a no-op.
func (p *Panel) Attach(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attached {
		return nil
	}

	p.style = p.styles.Current()
	p.expanded = false
	p.hidden = false
	p.paused = false
	p.dragging = false
	p.pressed = ""
	p.lastTap = time.Time{}
	p.x, p.y = p.opts.InitialX, p.opts.InitialY

	if _, err := p.registry.Attach(ctx, window.ControlPanel, p.descriptorLocked()); err != nil {
		return fmt.Errorf("attach control panel: %w", err)
	}
	p.attached = true
	p.unsubscribe = p.styles.Subscribe(func(s overlay.Style) {
		if err := p.UpdateStyle(context.Background(), s); err != nil {
			logger.WithComponent("controls").Warn().Err(err).Msg("Failed to apply overlay style")
		}
	})

	logger.WithComponent("controls").Debug().Int("x", p.x).Int("y", p.y).Msg("Control panel attached")
	return nil
}

// Detach removes the panel. Detaching a detached panel is a no-op.
func (p *Panel) Detach(ctx context.Context) error {
	p.mu.Lock()
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	wasAttached := p.attached
	p.attached = false
	p.dragging = false
	p.pressed = ""
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if !wasAttached {
		return nil
	}
	return p.registry.Detach(ctx, window.ControlPanel)
}

// Attached reports whether the panel is registered
func (p *Panel) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

// UpdateStyle remembers s and re-tints the live surface, if any
func (p *Panel) UpdateStyle(ctx context.Context, s overlay.Style) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.style = s
	if !p.attached {
		return nil
	}
	return p.pushLocked(ctx)
}

// SetPaused swaps the pause and resume buttons. Exactly one of them is
// visible at any time.
func (p *Panel) SetPaused(ctx context.Context, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused == paused {
		return nil
	}
	p.paused = paused
	if !p.attached {
		return nil
	}
	return p.pushLocked(ctx)
}

// State returns a snapshot of the panel
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := State{
		Attached: p.attached,
		Expanded: p.expanded,
		Hidden:   p.hidden,
		Paused:   p.paused,
		X:        p.x,
		Y:        p.y,
	}
	s.Buttons = p.shownButtonsLocked()
	return s
}

// Press fires the action bound to b, as if the button had been tapped.
// Buttons that are not currently shown are ignored.
func (p *Panel) Press(b Button) bool {
	p.mu.Lock()
	visible := false
	for _, shown := range p.shownButtonsLocked() {
		if shown == b {
			visible = true
			break
		}
	}
	p.mu.Unlock()

	if !visible {
		logger.WithComponent("controls").Debug().Str("button", string(b)).Msg("Ignoring press on hidden button")
		return false
	}
	p.fire(b)
	return true
}

func (p *Panel) fire(b Button) {
	var fn func()
	switch b {
	case ButtonStop:
		fn = p.actions.OnStop
	case ButtonPause:
		fn = p.actions.OnPause
	case ButtonResume:
		fn = p.actions.OnResume
	case ButtonRestart:
		fn = p.actions.OnRestart
	}
	if fn == nil {
		return
	}
	logger.WithComponent("controls").Info().Str("button", string(b)).Msg("Control button pressed")
	go fn()
}

// HandlePointer processes a pointer event in screen coordinates. It
// reports whether the panel consumed the event.
func (p *Panel) HandlePointer(ctx context.Context, ev window.PointerEvent) bool {
	p.mu.Lock()
	if !p.attached {
		p.mu.Unlock()
		return false
	}

	now := ev.Time
	if now.IsZero() {
		now = time.Now()
	}

	switch ev.Phase {
	case window.PhaseDown:
		if p.inHandleLocked(ev.X, ev.Y) {
			p.dragging = true
			p.initialX, p.initialY = p.x, p.y
			p.initialTouch = [2]float64{ev.X, ev.Y}
			p.mu.Unlock()
			return true
		}
		if b, ok := p.buttonAtLocked(ev.X, ev.Y); ok {
			p.pressed = b
			p.mu.Unlock()
			return true
		}
		p.mu.Unlock()
		return false

	case window.PhaseMove:
		if !p.dragging {
			consumed := p.pressed != ""
			p.mu.Unlock()
			return consumed
		}
		dx := ev.X - p.initialTouch[0]
		dy := ev.Y - p.initialTouch[1]
		// The panel is anchored to the right edge, so x grows leftwards
		p.x = p.initialX - int(dx)
		p.y = p.initialY + int(dy)
		if err := p.pushLocked(ctx); err != nil {
			logger.WithComponent("controls").Debug().Err(err).Msg("Failed to move control panel")
		}
		p.mu.Unlock()
		return true

	case window.PhaseUp:
		if p.dragging {
			p.dragging = false
			dx := ev.X - p.initialTouch[0]
			dy := ev.Y - p.initialTouch[1]
			if math.Abs(dx) < p.opts.TapSlop && math.Abs(dy) < p.opts.TapSlop {
				p.tapLocked(ctx, now)
			}
			p.mu.Unlock()
			return true
		}
		if p.pressed != "" {
			pressed := p.pressed
			p.pressed = ""
			b, ok := p.buttonAtLocked(ev.X, ev.Y)
			p.mu.Unlock()
			if ok && b == pressed {
				p.fire(b)
			}
			return true
		}
		p.mu.Unlock()
		return false

	default:
		consumed := p.dragging || p.pressed != ""
		p.dragging = false
		p.pressed = ""
		p.mu.Unlock()
		return consumed
	}
}

func (p *Panel) tapLocked(ctx context.Context, now time.Time) {
	log := logger.WithComponent("controls")

	if !p.lastTap.IsZero() && now.Sub(p.lastTap) < p.opts.DoubleTapWindow {
		p.hidden = !p.hidden
		p.expanded = false
		log.Debug().Bool("hidden", p.hidden).Msg("Double tap on control panel")
	} else {
		p.expanded = !p.expanded
		log.Debug().Bool("expanded", p.expanded).Msg("Tap on control panel")
	}
	p.lastTap = now

	if err := p.pushLocked(ctx); err != nil {
		log.Debug().Err(err).Msg("Failed to update control panel")
	}
}

// shownButtonsLocked lists the buttons on screen, none unless the panel is
// attached, expanded and not hidden
func (p *Panel) shownButtonsLocked() []Button {
	if !p.attached || !p.expanded || p.hidden {
		return nil
	}
	return p.buttonsLocked()
}

// buttonsLocked lists the expanded panel's buttons left to right
func (p *Panel) buttonsLocked() []Button {
	toggle := ButtonPause
	if p.paused {
		toggle = ButtonResume
	}
	return []Button{ButtonStop, toggle, ButtonRestart}
}

func (p *Panel) widthLocked() int {
	if !p.expanded {
		return p.opts.HandleSize
	}
	return p.opts.HandleSize + len(p.buttonsLocked())*p.opts.ButtonSize
}

// boundsLocked returns the panel rectangle in screen coordinates
func (p *Panel) boundsLocked() (left, top, right, bottom float64) {
	right = float64(p.opts.ScreenWidth - p.x)
	left = right - float64(p.widthLocked())
	top = float64(p.y)
	bottom = top + float64(p.opts.HandleSize)
	return left, top, right, bottom
}

func (p *Panel) inHandleLocked(x, y float64) bool {
	_, top, right, bottom := p.boundsLocked()
	return x >= right-float64(p.opts.HandleSize) && x < right && y >= top && y < bottom
}

func (p *Panel) buttonAtLocked(x, y float64) (Button, bool) {
	if !p.expanded || p.hidden {
		return "", false
	}
	left, top, _, bottom := p.boundsLocked()
	if y < top || y >= bottom || x < left {
		return "", false
	}
	i := int((x - left) / float64(p.opts.ButtonSize))
	buttons := p.buttonsLocked()
	if i < 0 || i >= len(buttons) {
		return "", false
	}
	return buttons[i], true
}

func (p *Panel) descriptorLocked() window.Descriptor {
	d := window.Descriptor{
		Geometry: window.Geometry{
			X:      p.x,
			Y:      p.y,
			Width:  p.widthLocked(),
			Height: p.opts.HandleSize,
		},
		Gravity: window.GravityTopEnd,
		Flags:   window.FlagNotFocusable | window.FlagLayoutInScreen,
		// Hidden panels stay mapped so a double tap can bring them back
		Visible: true,
	}
	p.style.Apply(&d)
	if p.hidden {
		for k, v := range d.Tints {
			d.Tints[k] = v & 0x00FFFFFF
		}
	}
	return d
}

func (p *Panel) pushLocked(ctx context.Context) error {
	next := p.descriptorLocked()
	return p.registry.Update(ctx, window.ControlPanel, func(d *window.Descriptor) {
		*d = next
	})
}
