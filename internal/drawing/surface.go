// Package drawing implements the annotation canvas: freehand strokes with
// an undo stack, a floating toolbar and raster or PDF output.
package drawing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
	"github.com/bryanchriswhite/OverlayRecorder/internal/overlay"
	"github.com/bryanchriswhite/OverlayRecorder/internal/window"
)

// ErrInvalidWidth is returned for non-positive stroke widths
var ErrInvalidWidth = errors.New("stroke width must be greater than zero")

// Point is a canvas position in screen pixels
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// StrokeStyle is the paint applied to a stroke
type StrokeStyle struct {
	Color overlay.Color `json:"color"`
	Width float64       `json:"width"`
}

// Stroke is a committed path. Its points and style never change.
type Stroke struct {
	points []Point
	style  StrokeStyle
}

// Points returns a copy of the stroke's points
func (s Stroke) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Style returns the style captured when the stroke was committed
func (s Stroke) Style() StrokeStyle {
	return s.style
}

// Options configure the canvas
type Options struct {
	ScreenWidth  int
	ScreenHeight int
	Style        StrokeStyle
	// OnRedraw is called after any change that alters what the canvas shows
	OnRedraw func()
}

// DefaultOptions returns a 1920x1080 canvas drawing red 10px strokes
func DefaultOptions() Options {
	return Options{
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		Style:        StrokeStyle{Color: overlay.Red, Width: 10},
	}
}

// Surface is the drawing overlay. The current style outlives individual
// show/hide cycles; strokes do not.
type Surface struct {
	registry *window.Registry
	opts     Options

	mu       sync.Mutex
	attached bool
	enabled  bool
	style    StrokeStyle
	strokes  []Stroke
	current  []Point
}

// NewSurface creates a hidden drawing surface
func NewSurface(registry *window.Registry, opts Options) *Surface {
	if opts.Style.Width <= 0 {
		opts.Style.Width = DefaultOptions().Style.Width
	}
	return &Surface{
		registry: registry,
		opts:     opts,
		enabled:  true,
		style:    opts.Style,
	}
}

// Show attaches the canvas and then the toolbar above it. Showing a
// visible surface is a no-op.
func (s *Surface) Show(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached {
		return nil
	}

	if _, err := s.registry.Attach(ctx, window.DrawingCanvas, s.canvasDescriptorLocked()); err != nil {
		return fmt.Errorf("attach drawing canvas: %w", err)
	}
	if _, err := s.registry.Attach(ctx, window.DrawingToolbar, s.toolbarDescriptor()); err != nil {
		if derr := s.registry.Detach(ctx, window.DrawingCanvas); derr != nil {
			err = errors.Join(err, derr)
		}
		return fmt.Errorf("attach drawing toolbar: %w", err)
	}

	s.attached = true
	s.strokes = nil
	s.current = nil

	logger.WithComponent("drawing").Info().Msg("Drawing overlay shown")
	return nil
}

// Hide detaches the toolbar and canvas and discards all strokes. Hiding a
// hidden surface is a no-op.
func (s *Surface) Hide(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return nil
	}
	s.attached = false
	s.strokes = nil
	s.current = nil

	err := errors.Join(
		s.registry.Detach(ctx, window.DrawingCanvas),
		s.registry.Detach(ctx, window.DrawingToolbar),
	)
	if err != nil {
		logger.WithComponent("drawing").Warn().Err(err).Msg("Failed to remove drawing overlay")
		return err
	}

	logger.WithComponent("drawing").Info().Msg("Drawing overlay hidden")
	return nil
}

// Visible reports whether the canvas is attached
func (s *Surface) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// SetEnabled controls whether the canvas intercepts touches. A disabled
// canvas lets every event reach the windows beneath it.
func (s *Surface) SetEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled == enabled {
		return nil
	}
	s.enabled = enabled
	if !enabled {
		s.current = nil
	}
	if !s.attached {
		return nil
	}
	flags := s.canvasDescriptorLocked().Flags
	return s.registry.Update(ctx, window.DrawingCanvas, func(d *window.Descriptor) {
		d.Flags = flags
	})
}

// Enabled reports whether the canvas intercepts touches
func (s *Surface) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// HandleTouch feeds one canvas event. It reports whether the event was
// consumed; false means it should pass through.
func (s *Surface) HandleTouch(ev window.PointerEvent) bool {
	s.mu.Lock()

	if !s.enabled || !s.attached {
		s.mu.Unlock()
		return false
	}

	p := Point{X: ev.X, Y: ev.Y}
	redraw := false

	switch ev.Phase {
	case window.PhaseDown:
		s.current = []Point{p}
	case window.PhaseMove:
		if s.current != nil {
			s.current = append(s.current, p)
			redraw = true
		}
	case window.PhaseUp:
		if s.current != nil {
			s.strokes = append(s.strokes, Stroke{points: s.current, style: s.style})
			s.current = nil
			redraw = true
		}
	default:
		if s.current != nil {
			s.current = nil
			redraw = true
		}
	}
	s.mu.Unlock()

	if redraw {
		s.redraw()
	}
	return true
}

// SetColor changes the color of future strokes
func (s *Surface) SetColor(c overlay.Color) {
	s.mu.Lock()
	s.style.Color = c
	s.mu.Unlock()
}

// SetWidth changes the width of future strokes
func (s *Surface) SetWidth(w float64) error {
	if !(w > 0) || math.IsInf(w, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidWidth, w)
	}
	s.mu.Lock()
	s.style.Width = w
	s.mu.Unlock()
	return nil
}

// Style returns the style future strokes will use
func (s *Surface) Style() StrokeStyle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.style
}

// Undo removes the most recent committed stroke. It reports whether a
// stroke was removed.
func (s *Surface) Undo() bool {
	s.mu.Lock()
	if len(s.strokes) == 0 {
		s.mu.Unlock()
		return false
	}
	s.strokes[len(s.strokes)-1] = Stroke{}
	s.strokes = s.strokes[:len(s.strokes)-1]
	s.mu.Unlock()

	s.redraw()
	return true
}

// Clear removes every stroke, including one in progress
func (s *Surface) Clear() {
	s.mu.Lock()
	s.strokes = nil
	s.current = nil
	s.mu.Unlock()

	s.redraw()
}

// Strokes returns the committed strokes, oldest first
func (s *Surface) Strokes() []Stroke {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Stroke, len(s.strokes))
	copy(out, s.strokes)
	return out
}

// InProgress returns a copy of the uncommitted path, or nil
func (s *Surface) InProgress() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	out := make([]Point, len(s.current))
	copy(out, s.current)
	return out
}

// layer is one stroke in render order
type layer struct {
	points []Point
	style  StrokeStyle
}

// layers returns committed strokes oldest to newest with the in-progress
// path last
func (s *Surface) layers() []layer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]layer, 0, len(s.strokes)+1)
	for _, st := range s.strokes {
		out = append(out, layer{points: st.points, style: st.style})
	}
	if len(s.current) > 0 {
		pts := make([]Point, len(s.current))
		copy(pts, s.current)
		out = append(out, layer{points: pts, style: s.style})
	}
	return out
}

func (s *Surface) redraw() {
	if s.opts.OnRedraw != nil {
		s.opts.OnRedraw()
	}
}

func (s *Surface) canvasDescriptorLocked() window.Descriptor {
	flags := window.FlagNotFocusable | window.FlagLayoutInScreen
	if !s.enabled {
		flags |= window.FlagNotTouchable
	}
	return window.Descriptor{
		Geometry: window.Geometry{Width: window.MatchParent, Height: window.MatchParent},
		Gravity:  window.GravityTopStart,
		Flags:    flags,
		Visible:  true,
		Tints:    map[string]uint32{overlay.TintBackground: uint32(overlay.Transparent)},
	}
}
