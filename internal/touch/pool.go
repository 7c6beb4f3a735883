// Package touch visualizes touches while recording. A full-screen
// detector observes the pointer without consuming it, and each touch
// spawns a short-lived marker surface.
package touch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
	"github.com/bryanchriswhite/OverlayRecorder/internal/loop"
	"github.com/bryanchriswhite/OverlayRecorder/internal/overlay"
	"github.com/bryanchriswhite/OverlayRecorder/internal/window"
)

// Options configure marker appearance and limits
type Options struct {
	TTL        time.Duration
	MaxMarkers int
	MarkerSize int
	Tint       overlay.Color
}

// DefaultOptions returns 60px markers that last 500ms, at most 20 at a time
func DefaultOptions() Options {
	return Options{
		TTL:        500 * time.Millisecond,
		MaxMarkers: 20,
		MarkerSize: 60,
		Tint:       0xFFFF4444,
	}
}

// Marker is a live touch indicator
type Marker struct {
	ID        window.ID     `json:"id"`
	X         float64       `json:"x"`
	Y         float64       `json:"y"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

type marker struct {
	Marker
	cancel func() bool
}

// Pool owns the detector surface and the live markers
type Pool struct {
	registry  *window.Registry
	scheduler loop.Scheduler
	opts      Options

	mu       sync.Mutex
	enabled  bool
	detector bool
	markers  []*marker
}

// NewPool creates a pool. Marker expiries are delivered through scheduler.
func NewPool(registry *window.Registry, scheduler loop.Scheduler, opts Options) *Pool {
	if opts.MaxMarkers <= 0 {
		opts.MaxMarkers = DefaultOptions().MaxMarkers
	}
	return &Pool{
		registry:  registry,
		scheduler: scheduler,
		opts:      opts,
	}
}

// SetEnabled turns marker creation on or off
func (p *Pool) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// Enabled reports whether touches spawn markers
func (p *Pool) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Setup attaches the full-screen detector surface
func (p *Pool) Setup(ctx context.Context) error {
	d := window.Descriptor{
		Geometry: window.Geometry{Width: window.MatchParent, Height: window.MatchParent},
		Gravity:  window.GravityTopStart,
		Flags:    window.FlagNotFocusable | window.FlagLayoutInScreen | window.FlagNotTouchModal,
		Visible:  true,
		Tints:    map[string]uint32{overlay.TintBackground: uint32(overlay.Transparent)},
	}
	if _, err := p.registry.Attach(ctx, window.TouchDetector, d); err != nil {
		return fmt.Errorf("attach touch detector: %w", err)
	}

	p.mu.Lock()
	p.detector = true
	p.mu.Unlock()
	return nil
}

// RemoveOverlay detaches the detector surface
func (p *Pool) RemoveOverlay(ctx context.Context) error {
	p.mu.Lock()
	p.detector = false
	p.mu.Unlock()
	return p.registry.Detach(ctx, window.TouchDetector)
}

// HandleTouch observes a detector event. Down and move events spawn a
// marker. The event is never consumed, so it always returns false.
func (p *Pool) HandleTouch(ctx context.Context, ev window.PointerEvent) bool {
	if ev.Phase != window.PhaseDown && ev.Phase != window.PhaseMove {
		return false
	}

	p.mu.Lock()
	active := p.enabled && p.detector
	p.mu.Unlock()
	if !active {
		return false
	}

	if err := p.Show(ctx, ev.X, ev.Y); err != nil {
		logger.WithComponent("touch").Debug().Err(err).Msg("Failed to show touch marker")
	}
	return false
}

// Show creates a marker centered on (x, y) that removes itself after the
// TTL. When the pool is full the oldest marker is removed first.
func (p *Pool) Show(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for len(p.markers) >= p.opts.MaxMarkers {
		oldest := p.markers[0]
		p.markers = p.markers[1:]
		oldest.cancel()
		if err := p.registry.Detach(ctx, oldest.ID); err != nil {
			errs = append(errs, err)
		}
	}

	half := p.opts.MarkerSize / 2
	id := window.TouchMarker(uuid.NewString())
	d := window.Descriptor{
		Geometry: window.Geometry{
			X:      int(x) - half,
			Y:      int(y) - half,
			Width:  p.opts.MarkerSize,
			Height: p.opts.MarkerSize,
		},
		Gravity: window.GravityTopStart,
		Flags:   window.FlagNotFocusable | window.FlagLayoutInScreen | window.FlagNotTouchable,
		Visible: true,
		Tints:   map[string]uint32{overlay.TintBackground: uint32(p.opts.Tint)},
	}
	if _, err := p.registry.Attach(ctx, id, d); err != nil {
		return errors.Join(append(errs, err)...)
	}

	m := &marker{Marker: Marker{ID: id, X: x, Y: y, CreatedAt: time.Now(), TTL: p.opts.TTL}}
	m.cancel = p.scheduler.AfterFunc(p.opts.TTL, func() { p.expire(id) })
	p.markers = append(p.markers, m)

	return errors.Join(errs...)
}

// expire removes a marker whose TTL elapsed. Markers already cleared are
// ignored.
func (p *Pool) expire(id window.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i, m := range p.markers {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	p.markers = append(p.markers[:idx], p.markers[idx+1:]...)

	if err := p.registry.Detach(context.Background(), id); err != nil {
		logger.WithComponent("touch").Debug().Err(err).Str("surface", string(id)).Msg("Failed to remove expired marker")
	}
}

// ClearAll removes every live marker and cancels pending expiries
func (p *Pool) ClearAll(ctx context.Context) error {
	p.mu.Lock()
	markers := p.markers
	p.markers = nil
	defer p.mu.Unlock()

	var errs []error
	for _, m := range markers {
		m.cancel()
		if err := p.registry.Detach(ctx, m.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(markers) > 0 {
		logger.WithComponent("touch").Debug().Int("count", len(markers)).Msg("Cleared touch markers")
	}
	return errors.Join(errs...)
}

// Markers returns the live markers, oldest first
func (p *Pool) Markers() []Marker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Marker, len(p.markers))
	for i, m := range p.markers {
		out[i] = m.Marker
	}
	return out
}
