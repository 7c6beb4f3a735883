package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/bryanchriswhite/OverlayRecorder/internal/capture/pipewire"
	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
)

// Capture backends
const (
	BackendAuto     = "auto"
	BackendPipeWire = "pipewire"
	BackendFFmpeg   = "ffmpeg"
)

var _ Gate = (*pipewire.Portal)(nil)

// RouterConfig selects and configures a capture backend
type RouterConfig struct {
	Backend        string
	Display        string
	Width          int
	Height         int
	FrameRate      int
	OutputDir      string
	DefaultQuality string
}

// Router picks the capture backend for the running desktop and pairs its
// engine with the matching permission gate
type Router struct {
	cfg     RouterConfig
	backend string
	engine  Engine
	gate    Gate
	portal  *pipewire.Portal
}

// NewRouter selects a backend. With BackendAuto, Wayland sessions that have
// gst-launch-1.0 record through the ScreenCast portal and everything else
// falls back to ffmpeg x11grab.
func NewRouter(cfg RouterConfig) (*Router, error) {
	log := logger.WithComponent("capture-router")
	r := &Router{cfg: cfg}

	backend := cfg.Backend
	if backend == "" {
		backend = BackendAuto
	}

	switch backend {
	case BackendPipeWire:
		if err := r.usePipeWire(); err != nil {
			return nil, err
		}
	case BackendFFmpeg:
		if err := r.useFFmpeg(); err != nil {
			return nil, err
		}
	case BackendAuto:
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			err := r.usePipeWire()
			if err == nil {
				break
			}
			log.Warn().Err(err).Msg("PipeWire capture not available, falling back to ffmpeg")
		}
		if err := r.useFFmpeg(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown capture backend %q", backend)
	}

	log.Info().Str("backend", r.backend).Str("output_dir", cfg.OutputDir).Msg("Capture backend selected")
	return r, nil
}

func (r *Router) usePipeWire() error {
	if _, err := exec.LookPath("gst-launch-1.0"); err != nil {
		return fmt.Errorf("gst-launch-1.0 not found: %w", err)
	}
	portal, err := pipewire.NewPortal()
	if err != nil {
		return err
	}
	pipeline := pipewire.NewGStreamerPipeline(portal.NodeID, r.cfg.FrameRate)
	r.backend = BackendPipeWire
	r.portal = portal
	r.gate = portal
	r.engine = NewProcessEngine(pipeline, r.cfg.OutputDir, r.cfg.DefaultQuality)
	return nil
}

func (r *Router) useFFmpeg() error {
	pipeline := NewFFmpegPipeline(r.cfg.Display, r.cfg.Width, r.cfg.Height, r.cfg.FrameRate)
	if _, err := exec.LookPath(pipeline.Binary); err != nil {
		logger.WithComponent("capture-router").Warn().Err(err).Msg("ffmpeg not found in PATH, recordings will fail to start")
	}
	r.backend = BackendFFmpeg
	r.gate = NewStaticGate()
	r.engine = NewProcessEngine(pipeline, r.cfg.OutputDir, r.cfg.DefaultQuality)
	return nil
}

// Backend returns the selected backend name
func (r *Router) Backend() string {
	return r.backend
}

// Engine returns the recording engine
func (r *Router) Engine() Engine {
	return r.engine
}

// Gate returns the permission gate paired with the engine
func (r *Router) Gate() Gate {
	return r.gate
}

// Close stops any recording and releases the portal connection
func (r *Router) Close() error {
	_ = r.engine.Release()
	if r.portal != nil {
		return r.portal.Close()
	}
	return r.gate.Release()
}

// StaticGate grants capture after an explicit Prepare. X11 needs no
// permission dialog, but sessions still follow the prepare-then-start flow.
type StaticGate struct {
	mu        sync.Mutex
	granted   bool
	onRevoked []func()
}

// NewStaticGate returns a gate with no grant
func NewStaticGate() *StaticGate {
	return &StaticGate{}
}

// Prepare grants permission
func (g *StaticGate) Prepare(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted = true
	return true, nil
}

// Granted reports whether Prepare has run since the last release
func (g *StaticGate) Granted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.granted
}

// OnRevoked registers fn to run on Revoke
func (g *StaticGate) OnRevoked(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRevoked = append(g.onRevoked, fn)
}

// Revoke withdraws the grant and notifies watchers
func (g *StaticGate) Revoke() {
	g.mu.Lock()
	if !g.granted {
		g.mu.Unlock()
		return
	}
	g.granted = false
	callbacks := append([]func(){}, g.onRevoked...)
	g.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Release drops the grant without notifying watchers
func (g *StaticGate) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted = false
	return nil
}
