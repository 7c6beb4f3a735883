// Package session owns the recording state machine. It drives the capture
// engine and creates and destroys the overlay surfaces as the recording
// moves between states, and routes every stop path through one teardown.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/OverlayRecorder/internal/capture"
	"github.com/bryanchriswhite/OverlayRecorder/internal/controls"
	"github.com/bryanchriswhite/OverlayRecorder/internal/drawing"
	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
	"github.com/bryanchriswhite/OverlayRecorder/internal/loop"
	"github.com/bryanchriswhite/OverlayRecorder/internal/overlay"
	"github.com/bryanchriswhite/OverlayRecorder/internal/touch"
	"github.com/bryanchriswhite/OverlayRecorder/internal/window"
)

// State is the recording state
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateActive
	StatePaused
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Recording reports whether overlays may exist in s
func (s State) Recording() bool {
	return s == StateActive || s == StatePaused
}

// Outbound event tags
const (
	EventRecordingStarted  = "RECORDING_STARTED"
	EventRecordingStopped  = "RECORDING_STOPPED"
	EventRestartRequested  = "RECORDING_RESTART_REQUESTED"
	EventOverlayAttachFail = "OVERLAY_ATTACH_FAILED"
)

// Emitter delivers events to the host
type Emitter interface {
	Emit(event string)
}

// Deps are the collaborators a Controller drives
type Deps struct {
	Registry *window.Registry
	Loop     *loop.Loop
	Engine   capture.Engine
	Gate     capture.Gate
	Styles   *overlay.Manager
	Events   Emitter
}

// Options configure the controller and the overlays it owns
type Options struct {
	Controls controls.Options
	Touch    touch.Options
	Drawing  drawing.Options

	// StopGrace is how long stopSession waits before checking the file
	StopGrace time.Duration
	// StopTimeout bounds stops that no caller is waiting on
	StopTimeout time.Duration
	// TeardownTimeout bounds overlay cleanup
	TeardownTimeout time.Duration
}

// DefaultOptions returns the stock overlay options and timings
func DefaultOptions() Options {
	return Options{
		Controls:        controls.DefaultOptions(),
		Touch:           touch.DefaultOptions(),
		Drawing:         drawing.DefaultOptions(),
		StopGrace:       500 * time.Millisecond,
		StopTimeout:     10 * time.Second,
		TeardownTimeout: 5 * time.Second,
	}
}

// Status is a snapshot of the controller
type Status struct {
	State     State          `json:"state"`
	SessionID string         `json:"session_id,omitempty"`
	Path      string         `json:"path,omitempty"`
	Backend   string         `json:"backend"`
	Granted   bool           `json:"granted"`
	Panel     controls.State `json:"panel"`
	Markers   int            `json:"markers"`
	Drawing   bool           `json:"drawing"`
}

// String renders the status as JSON
func (s Status) String() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Controller is the session orchestrator
type Controller struct {
	deps Deps
	opts Options

	panel   *controls.Panel
	touches *touch.Pool
	drawing *drawing.Surface

	// transition serializes start, pause, resume, stop and restart
	transition sync.Mutex

	mu        sync.Mutex
	state     State
	sessionID string
	output    capture.Output
	tornDown  bool
}

// NewController wires the overlays to the engine and gate
func NewController(deps Deps, opts Options) *Controller {
	c := &Controller{
		deps:     deps,
		opts:     opts,
		tornDown: true,
	}

	c.panel = controls.NewPanel(deps.Registry, deps.Styles, controls.Actions{
		OnStop:    func() { c.overlayAction("stop", c.stopFromOverlay) },
		OnPause:   func() { c.overlayAction("pause", c.Pause) },
		OnResume:  func() { c.overlayAction("resume", c.Resume) },
		OnRestart: func() { c.overlayAction("restart", c.restartFromOverlay) },
	}, opts.Controls)
	c.touches = touch.NewPool(deps.Registry, deps.Loop, opts.Touch)
	c.drawing = drawing.NewSurface(deps.Registry, opts.Drawing)

	deps.Engine.OnStopped(func(err error) {
		id := c.SessionID()
		go c.externalStop(id, fmt.Sprintf("capture stopped: %v", err))
	})
	deps.Gate.OnRevoked(func() {
		id := c.SessionID()
		go c.externalStop(id, "capture permission revoked")
	})

	return c
}

func (c *Controller) log() *zerolog.Logger {
	return logger.WithSession("session", c.SessionID())
}

// Panel returns the floating control surface
func (c *Controller) Panel() *controls.Panel {
	return c.panel
}

// Touches returns the touch indicator pool
func (c *Controller) Touches() *touch.Pool {
	return c.touches
}

// Drawing returns the drawing surface
func (c *Controller) Drawing() *drawing.Surface {
	return c.drawing
}

// State returns the current recording state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the current or last session
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Status returns a snapshot for the host
func (c *Controller) Status() Status {
	c.mu.Lock()
	s := Status{
		State:     c.state,
		SessionID: c.sessionID,
		Path:      c.output.Path,
	}
	c.mu.Unlock()

	s.Backend = c.deps.Engine.Name()
	s.Granted = c.deps.Gate.Granted()
	s.Panel = c.panel.State()
	s.Markers = len(c.touches.Markers())
	s.Drawing = c.drawing.Visible()
	return s
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	id := c.sessionID
	c.mu.Unlock()

	if prev != s {
		logger.WithSession("session", id).Info().Str("from", prev.String()).Str("state", s.String()).Msg("Session state changed")
	}
}

func (c *Controller) emit(event string) {
	if c.deps.Events != nil {
		c.deps.Events.Emit(event)
	}
}

// Prepare asks the gate for capture permission
func (c *Controller) Prepare(ctx context.Context) error {
	granted, err := c.deps.Gate.Prepare(ctx)
	if err != nil {
		return &Error{Kind: PermissionDenied, Op: "prepare", Err: err}
	}
	if !granted {
		return &Error{Kind: PermissionDenied, Op: "prepare"}
	}
	logger.WithComponent("session").Info().Msg("Capture permission granted")
	return nil
}

// Start begins a recording from Idle and attaches the control panel, plus
// the touch detector when p.ShowTouches is set. Overlay failures are
// reported but do not fail the recording.
func (c *Controller) Start(ctx context.Context, p capture.Params) (capture.Output, error) {
	c.transition.Lock()
	defer c.transition.Unlock()

	if st := c.State(); st != StateIdle {
		return capture.Output{}, fmt.Errorf("start from %s: %w", st, ErrInvalidState)
	}
	if !c.deps.Gate.Granted() {
		return capture.Output{}, &Error{Kind: PermissionMissing, Op: "start"}
	}

	c.mu.Lock()
	c.sessionID = uuid.NewString()
	c.output = capture.Output{}
	c.tornDown = false
	c.mu.Unlock()
	c.setState(StatePreparing)

	log := c.log()
	out, err := c.deps.Engine.Start(ctx, p)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start capture")
		if terr := c.teardown(ctx); terr != nil {
			log.Warn().Err(terr).Msg("Teardown after failed start was incomplete")
		}
		c.setState(StateIdle)
		return capture.Output{}, &Error{Kind: CaptureStartFailed, Op: "start", Err: err}
	}

	c.mu.Lock()
	c.output = out
	c.mu.Unlock()
	c.setState(StateActive)
	c.emit(EventRecordingStarted + ":" + out.Path)

	if err := c.deps.Loop.Do(ctx, func() error { return c.panel.Attach(ctx) }); err != nil {
		c.attachFailed(window.ControlPanel, err)
	}
	if p.ShowTouches {
		err := c.deps.Loop.Do(ctx, func() error {
			c.touches.SetEnabled(true)
			return c.touches.Setup(ctx)
		})
		if err != nil {
			c.attachFailed(window.TouchDetector, err)
		}
	}

	log.Info().
		Str("path", out.Path).
		Bool("audio", p.RecordAudio).
		Bool("touches", p.ShowTouches).
		Str("quality", p.VideoQuality).
		Msg("Recording session started")
	return out, nil
}

func (c *Controller) attachFailed(id window.ID, err error) {
	err = &Error{Kind: SurfaceAttachFailed, Op: "attach " + string(id), Err: err}
	c.log().Warn().Err(err).Str("surface", string(id)).Msg("Overlay unavailable, recording continues without it")
	c.emit(EventOverlayAttachFail + ":" + string(id))
}

// Pause suspends an active recording and swaps the panel to show resume
func (c *Controller) Pause(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	if st := c.State(); st != StateActive {
		return fmt.Errorf("pause from %s: %w", st, ErrInvalidState)
	}
	if err := c.deps.Engine.Pause(ctx); err != nil {
		return fmt.Errorf("failed to pause capture: %w", err)
	}
	c.setState(StatePaused)
	c.syncPanel(ctx, true)
	return nil
}

// Resume continues a paused recording and swaps the panel to show pause
func (c *Controller) Resume(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	if st := c.State(); st != StatePaused {
		return fmt.Errorf("resume from %s: %w", st, ErrInvalidState)
	}
	if err := c.deps.Engine.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume capture: %w", err)
	}
	c.setState(StateActive)
	c.syncPanel(ctx, false)
	return nil
}

func (c *Controller) syncPanel(ctx context.Context, paused bool) {
	if err := c.deps.Loop.Do(ctx, func() error { return c.panel.SetPaused(ctx, paused) }); err != nil {
		c.log().Warn().Err(err).Bool("paused", paused).Msg("Failed to update control panel")
	}
}

// Stop ends the recording, tears down every overlay and emits
// RECORDING_STOPPED. A capture stop failure is returned after teardown.
func (c *Controller) Stop(ctx context.Context) (capture.Output, error) {
	c.transition.Lock()
	defer c.transition.Unlock()

	out, err := c.stopLocked(ctx)
	if errors.Is(err, ErrNotRecording) {
		return out, err
	}
	c.emit(EventRecordingStopped + ":" + out.Path)
	return out, err
}

// StopSession stops the recording and then, after the stop grace period,
// checks that the file exists and is not empty
func (c *Controller) StopSession(ctx context.Context) (capture.Output, error) {
	out, err := c.Stop(ctx)
	if err != nil {
		return out, err
	}
	return out, c.verify(ctx, out.Path)
}

// Restart stops the recording and asks the host to start a new one
func (c *Controller) Restart(ctx context.Context) (capture.Output, error) {
	c.transition.Lock()
	defer c.transition.Unlock()

	out, err := c.stopLocked(ctx)
	if errors.Is(err, ErrNotRecording) {
		return out, err
	}
	c.emit(EventRestartRequested)
	return out, err
}

func (c *Controller) stopLocked(ctx context.Context) (capture.Output, error) {
	st := c.State()
	if !st.Recording() {
		return capture.Output{}, fmt.Errorf("stop from %s: %w", st, ErrNotRecording)
	}

	log := c.log()
	c.setState(StateStopping)

	out, stopErr := c.deps.Engine.Stop(ctx)
	if stopErr != nil {
		log.Error().Err(stopErr).Msg("Failed to stop capture cleanly")
		c.mu.Lock()
		out = c.output
		c.mu.Unlock()
	}

	if err := c.teardown(ctx); err != nil {
		log.Warn().Err(err).Msg("Teardown was incomplete")
	}
	c.setState(StateIdle)

	if stopErr != nil {
		return out, &Error{Kind: CaptureStopFailed, Op: "stop", Err: stopErr}
	}
	log.Info().Str("path", out.Path).Dur("duration", out.Duration).Msg("Recording session stopped")
	return out, nil
}

// teardown releases every overlay and capture resource held by the
// session. Each step runs even if an earlier one failed. It runs at most
// once per session.
func (c *Controller) teardown(ctx context.Context) error {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return nil
	}
	c.tornDown = true
	c.mu.Unlock()

	// Cleanup must finish even when the caller's context already expired
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.TeardownTimeout)
	defer cancel()

	log := c.log()
	var errs []error
	step := func(name string, err error) {
		if err != nil {
			log.Warn().Err(err).Str("step", name).Msg("Teardown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("detach control panel", c.deps.Loop.Do(ctx, func() error {
		return c.panel.Detach(ctx)
	}))
	step("remove touch indicators", c.deps.Loop.Do(ctx, func() error {
		c.touches.SetEnabled(false)
		return errors.Join(c.touches.ClearAll(ctx), c.touches.RemoveOverlay(ctx))
	}))
	step("hide drawing", c.deps.Loop.Do(ctx, func() error {
		return c.drawing.Hide(ctx)
	}))
	step("release capture", c.deps.Engine.Release())
	step("release permission", c.deps.Gate.Release())

	log.Debug().Int("failed_steps", len(errs)).Msg("Session torn down")
	return errors.Join(errs...)
}

// verify waits StopGrace on the loop's timer and then checks the output
func (c *Controller) verify(ctx context.Context, path string) error {
	result := make(chan error, 1)
	cancel := c.deps.Loop.AfterFunc(c.opts.StopGrace, func() {
		result <- verifyOutput(path)
	})

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &Error{Kind: OutputVerificationFailed, Op: "stop", Err: err}
	}
	if info.Size() == 0 {
		return &Error{Kind: OutputVerificationFailed, Op: "stop", Err: fmt.Errorf("%s is empty", path)}
	}
	return nil
}

// externalStop handles stops nobody asked for, such as the recorder dying
// or the permission being revoked. It waits behind any transition in
// flight and is ignored once the session it was raised for has ended.
func (c *Controller) externalStop(sessionID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
	defer cancel()

	c.transition.Lock()
	defer c.transition.Unlock()

	log := logger.WithSession("session", sessionID)
	if c.SessionID() != sessionID || !c.State().Recording() {
		log.Debug().Str("reason", reason).Msg("Ignoring stop for a finished session")
		return
	}

	log.Warn().Str("reason", reason).Msg("Recording stopped externally")
	out, err := c.stopLocked(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("External stop failed")
	}
	c.emit(EventRecordingStopped + ":" + out.Path)
}

func (c *Controller) stopFromOverlay(ctx context.Context) error {
	_, err := c.Stop(ctx)
	return err
}

func (c *Controller) restartFromOverlay(ctx context.Context) error {
	_, err := c.Restart(ctx)
	return err
}

func (c *Controller) overlayAction(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		c.log().Warn().Err(err).Str("action", name).Msg("Control panel action failed")
	}
}

// UpdateOverlayStyle stores the style and re-tints the live panel
func (c *Controller) UpdateOverlayStyle(ctx context.Context, u overlay.StyleUpdate) (overlay.Style, error) {
	s := u.Resolve()
	err := c.deps.Loop.Do(ctx, func() error {
		c.deps.Styles.Set(s)
		return nil
	})
	return s, err
}

// ShowDrawing attaches the drawing canvas and toolbar
func (c *Controller) ShowDrawing(ctx context.Context) error {
	return c.deps.Loop.Do(ctx, func() error { return c.drawing.Show(ctx) })
}

// HideDrawing detaches the drawing canvas and toolbar
func (c *Controller) HideDrawing(ctx context.Context) error {
	return c.deps.Loop.Do(ctx, func() error { return c.drawing.Hide(ctx) })
}

// SetDrawingEnabled switches the canvas between drawing and letting
// touches pass through to the windows beneath
func (c *Controller) SetDrawingEnabled(ctx context.Context, enabled bool) error {
	return c.deps.Loop.Do(ctx, func() error { return c.drawing.SetEnabled(ctx, enabled) })
}

// SetDrawingColor sets the color of future strokes
func (c *Controller) SetDrawingColor(ctx context.Context, col overlay.Color) error {
	return c.deps.Loop.Do(ctx, func() error {
		c.drawing.SetColor(col)
		return nil
	})
}

// SetDrawingWidth sets the width of future strokes
func (c *Controller) SetDrawingWidth(ctx context.Context, w float64) error {
	return c.deps.Loop.Do(ctx, func() error { return c.drawing.SetWidth(w) })
}

// UndoDrawing removes the most recent stroke
func (c *Controller) UndoDrawing(ctx context.Context) (bool, error) {
	var undone bool
	err := c.deps.Loop.Do(ctx, func() error {
		undone = c.drawing.Undo()
		return nil
	})
	return undone, err
}

// ClearDrawing removes every stroke
func (c *Controller) ClearDrawing(ctx context.Context) error {
	return c.deps.Loop.Do(ctx, func() error {
		c.drawing.Clear()
		return nil
	})
}

// Close stops any recording, tears the overlays down and leaves the
// controller idle
func (c *Controller) Close(ctx context.Context) error {
	if c.State().Recording() {
		if _, err := c.Stop(ctx); err != nil && !errors.Is(err, ErrNotRecording) {
			return err
		}
	}
	return c.HideDrawing(ctx)
}
