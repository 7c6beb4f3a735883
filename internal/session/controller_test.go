package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/OverlayRecorder/internal/capture"
	"github.com/bryanchriswhite/OverlayRecorder/internal/controls"
	"github.com/bryanchriswhite/OverlayRecorder/internal/loop"
	"github.com/bryanchriswhite/OverlayRecorder/internal/overlay"
	"github.com/bryanchriswhite/OverlayRecorder/internal/window"
)

type fakeEngine struct {
	dir string

	mu        sync.Mutex
	running   bool
	paused    bool
	starts    int
	stops     int
	releases  int
	startErr  error
	stopErr   error
	writeFile bool
	startGate chan struct{}
	onStopped func(error)
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Start(ctx context.Context, p capture.Params) (capture.Output, error) {
	e.mu.Lock()
	gate := e.startGate
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	if e.startErr != nil {
		return capture.Output{}, e.startErr
	}
	e.running = true
	out := capture.Output{Path: capture.OutputPath(e.dir, p.FileName), StartedAt: time.Now()}
	if e.writeFile {
		if err := os.WriteFile(out.Path, []byte("mp4"), 0644); err != nil {
			return capture.Output{}, err
		}
	}
	return out, nil
}

func (e *fakeEngine) Pause(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	return nil
}

func (e *fakeEngine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	return nil
}

func (e *fakeEngine) Stop(ctx context.Context) (capture.Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	if !e.running {
		return capture.Output{}, capture.ErrNotRunning
	}
	e.running = false
	if e.stopErr != nil {
		return capture.Output{}, e.stopErr
	}
	return capture.Output{Path: filepath.Join(e.dir, "demo.mp4"), Duration: time.Second}, nil
}

func (e *fakeEngine) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releases++
	e.running = false
	return nil
}

func (e *fakeEngine) OnStopped(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStopped = fn
}

func (e *fakeEngine) die() {
	e.mu.Lock()
	e.running = false
	fn := e.onStopped
	e.mu.Unlock()
	fn(errors.New("recorder exited"))
}

func (e *fakeEngine) counts() (starts, stops, releases int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.stops, e.releases
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Emit(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// rejectingCompositor refuses to add the listed surfaces
type rejectingCompositor struct {
	*window.MemoryCompositor
	reject map[window.ID]bool
}

func (r *rejectingCompositor) Add(id window.ID, d window.Descriptor) (window.NativeWindow, error) {
	if r.reject[id] {
		return 0, errors.New("permission to draw over apps denied")
	}
	return r.MemoryCompositor.Add(id, d)
}

type harness struct {
	ctrl   *Controller
	engine *fakeEngine
	gate   *capture.StaticGate
	mem    *window.MemoryCompositor
	reg    *window.Registry
	events *recorder
}

func newHarness(t *testing.T, reject ...window.ID) *harness {
	t.Helper()

	mem := window.NewMemoryCompositor()
	var comp window.Compositor = mem
	if len(reject) > 0 {
		rc := &rejectingCompositor{MemoryCompositor: mem, reject: map[window.ID]bool{}}
		for _, id := range reject {
			rc.reject[id] = true
		}
		comp = rc
	}

	l := loop.New(0)
	t.Cleanup(l.Close)

	h := &harness{
		engine: &fakeEngine{dir: t.TempDir(), writeFile: true},
		gate:   capture.NewStaticGate(),
		mem:    mem,
		reg:    window.NewRegistry(comp),
		events: &recorder{},
	}
	opts := DefaultOptions()
	opts.StopGrace = 20 * time.Millisecond
	opts.Touch.TTL = time.Hour
	h.ctrl = NewController(Deps{
		Registry: h.reg,
		Loop:     l,
		Engine:   h.engine,
		Gate:     h.gate,
		Styles:   overlay.NewManager(overlay.DefaultStyle()),
		Events:   h.events,
	}, opts)
	return h
}

func (h *harness) start(t *testing.T, p capture.Params) capture.Output {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.ctrl.Prepare(ctx))
	out, err := h.ctrl.Start(ctx, p)
	require.NoError(t, err)
	return out
}

func (h *harness) live(id window.ID) bool {
	_, ok := h.reg.Lookup(id)
	return ok
}

func handleCenter(h *harness) (float64, float64) {
	o := h.ctrl.opts.Controls
	s := h.ctrl.Panel().State()
	return float64(o.ScreenWidth-s.X) - float64(o.HandleSize)/2, float64(s.Y) + float64(o.HandleSize)/2
}

func TestEndToEndRecording(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := h.start(t, capture.Params{FileName: "demo", RecordAudio: true, ShowTouches: true})
	assert.Equal(t, StateActive, h.ctrl.State())
	assert.True(t, h.live(window.ControlPanel))
	assert.True(t, h.live(window.TouchDetector))
	assert.NotEmpty(t, h.ctrl.SessionID())

	require.NoError(t, h.ctrl.Pause(ctx))
	assert.Equal(t, StatePaused, h.ctrl.State())
	assert.True(t, h.ctrl.Panel().State().Paused)

	// A touch spawns a marker and a drawing is shown mid-session
	_, err := h.ctrl.DeliverInput(ctx, window.PointerEvent{Surface: window.TouchDetector, Phase: window.PhaseDown, X: 300, Y: 300})
	require.NoError(t, err)
	require.NoError(t, h.ctrl.ShowDrawing(ctx))
	assert.Len(t, h.ctrl.Touches().Markers(), 1)

	stopped, err := h.ctrl.StopSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, out.Path, stopped.Path)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Zero(t, h.reg.Count(), "surfaces left behind: %v", h.reg.Live())
	assert.Empty(t, h.ctrl.Touches().Markers())
	assert.False(t, h.ctrl.Drawing().Visible())

	assert.Equal(t, []string{
		EventRecordingStarted + ":" + out.Path,
		EventRecordingStopped + ":" + out.Path,
	}, h.events.all())
}

func TestPauseResumeSwapsButtons(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t, capture.Params{FileName: "demo"})

	x, y := handleCenter(h)
	now := time.Now()
	_, err := h.ctrl.DeliverInput(ctx, window.PointerEvent{Phase: window.PhaseDown, X: x, Y: y, Time: now})
	require.NoError(t, err)
	_, err = h.ctrl.DeliverInput(ctx, window.PointerEvent{Phase: window.PhaseUp, X: x, Y: y, Time: now.Add(40 * time.Millisecond)})
	require.NoError(t, err)
	before := h.ctrl.Panel().State().Buttons
	require.Contains(t, before, controls.ButtonPause)

	require.NoError(t, h.ctrl.Pause(ctx))
	paused := h.ctrl.Panel().State().Buttons
	assert.Contains(t, paused, controls.ButtonResume)
	assert.NotContains(t, paused, controls.ButtonPause)

	require.NoError(t, h.ctrl.Resume(ctx))
	assert.Equal(t, StateActive, h.ctrl.State())
	assert.Equal(t, before, h.ctrl.Panel().State().Buttons)

	assert.ErrorIs(t, h.ctrl.Resume(ctx), ErrInvalidState)
}

func TestStopTwiceTearsDownOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t, capture.Params{FileName: "demo", ShowTouches: true})
	_, _, removesBefore := h.mem.Stats()

	_, err := h.ctrl.Stop(ctx)
	require.NoError(t, err)

	// The recorder's own stop callback arriving late changes nothing
	h.engine.die()
	_, err = h.ctrl.Stop(ctx)
	assert.ErrorIs(t, err, ErrNotRecording)

	time.Sleep(20 * time.Millisecond)
	_, stops, releases := h.engine.counts()
	_, _, removes := h.mem.Stats()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, releases)
	assert.Equal(t, removesBefore+2, removes)
	assert.Len(t, h.events.all(), 2)
}

func TestStartRequiresPermission(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Start(context.Background(), capture.Params{})
	assert.ErrorIs(t, err, ErrPermissionMissing)
	assert.Equal(t, StateIdle, h.ctrl.State())

	// Each session gives its grant back on teardown
	h.start(t, capture.Params{})
	_, err = h.ctrl.Stop(context.Background())
	require.NoError(t, err)
	assert.False(t, h.gate.Granted())
}

func TestStartFailureTearsDown(t *testing.T) {
	h := newHarness(t)
	h.engine.startErr = errors.New("no encoder")

	require.NoError(t, h.ctrl.Prepare(context.Background()))
	_, err := h.ctrl.Start(context.Background(), capture.Params{ShowTouches: true})
	assert.ErrorIs(t, err, ErrCaptureStartFailed)
	assert.Equal(t, CaptureStartFailed, KindOf(err))
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Zero(t, h.reg.Count())
	assert.Empty(t, h.events.all())

	starts, _, releases := h.engine.counts()
	assert.Equal(t, 1, starts, "start failures are not retried")
	assert.Equal(t, 1, releases)
}

func TestStopWaitsForStartInFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Prepare(ctx))

	gate := make(chan struct{})
	h.engine.startGate = gate

	started := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Start(ctx, capture.Params{FileName: "demo"})
		started <- err
	}()
	require.Eventually(t, func() bool { return h.ctrl.State() == StatePreparing }, time.Second, time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Stop(ctx)
		stopped <- err
	}()

	select {
	case <-stopped:
		t.Fatal("stop ran while start was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-started)
	require.NoError(t, <-stopped)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Zero(t, h.reg.Count())
}

func TestRestartEmitsRestartRequested(t *testing.T) {
	h := newHarness(t)
	h.start(t, capture.Params{FileName: "demo"})

	_, err := h.ctrl.Restart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, h.ctrl.State())

	events := h.events.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventRestartRequested, events[1])
}

func TestStopFailureStillTearsDown(t *testing.T) {
	h := newHarness(t)
	h.engine.stopErr = errors.New("muxer failed")
	out := h.start(t, capture.Params{FileName: "demo", ShowTouches: true})

	stopped, err := h.ctrl.Stop(context.Background())
	assert.ErrorIs(t, err, ErrCaptureStopFailed)
	assert.Equal(t, out.Path, stopped.Path)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Zero(t, h.reg.Count())
}

func TestControlSurfaceFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, window.ControlPanel)
	h.start(t, capture.Params{FileName: "demo", ShowTouches: true})

	assert.Equal(t, StateActive, h.ctrl.State())
	assert.False(t, h.live(window.ControlPanel))
	assert.True(t, h.live(window.TouchDetector))
	assert.Contains(t, h.events.all(), EventOverlayAttachFail+":"+string(window.ControlPanel))

	_, err := h.ctrl.Stop(context.Background())
	require.NoError(t, err)
	assert.Zero(t, h.reg.Count())
}

func TestExternalStopConverges(t *testing.T) {
	h := newHarness(t)
	out := h.start(t, capture.Params{FileName: "demo", ShowTouches: true})

	h.gate.Revoke()

	require.Eventually(t, func() bool { return h.ctrl.State() == StateIdle }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.reg.Count())
	assert.Contains(t, h.events.all(), EventRecordingStopped+":"+out.Path)
}

func TestRecorderDeathStopsSession(t *testing.T) {
	h := newHarness(t)
	h.start(t, capture.Params{FileName: "demo"})

	h.engine.die()

	require.Eventually(t, func() bool { return h.ctrl.State() == StateIdle }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.reg.Count())
}

func TestOverlayStopButton(t *testing.T) {
	h := newHarness(t)
	h.start(t, capture.Params{FileName: "demo"})

	require.False(t, h.ctrl.Panel().Press(controls.ButtonStop), "buttons hidden while collapsed")

	x, y := handleCenter(h)
	ctx := context.Background()
	now := time.Now()
	_, _ = h.ctrl.DeliverInput(ctx, window.PointerEvent{Phase: window.PhaseDown, X: x, Y: y, Time: now})
	_, _ = h.ctrl.DeliverInput(ctx, window.PointerEvent{Phase: window.PhaseUp, X: x, Y: y, Time: now.Add(40 * time.Millisecond)})
	require.True(t, h.ctrl.Panel().Press(controls.ButtonStop))

	require.Eventually(t, func() bool { return h.ctrl.State() == StateIdle }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.reg.Count())
}

func TestStopSessionVerifiesOutput(t *testing.T) {
	h := newHarness(t)
	h.engine.writeFile = false
	h.start(t, capture.Params{FileName: "demo"})

	_, err := h.ctrl.StopSession(context.Background())
	assert.ErrorIs(t, err, ErrOutputVerificationFailed)
	assert.Equal(t, StateIdle, h.ctrl.State(), "teardown completes before verification")
}

func TestPrepareDenied(t *testing.T) {
	h := newHarness(t)
	h.ctrl.deps.Gate = denyingGate{}

	err := h.ctrl.Prepare(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestDrawingIndependentOfRecording(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.ShowDrawing(ctx))
	require.NoError(t, h.ctrl.SetDrawingColor(ctx, overlay.Blue))
	assert.Error(t, h.ctrl.SetDrawingWidth(ctx, 0))
	require.NoError(t, h.ctrl.SetDrawingWidth(ctx, 4))

	for _, ph := range []window.Phase{window.PhaseDown, window.PhaseMove, window.PhaseUp} {
		consumed, err := h.ctrl.DeliverInput(ctx, window.PointerEvent{Surface: window.DrawingCanvas, Phase: ph, X: 10, Y: 10})
		require.NoError(t, err)
		assert.True(t, consumed)
	}
	require.Len(t, h.ctrl.Drawing().Strokes(), 1)
	assert.Equal(t, overlay.Blue, h.ctrl.Drawing().Strokes()[0].Style().Color)

	undone, err := h.ctrl.UndoDrawing(ctx)
	require.NoError(t, err)
	assert.True(t, undone)
	require.NoError(t, h.ctrl.ClearDrawing(ctx))
	require.NoError(t, h.ctrl.HideDrawing(ctx))
	assert.Zero(t, h.reg.Count())
}

func TestDrawingPassThrough(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.ShowDrawing(ctx))

	require.NoError(t, h.ctrl.SetDrawingEnabled(ctx, false))
	assert.False(t, h.ctrl.Drawing().Enabled())
	d, ok := h.reg.Descriptor(window.DrawingCanvas)
	require.True(t, ok)
	assert.True(t, d.Flags.Has(window.FlagNotTouchable))

	consumed, err := h.ctrl.DeliverInput(ctx, window.PointerEvent{Surface: window.DrawingCanvas, Phase: window.PhaseDown, X: 10, Y: 10})
	require.NoError(t, err)
	assert.False(t, consumed, "disabled canvas lets touches through")

	require.NoError(t, h.ctrl.SetDrawingEnabled(ctx, true))
	d, _ = h.reg.Descriptor(window.DrawingCanvas)
	assert.False(t, d.Flags.Has(window.FlagNotTouchable))
	consumed, err = h.ctrl.DeliverInput(ctx, window.PointerEvent{Surface: window.DrawingCanvas, Phase: window.PhaseDown, X: 10, Y: 10})
	require.NoError(t, err)
	assert.True(t, consumed)
}

func TestUpdateOverlayStyleReachesLivePanel(t *testing.T) {
	h := newHarness(t)
	h.start(t, capture.Params{})

	panel := overlay.Color(0xFF00AA00)
	s, err := h.ctrl.UpdateOverlayStyle(context.Background(), overlay.StyleUpdate{PanelColor: &panel})
	require.NoError(t, err)
	assert.Equal(t, overlay.DefaultStyle().BackgroundColor, s.BackgroundColor)

	d, ok := h.reg.Descriptor(window.ControlPanel)
	require.True(t, ok)
	assert.Equal(t, uint32(panel), d.Tints[overlay.TintPanel])
}

type denyingGate struct{}

func (denyingGate) Prepare(context.Context) (bool, error) { return false, nil }
func (denyingGate) Granted() bool                         { return false }
func (denyingGate) OnRevoked(func())                      {}
func (denyingGate) Release() error                        { return nil }
