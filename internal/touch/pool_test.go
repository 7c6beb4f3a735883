package touch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/OverlayRecorder/internal/loop"
	"github.com/bryanchriswhite/OverlayRecorder/internal/window"
)

// manualScheduler fires callbacks only when told to
type manualScheduler struct {
	mu      sync.Mutex
	pending []*scheduled
}

type scheduled struct {
	f        func()
	canceled bool
}

func (s *manualScheduler) AfterFunc(_ time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &scheduled{f: f}
	s.pending = append(s.pending, e)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		was := e.canceled
		e.canceled = true
		return !was
	}
}

// fireAll runs every callback, including canceled ones, to mimic a timer
// that already fired before cancellation
func (s *manualScheduler) fireAll() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, e := range pending {
		e.f()
	}
}

func newPool(t *testing.T, sched loop.Scheduler, opts Options) (*Pool, *window.MemoryCompositor) {
	t.Helper()
	mem := window.NewMemoryCompositor()
	p := NewPool(window.NewRegistry(mem), sched, opts)
	p.SetEnabled(true)
	require.NoError(t, p.Setup(context.Background()))
	return p, mem
}

func markerCount(mem *window.MemoryCompositor) int {
	n := 0
	for id := range mem.Surfaces() {
		if id.IsTouchMarker() {
			n++
		}
	}
	return n
}

func TestDetectorObservesWithoutConsuming(t *testing.T) {
	p, mem := newPool(t, &manualScheduler{}, DefaultOptions())
	ctx := context.Background()

	d := mem.Surfaces()[window.TouchDetector]
	assert.True(t, d.Flags.Has(window.FlagNotTouchModal))
	assert.Equal(t, window.MatchParent, d.Geometry.Width)

	assert.False(t, p.HandleTouch(ctx, window.PointerEvent{Phase: window.PhaseDown, X: 100, Y: 200}))
	assert.False(t, p.HandleTouch(ctx, window.PointerEvent{Phase: window.PhaseMove, X: 110, Y: 210}))
	assert.False(t, p.HandleTouch(ctx, window.PointerEvent{Phase: window.PhaseUp, X: 110, Y: 210}))
	assert.Len(t, p.Markers(), 2)
}

func TestMarkerGeometry(t *testing.T) {
	p, mem := newPool(t, &manualScheduler{}, DefaultOptions())
	require.NoError(t, p.Show(context.Background(), 100, 200))

	markers := p.Markers()
	require.Len(t, markers, 1)
	d := mem.Surfaces()[markers[0].ID]
	assert.Equal(t, window.Geometry{X: 70, Y: 170, Width: 60, Height: 60}, d.Geometry)
	assert.True(t, d.Flags.Has(window.FlagNotTouchable))
	assert.Equal(t, uint32(0xFFFF4444), d.Tints["background"])
}

func TestDisabledPoolCreatesNoMarkers(t *testing.T) {
	p, _ := newPool(t, &manualScheduler{}, DefaultOptions())
	p.SetEnabled(false)
	p.HandleTouch(context.Background(), window.PointerEvent{Phase: window.PhaseDown, X: 1, Y: 1})
	assert.Empty(t, p.Markers())
}

func TestMarkersExpireAfterTTL(t *testing.T) {
	l := loop.New(16)
	defer l.Close()

	opts := DefaultOptions()
	opts.TTL = 50 * time.Millisecond
	p, mem := newPool(t, l, opts)

	start := time.Now()
	require.NoError(t, p.Show(context.Background(), 10, 10))
	require.Equal(t, 1, markerCount(mem))

	require.Eventually(t, func() bool { return markerCount(mem) == 0 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), opts.TTL)
	assert.Empty(t, p.Markers())
}

func TestClearAllPreventsLateExpiry(t *testing.T) {
	sched := &manualScheduler{}
	p, mem := newPool(t, sched, DefaultOptions())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Show(ctx, float64(i*10), 0))
	}
	require.NoError(t, p.ClearAll(ctx))
	assert.Equal(t, 0, markerCount(mem))

	// A marker with the same lifetime created after the clear must survive
	// the stale callbacks.
	require.NoError(t, p.Show(ctx, 5, 5))
	survivor := p.Markers()[0].ID

	sched.mu.Lock()
	stale := sched.pending[:3]
	sched.pending = sched.pending[3:]
	sched.mu.Unlock()
	for _, e := range stale {
		assert.True(t, e.canceled)
		e.f()
	}

	_, _, removes := mem.Stats()
	assert.Equal(t, 3, removes, "stale expiries must not remove anything")
	require.Len(t, p.Markers(), 1)
	assert.Equal(t, survivor, p.Markers()[0].ID)
}

func TestMarkerCapEvictsOldest(t *testing.T) {
	sched := &manualScheduler{}
	opts := DefaultOptions()
	opts.MaxMarkers = 3
	p, mem := newPool(t, sched, opts)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Show(ctx, float64(i), 0))
	}

	markers := p.Markers()
	require.Len(t, markers, 3)
	assert.Equal(t, 2.0, markers[0].X)
	assert.Equal(t, 4.0, markers[2].X)
	assert.Equal(t, 3, markerCount(mem))

	sched.fireAll()
	assert.Empty(t, p.Markers())
	assert.Equal(t, 0, markerCount(mem))
}

func TestRemoveOverlayIsIdempotent(t *testing.T) {
	p, mem := newPool(t, &manualScheduler{}, DefaultOptions())
	ctx := context.Background()

	require.NoError(t, p.RemoveOverlay(ctx))
	require.NoError(t, p.RemoveOverlay(ctx))
	assert.NotContains(t, mem.Surfaces(), window.TouchDetector)

	p.HandleTouch(ctx, window.PointerEvent{Phase: window.PhaseDown})
	assert.Empty(t, p.Markers(), "no markers without a detector")
}
