package drawing

import (
	"bytes"
	"context"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/OverlayRecorder/internal/overlay"
	"github.com/bryanchriswhite/OverlayRecorder/internal/window"
)

func newShownSurface(t *testing.T, opts Options) (*Surface, *window.MemoryCompositor) {
	t.Helper()
	mem := window.NewMemoryCompositor()
	s := NewSurface(window.NewRegistry(mem), opts)
	require.NoError(t, s.Show(context.Background()))
	return s, mem
}

func trace(s *Surface, pts ...Point) {
	for i, p := range pts {
		phase := window.PhaseMove
		if i == 0 {
			phase = window.PhaseDown
		}
		s.HandleTouch(window.PointerEvent{Phase: phase, X: p.X, Y: p.Y})
	}
	last := pts[len(pts)-1]
	s.HandleTouch(window.PointerEvent{Phase: window.PhaseUp, X: last.X, Y: last.Y})
}

func TestShowAttachesCanvasThenToolbar(t *testing.T) {
	s, mem := newShownSurface(t, DefaultOptions())

	surfaces := mem.Surfaces()
	require.Contains(t, surfaces, window.DrawingCanvas)
	require.Contains(t, surfaces, window.DrawingToolbar)
	assert.Equal(t, window.MatchParent, surfaces[window.DrawingCanvas].Geometry.Width)
	assert.Equal(t, window.GravityBottomCenter, surfaces[window.DrawingToolbar].Gravity)
	assert.Equal(t, ToolbarMargin, surfaces[window.DrawingToolbar].Geometry.Y)

	require.NoError(t, s.Show(context.Background()))
	adds, _, _ := mem.Stats()
	assert.Equal(t, 2, adds)

	require.NoError(t, s.Hide(context.Background()))
	require.NoError(t, s.Hide(context.Background()))
	assert.Empty(t, mem.Surfaces())
}

func TestStrokeCommitsSnapshotOfStyle(t *testing.T) {
	s, _ := newShownSurface(t, DefaultOptions())

	trace(s, Point{1, 1}, Point{5, 5}, Point{9, 9})
	s.SetColor(overlay.Blue)
	require.NoError(t, s.SetWidth(30))

	strokes := s.Strokes()
	require.Len(t, strokes, 1)
	assert.Equal(t, StrokeStyle{Color: overlay.Red, Width: 10}, strokes[0].Style())
	assert.Equal(t, []Point{{1, 1}, {5, 5}, {9, 9}}, strokes[0].Points())

	trace(s, Point{2, 2}, Point{3, 3})
	strokes = s.Strokes()
	require.Len(t, strokes, 2)
	assert.Equal(t, StrokeStyle{Color: overlay.Blue, Width: 30}, strokes[1].Style())
	assert.Equal(t, StrokeStyle{Color: overlay.Red, Width: 10}, strokes[0].Style())
}

func TestReturnedPointsAreCopies(t *testing.T) {
	s, _ := newShownSurface(t, DefaultOptions())
	trace(s, Point{1, 1}, Point{2, 2})

	pts := s.Strokes()[0].Points()
	pts[0] = Point{100, 100}
	assert.Equal(t, Point{1, 1}, s.Strokes()[0].Points()[0])
}

func TestUndoAndClear(t *testing.T) {
	s, _ := newShownSurface(t, DefaultOptions())

	assert.False(t, s.Undo(), "undo on empty stack")

	for i := 0; i < 5; i++ {
		trace(s, Point{float64(i), 0}, Point{float64(i), 10})
		s.SetColor(overlay.Color(0xFF000000 | uint32(i)))
	}
	require.Len(t, s.Strokes(), 5)

	for i := 0; i < 5; i++ {
		assert.True(t, s.Undo())
	}
	assert.False(t, s.Undo())
	assert.Empty(t, s.Strokes())

	trace(s, Point{0, 0}, Point{1, 1})
	s.HandleTouch(window.PointerEvent{Phase: window.PhaseDown, X: 4, Y: 4})
	s.Clear()
	assert.Empty(t, s.Strokes())
	assert.Nil(t, s.InProgress())
	assert.False(t, s.Undo(), "undo after clear")

	// The discarded path must not be committed by a late release
	s.HandleTouch(window.PointerEvent{Phase: window.PhaseUp, X: 4, Y: 4})
	assert.Empty(t, s.Strokes())
}

func TestDownDiscardsStrayPath(t *testing.T) {
	s, _ := newShownSurface(t, DefaultOptions())

	s.HandleTouch(window.PointerEvent{Phase: window.PhaseDown, X: 1, Y: 1})
	s.HandleTouch(window.PointerEvent{Phase: window.PhaseMove, X: 2, Y: 2})
	s.HandleTouch(window.PointerEvent{Phase: window.PhaseDown, X: 7, Y: 7})
	s.HandleTouch(window.PointerEvent{Phase: window.PhaseUp, X: 7, Y: 7})

	strokes := s.Strokes()
	require.Len(t, strokes, 1)
	assert.Equal(t, []Point{{7, 7}}, strokes[0].Points())
}

func TestOnlyMoveAndCommitRedraw(t *testing.T) {
	redraws := 0
	opts := DefaultOptions()
	opts.OnRedraw = func() { redraws++ }
	s, _ := newShownSurface(t, opts)

	s.HandleTouch(window.PointerEvent{Phase: window.PhaseDown, X: 1, Y: 1})
	assert.Equal(t, 0, redraws)
	s.HandleTouch(window.PointerEvent{Phase: window.PhaseMove, X: 2, Y: 2})
	assert.Equal(t, 1, redraws)
	s.HandleTouch(window.PointerEvent{Phase: window.PhaseUp, X: 2, Y: 2})
	assert.Equal(t, 2, redraws)
}

func TestDisabledSurfacePassesThrough(t *testing.T) {
	s, mem := newShownSurface(t, DefaultOptions())
	ctx := context.Background()

	require.NoError(t, s.SetEnabled(ctx, false))
	assert.True(t, mem.Surfaces()[window.DrawingCanvas].Flags.Has(window.FlagNotTouchable))
	assert.False(t, s.HandleTouch(window.PointerEvent{Phase: window.PhaseDown, X: 1, Y: 1}))
	assert.Nil(t, s.InProgress())

	require.NoError(t, s.SetEnabled(ctx, true))
	assert.False(t, mem.Surfaces()[window.DrawingCanvas].Flags.Has(window.FlagNotTouchable))
	assert.True(t, s.HandleTouch(window.PointerEvent{Phase: window.PhaseDown, X: 1, Y: 1}))
}

func TestHiddenSurfaceIgnoresTouches(t *testing.T) {
	s := NewSurface(window.NewRegistry(window.NewMemoryCompositor()), DefaultOptions())
	assert.False(t, s.HandleTouch(window.PointerEvent{Phase: window.PhaseDown}))
}

func TestStyleSurvivesHideButStrokesDoNot(t *testing.T) {
	s, _ := newShownSurface(t, DefaultOptions())
	ctx := context.Background()

	trace(s, Point{1, 1}, Point{2, 2})
	s.SetColor(overlay.Green)
	require.NoError(t, s.Hide(ctx))
	require.NoError(t, s.Show(ctx))

	assert.Empty(t, s.Strokes())
	assert.Equal(t, overlay.Green, s.Style().Color)
}

func TestSetWidthRejectsInvalid(t *testing.T) {
	s := NewSurface(window.NewRegistry(window.NewMemoryCompositor()), DefaultOptions())
	for _, w := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		assert.ErrorIs(t, s.SetWidth(w), ErrInvalidWidth)
	}
	assert.Equal(t, 10.0, s.Style().Width)
}

func TestToolbarActions(t *testing.T) {
	s, mem := newShownSurface(t, DefaultOptions())
	ctx := context.Background()

	at := func(name string) (float64, float64) {
		for i, item := range Toolbar {
			if item.Name == name {
				left := (1920.0 - float64(len(Toolbar)*ToolbarItemSize)) / 2
				return left + float64(i*ToolbarItemSize) + 5, 1080 - ToolbarHeight - ToolbarMargin + 5
			}
		}
		t.Fatalf("no tool %s", name)
		return 0, 0
	}
	press := func(name string) {
		x, y := at(name)
		assert.True(t, s.HandleToolbar(ctx, window.PointerEvent{Surface: window.DrawingToolbar, Phase: window.PhaseDown, X: x, Y: y}))
		assert.True(t, s.HandleToolbar(ctx, window.PointerEvent{Surface: window.DrawingToolbar, Phase: window.PhaseUp, X: x, Y: y}))
	}

	press("blue")
	press("large")
	assert.Equal(t, StrokeStyle{Color: overlay.Blue, Width: 30}, s.Style())

	trace(s, Point{1, 1}, Point{2, 2})
	trace(s, Point{3, 3}, Point{4, 4})
	press("undo")
	assert.Len(t, s.Strokes(), 1)
	press("clear")
	assert.Empty(t, s.Strokes())

	press("close")
	assert.False(t, s.Visible())
	assert.Empty(t, mem.Surfaces())
}

func TestRenderDrawsInProgressOnTop(t *testing.T) {
	opts := DefaultOptions()
	opts.ScreenWidth, opts.ScreenHeight = 100, 100
	s, _ := newShownSurface(t, opts)

	trace(s, Point{10, 50}, Point{90, 50})
	s.SetColor(overlay.Blue)
	s.HandleTouch(window.PointerEvent{Phase: window.PhaseDown, X: 50, Y: 10})
	s.HandleTouch(window.PointerEvent{Phase: window.PhaseMove, X: 50, Y: 90})

	img, err := s.Render()
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())

	cross := color.NRGBAModel.Convert(img.At(50, 50)).(color.NRGBA)
	assert.Greater(t, cross.B, cross.R, "in-progress stroke renders over committed ones")

	red := color.NRGBAModel.Convert(img.At(20, 50)).(color.NRGBA)
	assert.Greater(t, red.R, uint8(200))

	empty := color.NRGBAModel.Convert(img.At(5, 5)).(color.NRGBA)
	assert.Zero(t, empty.A)
}

func TestRenderedPixelsIncludeDots(t *testing.T) {
	opts := DefaultOptions()
	opts.ScreenWidth, opts.ScreenHeight = 40, 40
	s, _ := newShownSurface(t, opts)
	trace(s, Point{20, 20})

	img, err := s.Render()
	require.NoError(t, err)
	dot := color.NRGBAModel.Convert(img.At(20, 20)).(color.NRGBA)
	assert.Greater(t, dot.A, uint8(200), "single tap leaves a dot")
	assert.Greater(t, dot.R, uint8(200))
}

func TestRenderScaledAndExport(t *testing.T) {
	opts := DefaultOptions()
	opts.ScreenWidth, opts.ScreenHeight = 200, 100
	s, _ := newShownSurface(t, opts)
	trace(s, Point{10, 10}, Point{190, 90})
	trace(s, Point{50, 50})

	img, err := s.RenderScaled(0.5)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())

	_, err = s.RenderScaled(0)
	assert.Error(t, err)

	var png bytes.Buffer
	require.NoError(t, s.EncodePNG(&png, 1))
	assert.True(t, bytes.HasPrefix(png.Bytes(), []byte("\x89PNG")))

	var pdf bytes.Buffer
	require.NoError(t, s.ExportPDF(&pdf))
	assert.True(t, bytes.HasPrefix(pdf.Bytes(), []byte("%PDF-")))
}
