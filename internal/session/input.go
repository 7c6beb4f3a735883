package session

import (
	"context"

	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
	"github.com/bryanchriswhite/OverlayRecorder/internal/window"
)

// DeliverInput routes ev on the loop and reports whether an overlay
// consumed it
func (c *Controller) DeliverInput(ctx context.Context, ev window.PointerEvent) (bool, error) {
	var consumed bool
	err := c.deps.Loop.Do(ctx, func() error {
		consumed = c.dispatch(ctx, ev)
		return nil
	})
	return consumed, err
}

// RunInput forwards compositor input to the overlays until ctx ends or
// src closes
func (c *Controller) RunInput(ctx context.Context, src window.InputSource) {
	log := logger.WithComponent("input")
	events := src.Input()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.deps.Loop.Post(func() { c.dispatch(ctx, ev) }); err != nil {
				log.Debug().Err(err).Msg("Dropping input, loop closed")
				return
			}
		}
	}
}

// dispatch must run on the loop. Events addressed to a surface go to its
// owner; unaddressed events are offered top-down: control panel, drawing
// toolbar, drawing canvas. The touch detector observes either way.
func (c *Controller) dispatch(ctx context.Context, ev window.PointerEvent) bool {
	logger.WithComponent("input").Debug().
		Str("surface", string(ev.Surface)).
		Str("phase", ev.Phase.String()).
		Float64("x", ev.X).
		Float64("y", ev.Y).
		Msg("Pointer event")

	switch ev.Surface {
	case window.ControlPanel:
		return c.panel.HandlePointer(ctx, ev)
	case window.DrawingToolbar:
		return c.drawing.HandleToolbar(ctx, ev)
	case window.DrawingCanvas:
		return c.drawing.HandleTouch(ev)
	case window.TouchDetector:
		return c.touches.HandleTouch(ctx, ev)
	case "":
	default:
		return false
	}

	c.touches.HandleTouch(ctx, ev)
	if c.panel.HandlePointer(ctx, ev) {
		return true
	}
	if c.drawing.HandleToolbar(ctx, ev) {
		return true
	}
	return c.drawing.HandleTouch(ev)
}
