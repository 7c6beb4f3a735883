package drawing

import (
	"context"
	"fmt"

	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
	"github.com/bryanchriswhite/OverlayRecorder/internal/overlay"
	"github.com/bryanchriswhite/OverlayRecorder/internal/window"
)

// Toolbar layout
const (
	ToolbarItemSize = 40
	ToolbarHeight   = 48
	ToolbarMargin   = 100
)

// ToolKind is what a toolbar item does
type ToolKind string

const (
	ToolColor ToolKind = "color"
	ToolWidth ToolKind = "width"
	ToolUndo  ToolKind = "undo"
	ToolClear ToolKind = "clear"
	ToolClose ToolKind = "close"
)

// ToolItem is one toolbar button
type ToolItem struct {
	Name  string        `json:"name"`
	Kind  ToolKind      `json:"kind"`
	Color overlay.Color `json:"color,omitempty"`
	Width float64       `json:"width,omitempty"`
}

// Toolbar lists the toolbar buttons left to right
var Toolbar = []ToolItem{
	{Name: "red", Kind: ToolColor, Color: overlay.Red},
	{Name: "blue", Kind: ToolColor, Color: overlay.Blue},
	{Name: "green", Kind: ToolColor, Color: overlay.Green},
	{Name: "yellow", Kind: ToolColor, Color: overlay.Yellow},
	{Name: "white", Kind: ToolColor, Color: overlay.White},
	{Name: "black", Kind: ToolColor, Color: overlay.Black},
	{Name: "small", Kind: ToolWidth, Width: 5},
	{Name: "medium", Kind: ToolWidth, Width: 15},
	{Name: "large", Kind: ToolWidth, Width: 30},
	{Name: "undo", Kind: ToolUndo},
	{Name: "clear", Kind: ToolClear},
	{Name: "close", Kind: ToolClose},
}

// LookupTool finds a toolbar item by name
func LookupTool(name string) (ToolItem, bool) {
	for _, item := range Toolbar {
		if item.Name == name {
			return item, true
		}
	}
	return ToolItem{}, false
}

func toolbarWidth() int {
	return len(Toolbar) * ToolbarItemSize
}

func (s *Surface) toolbarDescriptor() window.Descriptor {
	return window.Descriptor{
		Geometry: window.Geometry{
			Y:      ToolbarMargin,
			Width:  toolbarWidth(),
			Height: ToolbarHeight,
		},
		Gravity: window.GravityBottomCenter,
		Flags:   window.FlagNotFocusable | window.FlagLayoutInScreen,
		Visible: true,
		Tints:   map[string]uint32{overlay.TintBackground: uint32(overlay.DefaultStyle().BackgroundColor)},
	}
}

// toolAt hit-tests a screen position against the toolbar
func (s *Surface) toolAt(x, y float64) (ToolItem, bool) {
	w := float64(toolbarWidth())
	left := (float64(s.opts.ScreenWidth) - w) / 2
	top := float64(s.opts.ScreenHeight - ToolbarHeight - ToolbarMargin)
	if x < left || x >= left+w || y < top || y >= top+ToolbarHeight {
		return ToolItem{}, false
	}
	return Toolbar[int((x-left)/ToolbarItemSize)], true
}

// Apply performs a toolbar action
func (s *Surface) Apply(ctx context.Context, item ToolItem) error {
	logger.WithComponent("drawing").Debug().Str("tool", item.Name).Msg("Toolbar action")

	switch item.Kind {
	case ToolColor:
		s.SetColor(item.Color)
	case ToolWidth:
		return s.SetWidth(item.Width)
	case ToolUndo:
		s.Undo()
	case ToolClear:
		s.Clear()
	case ToolClose:
		return s.Hide(ctx)
	default:
		return fmt.Errorf("unknown toolbar action %q", item.Kind)
	}
	return nil
}

// HandleToolbar processes a pointer event on the toolbar surface. Items
// activate on release.
func (s *Surface) HandleToolbar(ctx context.Context, ev window.PointerEvent) bool {
	if !s.Visible() {
		return false
	}
	item, ok := s.toolAt(ev.X, ev.Y)
	if !ok {
		return false
	}
	if ev.Phase == window.PhaseUp {
		if err := s.Apply(ctx, item); err != nil {
			logger.WithComponent("drawing").Warn().Err(err).Str("tool", item.Name).Msg("Toolbar action failed")
		}
	}
	return true
}
