package overlay

import "github.com/bryanchriswhite/OverlayRecorder/internal/window"

// Tint keys understood by compositors
const (
	TintBackground = "background"
	TintPanel      = "panel"
	TintIcon       = "icon"
)

// Style is the process-wide appearance of the floating controls
type Style struct {
	BackgroundColor Color `json:"backgroundColor" yaml:"background_color"`
	PanelColor      Color `json:"panelColor" yaml:"panel_color"`
	IconColor       Color `json:"iconColor" yaml:"icon_color"`
}

// DefaultStyle returns the built-in control panel appearance
func DefaultStyle() Style {
	return Style{
		BackgroundColor: 0xCC000000,
		PanelColor:      0xFF1F1F1F,
		IconColor:       White,
	}
}

// StyleUpdate carries optional fields from a host. Missing fields fall
// back to the defaults, not to the previous value.
type StyleUpdate struct {
	BackgroundColor *Color `json:"backgroundColor"`
	PanelColor      *Color `json:"panelColor"`
	IconColor       *Color `json:"iconColor"`
}

// Resolve fills missing fields from DefaultStyle
func (u StyleUpdate) Resolve() Style {
	s := DefaultStyle()
	if u.BackgroundColor != nil {
		s.BackgroundColor = *u.BackgroundColor
	}
	if u.PanelColor != nil {
		s.PanelColor = *u.PanelColor
	}
	if u.IconColor != nil {
		s.IconColor = *u.IconColor
	}
	return s
}

// Tints returns the style as descriptor tints
func (s Style) Tints() map[string]uint32 {
	return map[string]uint32{
		TintBackground: uint32(s.BackgroundColor),
		TintPanel:      uint32(s.PanelColor),
		TintIcon:       uint32(s.IconColor),
	}
}

// Apply writes the style's tints into a descriptor, keeping unrelated tints
func (s Style) Apply(d *window.Descriptor) {
	if d.Tints == nil {
		d.Tints = make(map[string]uint32, 3)
	}
	for k, v := range s.Tints() {
		d.Tints[k] = v
	}
}
