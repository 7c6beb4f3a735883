package overlay

import (
	"encoding/json"
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Color is a packed 0xAARRGGBB value, the format hosts send over the bridge.
type Color uint32

// Common colors
const (
	Transparent Color = 0x00000000
	Black       Color = 0xFF000000
	White       Color = 0xFFFFFFFF
	Red         Color = 0xFFFF0000
	Green       Color = 0xFF00FF00
	Blue        Color = 0xFF0000FF
	Yellow      Color = 0xFFFFFF00
)

// A returns the alpha channel
func (c Color) A() uint8 { return uint8(c >> 24) }

// R returns the red channel
func (c Color) R() uint8 { return uint8(c >> 16) }

// G returns the green channel
func (c Color) G() uint8 { return uint8(c >> 8) }

// B returns the blue channel
func (c Color) B() uint8 { return uint8(c) }

// NRGBA converts to a non-premultiplied image color
func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA{R: c.R(), G: c.G(), B: c.B(), A: c.A()}
}

// RGBA implements color.Color
func (c Color) RGBA() (r, g, b, a uint32) {
	return c.NRGBA().RGBA()
}

// String formats the color as #AARRGGBB
func (c Color) String() string {
	return fmt.Sprintf("#%08X", uint32(c))
}

// FromColor packs any image color
func FromColor(col color.Color) Color {
	n := color.NRGBAModel.Convert(col).(color.NRGBA)
	return Color(uint32(n.A)<<24 | uint32(n.R)<<16 | uint32(n.G)<<8 | uint32(n.B))
}

// ParseColor accepts "#AARRGGBB", "#RRGGBB", "0xAARRGGBB" or a decimal
// integer. Six-digit forms are fully opaque. Negative integers are taken
// as signed 32-bit packed values.
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty color")
	}

	var hex string
	switch {
	case strings.HasPrefix(s, "#"):
		hex = s[1:]
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		hex = s[2:]
	}

	if hex != "" {
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid color %q: %w", s, err)
		}
		switch len(hex) {
		case 6:
			return Color(0xFF000000 | uint32(v)), nil
		case 8:
			return Color(v), nil
		default:
			return 0, fmt.Errorf("invalid color %q: expected 6 or 8 hex digits", s)
		}
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	if v < -(1<<31) || v > 0xFFFFFFFF {
		return 0, fmt.Errorf("invalid color %q: out of range", s)
	}
	return Color(uint32(v)), nil
}

// MarshalJSON encodes the color as its packed integer value
func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint32(c))
}

// UnmarshalJSON accepts a packed integer or any string form ParseColor does
func (c *Color) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseColor(s)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	}

	parsed, err := ParseColor(string(data))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
