package overlay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/OverlayRecorder/internal/window"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want Color
	}{
		{"#CC000000", 0xCC000000},
		{"#ff4444", 0xFFFF4444},
		{"0xFF1F1F1F", 0xFF1F1F1F},
		{"4294901760", 0xFFFF0000},
		{"-65536", 0xFFFF0000},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "#12345", "red", "99999999999"} {
		_, err := ParseColor(bad)
		assert.Error(t, err, bad)
	}
}

func TestColorChannels(t *testing.T) {
	c := Color(0x80FF4020)
	n := c.NRGBA()
	assert.Equal(t, uint8(0x80), n.A)
	assert.Equal(t, uint8(0xFF), n.R)
	assert.Equal(t, uint8(0x40), n.G)
	assert.Equal(t, uint8(0x20), n.B)
	assert.Equal(t, c, FromColor(n))
	assert.Equal(t, "#80FF4020", c.String())
}

func TestStyleUpdateFallsBackToDefaults(t *testing.T) {
	var u StyleUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"panelColor": 4278190335}`), &u))

	s := u.Resolve()
	assert.Equal(t, DefaultStyle().BackgroundColor, s.BackgroundColor)
	assert.Equal(t, Color(0xFF0000FF), s.PanelColor)
	assert.Equal(t, DefaultStyle().IconColor, s.IconColor)
}

func TestApplyKeepsUnrelatedTints(t *testing.T) {
	d := window.Descriptor{Tints: map[string]uint32{"marker": 1}}
	DefaultStyle().Apply(&d)
	assert.Equal(t, uint32(1), d.Tints["marker"])
	assert.Equal(t, uint32(0xCC000000), d.Tints[TintBackground])
}

func TestManagerNotifiesSubscribers(t *testing.T) {
	m := NewManager(DefaultStyle())

	var got []Style
	unsubscribe := m.Subscribe(func(s Style) { got = append(got, s) })

	next := Style{BackgroundColor: Black, PanelColor: Blue, IconColor: Yellow}
	m.Set(next)
	assert.Equal(t, next, m.Current())
	require.Len(t, got, 1)
	assert.Equal(t, next, got[0])

	unsubscribe()
	m.Set(DefaultStyle())
	assert.Len(t, got, 1)
	assert.Equal(t, DefaultStyle(), m.Current())
}
