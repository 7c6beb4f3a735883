package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/OverlayRecorder/internal/overlay"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)
	return m, path
}

func TestNewManagerCreatesDefaults(t *testing.T) {
	m, path := newTestManager(t)

	_, err := os.Stat(path)
	require.NoError(t, err, "config file is created on first run")

	cfg := m.Get()
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "auto", cfg.Capture.Backend)
	assert.Equal(t, 60, cfg.Capture.FrameRate)
	assert.Equal(t, 500*time.Millisecond, cfg.Capture.StopGrace)
	assert.Equal(t, 300*time.Millisecond, cfg.Controls.DoubleTapWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.Touch.MarkerTTL)
	assert.Equal(t, 20, cfg.Touch.MaxMarkers)
	assert.Equal(t, 10.0, cfg.Drawing.Width)
	assert.False(t, cfg.Bridge.Advertise)

	style, err := cfg.Style()
	require.NoError(t, err)
	assert.Equal(t, overlay.DefaultStyle(), style)

	col, err := cfg.DrawingColor()
	require.NoError(t, err)
	assert.Equal(t, overlay.Red, col)
}

func TestSetPersists(t *testing.T) {
	m, path := newTestManager(t)

	require.NoError(t, m.SetPort(9090))
	require.NoError(t, m.Set("touch.marker_ttl", "750ms"))
	require.NoError(t, m.Set("overlay.panel_color", "#FF336699"))

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	cfg := reloaded.Get()
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, 750*time.Millisecond, cfg.Touch.MarkerTTL)

	style, err := cfg.Style()
	require.NoError(t, err)
	assert.Equal(t, overlay.Color(0xFF336699), style.PanelColor)
}

func TestOverridesAreNotPersisted(t *testing.T) {
	t.Setenv("OVERLAYRECORDER_LOG_LEVEL", "debug")
	m, path := newTestManager(t)
	assert.Equal(t, "debug", m.Get().LogLevel)

	require.NoError(t, m.Override("server_port", 9191))
	assert.Equal(t, 9191, m.Get().ServerPort)
	assert.Error(t, m.Override("server_port", 0))
	assert.Equal(t, 9191, m.Get().ServerPort)

	// A later Set writes only its own key on top of the file
	require.NoError(t, m.Set("touch.max_markers", 5))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "9191")
	assert.NotContains(t, string(data), "debug")

	os.Unsetenv("OVERLAYRECORDER_LOG_LEVEL")
	reloaded, err := NewManager(path)
	require.NoError(t, err)
	cfg := reloaded.Get()
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Touch.MaxMarkers)
}

func TestSetRejectsInvalidValues(t *testing.T) {
	m, _ := newTestManager(t)

	assert.Error(t, m.Set("log_level", "loud"))
	assert.Error(t, m.Set("capture.backend", "vnc"))
	assert.Error(t, m.Set("drawing.width", 0))
	assert.Error(t, m.Set("overlay.icon_color", "not-a-color"))
	assert.Error(t, m.Set("no_such_key", 1))

	cfg := m.Get()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "auto", cfg.Capture.Backend)
	assert.Equal(t, 10.0, cfg.Drawing.Width)
}

func TestGetReturnsCopy(t *testing.T) {
	m, _ := newTestManager(t)
	cfg := m.Get()
	cfg.ServerPort = 1
	assert.Equal(t, 8080, m.Get().ServerPort)
}

func TestReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_port: 7000\ncapture:\n  backend: ffmpeg\n  frame_rate: 30\n"), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	cfg := m.Get()
	assert.Equal(t, 7000, cfg.ServerPort)
	assert.Equal(t, "ffmpeg", cfg.Capture.Backend)
	assert.Equal(t, 30, cfg.Capture.FrameRate)
	assert.Equal(t, ":0.0", cfg.Capture.Display, "unset keys keep defaults")
}

func TestInvalidFileIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compositor: wayland\n"), 0644))

	_, err := NewManager(path)
	assert.Error(t, err)
}
