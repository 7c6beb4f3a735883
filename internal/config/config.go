package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/bryanchriswhite/OverlayRecorder/internal/capture"
	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
	"github.com/bryanchriswhite/OverlayRecorder/internal/overlay"
)

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" mapstructure:"server_port"`
	LogLevel   string `json:"log_level" mapstructure:"log_level"`
	OutputDir  string `json:"output_dir" mapstructure:"output_dir"`
	// Compositor is "memory" for headless use or "x11"
	Compositor string `json:"compositor" mapstructure:"compositor"`

	Capture  CaptureConfig  `json:"capture" mapstructure:"capture"`
	Overlay  OverlayConfig  `json:"overlay" mapstructure:"overlay"`
	Controls ControlsConfig `json:"controls" mapstructure:"controls"`
	Touch    TouchConfig    `json:"touch" mapstructure:"touch"`
	Drawing  DrawingConfig  `json:"drawing" mapstructure:"drawing"`
	Screen   ScreenConfig   `json:"screen" mapstructure:"screen"`
	Bridge   BridgeConfig   `json:"bridge" mapstructure:"bridge"`
}

// CaptureConfig selects and tunes the recording backend
type CaptureConfig struct {
	Backend        string        `json:"backend" mapstructure:"backend"`
	Display        string        `json:"display" mapstructure:"display"`
	FrameRate      int           `json:"frame_rate" mapstructure:"frame_rate"`
	DefaultQuality string        `json:"default_quality" mapstructure:"default_quality"`
	StopGrace      time.Duration `json:"stop_grace" mapstructure:"stop_grace"`
}

// OverlayConfig is the initial control panel style
type OverlayConfig struct {
	BackgroundColor string `json:"background_color" mapstructure:"background_color"`
	PanelColor      string `json:"panel_color" mapstructure:"panel_color"`
	IconColor       string `json:"icon_color" mapstructure:"icon_color"`
}

// ControlsConfig tunes control panel gestures and placement
type ControlsConfig struct {
	TapSlop         float64       `json:"tap_slop" mapstructure:"tap_slop"`
	DoubleTapWindow time.Duration `json:"double_tap_window" mapstructure:"double_tap_window"`
	InitialX        int           `json:"initial_x" mapstructure:"initial_x"`
	InitialY        int           `json:"initial_y" mapstructure:"initial_y"`
}

// TouchConfig tunes touch markers
type TouchConfig struct {
	MarkerTTL  time.Duration `json:"marker_ttl" mapstructure:"marker_ttl"`
	MaxMarkers int           `json:"max_markers" mapstructure:"max_markers"`
	MarkerSize int           `json:"marker_size" mapstructure:"marker_size"`
}

// DrawingConfig is the initial stroke style
type DrawingConfig struct {
	Color string  `json:"color" mapstructure:"color"`
	Width float64 `json:"width" mapstructure:"width"`
}

// ScreenConfig is the size of the screen being recorded
type ScreenConfig struct {
	Width  int `json:"width" mapstructure:"width"`
	Height int `json:"height" mapstructure:"height"`
}

// BridgeConfig controls how hosts find the bridge
type BridgeConfig struct {
	// Advertise announces the bridge over mDNS
	Advertise bool `json:"advertise" mapstructure:"advertise"`
}

// Style returns the configured overlay style
func (c *Config) Style() (overlay.Style, error) {
	var s overlay.Style
	var err error
	if s.BackgroundColor, err = overlay.ParseColor(c.Overlay.BackgroundColor); err != nil {
		return s, fmt.Errorf("overlay.background_color: %w", err)
	}
	if s.PanelColor, err = overlay.ParseColor(c.Overlay.PanelColor); err != nil {
		return s, fmt.Errorf("overlay.panel_color: %w", err)
	}
	if s.IconColor, err = overlay.ParseColor(c.Overlay.IconColor); err != nil {
		return s, fmt.Errorf("overlay.icon_color: %w", err)
	}
	return s, nil
}

// DrawingColor returns the configured stroke color
func (c *Config) DrawingColor() (overlay.Color, error) {
	col, err := overlay.ParseColor(c.Drawing.Color)
	if err != nil {
		return 0, fmt.Errorf("drawing.color: %w", err)
	}
	return col, nil
}

// Validate checks values that would otherwise fail much later
func (c *Config) Validate() error {
	var errs []error
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("server_port %d out of range", c.ServerPort))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level %q (use: debug, info, warn, error)", c.LogLevel))
	}
	switch c.Compositor {
	case "memory", "x11":
	default:
		errs = append(errs, fmt.Errorf("invalid compositor %q (use: memory, x11)", c.Compositor))
	}
	switch c.Capture.Backend {
	case capture.BackendAuto, capture.BackendPipeWire, capture.BackendFFmpeg:
	default:
		errs = append(errs, fmt.Errorf("invalid capture.backend %q (use: auto, pipewire, ffmpeg)", c.Capture.Backend))
	}
	if capture.QualityByName(c.Capture.DefaultQuality) == nil {
		errs = append(errs, fmt.Errorf("unknown capture.default_quality %q", c.Capture.DefaultQuality))
	}
	if c.Capture.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.frame_rate must be positive"))
	}
	if _, err := c.Style(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DrawingColor(); err != nil {
		errs = append(errs, err)
	}
	if c.Drawing.Width <= 0 {
		errs = append(errs, fmt.Errorf("drawing.width must be positive"))
	}
	if c.Touch.MaxMarkers <= 0 {
		errs = append(errs, fmt.Errorf("touch.max_markers must be positive"))
	}
	if c.Screen.Width <= 0 || c.Screen.Height <= 0 {
		errs = append(errs, fmt.Errorf("screen size %dx%d is invalid", c.Screen.Width, c.Screen.Height))
	}
	return errors.Join(errs...)
}

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper
	config     *Config
	mu         sync.RWMutex
}

// DefaultConfigPath returns $HOME/.config/overlayrecorder/config.yaml
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "overlayrecorder", "config.yaml"), nil
}

// NewManager creates a new configuration manager. A missing config file is
// created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(actualConfigPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OVERLAYRECORDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{
		configPath: actualConfigPath,
		v:          v,
	}

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	if err := m.reload(); err != nil {
		return nil, err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("output_dir", m.config.OutputDir).
		Msg("Config loaded")

	return m, nil
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("server_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("output_dir", filepath.Join(home, "Videos", "OverlayRecorder"))
	v.SetDefault("compositor", "memory")

	// Durations and colors are kept as strings so the saved file stays
	// readable
	v.SetDefault("capture.backend", capture.BackendAuto)
	v.SetDefault("capture.display", ":0.0")
	v.SetDefault("capture.frame_rate", 60)
	v.SetDefault("capture.default_quality", capture.DefaultQuality)
	v.SetDefault("capture.stop_grace", "500ms")

	style := overlay.DefaultStyle()
	v.SetDefault("overlay.background_color", style.BackgroundColor.String())
	v.SetDefault("overlay.panel_color", style.PanelColor.String())
	v.SetDefault("overlay.icon_color", style.IconColor.String())

	v.SetDefault("controls.tap_slop", 10)
	v.SetDefault("controls.double_tap_window", "300ms")
	v.SetDefault("controls.initial_x", 50)
	v.SetDefault("controls.initial_y", 150)

	v.SetDefault("touch.marker_ttl", "500ms")
	v.SetDefault("touch.max_markers", 20)
	v.SetDefault("touch.marker_size", 60)

	v.SetDefault("drawing.color", overlay.Red.String())
	v.SetDefault("drawing.width", 10)

	v.SetDefault("screen.width", 1920)
	v.SetDefault("screen.height", 1080)

	v.SetDefault("bridge.advertise", false)
}

// reload decodes viper's settings into a fresh Config
func (m *Manager) reload() error {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if strings.HasPrefix(cfg.OutputDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.OutputDir = filepath.Join(home, cfg.OutputDir[2:])
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Set changes one key, validates the result and saves it. An invalid value
// leaves the previous configuration in place.
func (m *Manager) Set(key string, value interface{}) error {
	if err := m.apply(key, value); err != nil {
		return err
	}
	return m.write(func(fv *viper.Viper) { fv.Set(key, value) })
}

// Override changes one key for this process only. Like Set, an invalid
// value is rejected, but nothing is written to the config file.
func (m *Manager) Override(key string, value interface{}) error {
	return m.apply(key, value)
}

func (m *Manager) apply(key string, value interface{}) error {
	if !m.v.IsSet(key) {
		return fmt.Errorf("unknown config key: %s", key)
	}
	prev := m.v.Get(key)
	m.v.Set(key, value)
	if err := m.reload(); err != nil {
		m.v.Set(key, prev)
		return err
	}
	return nil
}

// Save writes the defaults and file values to disk. Environment and
// command line overrides are not persisted.
func (m *Manager) Save() error {
	return m.write(nil)
}

// write rereads the config file on its own, applies mutate and writes the
// result back
func (m *Manager) write(mutate func(*viper.Viper)) error {
	log := logger.WithComponent("config")

	fv := viper.New()
	setDefaults(fv)
	fv.SetConfigFile(m.configPath)
	fv.SetConfigType("yaml")
	if err := fv.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if mutate != nil {
		mutate(fv)
	}

	// Ensure the directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := fv.WriteConfigAs(m.configPath); err != nil {
		log.Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	log.Debug().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.Set("server_port", port)
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.Set("log_level", level)
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// Settings returns every key with its effective value
func (m *Manager) Settings() map[string]interface{} {
	return m.v.AllSettings()
}

// GetViper returns the underlying viper instance
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
