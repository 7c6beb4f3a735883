package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/bryanchriswhite/OverlayRecorder/internal/bridge"
	"github.com/bryanchriswhite/OverlayRecorder/internal/capture"
	"github.com/bryanchriswhite/OverlayRecorder/internal/config"
	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
	"github.com/bryanchriswhite/OverlayRecorder/internal/loop"
	"github.com/bryanchriswhite/OverlayRecorder/internal/overlay"
	"github.com/bryanchriswhite/OverlayRecorder/internal/session"
	"github.com/bryanchriswhite/OverlayRecorder/internal/window"
)

// loadConfig reads the config file and applies command line overrides
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Flags apply to this run only and are never written to the file
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			if err := configMgr.Override("server_port", port); err != nil {
				return nil, nil, err
			}
		}
	}
	for _, key := range []string{"log_level", "output_dir"} {
		if !viper.IsSet(key) {
			continue
		}
		if value := viper.GetString(key); value != "" {
			if err := configMgr.Override(key, value); err != nil {
				return nil, nil, err
			}
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, true)
	return configMgr, cfg, nil
}

// app holds every long-lived component of a recorder process
type app struct {
	compositor window.Compositor
	loop       *loop.Loop
	router     *capture.Router
	events     *bridge.Events
	ctrl       *session.Controller

	cancelInput context.CancelFunc
}

func newApp(cfg *config.Config) (*app, error) {
	log := logger.WithComponent("main")

	style, err := cfg.Style()
	if err != nil {
		return nil, err
	}
	drawColor, err := cfg.DrawingColor()
	if err != nil {
		return nil, err
	}

	width, height := cfg.Screen.Width, cfg.Screen.Height
	var compositor window.Compositor
	switch cfg.Compositor {
	case "x11":
		x11, err := window.NewX11Compositor()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to X11: %w", err)
		}
		width, height = x11.ScreenSize()
		compositor = x11
	default:
		compositor = window.NewMemoryCompositor()
	}
	log.Info().Str("compositor", compositor.Name()).Int("width", width).Int("height", height).Msg("Compositor ready")

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		compositor.Close()
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	router, err := capture.NewRouter(capture.RouterConfig{
		Backend:        cfg.Capture.Backend,
		Display:        cfg.Capture.Display,
		Width:          width,
		Height:         height,
		FrameRate:      cfg.Capture.FrameRate,
		OutputDir:      cfg.OutputDir,
		DefaultQuality: cfg.Capture.DefaultQuality,
	})
	if err != nil {
		compositor.Close()
		return nil, err
	}

	opts := session.DefaultOptions()
	opts.StopGrace = cfg.Capture.StopGrace
	opts.Controls.TapSlop = cfg.Controls.TapSlop
	opts.Controls.DoubleTapWindow = cfg.Controls.DoubleTapWindow
	opts.Controls.InitialX = cfg.Controls.InitialX
	opts.Controls.InitialY = cfg.Controls.InitialY
	opts.Controls.ScreenWidth = width
	opts.Touch.TTL = cfg.Touch.MarkerTTL
	opts.Touch.MaxMarkers = cfg.Touch.MaxMarkers
	opts.Touch.MarkerSize = cfg.Touch.MarkerSize
	opts.Drawing.ScreenWidth = width
	opts.Drawing.ScreenHeight = height
	opts.Drawing.Style.Color = drawColor
	opts.Drawing.Style.Width = cfg.Drawing.Width

	a := &app{
		compositor: compositor,
		loop:       loop.New(0),
		router:     router,
		events:     bridge.NewEvents(bridge.DefaultBuffer),
	}
	a.ctrl = session.NewController(session.Deps{
		Registry: window.NewRegistry(compositor),
		Loop:     a.loop,
		Engine:   router.Engine(),
		Gate:     router.Gate(),
		Styles:   overlay.NewManager(style),
		Events:   a.events,
	}, opts)

	if src, ok := compositor.(window.InputSource); ok {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancelInput = cancel
		go a.ctrl.RunInput(ctx, src)
	}
	return a, nil
}

// Close stops any recording and tears the components down in reverse order
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.ctrl.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.cancelInput != nil {
		a.cancelInput()
	}
	if err := a.router.Close(); err != nil {
		errs = append(errs, err)
	}
	a.loop.Close()
	if err := a.compositor.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
