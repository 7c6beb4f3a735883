package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/OverlayRecorder/internal/capture"
	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
	"github.com/bryanchriswhite/OverlayRecorder/internal/session"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the screen without the HTTP bridge",
	Long: `Record the screen from the command line. The floating control panel is
shown while recording; the recording ends when its stop button is pressed,
when --duration elapses or on Ctrl+C.`,
	Example: `  # Record until Ctrl+C
  overlayrecorder record --file demo

  # Record 30 seconds at the "ultra" preset with touch markers
  overlayrecorder record --file demo --quality ultra --touches --duration 30s`,
	RunE: runRecord,
}

var (
	recordFile     string
	recordAudio    bool
	recordTouches  bool
	recordQuality  string
	recordDuration time.Duration
)

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringVar(&recordFile, "file", "recording", "output file name, without extension")
	recordCmd.Flags().BoolVar(&recordAudio, "audio", false, "record audio")
	recordCmd.Flags().BoolVar(&recordTouches, "touches", false, "show touch markers")
	recordCmd.Flags().StringVar(&recordQuality, "quality", "", "quality preset (see 'overlayrecorder presets')")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "stop after this long (0 records until interrupted)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if recordQuality != "" && capture.QualityByName(recordQuality) == nil {
		return fmt.Errorf("unknown quality preset: %s", recordQuality)
	}
	log := logger.WithComponent("main")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Shutdown finished with errors")
		}
	}()

	// Listen before starting so the stopped event is never missed
	events, unsubscribe := a.events.Subscribe()
	defer unsubscribe()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := a.ctrl.Prepare(ctx); err != nil {
		return err
	}
	out, err := a.ctrl.Start(ctx, capture.Params{
		FileName:     recordFile,
		RecordAudio:  recordAudio,
		VideoQuality: recordQuality,
		ShowTouches:  recordTouches,
	})
	if err != nil {
		return err
	}
	log.Info().Str("path", out.Path).Str("backend", a.router.Backend()).Msg("Recording, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var deadline <-chan time.Time
	if recordDuration > 0 {
		timer := time.NewTimer(recordDuration)
		defer timer.Stop()
		deadline = timer.C
	}

wait:
	for {
		select {
		case <-sigChan:
			break wait
		case <-deadline:
			break wait
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch {
			case strings.HasPrefix(ev, session.EventRecordingStopped):
				// Stopped from the panel or by the system
				return verifyOutput(out.Path)
			case ev == session.EventRestartRequested:
				log.Info().Msg("Restart requested, run record again to start a new recording")
				return verifyOutput(out.Path)
			}
		}
	}

	final, err := a.ctrl.StopSession(context.Background())
	if err != nil {
		return err
	}
	fmt.Println(final.Path)
	return nil
}

func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s", session.ErrOutputVerificationFailed, path)
	}
	fmt.Println(path)
	return nil
}
