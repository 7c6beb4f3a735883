package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
)

// Pipeline builds the recorder command line for one recording
type Pipeline interface {
	// Name returns the backend name
	Name() string

	// Command returns the argv that records into output
	Command(output string, bitrateKbps int, audio bool) []string
}

// ProcessEngine runs a recorder as a subprocess. SIGINT finalizes the
// file, SIGSTOP and SIGCONT pause and resume it.
type ProcessEngine struct {
	pipeline       Pipeline
	outputDir      string
	defaultQuality string

	// StartupGrace is how long the recorder must stay alive before Start
	// reports success
	StartupGrace time.Duration

	mu        sync.Mutex
	cmd       *exec.Cmd
	done      chan struct{}
	waitErr   error
	output    Output
	started   bool
	paused    bool
	stopping  bool
	onStopped func(error)
}

// NewProcessEngine creates an engine writing recordings to outputDir
func NewProcessEngine(pipeline Pipeline, outputDir, defaultQuality string) *ProcessEngine {
	return &ProcessEngine{
		pipeline:       pipeline,
		outputDir:      outputDir,
		defaultQuality: defaultQuality,
		StartupGrace:   300 * time.Millisecond,
	}
}

// Name returns the pipeline name
func (e *ProcessEngine) Name() string {
	return e.pipeline.Name()
}

// OnStopped registers the spontaneous-stop callback
func (e *ProcessEngine) OnStopped(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStopped = fn
}

// Start launches the recorder
func (e *ProcessEngine) Start(ctx context.Context, p Params) (Output, error) {
	log := logger.WithComponent("capture")

	e.mu.Lock()
	if e.cmd != nil {
		e.mu.Unlock()
		return Output{}, ErrAlreadyRunning
	}

	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		e.mu.Unlock()
		return Output{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	path := OutputPath(e.outputDir, p.FileName)
	bitrate := Bitrate(p.VideoQuality, e.defaultQuality)
	argv := e.pipeline.Command(path, bitrate, p.RecordAudio)
	if len(argv) == 0 {
		e.mu.Unlock()
		return Output{}, fmt.Errorf("%s pipeline produced no command", e.pipeline.Name())
	}

	// Wait must not close stderr while it is still being logged, so the
	// read end stays with us
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		e.mu.Unlock()
		return Output{}, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = stderrW

	log.Debug().Strs("argv", argv).Msg("Starting recorder")
	err = cmd.Start()
	stderrW.Close()
	if err != nil {
		stderr.Close()
		e.mu.Unlock()
		return Output{}, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	done := make(chan struct{})
	e.cmd = cmd
	e.done = done
	e.waitErr = nil
	e.started = false
	e.paused = false
	e.stopping = false
	e.output = Output{Path: path, StartedAt: time.Now()}
	e.mu.Unlock()

	go e.logStderr(stderr)
	go e.wait(cmd, done)

	select {
	case <-done:
		e.mu.Lock()
		werr := e.waitErr
		e.cmd = nil
		e.mu.Unlock()
		return Output{}, fmt.Errorf("%s exited during startup: %v", e.pipeline.Name(), werr)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		e.mu.Lock()
		e.cmd = nil
		e.mu.Unlock()
		return Output{}, ctx.Err()
	case <-time.After(e.StartupGrace):
	}

	e.mu.Lock()
	e.started = true
	out := e.output
	e.mu.Unlock()

	// The process may have exited between the grace timer and started
	// being set, in which case wait saw started == false
	select {
	case <-done:
		e.mu.Lock()
		e.cmd = nil
		e.mu.Unlock()
		return Output{}, fmt.Errorf("%s exited during startup", e.pipeline.Name())
	default:
	}

	log.Info().
		Str("backend", e.pipeline.Name()).
		Str("path", out.Path).
		Int("bitrate_kbps", bitrate).
		Bool("audio", p.RecordAudio).
		Int("pid", cmd.Process.Pid).
		Msg("Recording started")
	return out, nil
}

func (e *ProcessEngine) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	e.mu.Lock()
	e.waitErr = err
	notify := e.cmd == cmd && e.started && !e.stopping
	fn := e.onStopped
	if notify {
		e.cmd = nil
	}
	e.mu.Unlock()
	close(done)

	if notify {
		logger.WithComponent("capture").Warn().Err(err).Str("backend", e.pipeline.Name()).Msg("Recorder exited unexpectedly")
		if fn != nil {
			if err == nil {
				err = errors.New("recorder exited")
			}
			fn(err)
		}
	}
}

func (e *ProcessEngine) signal(sig os.Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil || !e.started {
		return ErrNotRunning
	}
	if err := e.cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal recorder: %w", err)
	}
	return nil
}

// Pause suspends the recorder process
func (e *ProcessEngine) Pause(ctx context.Context) error {
	if err := e.signal(syscall.SIGSTOP); err != nil {
		return err
	}
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	return nil
}

// Resume continues a suspended recorder process
func (e *ProcessEngine) Resume(ctx context.Context) error {
	if err := e.signal(syscall.SIGCONT); err != nil {
		return err
	}
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	return nil
}

// Stop asks the recorder to finalize and waits for it to exit. If ctx
// ends first the recorder is killed.
func (e *ProcessEngine) Stop(ctx context.Context) (Output, error) {
	log := logger.WithComponent("capture")

	e.mu.Lock()
	if e.cmd == nil || !e.started {
		e.mu.Unlock()
		return Output{}, ErrNotRunning
	}
	cmd := e.cmd
	done := e.done
	e.stopping = true
	if e.paused {
		_ = cmd.Process.Signal(syscall.SIGCONT)
		e.paused = false
	}
	out := e.output
	e.mu.Unlock()

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		log.Debug().Err(err).Msg("Failed to interrupt recorder")
	}

	var stopErr error
	select {
	case <-done:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		stopErr = fmt.Errorf("recorder did not finalize in time: %w", ctx.Err())
	}

	e.mu.Lock()
	e.cmd = nil
	e.stopping = false
	e.started = false
	e.mu.Unlock()

	out.Duration = time.Since(out.StartedAt)
	log.Info().Str("path", out.Path).Dur("duration", out.Duration).Msg("Recording stopped")
	return out, stopErr
}

// Release kills a recorder left running and resets the engine
func (e *ProcessEngine) Release() error {
	e.mu.Lock()
	cmd := e.cmd
	done := e.done
	e.cmd = nil
	e.started = false
	e.paused = false
	e.mu.Unlock()

	if cmd != nil {
		logger.WithComponent("capture").Debug().Int("pid", cmd.Process.Pid).Msg("Killing recorder")
		_ = cmd.Process.Signal(syscall.SIGCONT)
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}

// logStderr logs recorder output
func (e *ProcessEngine) logStderr(r io.ReadCloser) {
	defer r.Close()
	log := logger.WithComponent("capture")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "warn") {
			log.Warn().Str("backend", e.pipeline.Name()).Str("output", line).Msg("Recorder message")
		} else {
			log.Debug().Str("backend", e.pipeline.Name()).Str("output", line).Msg("Recorder output")
		}
	}
}
