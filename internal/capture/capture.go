package capture

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrAlreadyRunning is returned when starting an engine that is recording
	ErrAlreadyRunning = errors.New("capture already running")
	// ErrNotRunning is returned when controlling an engine that is idle
	ErrNotRunning = errors.New("capture not running")
)

// Params describe a recording requested by the host
type Params struct {
	FileName     string `json:"fileName"`
	RecordAudio  bool   `json:"recordAudio"`
	VideoQuality string `json:"videoQuality"`
	ShowTouches  bool   `json:"showTouches"`
}

// Output identifies a recording on disk
type Output struct {
	Path      string        `json:"path"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Engine records the screen into a media file
type Engine interface {
	// Name returns the backend name (e.g., "ffmpeg", "pipewire")
	Name() string

	// Start begins recording. It returns once the recorder is running.
	Start(ctx context.Context, p Params) (Output, error)

	// Pause suspends recording
	Pause(ctx context.Context) error

	// Resume continues a paused recording
	Resume(ctx context.Context) error

	// Stop finalizes the file and returns its location
	Stop(ctx context.Context) (Output, error)

	// Release frees resources held after a stop or failed start. It is
	// safe to call repeatedly.
	Release() error

	// OnStopped registers fn to run when recording ends without Stop being
	// called, for example when the recorder process dies.
	OnStopped(fn func(error))
}

// Gate grants permission to capture the screen
type Gate interface {
	// Prepare asks for permission, showing a system dialog if needed
	Prepare(ctx context.Context) (bool, error)

	// Granted reports whether a grant is currently held
	Granted() bool

	// OnRevoked registers fn to run when the system withdraws the grant
	OnRevoked(fn func())

	// Release gives up the grant
	Release() error
}

// OutputPath builds the file path for a recording named name. Directory
// components and a trailing .mp4 are stripped; an empty name becomes
// "recording".
func OutputPath(dir, name string) string {
	name = strings.TrimSpace(filepath.Base(filepath.Clean("/" + name)))
	name = strings.TrimSuffix(name, ".mp4")
	if name == "" || name == "/" || name == "." {
		name = "recording"
	}
	return filepath.Join(dir, name+".mp4")
}
