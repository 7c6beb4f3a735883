package capture

import (
	"fmt"
	"strconv"
)

// FFmpegPipeline records an X11 display with ffmpeg's x11grab device and
// PulseAudio for sound
type FFmpegPipeline struct {
	Binary      string
	Display     string
	Width       int
	Height      int
	FrameRate   int
	AudioSource string
}

// NewFFmpegPipeline returns a pipeline for display at the given size
func NewFFmpegPipeline(display string, width, height, frameRate int) *FFmpegPipeline {
	return &FFmpegPipeline{
		Binary:      "ffmpeg",
		Display:     display,
		Width:       width,
		Height:      height,
		FrameRate:   frameRate,
		AudioSource: "default",
	}
}

// Name returns the backend name
func (f *FFmpegPipeline) Name() string {
	return "ffmpeg"
}

// Command builds the ffmpeg argv. Audio inputs and encoders are omitted
// entirely when audio is off.
func (f *FFmpegPipeline) Command(output string, bitrateKbps int, audio bool) []string {
	rate := strconv.Itoa(f.FrameRate)
	bitrate := fmt.Sprintf("%dk", bitrateKbps)

	args := []string{
		f.Binary,
		"-hide_banner", "-loglevel", "warning",
		"-y",
		"-f", "x11grab",
		"-framerate", rate,
		"-video_size", fmt.Sprintf("%dx%d", f.Width, f.Height),
		"-i", f.Display,
	}
	if audio {
		args = append(args, "-f", "pulse", "-i", f.AudioSource)
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-r", rate,
		"-b:v", bitrate,
		"-maxrate", bitrate,
		"-bufsize", fmt.Sprintf("%dk", bitrateKbps*2),
	)
	if audio {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	}
	args = append(args, "-movflags", "+faststart", output)
	return args
}
