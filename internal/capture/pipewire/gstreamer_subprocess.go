package pipewire

import (
	"fmt"
	"strconv"
)

// GStreamerPipeline records the PipeWire node granted by the portal with
// gst-launch-1.0. Running GStreamer as a subprocess keeps cgo out of the
// recorder; -e turns SIGINT into an EOS so mp4mux can finalize the file.
type GStreamerPipeline struct {
	Binary    string
	FrameRate int
	nodeID    func() uint32
}

// NewGStreamerPipeline creates a pipeline reading the node reported by nodeID
func NewGStreamerPipeline(nodeID func() uint32, frameRate int) *GStreamerPipeline {
	return &GStreamerPipeline{
		Binary:    "gst-launch-1.0",
		FrameRate: frameRate,
		nodeID:    nodeID,
	}
}

// Name returns the backend name
func (g *GStreamerPipeline) Name() string {
	return "pipewire"
}

// Command builds the gst-launch argv
func (g *GStreamerPipeline) Command(output string, bitrateKbps int, audio bool) []string {
	args := []string{
		g.Binary, "-e", "-q",
		"mp4mux", "name=mux", "!", "filesink", "location=" + output,
		"pipewiresrc", "path=" + strconv.FormatUint(uint64(g.nodeID()), 10), "do-timestamp=true", "!",
		"videoconvert", "!",
		"videorate", "!",
		fmt.Sprintf("video/x-raw,framerate=%d/1", g.FrameRate), "!",
		"x264enc", "bitrate=" + strconv.Itoa(bitrateKbps), "speed-preset=veryfast", "tune=zerolatency", "!",
		"h264parse", "!",
		"queue", "!", "mux.",
	}
	if audio {
		args = append(args,
			"pulsesrc", "do-timestamp=true", "!",
			"audioconvert", "!",
			"audioresample", "!",
			"avenc_aac", "!",
			"queue", "!", "mux.",
		)
	}
	return args
}
