package main

import "github.com/bryanchriswhite/OverlayRecorder/cmd/overlayrecorder/commands"

func main() {
	commands.Execute()
}
