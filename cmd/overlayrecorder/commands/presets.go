package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/OverlayRecorder/internal/capture"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List video quality presets",
	Long:  `List the quality presets accepted by 'record --quality' and the videoQuality start parameter.`,
	RunE:  runPresets,
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}

func runPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tBITRATE\tDESCRIPTION")
	for _, p := range capture.QualityPresets {
		name := p.Name
		if name == capture.DefaultQuality {
			name += " (default)"
		}
		fmt.Fprintf(w, "%s\t%d kbps\t%s\n", name, p.Bitrate, p.Description)
	}
	return w.Flush()
}
