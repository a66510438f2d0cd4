package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bcherb2/ffdash/internal/ffmpeg"
)

var probeCmd = &cobra.Command{
	Use:   "probe <path>",
	Short: "Probe a media file and print its descriptor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prober := ffmpeg.NewProber(procConf.FFprobePath)
		input, err := prober.Probe(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("probe %s: %w", args[0], err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", " ")
		return enc.Encode(input)
	},
}
