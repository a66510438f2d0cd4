// Command ffdash is a batch video transcoding control plane: it scans a
// directory for video files, calibrates and drives FFmpeg encodes
// against them, and persists queue state so interrupted runs resume
// cleanly.
package main

import (
	"os"

	"github.com/bcherb2/ffdash/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
