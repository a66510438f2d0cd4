package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bcherb2/ffdash/internal/config"
	"github.com/bcherb2/ffdash/internal/ffmpeg"
	"github.com/bcherb2/ffdash/internal/hwinventory"
)

var dryRunProfilePath string

var dryRunCmd = &cobra.Command{
	Use:   "dry-run <path>",
	Short: "Print the FFmpeg command this profile would run, without executing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := args[0]

		profile, err := loadProfile(dryRunProfilePath)
		if err != nil {
			return err
		}

		prober := ffmpeg.NewProber(procConf.FFprobePath)
		input, err := prober.Probe(ctx, path)
		if err != nil {
			return fmt.Errorf("probe %s: %w", path, err)
		}

		inv := hwinventory.Detect(ctx, procConf.FFmpegPath)
		outputPath := defaultOutputPath(path, profile.Codec)
		container := ffmpeg.ContainerKindFromExt(outputPath)

		fmt.Fprintf(cmd.OutOrStdout(), "# input: %s (%s, %s)\n", path, humanize.Bytes(uint64(outputSize(path))),
			time.Duration(input.Duration*float64(time.Second)).Round(time.Second))

		if profile.RateControl == config.RateControlTwoPassVBR {
			passLog := filepath.Join(procConf.ScratchPath(filepath.Dir(path)), "dryrun-passlog")
			first, err := ffmpeg.Build(input, profile, ffmpeg.Pass{Kind: ffmpeg.PassFirst, PassLogPath: passLog}, inv)
			if err != nil {
				return fmt.Errorf("build first pass: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# pass 1\nffmpeg %s\n", strings.Join(first, " "))

			second, err := ffmpeg.Build(input, profile, ffmpeg.Pass{Kind: ffmpeg.PassSecond, PassLogPath: passLog, OutputPath: outputPath, OutputContainer: container}, inv)
			if err != nil {
				return fmt.Errorf("build second pass: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# pass 2\nffmpeg %s\n", strings.Join(second, " "))
			return nil
		}

		args2, err := ffmpeg.Build(input, profile, ffmpeg.Pass{Kind: ffmpeg.PassSingle, OutputPath: outputPath, OutputContainer: container}, inv)
		if err != nil {
			return fmt.Errorf("build command: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ffmpeg %s\n", strings.Join(args2, " "))
		return nil
	},
}

func init() {
	dryRunCmd.Flags().StringVar(&dryRunProfilePath, "profile", "", "encode profile YAML (default: built-in defaults)")
}
