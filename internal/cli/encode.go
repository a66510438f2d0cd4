package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bcherb2/ffdash/internal/ffmpeg"
	"github.com/bcherb2/ffdash/internal/hwinventory"
	"github.com/bcherb2/ffdash/internal/jobs"
	"github.com/bcherb2/ffdash/internal/store"
	"github.com/bcherb2/ffdash/internal/vmaf"
)

var (
	encodeProfilePath string
	encodeOverwrite   bool
)

var encodeCmd = &cobra.Command{
	Use:   "encode <path>",
	Short: "Probe, calibrate, and encode a single file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := args[0]

		profile, err := loadProfile(encodeProfilePath)
		if err != nil {
			return err
		}

		prober := ffmpeg.NewProber(procConf.FFprobePath)
		input, err := prober.Probe(ctx, path)
		if err != nil {
			return fmt.Errorf("probe %s: %w", path, err)
		}

		dir := filepath.Dir(path)
		st := store.New(dir)
		existing, err := st.Load(ctx, prober)
		if err != nil {
			return fmt.Errorf("load existing state: %w", err)
		}
		queue := jobs.NewQueue(existing, st, nil)

		job := jobs.NewJob(input, defaultOutputPath(path, profile.Codec), profile)
		if err := queue.Add(job); err != nil {
			return fmt.Errorf("queue %s: %w", path, err)
		}

		inv := hwinventory.Detect(ctx, procConf.FFmpegPath)
		calibrator := vmaf.NewCalibrator(procConf.FFmpegPath, inv, 1)
		runner := ffmpeg.NewRunner(procConf.FFmpegPath)
		pool := jobs.NewPool(queue, calibrator, runner, inv, encodeOverwrite, 1, procConf.SerializeHWDevice)
		defer pool.Shutdown()

		fmt.Fprintf(cmd.OutOrStdout(), "encoding %s -> %s\n", path, job.OutputPath)

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				current := queue.Get(job.ID)
				if current == nil {
					return fmt.Errorf("job %s disappeared from queue", job.ID)
				}
				if !current.IsTerminal() {
					if p := current.Progress; p != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: %.1f%%, %s written, eta %s\n",
							current.Status, p.Percent, humanize.Bytes(uint64(p.Size)), p.ETA.Round(time.Second))
					}
					continue
				}
				if current.Status == jobs.StatusFailed {
					return fmt.Errorf("encode failed: %s", current.FailureReason)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "done: %s (%s)\n", current.OutputPath, humanize.Bytes(uint64(outputSize(current.OutputPath))))
				return nil
			}
		}
	},
}

func init() {
	encodeCmd.Flags().StringVar(&encodeProfilePath, "profile", "", "encode profile YAML (default: built-in defaults)")
	encodeCmd.Flags().BoolVar(&encodeOverwrite, "overwrite", false, "overwrite an existing output file")
}
