package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bcherb2/ffdash/internal/ffmpeg"
	"github.com/bcherb2/ffdash/internal/jobs"
	"github.com/bcherb2/ffdash/internal/store"
)

var scanProfilePath string

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Scan a directory for video files and materialize its job queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read dir %s: %w", dir, err)
		}

		profile, err := loadProfile(scanProfilePath)
		if err != nil {
			return err
		}

		prober := ffmpeg.NewProber(procConf.FFprobePath)
		st := store.New(dir)
		existing, err := st.Load(cmd.Context(), prober)
		if err != nil {
			return fmt.Errorf("load existing state: %w", err)
		}
		queue := jobs.NewQueue(existing, st, nil)

		added := 0
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if !ffmpeg.IsVideoFile(path) {
				continue
			}
			input, err := prober.Probe(cmd.Context(), path)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: probe failed: %v\n", path, err)
				continue
			}
			job := jobs.NewJob(input, defaultOutputPath(path, profile.Codec), profile)
			if err := queue.Add(job); err != nil {
				return fmt.Errorf("add %s: %w", path, err)
			}
			added++
		}

		stats := queue.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "scanned %s: %d file(s) added this run, %d total queued (%d pending, %d done, %d failed)\n",
			dir, added, stats.Total, stats.Pending, stats.Done, stats.Failed)
		return nil
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanProfilePath, "profile", "", "encode profile YAML (default: built-in defaults)")
}
