// Package cli implements the ffdash command-line surface: dashboard
// (stub), config-init, probe, scan, dry-run, and encode, wired with
// spf13/cobra the way the reference daemon's command tree is built.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bcherb2/ffdash/internal/config"
	"github.com/bcherb2/ffdash/internal/logger"
)

var (
	cfgFile  string
	v        = viper.New()
	procConf *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ffdash",
	Short: "Batch video transcoding dashboard control plane",
	Long: `ffdash drives FFmpeg over a directory of video files: it probes each
input, optionally calibrates an encode quality against a VMAF target,
dispatches the full encode through a worker pool, and persists queue
state so an interrupted run resumes cleanly.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ffdash.yaml)")
	rootCmd.PersistentFlags().String("ffmpeg-path", "", "override ffmpeg binary path")
	rootCmd.PersistentFlags().String("ffprobe-path", "", "override ffprobe binary path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log output format (text, json)")
	rootCmd.PersistentFlags().Int("workers", 0, "override worker count")

	rootCmd.AddCommand(dashboardCmd, configInitCmd, probeCmd, scanCmd, dryRunCmd, encodeCmd)
}

func initConfig() {
	_ = v.BindPFlag("ffmpeg_path", rootCmd.PersistentFlags().Lookup("ffmpeg-path"))
	_ = v.BindPFlag("ffprobe_path", rootCmd.PersistentFlags().Lookup("ffprobe-path"))
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))

	path := cfgFile
	if path == "" {
		if _, err := os.Stat("ffdash.yaml"); err == nil {
			path = "ffdash.yaml"
		}
	}

	cfg, err := config.Load(v, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffdash: %v\n", err)
		cfg = config.DefaultConfig()
	}
	procConf = cfg
	logger.Init(procConf.LogLevel, procConf.LogFormat)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
