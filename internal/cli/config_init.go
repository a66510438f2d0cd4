package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bcherb2/ffdash/internal/config"
)

var configInitOutput string
var profileInitOutput string

var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "Write a default process config and encode profile to disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if err := cfg.Save(configInitOutput); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote process config to %s\n", configInitOutput)

		profile, err := config.NewDefaultEncodeConfig()
		if err != nil {
			return fmt.Errorf("build default profile: %w", err)
		}
		if err := config.SaveEncodeConfig(profile, profileInitOutput); err != nil {
			return fmt.Errorf("write profile: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote default encode profile to %s\n", profileInitOutput)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitOutput, "output", "ffdash.yaml", "path to write the process config")
	configInitCmd.Flags().StringVar(&profileInitOutput, "profile-output", "profile.yaml", "path to write the default encode profile")
}
