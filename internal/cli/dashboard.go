package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// dashboardCmd is a placeholder for the terminal UI, which is out of
// scope for this control plane.
var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Launch the interactive dashboard (not implemented)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), "ffdash dashboard: the terminal UI is not part of this control plane; use scan/encode/dry-run instead.")
		return nil
	},
}
