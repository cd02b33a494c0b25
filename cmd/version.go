package cmd

import (
	"fmt"

	"github.com/creative812/Creatives-bot/creatives"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(
			cmd.OutOrStdout(),
			"version=%s commit=%s built: %s",
			creatives.Version,
			creatives.CommitSHA,
			creatives.BuildTime,
		)
	},
}

//nolint:gochecknoinits // cobra wiring
func init() {
	rootCmd.AddCommand(versionCmd)
}
