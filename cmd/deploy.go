package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/creative812/Creatives-bot/creatives"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

// deployCommands is replaced in tests.
var deployCommands = creatives.DeployCommands

var deployCmd = &cobra.Command{
	Use:   "deploy [guild_id]",
	Short: "Register the slash commands, globally or in one guild",
	Long: "Pushes the slash command manifest to Discord. With a guild ID the " +
		"commands are registered in that guild only (and show up immediately), " +
		"otherwise they are registered globally, regardless of the configured guild.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var guildID string
		if len(args) == 1 {
			guildID = args[0]
		}
		logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: cfg.LogLevel}))

		created, err := deployCommands(cmd.Context(), cfg, guildID, logger)
		if err != nil {
			return fmt.Errorf("error deploying commands: %w", err)
		}
		out := cmd.OutOrStdout()
		if guildID == "" {
			fmt.Fprintf(out, "Registered %d global commands.\n", len(created))
		} else {
			fmt.Fprintf(out, "Registered %d commands in guild %s.\n", len(created), guildID)
		}
		for _, c := range created {
			fmt.Fprintf(out, "  /%s\n", c.Name)
		}
		return nil
	},
}

//nolint:gochecknoinits // cobra wiring
func init() {
	rootCmd.AddCommand(deployCmd)
}
