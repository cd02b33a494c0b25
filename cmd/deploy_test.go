package cmd

import (
	"context"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/creative812/Creatives-bot/creatives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployCommand_RequiresCredentials(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "", "deploy")
	assert.ErrorIs(t, err, creatives.ErrMissingDiscordToken)

	t.Setenv("CB_DISCORD_TOKEN", "discord")
	_, err = execute(t, "", "deploy", "123")
	assert.ErrorIs(t, err, creatives.ErrMissingApplicationID)
}

func TestDeployCommand_AtMostOneGuild(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "", "deploy", "1", "2")
	assert.Error(t, err)
}

func TestDeployCommand_Scope(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantGuild string
		wantOut   string
	}{
		{
			name:    "no argument deploys globally",
			wantOut: "Registered 1 global commands.",
		},
		{
			name:      "argument selects the guild",
			args:      []string{"456"},
			wantGuild: "456",
			wantOut:   "Registered 1 commands in guild 456.",
		},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				isolateEnv(t)
				t.Setenv("CB_DISCORD_GUILD_ID", "123")

				var gotGuild *string
				original := deployCommands
				deployCommands = func(
					_ context.Context,
					_ *creatives.Config,
					guildID string,
					_ *slog.Logger,
				) ([]*discordgo.ApplicationCommand, error) {
					gotGuild = &guildID
					return []*discordgo.ApplicationCommand{{Name: "rank"}}, nil
				}
				t.Cleanup(func() { deployCommands = original })

				output, err := execute(t, "", append([]string{"deploy"}, tt.args...)...)
				require.NoError(t, err)
				require.NotNil(t, gotGuild)
				assert.Equal(t, tt.wantGuild, *gotGuild)
				assert.Contains(t, output, tt.wantOut)
				assert.Contains(t, output, "  /rank")
			},
		)
	}
}
