package creatives

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Slash command names
const (
	commandAIToggle       = "ai-toggle"
	commandAIChannel      = "ai-channel"
	commandAISymbol       = "ai-symbol"
	commandAIStatus       = "ai-status"
	commandAIReset        = "ai-reset"
	commandAIPersonality  = "ai-personality"
	commandAIClear        = "ai-clear"
	commandAIGame         = "ai-game"
	commandTicketSetup    = "ticket-setup"
	commandTicket         = "ticket"
	commandWarn           = "warn"
	commandWarnings       = "warnings"
	commandDisableCommand = "disable-command"
	commandEnableCommand  = "enable-command"
	commandAutomod        = "automod"
	commandRank           = "rank"
	commandLeaderboard    = "leaderboard"
	commandGiveaway       = "giveaway"
	commandSelfRoleAdd    = "selfrole-add"
	commandSelfRoleRemove = "selfrole-remove"
	commandSelfRolePanel  = "selfrole-panel"
)

// Component and modal custom IDs
const (
	customIDCreateTicket     = "createticketbutton"
	customIDClaimTicket      = "claimticketbutton"
	customIDCloseTicket      = "closeticketbutton"
	customIDCloseTicketModal = "closeticketmodal"
	customIDCloseReason      = "close_reason"
	customIDLeaderboardPage  = "leaderboard:"
	customIDGiveawayEnter    = "giveaway_enter"
	customIDSelfRoleSelect   = "selfrole_select"
)

var (
	permManageGuild    int64 = discordgo.PermissionManageGuild
	permManageChannels int64 = discordgo.PermissionManageChannels
	permModerate       int64 = discordgo.PermissionModerateMembers
	permManageRoles    int64 = discordgo.PermissionManageRoles
	dmPermission             = false

	minGiveawayWinners = 1.0
)

// commandManifest returns the application commands pushed by deploy.
func commandManifest() []*discordgo.ApplicationCommand {
	gameChoiceList := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(gameChoices))
	for _, g := range gameChoices {
		def := gameDefinitions[g]
		gameChoiceList = append(
			gameChoiceList,
			&discordgo.ApplicationCommandOptionChoice{
				Name:  fmt.Sprintf("%s %s", def.Emoji, def.Name),
				Value: string(g),
			},
		)
	}
	personalityChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(personalities))
	for _, p := range personalities {
		personalityChoices = append(
			personalityChoices,
			&discordgo.ApplicationCommandOptionChoice{Name: titleCase(p), Value: p},
		)
	}
	symbolMaxLength := 5

	return []*discordgo.ApplicationCommand{
		{
			Name:                     commandAIToggle,
			Description:              "Enable or disable AI chat feature for this server",
			DefaultMemberPermissions: &permManageGuild,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "Turn AI chat on or off",
					Required:    true,
				},
			},
		},
		{
			Name:                     commandAIChannel,
			Description:              "Set which channel the AI should respond in",
			DefaultMemberPermissions: &permManageGuild,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel where AI should respond",
					Required:    true,
				},
			},
		},
		{
			Name:                     commandAISymbol,
			Description:              "Set the symbol that triggers AI responses",
			DefaultMemberPermissions: &permManageGuild,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "symbol",
					Description: "Symbol to trigger AI (e.g., !, ?, @)",
					Required:    true,
					MaxLength:   symbolMaxLength,
				},
			},
		},
		{
			Name:         commandAIStatus,
			Description:  "Check current AI chat settings for this server",
			DMPermission: &dmPermission,
		},
		{
			Name:                     commandAIReset,
			Description:              "Reset all AI settings to default",
			DefaultMemberPermissions: &permManageGuild,
			DMPermission:             &dmPermission,
		},
		{
			Name:                     commandAIPersonality,
			Description:              "Set AI personality type",
			DefaultMemberPermissions: &permManageGuild,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "Choose AI personality",
					Required:    true,
					Choices:     personalityChoices,
				},
			},
		},
		{
			Name:         commandAIClear,
			Description:  "Clear your conversation history with the AI",
			DMPermission: &dmPermission,
		},
		{
			Name:         commandAIGame,
			Description:  "Start an interactive conversation game",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "game",
					Description: "Choose a conversation game",
					Required:    true,
					Choices:     gameChoiceList,
				},
			},
		},
		{
			Name:                     commandTicketSetup,
			Description:              "Set up the ticket system and post a ticket panel",
			DefaultMemberPermissions: &permManageChannels,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "category",
					Description:  "Category where ticket channels are created",
					Required:     true,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildCategory},
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "staff-role",
					Description: "Role that can see and claim tickets",
					Required:    true,
				},
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "log-channel",
					Description:  "Channel for ticket logs",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "title",
					Description: "Panel title",
					MaxLength:   256,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "description",
					Description: "Panel description",
					MaxLength:   2000,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "button-text",
					Description: "Label of the create ticket button",
					MaxLength:   80,
				},
			},
		},
		{
			Name:         commandTicket,
			Description:  "Open a support ticket",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "subject",
					Description: "What do you need help with?",
					MaxLength:   200,
				},
			},
		},
		{
			Name:                     commandWarn,
			Description:              "Warn a member",
			DefaultMemberPermissions: &permModerate,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to warn",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Reason for the warning",
					Required:    true,
					MaxLength:   500,
				},
			},
		},
		{
			Name:                     commandWarnings,
			Description:              "List a member's warnings",
			DefaultMemberPermissions: &permModerate,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to look up",
					Required:    true,
				},
			},
		},
		{
			Name:                     commandDisableCommand,
			Description:              "Disable a command in this server",
			DefaultMemberPermissions: &permManageGuild,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "command",
					Description: "Command to disable",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Why the command is disabled",
					MaxLength:   500,
				},
			},
		},
		{
			Name:                     commandEnableCommand,
			Description:              "Re-enable a disabled command",
			DefaultMemberPermissions: &permManageGuild,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "command",
					Description: "Command to enable",
					Required:    true,
				},
			},
		},
		{
			Name:                     commandAutomod,
			Description:              "Configure auto-moderation",
			DefaultMemberPermissions: &permManageGuild,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "Turn auto-moderation on or off",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "spam",
					Description: "Remove repeated characters and very long messages",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "caps",
					Description: "Remove messages in excessive caps",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "mentions",
					Description: "Remove messages with too many mentions",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "links",
					Description: "Remove links to domains not on the whitelist",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "whitelist",
					Description: "Comma-separated list of allowed domains",
				},
			},
		},
		{
			Name:         commandRank,
			Description:  "Show a member's level and XP",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to look up (defaults to you)",
				},
			},
		},
		{
			Name:         commandLeaderboard,
			Description:  "Show the server's XP leaderboard",
			DMPermission: &dmPermission,
		},
		{
			Name:                     commandGiveaway,
			Description:              "Start a giveaway in this channel",
			DefaultMemberPermissions: &permManageGuild,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "prize",
					Description: "What the winners receive",
					Required:    true,
					MaxLength:   200,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "duration",
					Description: "How long entries stay open, e.g. 30m, 2h or 3d",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "winners",
					Description: "Number of winners (default 1)",
					MinValue:    &minGiveawayWinners,
					MaxValue:    giveawayMaxWinners,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "description",
					Description: "Extra details shown on the giveaway",
				},
			},
		},
		{
			Name:                     commandSelfRoleAdd,
			Description:              "Let members assign a role to themselves",
			DefaultMemberPermissions: &permManageRoles,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role to offer",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "emoji",
					Description: "Emoji shown next to the role",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "description",
					Description: "Short description shown in the menu",
					MaxLength:   100,
				},
			},
		},
		{
			Name:                     commandSelfRoleRemove,
			Description:              "Stop offering a self-assignable role",
			DefaultMemberPermissions: &permManageRoles,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role to remove",
					Required:    true,
				},
			},
		},
		{
			Name:                     commandSelfRolePanel,
			Description:              "Post the self-role menu in this channel",
			DefaultMemberPermissions: &permManageRoles,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "title",
					Description: "Panel title",
				},
			},
		},
	}
}

// routes builds the interaction router.
func (b *Bot) routes() *Router {
	r := NewRouter()

	r.Handle(KindCommand, commandAIToggle, Route{Handler: b.aiToggle})
	r.Handle(KindCommand, commandAIChannel, Route{Handler: b.aiChannel})
	r.Handle(KindCommand, commandAISymbol, Route{Handler: b.aiSymbol})
	r.Handle(KindCommand, commandAIStatus, Route{Handler: b.aiStatus})
	r.Handle(KindCommand, commandAIReset, Route{Handler: b.aiReset})
	r.Handle(KindCommand, commandAIPersonality, Route{Handler: b.aiPersonality})
	r.Handle(KindCommand, commandAIClear, Route{Handler: b.aiClear, Ephemeral: true})
	r.Handle(KindCommand, commandAIGame, Route{Handler: b.aiGame})

	r.Handle(KindCommand, commandTicketSetup, Route{Handler: b.ticketSetup, Ephemeral: true})
	r.Handle(KindCommand, commandTicket, Route{Handler: b.createTicket, Ephemeral: true})
	r.Handle(KindComponent, customIDCreateTicket, Route{Handler: b.createTicket, Ephemeral: true})
	r.Handle(KindComponent, customIDClaimTicket, Route{Handler: b.claimTicket, Immediate: true})
	r.Handle(KindComponent, customIDCloseTicket, Route{Handler: b.closeTicketPrompt, Immediate: true})
	r.Handle(KindModal, customIDCloseTicketModal, Route{Handler: b.closeTicket})

	r.Handle(KindCommand, commandWarn, Route{Handler: b.warnCommand, Ephemeral: true})
	r.Handle(KindCommand, commandWarnings, Route{Handler: b.warningsCommand, Ephemeral: true})
	r.Handle(KindCommand, commandDisableCommand, Route{Handler: b.disableCommand, Ephemeral: true})
	r.Handle(KindCommand, commandEnableCommand, Route{Handler: b.enableCommand, Ephemeral: true})
	r.Handle(KindCommand, commandAutomod, Route{Handler: b.automodCommand, Ephemeral: true})

	r.Handle(KindCommand, commandRank, Route{Handler: b.rankCommand})
	r.Handle(KindCommand, commandLeaderboard, Route{Handler: b.leaderboardCommand})
	r.HandlePrefix(
		KindComponent,
		customIDLeaderboardPage,
		Route{Handler: b.leaderboardPage, Immediate: true},
	)

	r.Handle(KindCommand, commandGiveaway, Route{Handler: b.giveawayCommand, Ephemeral: true})
	r.Handle(KindComponent, customIDGiveawayEnter, Route{Handler: b.enterGiveaway, Immediate: true})

	r.Handle(KindCommand, commandSelfRoleAdd, Route{Handler: b.selfRoleAdd, Ephemeral: true})
	r.Handle(KindCommand, commandSelfRoleRemove, Route{Handler: b.selfRoleRemove, Ephemeral: true})
	r.Handle(KindCommand, commandSelfRolePanel, Route{Handler: b.selfRolePanel, Ephemeral: true})
	r.Handle(KindComponent, customIDSelfRoleSelect, Route{Handler: b.selfRoleSelect, Ephemeral: true})
	return r
}

// deployHint explains the discord errors commonly returned when pushing
// commands.
func deployHint(err error) string {
	code, ok := discordErrorCode(err)
	if !ok {
		return ""
	}
	switch code {
	case discordCodeMissingAccess:
		return "the bot is missing access: invite it with the applications.commands scope, " +
			"or check the guild ID"
	case discordCodeUnknownAccount:
		return "unknown application: check the application ID and bot token"
	case discordCodeInvalidFormBody:
		return "discord rejected a command definition (invalid form body)"
	}
	return ""
}

// registerCommands pushes the command manifest, globally when guildID is
// empty.
func (d *Discord) registerCommands(
	ctx context.Context,
	guildID string,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		guildID,
		commandManifest(),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		if hint := deployHint(err); hint != "" {
			return created, fmt.Errorf("error registering commands (%s): %w", hint, err)
		}
		return created, fmt.Errorf("error registering commands: %w", err)
	}
	scope := "global"
	if guildID != "" {
		scope = "guild " + guildID
	}
	d.logger.InfoContext(ctx, "registered commands", "count", len(created), "scope", scope)
	return created, nil
}

var ErrMissingApplicationID = errors.New("discord application id is required")

// DeployCommands registers the slash commands using the REST API only,
// without opening a gateway connection. An empty guildID deploys global
// commands.
func DeployCommands(
	ctx context.Context,
	config *Config,
	guildID string,
	logger *slog.Logger,
) ([]*discordgo.ApplicationCommand, error) {
	if config.Discord == nil || config.Discord.Token == "" {
		return nil, ErrMissingDiscordToken
	}
	if config.Discord.ApplicationID == "" {
		return nil, ErrMissingApplicationID
	}
	config.Discord.httpClient = config.HTTPClient
	d, err := newDiscord(config.Discord, logger)
	if err != nil {
		return nil, err
	}
	session, err := d.newSession()
	if err != nil {
		return nil, err
	}
	d.session = session
	created, err := d.registerCommands(ctx, guildID)
	if err != nil {
		d.logger.ErrorContext(ctx, "deploy failed", tint.Err(err))
	}
	return created, err
}
