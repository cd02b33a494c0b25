package creatives

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/datatypes"
)

// Automod rule names, used in warning reasons and as metric labels
const (
	automodRuleSpam     = "spam"
	automodRuleCaps     = "excessive caps"
	automodRuleMentions = "mass mentions"
	automodRuleLinks    = "unauthorized links"

	// automodRepeatRun is the length of a run of one repeated character
	// treated as spam
	automodRepeatRun = 5

	warningsListLimit = 10

	permModerator = discordgo.PermissionAdministrator |
		discordgo.PermissionManageMessages |
		discordgo.PermissionModerateMembers
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>]+`)

// pausedGuard rejects interactions while the bot is paused.
func (b *Bot) pausedGuard(_ context.Context, _ *Request) error {
	if b.Paused() {
		return newUserError("⏸️ The bot is currently paused. Please try again later.")
	}
	return nil
}

// disabledCommandGuard rejects slash commands disabled for the guild.
func (b *Bot) disabledCommandGuard(ctx context.Context, req *Request) error {
	if req.Kind != KindCommand || req.GuildID == "" {
		return nil
	}
	disabled, err := b.settings.DisabledCommand(ctx, req.GuildID, req.Name)
	if err != nil {
		return fmt.Errorf("error checking disabled commands: %w", err)
	}
	if disabled == nil {
		return nil
	}
	reason := disabled.Reason
	if reason == "" {
		reason = "No reason provided"
	}
	disabledAt := disabled.DisabledAt / 1000
	return newEmbedError(
		fmt.Sprintf("command %s is disabled", req.Name),
		&discordgo.MessageEmbed{
			Color:       colorCoral,
			Title:       "🔒 Command Disabled",
			Description: "This command has been disabled by server administrators.",
			Fields: []*discordgo.MessageEmbedField{
				{Name: "📝 Reason", Value: reason},
				{Name: "👤 Disabled By", Value: fmt.Sprintf("<@%s>", disabled.DisabledBy), Inline: true},
				{Name: "⏰ Date", Value: fmt.Sprintf("<t:%d:F>", disabledAt), Inline: true},
			},
			Timestamp: b.embedTimestamp(),
		},
	)
}

// commandCooldownGuard enforces the per-user, per-command cooldown.
func (b *Bot) commandCooldownGuard(_ context.Context, req *Request) error {
	if req.Kind != KindCommand {
		return nil
	}
	kind := commandCooldownKind(req.Name)
	window := b.config.Cooldowns.Command
	if b.limiter.Allow(req.UserID, kind, window) {
		return nil
	}
	wait := int(math.Ceil(b.limiter.Remaining(req.UserID, kind, window).Seconds()))
	return newEmbedError(
		fmt.Sprintf("command %s on cooldown", req.Name),
		&discordgo.MessageEmbed{
			Color:       colorAmber,
			Title:       "⏰ Cooldown Active",
			Description: fmt.Sprintf("Please wait %d second(s) before using this command again.", wait),
		},
	)
}

func isModerator(member *discordgo.Member) bool {
	return member != nil && member.Permissions&permModerator != 0
}

// hasRepeatedRun reports whether s contains n or more consecutive
// occurrences of the same rune.
func hasRepeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}

func capsRatio(s string) float64 {
	total := 0
	upper := 0
	for _, r := range s {
		total++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(upper) / float64(total)
}

// unauthorizedLinks returns the hosts of URLs in content that don't
// match any whitelisted domain.
func unauthorizedLinks(content string, whitelist []string) []string {
	var hosts []string
	for _, raw := range urlPattern.FindAllString(content, -1) {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			hosts = append(hosts, raw)
			continue
		}
		host := strings.ToLower(u.Hostname())
		allowed := slices.ContainsFunc(
			whitelist, func(domain string) bool {
				return domain != "" && strings.Contains(host, strings.ToLower(domain))
			},
		)
		if !allowed {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// automodViolations returns the rules the message breaks, in a stable
// order.
func automodViolations(settings *GuildSettings, cfg *AutomodConfig, m *discordgo.Message) []string {
	var rules []string
	content := m.Content
	if settings.AutomodSpam &&
		(hasRepeatedRun(content, automodRepeatRun) || len([]rune(content)) > cfg.MaxMessageLength) {
		rules = append(rules, automodRuleSpam)
	}
	if settings.AutomodCaps &&
		len([]rune(content)) > cfg.CapsMinLength &&
		capsRatio(content) > cfg.CapsRatio {
		rules = append(rules, automodRuleCaps)
	}
	if settings.AutomodMentions && len(m.Mentions)+len(m.MentionRoles) > cfg.MaxMentions {
		rules = append(rules, automodRuleMentions)
	}
	if settings.AutomodLinks && len(unauthorizedLinks(content, settings.LinkWhitelist)) > 0 {
		rules = append(rules, automodRuleLinks)
	}
	return rules
}

// handleAutomod applies the guild's automod rules to m, and returns true
// if the message was removed.
func (b *Bot) handleAutomod(ctx context.Context, m *discordgo.Message, settings *GuildSettings) bool {
	if !settings.AutomodEnabled || isModerator(m.Member) {
		return false
	}
	rules := automodViolations(settings, b.config.Automod, m)
	if len(rules) == 0 {
		return false
	}
	logger := b.logger.With("message_id", m.ID, "user_id", m.Author.ID, "guild_id", m.GuildID)
	for _, rule := range rules {
		automodActions.WithLabelValues(rule).Inc()
	}

	if err := b.discord.session.ChannelMessageDelete(
		m.ChannelID,
		m.ID,
		discordgo.WithContext(ctx),
	); err != nil {
		logger.WarnContext(ctx, "error deleting automod message", tint.Err(err))
	}

	reason := "Auto-moderation: " + strings.Join(rules, ", ")
	if _, err := b.db.Create(
		ctx,
		&Warning{
			GuildID:     m.GuildID,
			UserID:      m.Author.ID,
			ModeratorID: b.discord.BotUserID(),
			Reason:      reason,
			Automatic:   true,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error recording automod warning", tint.Err(err))
	}
	b.addModLog(
		ctx,
		&ModLog{
			GuildID:     m.GuildID,
			Action:      ModLogAutomod,
			TargetID:    m.Author.ID,
			ModeratorID: b.discord.BotUserID(),
			Reason:      reason,
		},
	)

	notice, err := b.discord.session.ChannelMessageSendComplex(
		m.ChannelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color: colorRed,
					Title: "🛡️ Auto-Moderation",
					Description: fmt.Sprintf(
						"<@%s>, your message was removed for: %s",
						m.Author.ID,
						strings.Join(rules, ", "),
					),
					Timestamp: b.embedTimestamp(),
				},
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.WarnContext(ctx, "error sending automod notice", tint.Err(err))
	} else {
		deleteCtx := context.WithoutCancel(ctx)
		b.afterFunc(
			DefaultTicketDeleteDelay, func() {
				if e := b.discord.session.ChannelMessageDelete(
					notice.ChannelID,
					notice.ID,
					discordgo.WithContext(deleteCtx),
				); e != nil {
					logger.DebugContext(deleteCtx, "error deleting automod notice", tint.Err(e))
				}
			},
		)
	}
	logger.InfoContext(ctx, "automod removed message", "rules", rules)
	return true
}

// addModLog records a moderation action, and posts it to the guild's
// mod log channel when one is configured.
func (b *Bot) addModLog(ctx context.Context, entry *ModLog) {
	if _, err := b.db.Create(ctx, entry); err != nil {
		b.logger.ErrorContext(ctx, "error recording mod log", "action", entry.Action, tint.Err(err))
		return
	}
	settings, err := b.settings.Get(ctx, entry.GuildID)
	if err != nil || settings.ModLogChannelID == "" {
		return
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Action", Value: string(entry.Action), Inline: true},
	}
	if entry.TargetID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Target", Value: fmt.Sprintf("<@%s>", entry.TargetID), Inline: true})
	}
	if entry.ModeratorID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Moderator", Value: fmt.Sprintf("<@%s>", entry.ModeratorID), Inline: true})
	}
	if entry.Reason != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Reason", Value: entry.Reason})
	}
	b.sendEmbed(
		ctx,
		settings.ModLogChannelID,
		&discordgo.MessageEmbed{
			Color:     colorOrange,
			Title:     "📋 Moderation Log",
			Fields:    fields,
			Timestamp: b.embedTimestamp(),
		},
	)
}

func (b *Bot) warnCommand(ctx context.Context, req *Request) error {
	opt, ok := req.Options()["user"]
	if !ok {
		return newUserError("Please select a member to warn.")
	}
	target := opt.UserValue(nil)
	if target.ID == req.UserID {
		return newUserError("❌ You can't warn yourself.")
	}
	if target.ID == b.discord.BotUserID() {
		return newUserError("❌ You can't warn me.")
	}
	reason := strings.TrimSpace(optionString(req.Options(), "reason"))
	if reason == "" {
		return newUserError("Please provide a reason.")
	}

	if _, err := b.db.Create(
		ctx,
		&Warning{
			GuildID:     req.GuildID,
			UserID:      target.ID,
			ModeratorID: req.UserID,
			Reason:      reason,
		},
	); err != nil {
		return fmt.Errorf("error recording warning: %w", err)
	}
	total, err := b.stores.Warnings.Count(ctx, map[string]any{"guild_id": req.GuildID, "user_id": target.ID})
	if err != nil {
		return fmt.Errorf("error counting warnings: %w", err)
	}
	b.addModLog(
		ctx,
		&ModLog{
			GuildID:     req.GuildID,
			Action:      ModLogWarn,
			TargetID:    target.ID,
			ModeratorID: req.UserID,
			Reason:      reason,
		},
	)
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color: colorOrange,
					Title: "⚠️ Member Warned",
					Fields: []*discordgo.MessageEmbedField{
						{Name: "Member", Value: fmt.Sprintf("<@%s>", target.ID), Inline: true},
						{Name: "Moderator", Value: fmt.Sprintf("<@%s>", req.UserID), Inline: true},
						{Name: "Total Warnings", Value: fmt.Sprintf("%d", total), Inline: true},
						{Name: "Reason", Value: reason},
					},
					Timestamp: b.embedTimestamp(),
				},
			},
		},
	)
}

func (b *Bot) warningsCommand(ctx context.Context, req *Request) error {
	opt, ok := req.Options()["user"]
	if !ok {
		return newUserError("Please select a member.")
	}
	target := opt.UserValue(nil)
	where := map[string]any{"guild_id": req.GuildID, "user_id": target.ID}
	total, err := b.stores.Warnings.Count(ctx, where)
	if err != nil {
		return fmt.Errorf("error counting warnings: %w", err)
	}
	if total == 0 {
		return req.Resolve(ctx, Reply{Content: fmt.Sprintf("✅ <@%s> has no warnings.", target.ID)})
	}
	warnings, err := b.stores.Warnings.List(
		ctx,
		Filter{Where: where, Order: "created_at desc", Limit: warningsListLimit},
	)
	if err != nil {
		return fmt.Errorf("error listing warnings: %w", err)
	}
	lines := make([]string, 0, len(warnings))
	for _, w := range warnings {
		by := fmt.Sprintf("<@%s>", w.ModeratorID)
		if w.Automatic {
			by = "automod"
		}
		lines = append(
			lines,
			fmt.Sprintf("**#%d** <t:%d:d> by %s: %s", w.ID, w.CreatedAt/1000, by, truncate(w.Reason, 200)),
		)
	}
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorOrange,
					Title:       "⚠️ Warnings",
					Description: shortenString(
						fmt.Sprintf("<@%s> has **%d** warning(s).\n\n%s", target.ID, total, strings.Join(lines, "\n")),
						discordMaxEmbedDescriptionLength,
					),
					Timestamp:   b.embedTimestamp(),
				},
			},
		},
	)
}

// commandArgument normalizes a command name given as an option value.
func commandArgument(req *Request) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(optionString(req.Options(), "command")), "/"))
}

func (b *Bot) disableCommand(ctx context.Context, req *Request) error {
	command := commandArgument(req)
	if command == commandDisableCommand || command == commandEnableCommand {
		return newUserError("❌ `/%s` can't be disabled.", command)
	}
	if !slices.Contains(b.router.Commands(), command) {
		return newUserError("❌ Unknown command: `/%s`", command)
	}
	reason := strings.TrimSpace(optionString(req.Options(), "reason"))
	if reason == "" {
		reason = "No reason provided"
	}
	created, err := b.settings.DisableCommand(ctx, req.GuildID, command, reason, req.UserID)
	if err != nil {
		return fmt.Errorf("error disabling command: %w", err)
	}
	if !created {
		return newUserError("❌ `/%s` is already disabled.", command)
	}
	b.addModLog(
		ctx,
		&ModLog{
			GuildID:     req.GuildID,
			Action:      ModLogCommandDisable,
			ModeratorID: req.UserID,
			Reason:      fmt.Sprintf("/%s: %s", command, reason),
		},
	)
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorCoral,
					Title:       "🔒 Command Disabled",
					Description: fmt.Sprintf("`/%s` has been disabled in this server.", command),
					Fields: []*discordgo.MessageEmbedField{
						{Name: "📝 Reason", Value: reason},
					},
					Timestamp: b.embedTimestamp(),
				},
			},
		},
	)
}

func (b *Bot) enableCommand(ctx context.Context, req *Request) error {
	command := commandArgument(req)
	removed, err := b.settings.EnableCommand(ctx, req.GuildID, command)
	if err != nil {
		return fmt.Errorf("error enabling command: %w", err)
	}
	if !removed {
		return newUserError("❌ `/%s` is not disabled.", command)
	}
	b.addModLog(
		ctx,
		&ModLog{
			GuildID:     req.GuildID,
			Action:      ModLogCommandEnable,
			ModeratorID: req.UserID,
			Reason:      "/" + command,
		},
	)
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorGreen,
					Title:       "🔓 Command Enabled",
					Description: fmt.Sprintf("`/%s` has been re-enabled in this server.", command),
					Timestamp:   b.embedTimestamp(),
				},
			},
		},
	)
}

func parseWhitelist(s string) []string {
	var domains []string
	for _, d := range strings.Split(s, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && !slices.Contains(domains, d) {
			domains = append(domains, d)
		}
	}
	return domains
}

func onOff(v bool) string {
	if v {
		return "✅ On"
	}
	return "❌ Off"
}

func (b *Bot) automodCommand(ctx context.Context, req *Request) error {
	opts := req.Options()
	settings, err := b.settings.Update(
		ctx, req.GuildID, func(s *GuildSettings) {
			if opt, ok := opts["enabled"]; ok {
				s.AutomodEnabled = opt.BoolValue()
			}
			if opt, ok := opts["spam"]; ok {
				s.AutomodSpam = opt.BoolValue()
			}
			if opt, ok := opts["caps"]; ok {
				s.AutomodCaps = opt.BoolValue()
			}
			if opt, ok := opts["mentions"]; ok {
				s.AutomodMentions = opt.BoolValue()
			}
			if opt, ok := opts["links"]; ok {
				s.AutomodLinks = opt.BoolValue()
			}
			if opt, ok := opts["whitelist"]; ok {
				s.LinkWhitelist = datatypes.NewJSONSlice(parseWhitelist(opt.StringValue()))
			}
		},
	)
	if err != nil {
		return fmt.Errorf("error updating automod settings: %w", err)
	}
	whitelist := "None"
	if len(settings.LinkWhitelist) > 0 {
		whitelist = shortenString(strings.Join(settings.LinkWhitelist, ", "), discordMaxEmbedFieldValueLength)
	}
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color: colorBlue,
					Title: "🛡️ Auto-Moderation Settings",
					Fields: []*discordgo.MessageEmbedField{
						{Name: "Enabled", Value: onOff(settings.AutomodEnabled), Inline: true},
						{Name: "Spam", Value: onOff(settings.AutomodSpam), Inline: true},
						{Name: "Caps", Value: onOff(settings.AutomodCaps), Inline: true},
						{Name: "Mentions", Value: onOff(settings.AutomodMentions), Inline: true},
						{Name: "Links", Value: onOff(settings.AutomodLinks), Inline: true},
						{Name: "Link Whitelist", Value: whitelist},
					},
					Timestamp: b.embedTimestamp(),
				},
			},
		},
	)
}
