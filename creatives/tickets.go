package creatives

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ticketPanelTitle       = "🎫 Support Tickets"
	ticketPanelDescription = "Need help? Click the button below to open a private support ticket with our staff team."
	ticketPanelButton      = "Create Ticket"
	ticketClaimedSuffix    = "-claimed"
	ticketNoReason         = "No reason provided"
	ticketCloseReasonMax   = 500

	// ticketAllow is granted to the ticket owner, staff and the bot
	ticketAllow = discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessages |
		discordgo.PermissionReadMessageHistory |
		discordgo.PermissionAttachFiles |
		discordgo.PermissionEmbedLinks
)

func ticketLeaseKey(channelID string) string {
	return "ticket_" + channelID
}

// requestUser returns the invoking user, falling back to a user with
// only the ID set.
func requestUser(req *Request) *discordgo.User {
	if u := getDiscordUser(req.Raw); u != nil {
		return u
	}
	if req.Member != nil && req.Member.User != nil {
		return req.Member.User
	}
	return &discordgo.User{ID: req.UserID, Username: req.UserID}
}

// ticketPermissionOverwrites hides the channel from @everyone and opens
// it to the owner, the bot and each staff role.
func ticketPermissionOverwrites(
	guildID, userID, botUserID string,
	staffRoleIDs []string,
) []*discordgo.PermissionOverwrite {
	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
		{
			ID:    userID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: ticketAllow,
		},
	}
	if botUserID != "" {
		overwrites = append(
			overwrites,
			&discordgo.PermissionOverwrite{
				ID:    botUserID,
				Type:  discordgo.PermissionOverwriteTypeMember,
				Allow: ticketAllow | discordgo.PermissionManageMessages | discordgo.PermissionManageChannels,
			},
		)
	}
	for _, roleID := range staffRoleIDs {
		overwrites = append(
			overwrites,
			&discordgo.PermissionOverwrite{
				ID:    roleID,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Allow: ticketAllow | discordgo.PermissionManageMessages,
			},
		)
	}
	return overwrites
}

func ticketButtons() []discordgo.MessageComponent {
	return buttonRows(
		discordgo.Button{
			Label:    "Claim",
			Style:    discordgo.SecondaryButton,
			CustomID: customIDClaimTicket,
			Emoji:    &discordgo.ComponentEmoji{Name: "🙋"},
		},
		discordgo.Button{
			Label:    "Close",
			Style:    discordgo.DangerButton,
			CustomID: customIDCloseTicket,
			Emoji:    &discordgo.ComponentEmoji{Name: "🔒"},
		},
	)
}

func (b *Bot) ticketSettings(ctx context.Context, guildID string) (*TicketSettings, error) {
	settings, err := b.stores.TicketSettings.Get(ctx, Key{"guild_id": guildID})
	if err != nil {
		return nil, fmt.Errorf("error loading ticket settings: %w", err)
	}
	return settings, nil
}

// ticketForChannel returns the open or claimed ticket for the channel,
// or nil.
func (b *Bot) ticketForChannel(ctx context.Context, channelID string) (*Ticket, error) {
	ticket, err := b.stores.Tickets.Get(ctx, Key{"channel_id": channelID})
	if err != nil {
		return nil, fmt.Errorf("error loading ticket: %w", err)
	}
	if ticket == nil || ticket.Status == TicketClosed {
		return nil, nil
	}
	return ticket, nil
}

func (b *Bot) openTicket(ctx context.Context, guildID, userID string) (*Ticket, error) {
	tickets, err := b.stores.Tickets.List(
		ctx,
		Filter{
			Where: map[string]any{
				"guild_id": guildID,
				"user_id":  userID,
				"status":   []string{string(TicketOpen), string(TicketClaimed)},
			},
			Limit: 1,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error looking up open tickets: %w", err)
	}
	if len(tickets) == 0 {
		return nil, nil
	}
	return &tickets[0], nil
}

// nextTicketNumber increments and returns the guild's ticket counter.
func (b *Bot) nextTicketNumber(ctx context.Context, guildID string) (int, error) {
	var number int
	err := b.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			rv := tx.Model(&TicketSettings{}).
				Where("guild_id = ?", guildID).
				UpdateColumn("ticket_counter", gorm.Expr("ticket_counter + ?", 1))
			if rv.Error != nil {
				return rv.Error
			}
			if rv.RowsAffected == 0 {
				return fmt.Errorf("no ticket settings for guild %s", guildID)
			}
			return tx.Model(&TicketSettings{}).
				Where("guild_id = ?", guildID).
				Select("ticket_counter").
				Scan(&number).Error
		},
	)
	if err != nil {
		return 0, fmt.Errorf("error incrementing ticket counter: %w", err)
	}
	return number, nil
}

// sendEmbed posts embed to channelID, logging failures. It's a no-op
// when channelID is empty.
func (b *Bot) sendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) {
	if channelID == "" {
		return
	}
	if _, err := b.discord.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}},
		discordgo.WithContext(ctx),
	); err != nil {
		b.logger.WarnContext(ctx, "error sending log embed", "channel_id", channelID, tint.Err(err))
	}
}

func (b *Bot) ticketSetup(ctx context.Context, req *Request) error {
	if req.GuildID == "" {
		return newUserError("This command can only be used in a server.")
	}
	opts := req.Options()
	category := resolvedChannel(req, "category")
	roleOpt, ok := opts["staff-role"]
	if category == nil || !ok {
		return newUserError("Please select a ticket category and a staff role.")
	}
	staffRole := roleOpt.RoleValue(nil, req.GuildID)
	logChannel := resolvedChannel(req, "log-channel")

	settings, err := b.ticketSettings(ctx, req.GuildID)
	if err != nil {
		return err
	}
	if settings == nil {
		settings = &TicketSettings{GuildID: req.GuildID}
	}
	settings.CategoryID = category.ID
	settings.StaffRoleIDs = datatypes.NewJSONSlice([]string{staffRole.ID})
	settings.LogChannelID = ""
	if logChannel != nil {
		settings.LogChannelID = logChannel.ID
	}
	if err = b.stores.TicketSettings.Put(ctx, settings); err != nil {
		return fmt.Errorf("error saving ticket settings: %w", err)
	}

	title := optionString(opts, "title")
	if title == "" {
		title = ticketPanelTitle
	}
	description := optionString(opts, "description")
	if description == "" {
		description = ticketPanelDescription
	}
	buttonText := optionString(opts, "button-text")
	if buttonText == "" {
		buttonText = ticketPanelButton
	}
	_, err = b.discord.session.ChannelMessageSendComplex(
		req.ChannelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorBlue,
					Title:       title,
					Description: description,
					Timestamp:   b.embedTimestamp(),
				},
			},
			Components: buttonRows(
				discordgo.Button{
					Label:    buttonText,
					Style:    discordgo.PrimaryButton,
					CustomID: customIDCreateTicket,
					Emoji:    &discordgo.ComponentEmoji{Name: "🎫"},
				},
			),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error posting ticket panel: %w", err)
	}

	logValue := "Not set"
	if settings.LogChannelID != "" {
		logValue = fmt.Sprintf("<#%s>", settings.LogChannelID)
	}
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color: colorGreen,
					Title: "✅ Ticket System Configured",
					Fields: []*discordgo.MessageEmbedField{
						{Name: "Category", Value: fmt.Sprintf("<#%s>", settings.CategoryID), Inline: true},
						{Name: "Staff Role", Value: fmt.Sprintf("<@&%s>", staffRole.ID), Inline: true},
						{Name: "Log Channel", Value: logValue, Inline: true},
					},
					Timestamp: b.embedTimestamp(),
				},
			},
		},
	)
}

// createTicket opens a private ticket channel for the user. It serves
// both the ticket command and the panel button.
func (b *Bot) createTicket(ctx context.Context, req *Request) error {
	if req.GuildID == "" {
		return newUserError("Tickets can only be created in a server.")
	}
	settings, err := b.ticketSettings(ctx, req.GuildID)
	if err != nil {
		return err
	}
	if settings == nil || settings.CategoryID == "" {
		return newUserError("❌ The ticket system is not set up. Ask an administrator to run `/ticket-setup`.")
	}
	if _, err = b.discord.session.Channel(settings.CategoryID, discordgo.WithContext(ctx)); err != nil {
		if code, ok := discordErrorCode(err); ok && code == discordgo.ErrCodeUnknownChannel {
			return newUserError(
				"❌ The ticket category no longer exists. Ask an administrator to run `/ticket-setup` again.",
			)
		}
		return fmt.Errorf("error fetching ticket category: %w", err)
	}

	existing, err := b.openTicket(ctx, req.GuildID, req.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		return newUserError("You already have an open ticket: <#%s>", existing.ChannelID)
	}
	if !b.limiter.Allow(req.UserID, CooldownTicket, b.config.Cooldowns.Ticket) {
		wait := b.limiter.Remaining(req.UserID, CooldownTicket, b.config.Cooldowns.Ticket)
		return newUserError(
			"⏰ Please wait %d second(s) before creating another ticket.",
			int(math.Ceil(wait.Seconds())),
		)
	}

	number, err := b.nextTicketNumber(ctx, req.GuildID)
	if err != nil {
		return err
	}
	user := requestUser(req)
	ticket := &Ticket{
		GuildID: req.GuildID,
		UserID:  req.UserID,
		Number:  number,
		Subject: optionString(req.Options(), "subject"),
		Status:  TicketOpen,
	}

	ch, err := b.discord.session.GuildChannelCreateComplex(
		req.GuildID,
		discordgo.GuildChannelCreateData{
			Name:     ticket.ChannelName(user.Username),
			Type:     discordgo.ChannelTypeGuildText,
			Topic:    fmt.Sprintf("Ticket #%d - %s (%s)", number, user.String(), user.ID),
			ParentID: settings.CategoryID,
			PermissionOverwrites: ticketPermissionOverwrites(
				req.GuildID,
				req.UserID,
				b.discord.BotUserID(),
				settings.StaffRoleIDs,
			),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		if code, ok := discordErrorCode(err); ok && code == discordCodeMissingPermissions {
			return newUserError(
				"❌ I don't have permission to create ticket channels. " +
					"Please make sure I have the **Manage Channels** permission.",
			)
		}
		return fmt.Errorf("error creating ticket channel: %w", err)
	}
	ticket.ChannelID = ch.ID
	if err = b.stores.Tickets.Put(ctx, ticket); err != nil {
		if _, e := b.discord.session.ChannelDelete(ch.ID, discordgo.WithContext(ctx)); e != nil {
			b.logger.ErrorContext(ctx, "error deleting orphaned ticket channel", "channel_id", ch.ID, tint.Err(e))
		}
		return fmt.Errorf("error saving ticket: %w", err)
	}

	pings := []string{fmt.Sprintf("<@%s>", req.UserID)}
	for _, roleID := range settings.StaffRoleIDs {
		pings = append(pings, fmt.Sprintf("<@&%s>", roleID))
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Ticket", Value: fmt.Sprintf("#%d", number), Inline: true},
		{Name: "Created By", Value: fmt.Sprintf("<@%s>", req.UserID), Inline: true},
	}
	if ticket.Subject != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Subject", Value: ticket.Subject})
	}
	if _, err = b.discord.session.ChannelMessageSendComplex(
		ch.ID,
		&discordgo.MessageSend{
			Content: strings.Join(pings, " "),
			Embeds: []*discordgo.MessageEmbed{
				{
					Color: colorBlue,
					Title: "🎫 Support Ticket Created",
					Description: fmt.Sprintf(
						"Hello <@%s>! Thank you for creating a ticket.\n"+
							"Our staff team will be with you shortly. Please describe your issue in detail.",
						req.UserID,
					),
					Fields:    fields,
					Timestamp: b.embedTimestamp(),
				},
			},
			Components: ticketButtons(),
		},
		discordgo.WithContext(ctx),
	); err != nil {
		b.logger.WarnContext(ctx, "error sending ticket welcome message", "channel_id", ch.ID, tint.Err(err))
	}

	b.sendEmbed(
		ctx,
		settings.LogChannelID,
		&discordgo.MessageEmbed{
			Color: colorGreen,
			Title: "🎫 New Ticket Created",
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Ticket", Value: fmt.Sprintf("#%d", number), Inline: true},
				{Name: "User", Value: fmt.Sprintf("<@%s>", req.UserID), Inline: true},
				{Name: "Channel", Value: fmt.Sprintf("<#%s>", ch.ID), Inline: true},
			},
			Timestamp: b.embedTimestamp(),
		},
	)
	b.logger.InfoContext(
		ctx,
		"ticket created",
		"guild_id", req.GuildID,
		"user_id", req.UserID,
		"ticket", number,
		"channel_id", ch.ID,
	)
	return req.Resolve(ctx, Reply{Content: fmt.Sprintf("Your ticket has been created: <#%s>", ch.ID)})
}

func (b *Bot) claimTicket(ctx context.Context, req *Request) error {
	var result error
	admitted := b.locks.WithLease(
		ticketLeaseKey(req.ChannelID), func() {
			result = b.claimTicketLocked(ctx, req)
		},
	)
	if !admitted {
		return newUserError("This ticket is being updated, please try again in a moment.")
	}
	return result
}

func (b *Bot) claimTicketLocked(ctx context.Context, req *Request) error {
	ticket, err := b.ticketForChannel(ctx, req.ChannelID)
	if err != nil {
		return err
	}
	if ticket == nil {
		return newUserError("This button can only be used in ticket channels.")
	}
	settings, err := b.ticketSettings(ctx, req.GuildID)
	if err != nil {
		return err
	}
	if settings == nil || !settings.IsStaff(req.Member) {
		return newUserError("Only staff members can claim tickets.")
	}
	if ticket.ClaimedBy != "" {
		return newUserError("❌ This ticket is already claimed by <@%s>", ticket.ClaimedBy)
	}

	ticket.ClaimedBy = req.UserID
	ticket.Status = TicketClaimed
	if err = b.stores.Tickets.Put(ctx, ticket); err != nil {
		return fmt.Errorf("error claiming ticket: %w", err)
	}

	if err = req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color: colorGreen,
					Title: "🙋 Ticket Claimed",
					Description: fmt.Sprintf(
						"This ticket has been claimed by <@%s>.\nThey will be assisting you with your issue.",
						req.UserID,
					),
					Timestamp: b.embedTimestamp(),
				},
			},
		},
	); err != nil {
		return err
	}

	ch, err := b.discord.session.Channel(req.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.WarnContext(ctx, "error fetching ticket channel", "channel_id", req.ChannelID, tint.Err(err))
		return nil
	}
	if !strings.Contains(ch.Name, ticketClaimedSuffix) {
		if _, err = b.discord.session.ChannelEdit(
			ch.ID,
			&discordgo.ChannelEdit{Name: ch.Name + ticketClaimedSuffix},
			discordgo.WithContext(ctx),
		); err != nil {
			b.logger.WarnContext(ctx, "error renaming claimed ticket", "channel_id", ch.ID, tint.Err(err))
		}
	}
	return nil
}

// closeTicketPrompt answers the close button with the confirmation modal.
func (b *Bot) closeTicketPrompt(ctx context.Context, req *Request) error {
	ticket, err := b.ticketForChannel(ctx, req.ChannelID)
	if err != nil {
		return err
	}
	if ticket == nil {
		return newUserError("This button can only be used in ticket channels.")
	}
	if err = b.checkTicketCloser(ctx, req, ticket); err != nil {
		return err
	}
	return req.Resolve(
		ctx, Reply{
			Modal: textInputModal(
				customIDCloseTicketModal,
				"Close Ticket Confirmation",
				customIDCloseReason,
				"Reason for closing (optional)",
				"Enter a reason for closing this ticket...",
				false,
				ticketCloseReasonMax,
			),
		},
	)
}

func (b *Bot) checkTicketCloser(ctx context.Context, req *Request, ticket *Ticket) error {
	if req.UserID == ticket.UserID {
		return nil
	}
	settings, err := b.ticketSettings(ctx, req.GuildID)
	if err != nil {
		return err
	}
	if settings == nil || !settings.IsStaff(req.Member) {
		return newUserError("Only the ticket creator or staff members can close this ticket.")
	}
	return nil
}

func (b *Bot) closeTicket(ctx context.Context, req *Request) error {
	var result error
	admitted := b.locks.WithLease(
		ticketLeaseKey(req.ChannelID), func() {
			result = b.closeTicketLocked(ctx, req)
		},
	)
	if !admitted {
		return newUserError("This ticket is being updated, please try again in a moment.")
	}
	return result
}

func (b *Bot) closeTicketLocked(ctx context.Context, req *Request) error {
	ticket, err := b.ticketForChannel(ctx, req.ChannelID)
	if err != nil {
		return err
	}
	if ticket == nil {
		return newUserError("This ticket is already closed.")
	}
	if err = b.checkTicketCloser(ctx, req, ticket); err != nil {
		return err
	}

	reason := strings.TrimSpace(req.ModalValue(customIDCloseReason))
	if reason == "" {
		reason = ticketNoReason
	}
	reason = truncate(reason, ticketCloseReasonMax)

	now := b.now()
	ticket.Status = TicketClosed
	ticket.ClosedBy = req.UserID
	ticket.CloseReason = reason
	ticket.ClosedAt = now.UnixMilli()
	if err = b.stores.Tickets.Put(ctx, ticket); err != nil {
		return fmt.Errorf("error closing ticket: %w", err)
	}

	if err = req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color: colorRed,
					Title: "🔒 Ticket Closed",
					Description: fmt.Sprintf(
						"This ticket has been closed by <@%s>.\n**Reason:** %s\n\n"+
							"This channel will be deleted in %d seconds.",
						req.UserID,
						reason,
						int(DefaultTicketDeleteDelay.Seconds()),
					),
					Timestamp: b.embedTimestamp(),
				},
			},
		},
	); err != nil {
		return err
	}

	settings, err := b.ticketSettings(ctx, req.GuildID)
	if err != nil {
		b.logger.WarnContext(ctx, "error loading ticket settings for close log", tint.Err(err))
	}
	if settings != nil {
		claimedBy := "Unclaimed"
		if ticket.ClaimedBy != "" {
			claimedBy = fmt.Sprintf("<@%s>", ticket.ClaimedBy)
		}
		duration := time.Duration(ticket.ClosedAt-ticket.CreatedAt) * time.Millisecond
		b.sendEmbed(
			ctx,
			settings.LogChannelID,
			&discordgo.MessageEmbed{
				Color: colorRed,
				Title: "🔒 Ticket Closed",
				Fields: []*discordgo.MessageEmbedField{
					{Name: "Ticket", Value: fmt.Sprintf("#%d", ticket.Number), Inline: true},
					{Name: "Original Creator", Value: fmt.Sprintf("<@%s>", ticket.UserID), Inline: true},
					{Name: "Closed By", Value: fmt.Sprintf("<@%s>", req.UserID), Inline: true},
					{Name: "Claimed By", Value: claimedBy, Inline: true},
					{Name: "Duration", Value: fmt.Sprintf("%d minutes", int(duration.Minutes())), Inline: true},
					{Name: "Reason", Value: reason},
				},
				Timestamp: b.embedTimestamp(),
			},
		)
	}
	b.addModLog(
		ctx,
		&ModLog{
			GuildID:     req.GuildID,
			Action:      ModLogTicketClose,
			TargetID:    ticket.UserID,
			ModeratorID: req.UserID,
			Reason:      reason,
		},
	)

	channelID := ticket.ChannelID
	deleteCtx := context.WithoutCancel(ctx)
	b.afterFunc(
		DefaultTicketDeleteDelay, func() {
			if _, e := b.discord.session.ChannelDelete(channelID, discordgo.WithContext(deleteCtx)); e != nil {
				b.logger.WarnContext(deleteCtx, "error deleting ticket channel", "channel_id", channelID, tint.Err(e))
			}
		},
	)
	return nil
}
