package creatives

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/datatypes"
)

const (
	giveawayMinDuration = time.Minute
	giveawayMaxDuration = 30 * 24 * time.Hour
	giveawayMaxWinners  = 20
	giveawayNoDesc      = "No description provided"
)

func giveawayLeaseKey(messageID, userID string) string {
	return "giveaway_" + messageID + "_" + userID
}

// parseGiveawayDuration accepts Go durations ("90m", "1h30m") plus a
// whole-day suffix ("3d").
func parseGiveawayDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", days)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func giveawayButtons(disabled bool) []discordgo.MessageComponent {
	return buttonRows(
		discordgo.Button{
			Label:    "Enter",
			Style:    discordgo.SuccessButton,
			CustomID: customIDGiveawayEnter,
			Emoji:    &discordgo.ComponentEmoji{Name: "🎉"},
			Disabled: disabled,
		},
	)
}

func giveawayNotice(title, description string) error {
	return newEmbedError(
		description,
		&discordgo.MessageEmbed{Color: colorRed, Title: title, Description: description},
	)
}

func (b *Bot) giveawayEmbed(g *Giveaway, entries int64) *discordgo.MessageEmbed {
	description := g.Description
	if description == "" {
		description = giveawayNoDesc
	}
	endsName := "⏰ Ends"
	if g.Ended {
		endsName = "⏰ Ended"
	}
	embed := &discordgo.MessageEmbed{
		Color:       colorPink,
		Title:       "🎉 " + g.Prize,
		Description: description,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "🎁 Prize", Value: g.Prize, Inline: true},
			{Name: "👥 Entries", Value: strconv.FormatInt(entries, 10), Inline: true},
			{Name: "🏆 Winners", Value: strconv.Itoa(g.WinnerCount), Inline: true},
			{Name: endsName, Value: fmt.Sprintf("<t:%d:F>", g.EndsAt/1000)},
		},
		Timestamp: b.embedTimestamp(),
	}
	if g.Ended {
		drawn := "No valid entries"
		if len(g.Winners) > 0 {
			drawn = mentionUsers(g.Winners)
		}
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:  "🥇 Drawn",
				Value: shortenString(drawn, discordMaxEmbedFieldValueLength),
			},
		)
	}
	return embed
}

func mentionUsers(ids []string) string {
	mentions := make([]string, len(ids))
	for i, id := range ids {
		mentions[i] = "<@" + id + ">"
	}
	return strings.Join(mentions, ", ")
}

// giveawayCommand posts a giveaway message in the current channel.
func (b *Bot) giveawayCommand(ctx context.Context, req *Request) error {
	if req.GuildID == "" {
		return newUserError("This command can only be used in a server.")
	}
	opts := req.Options()
	prize := strings.TrimSpace(optionString(opts, "prize"))
	if prize == "" {
		return newUserError("Please provide a prize.")
	}
	duration, err := parseGiveawayDuration(optionString(opts, "duration"))
	if err != nil {
		return newUserError("❌ Invalid duration. Use a format like `30m`, `2h` or `3d`.")
	}
	if duration < giveawayMinDuration || duration > giveawayMaxDuration {
		return newUserError("❌ Giveaways must run between 1 minute and 30 days.")
	}
	winners := 1
	if o, ok := opts["winners"]; ok && o != nil {
		winners = int(o.IntValue())
	}
	if winners < 1 || winners > giveawayMaxWinners {
		return newUserError("❌ The number of winners must be between 1 and %d.", giveawayMaxWinners)
	}

	g := &Giveaway{
		GuildID:     req.GuildID,
		ChannelID:   req.ChannelID,
		HostID:      req.UserID,
		Prize:       shortenString(prize, 200),
		Description: shortenString(optionString(opts, "description"), discordMaxEmbedDescriptionLength),
		WinnerCount: winners,
		EndsAt:      b.now().Add(duration).UnixMilli(),
	}
	msg, err := b.discord.session.ChannelMessageSendComplex(
		req.ChannelID,
		&discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{b.giveawayEmbed(g, 0)},
			Components: giveawayButtons(false),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error posting giveaway: %w", err)
	}
	g.MessageID = msg.ID
	if err = b.stores.Giveaways.Put(ctx, g); err != nil {
		if e := b.discord.session.ChannelMessageDelete(
			req.ChannelID,
			msg.ID,
			discordgo.WithContext(ctx),
		); e != nil {
			b.logger.ErrorContext(ctx, "error removing unsaved giveaway", "message_id", msg.ID, tint.Err(e))
		}
		return fmt.Errorf("error saving giveaway: %w", err)
	}

	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorGreen,
					Title:       "✅ Giveaway Started",
					Description: fmt.Sprintf("**%s** ends <t:%d:R>.", g.Prize, g.EndsAt/1000),
					Timestamp:   b.embedTimestamp(),
				},
			},
		},
	)
}

// enterGiveaway toggles the member's entry on the giveaway the button
// belongs to.
func (b *Bot) enterGiveaway(ctx context.Context, req *Request) error {
	if req.Raw == nil || req.Raw.Message == nil {
		return giveawayNotice("🎁 Giveaway Not Found", "This giveaway no longer exists.")
	}
	messageID := req.Raw.Message.ID
	var result error
	admitted := b.locks.WithLease(
		giveawayLeaseKey(messageID, req.UserID), func() {
			result = b.enterGiveawayLocked(ctx, req, messageID)
		},
	)
	if !admitted {
		return newUserError("Your entry is being updated, please try again in a moment.")
	}
	return result
}

func (b *Bot) enterGiveawayLocked(ctx context.Context, req *Request, messageID string) error {
	g, err := b.stores.Giveaways.Get(ctx, Key{"message_id": messageID})
	if err != nil {
		return fmt.Errorf("error loading giveaway: %w", err)
	}
	switch {
	case g == nil:
		return giveawayNotice("🎁 Giveaway Not Found", "This giveaway no longer exists.")
	case g.Ended:
		return giveawayNotice("🎁 Giveaway Ended", "This giveaway has already ended.")
	case g.Expired(b.now().UnixMilli()):
		return giveawayNotice("🎁 Giveaway Expired", "This giveaway has expired.")
	}

	key := Key{"giveaway_id": g.ID, "user_id": req.UserID}
	removed, err := b.stores.GiveawayEntries.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("error updating giveaway entry: %w", err)
	}
	entered := removed == 0
	if entered {
		if err = b.stores.GiveawayEntries.Put(
			ctx,
			&GiveawayEntry{GiveawayID: g.ID, UserID: req.UserID},
		); err != nil {
			return fmt.Errorf("error saving giveaway entry: %w", err)
		}
	}
	count, err := b.stores.GiveawayEntries.Count(ctx, map[string]any{"giveaway_id": g.ID})
	if err != nil {
		return fmt.Errorf("error counting giveaway entries: %w", err)
	}

	if err = req.Resolve(
		ctx, Reply{
			Update:     true,
			Embeds:     []*discordgo.MessageEmbed{b.giveawayEmbed(g, count)},
			Components: giveawayButtons(false),
		},
	); err != nil {
		return err
	}

	notice := &discordgo.MessageEmbed{
		Color:       colorGreen,
		Title:       "✅ Left Giveaway",
		Description: "You have successfully left the giveaway.",
		Timestamp:   b.embedTimestamp(),
	}
	if entered {
		notice.Title = "🎉 Entered Giveaway"
		notice.Description = "You have successfully entered the giveaway!"
	}
	return req.FollowUp(ctx, Reply{Embeds: []*discordgo.MessageEmbed{notice}, Ephemeral: true})
}

// drawWinners picks up to n distinct users from entries.
func (b *Bot) drawWinners(entries []GiveawayEntry, n int) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	n = min(n, len(ids))
	for i := 0; i < n; i++ {
		j := i + b.randIntn(len(ids)-i)
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids[:n]
}

// endExpiredGiveaways draws every giveaway whose end time has passed
// and returns the number ended.
func (b *Bot) endExpiredGiveaways(ctx context.Context) (int, error) {
	var due []Giveaway
	err := b.db.DB().WithContext(ctx).
		Where("ended = ? AND ends_at <= ?", false, b.now().UnixMilli()).
		Order("ends_at").
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("error loading expired giveaways: %w", err)
	}
	ended := 0
	for i := range due {
		if err = b.endGiveaway(ctx, &due[i]); err != nil {
			b.logger.ErrorContext(ctx, "error ending giveaway", "giveaway_id", due[i].ID, tint.Err(err))
			continue
		}
		ended++
	}
	return ended, nil
}

func (b *Bot) endGiveaway(ctx context.Context, g *Giveaway) error {
	entries, err := b.stores.GiveawayEntries.List(
		ctx,
		Filter{Where: map[string]any{"giveaway_id": g.ID}, Order: "created_at, user_id"},
	)
	if err != nil {
		return fmt.Errorf("error loading giveaway entries: %w", err)
	}
	g.Ended = true
	g.Winners = datatypes.NewJSONSlice(b.drawWinners(entries, g.WinnerCount))
	if err = b.stores.Giveaways.Put(ctx, g); err != nil {
		return fmt.Errorf("error saving giveaway result: %w", err)
	}

	embeds := []*discordgo.MessageEmbed{b.giveawayEmbed(g, int64(len(entries)))}
	components := giveawayButtons(true)
	if _, err = b.discord.session.ChannelMessageEditComplex(
		&discordgo.MessageEdit{
			ID:         g.MessageID,
			Channel:    g.ChannelID,
			Embeds:     &embeds,
			Components: &components,
		},
		discordgo.WithContext(ctx),
	); err != nil {
		b.logger.WarnContext(ctx, "error updating ended giveaway", "message_id", g.MessageID, tint.Err(err))
	}

	announcement := fmt.Sprintf("No valid entries for **%s**, so no winners were drawn.", g.Prize)
	if len(g.Winners) > 0 {
		announcement = fmt.Sprintf(
			"🎉 Congratulations %s! You won **%s**!",
			mentionUsers(g.Winners),
			g.Prize,
		)
	}
	if _, err = b.discord.session.ChannelMessageSendComplex(
		g.ChannelID,
		&discordgo.MessageSend{
			Content: announcement,
			Reference: &discordgo.MessageReference{
				MessageID: g.MessageID,
				ChannelID: g.ChannelID,
				GuildID:   g.GuildID,
			},
		},
		discordgo.WithContext(ctx),
	); err != nil {
		b.logger.WarnContext(ctx, "error announcing giveaway winners", "giveaway_id", g.ID, tint.Err(err))
	}
	return nil
}

func (b *Bot) endGiveawaysJob() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ended, err := b.endExpiredGiveaways(ctx)
	if err != nil {
		b.logger.Error("giveaway draw failed", tint.Err(err))
		return
	}
	if ended > 0 {
		b.logger.Info("ended giveaways", "count", ended)
	}
}
