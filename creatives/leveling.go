package creatives

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	xpMin = 15
	xpMax = 25

	leaderboardPageSize = 10
)

var leaderboardMedals = []string{"🥇", "🥈", "🥉"}

// levelForXP returns floor(0.1 * sqrt(xp)).
func levelForXP(xp int) int {
	if xp <= 0 {
		return 0
	}
	return int(math.Floor(0.1 * math.Sqrt(float64(xp))))
}

// xpForLevel is the minimum XP for level.
func xpForLevel(level int) int {
	return 100 * level * level
}

// awardXP grants message XP to the author, at most once per XP cooldown.
// Returns the updated level record, or nil when no XP was awarded.
func (b *Bot) awardXP(ctx context.Context, m *discordgo.Message) (*UserLevel, bool) {
	var (
		rec      *UserLevel
		leveled  bool
		awardErr error
	)
	b.locks.WithLease(
		xpLeaseKey(m.GuildID, m.Author.ID, m.ID), func() {
			if !b.limiter.Allow(m.Author.ID, CooldownXP, b.config.Cooldowns.XP) {
				return
			}
			rec, leveled, awardErr = b.addXP(ctx, m.GuildID, m.Author.ID, xpMin+b.randIntn(xpMax-xpMin+1))
		},
	)
	if awardErr != nil {
		b.logger.ErrorContext(
			ctx,
			"error awarding xp",
			"guild_id", m.GuildID,
			"user_id", m.Author.ID,
			tint.Err(awardErr),
		)
		return nil, false
	}
	return rec, leveled
}

func (b *Bot) addXP(ctx context.Context, guildID, userID string, amount int) (*UserLevel, bool, error) {
	rec, err := b.stores.Levels.Get(ctx, Key{"guild_id": guildID, "user_id": userID})
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		rec = &UserLevel{GuildID: guildID, UserID: userID}
	}
	previous := rec.Level
	rec.XP += amount
	rec.Messages++
	rec.Level = levelForXP(rec.XP)
	if err = b.stores.Levels.Put(ctx, rec); err != nil {
		return nil, false, err
	}
	return rec, rec.Level > previous, nil
}

func (b *Bot) handleLeveling(ctx context.Context, m *discordgo.Message, settings *GuildSettings) {
	if !settings.XPEnabled {
		return
	}
	rec, leveled := b.awardXP(ctx, m)
	if rec == nil || !leveled {
		return
	}
	if _, err := b.discord.session.ChannelMessageSend(
		m.ChannelID,
		fmt.Sprintf("🎉 Congratulations <@%s>! You've reached **level %d**!", m.Author.ID, rec.Level),
		discordgo.WithContext(ctx),
	); err != nil {
		b.logger.WarnContext(ctx, "error sending level up message", tint.Err(err))
	}
}

func (b *Bot) rankCommand(ctx context.Context, req *Request) error {
	userID := req.UserID
	if opt, ok := req.Options()["user"]; ok {
		userID = opt.UserValue(nil).ID
	}
	rec, err := b.stores.Levels.Get(ctx, Key{"guild_id": req.GuildID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("error loading level: %w", err)
	}
	if rec == nil {
		return req.Resolve(ctx, Reply{Content: fmt.Sprintf("<@%s> hasn't earned any XP yet.", userID)})
	}
	var ahead int64
	if err = b.db.DB().WithContext(ctx).
		Model(&UserLevel{}).
		Where("guild_id = ? AND xp > ?", req.GuildID, rec.XP).
		Count(&ahead).Error; err != nil {
		return fmt.Errorf("error computing rank: %w", err)
	}

	next := xpForLevel(rec.Level + 1)
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorPurple,
					Title:       "📊 Rank",
					Description: fmt.Sprintf("<@%s>", userID),
					Fields: []*discordgo.MessageEmbedField{
						{Name: "Rank", Value: fmt.Sprintf("#%d", ahead+1), Inline: true},
						{Name: "Level", Value: strconv.Itoa(rec.Level), Inline: true},
						{Name: "XP", Value: fmt.Sprintf("%d / %d", rec.XP, next), Inline: true},
						{Name: "Messages", Value: strconv.Itoa(rec.Messages), Inline: true},
					},
					Timestamp: b.embedTimestamp(),
				},
			},
		},
	)
}

func leaderboardCustomID(ownerID string, page int) string {
	return fmt.Sprintf("%s%s:%d", customIDLeaderboardPage, ownerID, page)
}

// parseLeaderboardCustomID splits "leaderboard:<owner>:<page>".
func parseLeaderboardCustomID(customID string) (string, int, bool) {
	owner, pageStr, ok := strings.Cut(strings.TrimPrefix(customID, customIDLeaderboardPage), ":")
	if !ok || owner == "" {
		return "", 0, false
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return "", 0, false
	}
	return owner, page, true
}

// leaderboardReply renders one page of the guild leaderboard, with
// navigation buttons bound to ownerID.
func (b *Bot) leaderboardReply(ctx context.Context, guildID, ownerID string, page int) (Reply, error) {
	total, err := b.stores.Levels.Count(ctx, map[string]any{"guild_id": guildID})
	if err != nil {
		return Reply{}, fmt.Errorf("error counting levels: %w", err)
	}
	if total == 0 {
		return Reply{Content: "📊 No one has earned any XP yet."}, nil
	}
	pages := int((total + leaderboardPageSize - 1) / leaderboardPageSize)
	page = max(0, min(page, pages-1))

	levels, err := b.stores.Levels.List(
		ctx,
		Filter{
			Where:  map[string]any{"guild_id": guildID},
			Order:  "xp desc, user_id",
			Limit:  leaderboardPageSize,
			Offset: page * leaderboardPageSize,
		},
	)
	if err != nil {
		return Reply{}, fmt.Errorf("error listing levels: %w", err)
	}
	lines := make([]string, 0, len(levels))
	for i, l := range levels {
		pos := page*leaderboardPageSize + i
		prefix := fmt.Sprintf("**%d.**", pos+1)
		if pos < len(leaderboardMedals) {
			prefix = leaderboardMedals[pos]
		}
		lines = append(lines, fmt.Sprintf("%s <@%s> Level %d (%d XP)", prefix, l.UserID, l.Level, l.XP))
	}

	return Reply{
		Embeds: []*discordgo.MessageEmbed{
			{
				Color:       colorPurple,
				Title:       "🏆 Leaderboard",
				Description: strings.Join(lines, "\n"),
				Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Page %d of %d", page+1, pages)},
				Timestamp:   b.embedTimestamp(),
			},
		},
		Components: buttonRows(
			discordgo.Button{
				Label:    "Back",
				Style:    discordgo.SecondaryButton,
				CustomID: leaderboardCustomID(ownerID, max(page-1, 0)),
				Emoji:    &discordgo.ComponentEmoji{Name: "⬅️"},
				Disabled: page == 0,
			},
			discordgo.Button{
				Label:    "Next",
				Style:    discordgo.SecondaryButton,
				CustomID: leaderboardCustomID(ownerID, page+1),
				Emoji:    &discordgo.ComponentEmoji{Name: "➡️"},
				Disabled: page >= pages-1,
			},
		),
	}, nil
}

func (b *Bot) leaderboardCommand(ctx context.Context, req *Request) error {
	reply, err := b.leaderboardReply(ctx, req.GuildID, req.UserID, 0)
	if err != nil {
		return err
	}
	return req.Resolve(ctx, reply)
}

// leaderboardPage handles the leaderboard navigation buttons, editing the
// leaderboard message in place.
func (b *Bot) leaderboardPage(ctx context.Context, req *Request) error {
	owner, page, ok := parseLeaderboardCustomID(req.Name)
	if !ok {
		return newUserError("This button interaction is not recognized or may have expired.")
	}
	if owner != req.UserID {
		return newUserError("Only the person who ran this command can change pages.")
	}
	reply, err := b.leaderboardReply(ctx, req.GuildID, owner, page)
	if err != nil {
		return err
	}
	reply.Update = true
	return req.Resolve(ctx, reply)
}
