package creatives

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelForXP(t *testing.T) {
	tests := []struct {
		xp   int
		want int
	}{
		{-5, 0},
		{0, 0},
		{99, 0},
		{100, 1},
		{399, 1},
		{400, 2},
		{10000, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levelForXP(tt.xp), "xp=%d", tt.xp)
	}
	for level := 0; level < 20; level++ {
		assert.Equal(t, level, levelForXP(xpForLevel(level)))
	}
}

func TestParseLeaderboardCustomID(t *testing.T) {
	owner, page, ok := parseLeaderboardCustomID(leaderboardCustomID("u1", 3))
	require.True(t, ok)
	assert.Equal(t, "u1", owner)
	assert.Equal(t, 3, page)

	for _, bad := range []string{
		customIDLeaderboardPage,
		customIDLeaderboardPage + "u1",
		customIDLeaderboardPage + ":2",
		customIDLeaderboardPage + "u1:x",
		customIDLeaderboardPage + "u1:-1",
	} {
		_, _, ok = parseLeaderboardCustomID(bad)
		assert.False(t, ok, bad)
	}
}

func TestBot_AwardXP(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	rec, leveled := tb.awardXP(ctx, testMessage("m1", "hi"))
	require.NotNil(t, rec)
	assert.False(t, leveled)
	assert.Equal(t, xpMin, rec.XP)

	// cooldown
	rec, _ = tb.awardXP(ctx, testMessage("m2", "hi"))
	assert.Nil(t, rec)

	tb.clock.Advance(DefaultXPCooldown)
	tb.randIntn = func(n int) int { return n - 1 }
	rec, _ = tb.awardXP(ctx, testMessage("m3", "hi"))
	require.NotNil(t, rec)
	assert.Equal(t, xpMin+xpMax, rec.XP)
	assert.Equal(t, 2, rec.Messages)
}

func TestBot_LevelUpAnnouncement(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	require.NoError(
		t,
		tb.stores.Levels.Put(ctx, &UserLevel{GuildID: testGuildID, UserID: testUserID, XP: 90, Messages: 5}),
	)

	tb.handleLeveling(ctx, testMessage("m1", "hi"), mustSettings(t, tb))

	sent := tb.session.sentTo(testChannelID)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Content, "level 1")

	rec, err := tb.stores.Levels.Get(ctx, Key{"guild_id": testGuildID, "user_id": testUserID})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Level)
	assert.Equal(t, 105, rec.XP)
}

func TestBot_LevelingDisabled(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	_, err := tb.settings.Update(
		ctx, testGuildID, func(s *GuildSettings) {
			s.XPEnabled = false
		},
	)
	require.NoError(t, err)

	tb.handleLeveling(ctx, testMessage("m1", "hi"), mustSettings(t, tb))
	n, err := tb.stores.Levels.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBot_RankCommand(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	for i, xp := range []int{500, 150, 50} {
		require.NoError(
			t,
			tb.stores.Levels.Put(
				ctx,
				&UserLevel{GuildID: testGuildID, UserID: fmt.Sprintf("user-%d", i), XP: xp, Level: levelForXP(xp)},
			),
		)
	}
	member := testMember("user-1", 0)

	r := tb.dispatch(t, commandInteraction(commandRank, member))
	reply := lastReply(t, r)
	require.Len(t, reply.Embeds, 1)
	fields := map[string]string{}
	for _, f := range reply.Embeds[0].Fields {
		fields[f.Name] = f.Value
	}
	assert.Equal(t, "#2", fields["Rank"])
	assert.Equal(t, "1", fields["Level"])
	assert.Equal(t, "150 / 400", fields["XP"])

	r = tb.dispatch(t, commandInteraction(commandRank, member, userOption("user", "user-7")))
	assert.Contains(t, lastReply(t, r).Content, "hasn't earned any XP")
}

func TestBot_Leaderboard(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	r := tb.dispatch(t, commandInteraction(commandLeaderboard, testMember(testUserID, 0)))
	assert.Contains(t, lastReply(t, r).Content, "No one has earned any XP")

	for i := 0; i < leaderboardPageSize+3; i++ {
		require.NoError(
			t,
			tb.stores.Levels.Put(
				ctx,
				&UserLevel{GuildID: testGuildID, UserID: fmt.Sprintf("member-%02d", i), XP: 1000 - i},
			),
		)
	}

	r = tb.dispatch(t, commandInteraction(commandLeaderboard, testMember(testUserID, 0)))
	reply := lastReply(t, r)
	require.Len(t, reply.Embeds, 1)
	assert.Contains(t, reply.Embeds[0].Description, "🥇 <@member-00>")
	assert.Equal(t, "Page 1 of 2", reply.Embeds[0].Footer.Text)

	row := reply.Components[0].(discordgo.ActionsRow)
	back := row.Components[0].(discordgo.Button)
	next := row.Components[1].(discordgo.Button)
	assert.True(t, back.Disabled)
	assert.False(t, next.Disabled)
	assert.Equal(t, leaderboardCustomID(testUserID, 1), next.CustomID)

	// someone else can't page through it
	r = tb.dispatch(t, componentInteraction(next.CustomID, testChannelID, testMember("user-2", 0)))
	assert.Contains(t, lastReply(t, r).Content, "Only the person who ran this command")

	r = tb.dispatch(t, componentInteraction(next.CustomID, testChannelID, testMember(testUserID, 0)))
	reply = lastReply(t, r)
	assert.True(t, reply.Update)
	require.Len(t, reply.Embeds, 1)
	assert.Equal(t, "Page 2 of 2", reply.Embeds[0].Footer.Text)
	assert.Contains(t, reply.Embeds[0].Description, "**11.** <@member-10>")

	// out of range pages clamp to the last page
	r = tb.dispatch(
		t,
		componentInteraction(leaderboardCustomID(testUserID, 9), testChannelID, testMember(testUserID, 0)),
	)
	assert.Equal(t, "Page 2 of 2", lastReply(t, r).Embeds[0].Footer.Text)
}
