package creatives

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intOption(name string, value int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: float64(value),
	}
}

func giveawayEnterInteraction(messageID string, member *discordgo.Member) *discordgo.InteractionCreate {
	i := componentInteraction(customIDGiveawayEnter, testChannelID, member)
	i.Message = &discordgo.Message{ID: messageID, ChannelID: testChannelID}
	return i
}

func embedField(t *testing.T, embed *discordgo.MessageEmbed, name string) string {
	t.Helper()
	for _, f := range embed.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	t.Fatalf("embed has no field %q", name)
	return ""
}

// startGiveaway runs the giveaway command and returns the saved record.
func startGiveaway(t *testing.T, tb *testBot, opts ...*discordgo.ApplicationCommandInteractionDataOption) *Giveaway {
	t.Helper()
	host := testMember("host-1", discordgo.PermissionManageGuild)
	r := tb.dispatch(t, commandInteraction(commandGiveaway, host, opts...))
	reply := lastReply(t, r)
	require.Len(t, reply.Embeds, 1, reply.Content)
	require.Equal(t, "✅ Giveaway Started", reply.Embeds[0].Title)

	giveaways, err := tb.stores.Giveaways.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, giveaways, 1)
	return &giveaways[0]
}

func TestParseGiveawayDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "30m", want: 30 * time.Minute},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "3d", want: 72 * time.Hour},
		{in: " 2D ", want: 48 * time.Hour},
		{in: "xd", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(
			tt.in, func(t *testing.T) {
				got, err := parseGiveawayDuration(tt.in)
				if tt.wantErr {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			},
		)
	}
}

func TestParseComponentEmoji(t *testing.T) {
	assert.Nil(t, parseComponentEmoji(""))
	assert.Equal(t, &discordgo.ComponentEmoji{Name: "🎨"}, parseComponentEmoji("🎨"))
	assert.Equal(
		t,
		&discordgo.ComponentEmoji{Name: "party", ID: "123"},
		parseComponentEmoji("<:party:123>"),
	)
	assert.Equal(
		t,
		&discordgo.ComponentEmoji{Name: "wave", ID: "456", Animated: true},
		parseComponentEmoji("<a:wave:456>"),
	)
}

func TestGiveaway_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts []*discordgo.ApplicationCommandInteractionDataOption
		want string
	}{
		{
			name: "blank prize",
			opts: []*discordgo.ApplicationCommandInteractionDataOption{
				stringOption("prize", "  "), stringOption("duration", "1h"),
			},
			want: "provide a prize",
		},
		{
			name: "bad duration",
			opts: []*discordgo.ApplicationCommandInteractionDataOption{
				stringOption("prize", "Nitro"), stringOption("duration", "soon"),
			},
			want: "Invalid duration",
		},
		{
			name: "too short",
			opts: []*discordgo.ApplicationCommandInteractionDataOption{
				stringOption("prize", "Nitro"), stringOption("duration", "30s"),
			},
			want: "between 1 minute and 30 days",
		},
		{
			name: "too long",
			opts: []*discordgo.ApplicationCommandInteractionDataOption{
				stringOption("prize", "Nitro"), stringOption("duration", "31d"),
			},
			want: "between 1 minute and 30 days",
		},
		{
			name: "too many winners",
			opts: []*discordgo.ApplicationCommandInteractionDataOption{
				stringOption("prize", "Nitro"), stringOption("duration", "1h"), intOption("winners", 21),
			},
			want: "number of winners",
		},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				tb := newTestBot(t)
				r := tb.dispatch(
					t,
					commandInteraction(commandGiveaway, testMember("host-1", discordgo.PermissionManageGuild), tt.opts...),
				)
				assert.Contains(t, lastReply(t, r).Content, tt.want)
				assert.Empty(t, tb.session.messages[testChannelID])
			},
		)
	}
}

func TestGiveaway_Lifecycle(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	g := startGiveaway(
		t, tb,
		stringOption("prize", "Nitro"),
		stringOption("duration", "1h"),
		intOption("winners", 2),
	)
	assert.Equal(t, "host-1", g.HostID)
	assert.Equal(t, 2, g.WinnerCount)
	assert.Equal(t, tb.clock.Now().Add(time.Hour).UnixMilli(), g.EndsAt)

	posted := tb.session.messages[testChannelID]
	require.Len(t, posted, 1)
	require.Len(t, posted[0].Embeds, 1)
	assert.Equal(t, "🎉 Nitro", posted[0].Embeds[0].Title)
	assert.Equal(t, giveawayNoDesc, posted[0].Embeds[0].Description)
	assert.Equal(t, giveawayButtons(false), posted[0].Components)

	alice := testMember("user-a", 0)
	bob := testMember("user-b", 0)

	r := tb.dispatch(t, giveawayEnterInteraction(g.MessageID, alice))
	require.Len(t, r.replies, 1)
	assert.True(t, r.replies[0].Update)
	assert.Equal(t, "1", embedField(t, r.replies[0].Embeds[0], "👥 Entries"))
	require.Len(t, r.followUps, 1)
	assert.True(t, r.followUps[0].Ephemeral)
	assert.Equal(t, "🎉 Entered Giveaway", r.followUps[0].Embeds[0].Title)

	r = tb.dispatch(t, giveawayEnterInteraction(g.MessageID, bob))
	assert.Equal(t, "2", embedField(t, r.replies[0].Embeds[0], "👥 Entries"))

	// a second click withdraws the entry
	r = tb.dispatch(t, giveawayEnterInteraction(g.MessageID, alice))
	assert.Equal(t, "1", embedField(t, r.replies[0].Embeds[0], "👥 Entries"))
	assert.Equal(t, "✅ Left Giveaway", r.followUps[0].Embeds[0].Title)

	tb.clock.Advance(2 * time.Hour)
	r = tb.dispatch(t, giveawayEnterInteraction(g.MessageID, alice))
	reply := lastReply(t, r)
	require.Len(t, reply.Embeds, 1)
	assert.Equal(t, "🎁 Giveaway Expired", reply.Embeds[0].Title)

	ended, err := tb.endExpiredGiveaways(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ended)

	saved, err := tb.stores.Giveaways.Get(ctx, Key{"message_id": g.MessageID})
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.True(t, saved.Ended)
	assert.Equal(t, []string{"user-b"}, []string(saved.Winners))

	require.Len(t, tb.session.messageEdits, 1)
	edit := tb.session.messageEdits[0]
	assert.Equal(t, g.MessageID, edit.ID)
	require.NotNil(t, edit.Components)
	assert.Equal(t, giveawayButtons(true), *edit.Components)
	require.NotNil(t, edit.Embeds)
	assert.Equal(t, "<@user-b>", embedField(t, (*edit.Embeds)[0], "🥇 Drawn"))

	posted = tb.session.messages[testChannelID]
	require.Len(t, posted, 2)
	assert.Contains(t, posted[1].Content, "Congratulations <@user-b>")
	assert.Contains(t, posted[1].Content, "**Nitro**")
	require.NotNil(t, posted[1].Reference)
	assert.Equal(t, g.MessageID, posted[1].Reference.MessageID)

	r = tb.dispatch(t, giveawayEnterInteraction(g.MessageID, alice))
	assert.Equal(t, "🎁 Giveaway Ended", lastReply(t, r).Embeds[0].Title)

	ended, err = tb.endExpiredGiveaways(ctx)
	require.NoError(t, err)
	assert.Zero(t, ended)
}

func TestGiveaway_EndWithoutEntries(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	g := &Giveaway{
		GuildID:     testGuildID,
		ChannelID:   testChannelID,
		MessageID:   "msg-1",
		HostID:      "host-1",
		Prize:       "Sticker",
		WinnerCount: 1,
		EndsAt:      tb.clock.Now().Add(-time.Minute).UnixMilli(),
	}
	require.NoError(t, tb.stores.Giveaways.Put(ctx, g))

	ended, err := tb.endExpiredGiveaways(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ended)

	posted := tb.session.messages[testChannelID]
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0].Content, "No valid entries for **Sticker**")
	require.Len(t, tb.session.messageEdits, 1)
	assert.Equal(t, "No valid entries", embedField(t, (*tb.session.messageEdits[0].Embeds)[0], "🥇 Drawn"))
}

func TestGiveaway_NotFound(t *testing.T) {
	tb := newTestBot(t)
	r := tb.dispatch(t, giveawayEnterInteraction("unknown", testMember(testUserID, 0)))
	reply := lastReply(t, r)
	require.Len(t, reply.Embeds, 1)
	assert.Equal(t, "🎁 Giveaway Not Found", reply.Embeds[0].Title)
	assert.True(t, reply.Ephemeral)
}

func TestGiveaway_EntryLeaseHeld(t *testing.T) {
	tb := newTestBot(t)
	require.True(t, tb.locks.TryAcquire(giveawayLeaseKey("msg-1", testUserID)))
	r := tb.dispatch(t, giveawayEnterInteraction("msg-1", testMember(testUserID, 0)))
	assert.Contains(t, lastReply(t, r).Content, "being updated")
}

func TestBot_DrawWinners(t *testing.T) {
	entries := []GiveawayEntry{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}, {UserID: "d"}}
	tests := []struct {
		name string
		n    int
		pick func(int) int
		want []string
	}{
		{name: "first picks", n: 2, pick: func(int) int { return 0 }, want: []string{"a", "b"}},
		{name: "last picks", n: 2, pick: func(n int) int { return n - 1 }, want: []string{"d", "a"}},
		{name: "more winners than entries", n: 10, pick: func(int) int { return 0 }, want: []string{"a", "b", "c", "d"}},
		{name: "no winners", n: 0, pick: func(int) int { return 0 }, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				b := &Bot{randIntn: tt.pick}
				assert.Equal(t, tt.want, b.drawWinners(entries, tt.n))
			},
		)
	}
}
