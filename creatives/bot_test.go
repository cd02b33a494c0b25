package creatives

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGuildID   = "guild-1"
	testChannelID = "chan-1"
	testUserID    = "user-1"
	testBotUserID = "bot-1"
)

type fakeLLMCall struct {
	systemPrompt string
	entries      []ConversationEntry
	temperature  float32
}

// fakeLLM returns a fixed reply, or err, and records each call.
type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []fakeLLMCall
}

func (f *fakeLLM) Complete(
	_ context.Context,
	systemPrompt string,
	entries []ConversationEntry,
	_ int,
	temperature float32,
) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(
		f.calls,
		fakeLLMCall{
			systemPrompt: systemPrompt,
			entries:      append([]ConversationEntry(nil), entries...),
			temperature:  temperature,
		},
	)
	return f.reply, f.err
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testBot struct {
	*Bot
	session *mockDiscordSession
	llm     *fakeLLM
	clock   *fakeClock
}

// newTestBot returns a Bot backed by a temporary sqlite database, a mock
// discord session and a fake LLM. Random choices always pick the first
// option, delayed functions run immediately, and the command cooldown is
// disabled.
func newTestBot(t *testing.T) *testBot {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Discord.Token = "discord-token"
	cfg.Discord.ApplicationID = "app-1"
	cfg.OpenAI.Token = "openai-token"
	cfg.Cooldowns.Command = 0

	db := setupTestDB(t)
	disc, err := newDiscord(cfg.Discord, nil)
	require.NoError(t, err)
	session := newMockDiscordSession()
	disc.session = session
	disc.setBotUserID(testBotUserID)

	llm := &fakeLLM{reply: "hello there"}
	clock := newFakeClock()

	b := &Bot{
		config:    cfg,
		logger:    slog.Default(),
		db:        db,
		stores:    NewStores(db),
		signals:   newNotifySignals(),
		state:     DefaultBotState(),
		discord:   disc,
		llm:       llm,
		randIntn:  func(int) int { return 0 },
		randFloat: func() float64 { return 1 },
		now:       clock.Now,
		afterFunc: func(_ time.Duration, f func()) { f() },
	}
	b.settings = NewSettingsStore(b.stores, time.Minute, nil, nil)
	b.locks = NewLockManager(time.Minute, nil)
	b.limiter = NewRateLimiter()
	b.limiter.now = clock.Now
	b.games = NewGameSessions()
	b.memory = NewConversationMemory(*cfg.Memory, nil, b.limiter, b.games)
	b.scheduler = NewScheduler(nil)
	b.router = b.routes()
	b.dispatcher = NewDispatcher(
		b.router,
		b.locks,
		nil,
		b.pausedGuard,
		b.disabledCommandGuard,
		b.commandCooldownGuard,
	)
	return &testBot{Bot: b, session: session, llm: llm, clock: clock}
}

func testMember(userID string, permissions int64, roles ...string) *discordgo.Member {
	return &discordgo.Member{
		User:        &discordgo.User{ID: userID, Username: "user" + userID},
		Permissions: permissions,
		Roles:       roles,
	}
}

func commandInteraction(
	name string,
	member *discordgo.Member,
	opts ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "ix-" + name,
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   testGuildID,
			ChannelID: testChannelID,
			Member:    member,
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: opts,
			},
		},
	}
}

func componentInteraction(customID, channelID string, member *discordgo.Member) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "ix-" + customID,
			Type:      discordgo.InteractionMessageComponent,
			GuildID:   testGuildID,
			ChannelID: channelID,
			Member:    member,
			Data:      discordgo.MessageComponentInteractionData{CustomID: customID},
		},
	}
}

func modalInteraction(
	customID, channelID string,
	member *discordgo.Member,
	values map[string]string,
) *discordgo.InteractionCreate {
	inputs := make([]discordgo.MessageComponent, 0, len(values))
	for id, v := range values {
		inputs = append(inputs, &discordgo.TextInput{CustomID: id, Value: v})
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "ix-" + customID,
			Type:      discordgo.InteractionModalSubmit,
			GuildID:   testGuildID,
			ChannelID: channelID,
			Member:    member,
			Data: discordgo.ModalSubmitInteractionData{
				CustomID:   customID,
				Components: []discordgo.MessageComponent{&discordgo.ActionsRow{Components: inputs}},
			},
		},
	}
}

func stringOption(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func boolOption(name string, value bool) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionBoolean,
		Value: value,
	}
}

func userOption(name, userID string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionUser,
		Value: userID,
	}
}

func channelOption(name, channelID string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionChannel,
		Value: channelID,
	}
}

func roleOption(name, roleID string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionRole,
		Value: roleID,
	}
}

// dispatch routes i through the bot's dispatcher and returns the
// responder it answered on.
func (tb *testBot) dispatch(t *testing.T, i *discordgo.InteractionCreate) *fakeResponder {
	t.Helper()
	ev, ok := eventFromInteraction(i)
	require.True(t, ok)
	r := &fakeResponder{}
	require.True(t, tb.dispatcher.Dispatch(context.Background(), ev, r))
	return r
}

// lastReply returns the reply or the follow-up notice, whichever was
// sent last.
func lastReply(t *testing.T, r *fakeResponder) Reply {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.followUps) > 0 {
		return r.followUps[len(r.followUps)-1]
	}
	require.NotEmpty(t, r.replies)
	return r.replies[len(r.replies)-1]
}

func testMessage(id, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		GuildID:   testGuildID,
		ChannelID: testChannelID,
		Content:   content,
		Author:    &discordgo.User{ID: testUserID, Username: "alice"},
		Member:    &discordgo.Member{},
	}
}

func TestBot_HandleMessage_AIReply(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	_, err := tb.settings.Update(
		ctx, testGuildID, func(s *GuildSettings) {
			s.AIEnabled = true
		},
	)
	require.NoError(t, err)

	tb.handleMessage(ctx, testMessage("m1", "!what's up"))

	require.Equal(t, 1, tb.llm.callCount())
	call := tb.llm.calls[0]
	require.NotEmpty(t, call.entries)
	assert.Equal(t, "what's up", call.entries[len(call.entries)-1].Content)
	assert.Equal(t, float32(DefaultOpenAITemperature), call.temperature)
	assert.NotContains(t, call.systemPrompt, "Consider using this natural transition")

	sent := tb.session.sentTo(testChannelID)
	require.Len(t, sent, 1)
	assert.Equal(t, "hello there", sent[0].Content)
	require.NotNil(t, sent[0].Reference)
	assert.Equal(t, "m1", sent[0].Reference.MessageID)
	assert.Equal(t, 2, tb.memory.Len(testUserID))

	history, err := tb.stores.ChannelMessages.Count(ctx, map[string]any{"channel_id": testChannelID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, history)

	level, err := tb.stores.Levels.Get(ctx, Key{"guild_id": testGuildID, "user_id": testUserID})
	require.NoError(t, err)
	require.NotNil(t, level)
	assert.Equal(t, xpMin, level.XP)
	assert.Equal(t, 1, level.Messages)
}

func TestBot_HandleMessage_ChatCooldown(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	_, err := tb.settings.Update(
		ctx, testGuildID, func(s *GuildSettings) {
			s.AIEnabled = true
		},
	)
	require.NoError(t, err)

	tb.handleMessage(ctx, testMessage("m1", "!one"))
	tb.handleMessage(ctx, testMessage("m2", "!two"))

	assert.Equal(t, 1, tb.llm.callCount())
	sent := tb.session.sentTo(testChannelID)
	require.Len(t, sent, 2)
	assert.Equal(t, chatCooldownNotice, sent[1].Content)

	tb.clock.Advance(DefaultChatCooldown)
	tb.handleMessage(ctx, testMessage("m3", "!three"))
	assert.Equal(t, 2, tb.llm.callCount())
}

func TestBot_HandleMessage_LLMErrorNotice(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	_, err := tb.settings.Update(
		ctx, testGuildID, func(s *GuildSettings) {
			s.AIEnabled = true
		},
	)
	require.NoError(t, err)
	tb.llm.err = assert.AnError

	tb.handleMessage(ctx, testMessage("m1", "!hi"))

	sent := tb.session.sentTo(testChannelID)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Content, noticeGeneric)
	assert.NotContains(t, sent[0].Content, assert.AnError.Error())
	assert.Equal(t, 0, tb.memory.Len(testUserID))
}

func TestBot_HandleMessage_AutomodStops(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	_, err := tb.settings.Update(
		ctx, testGuildID, func(s *GuildSettings) {
			s.AIEnabled = true
			s.AutomodEnabled = true
		},
	)
	require.NoError(t, err)

	tb.handleMessage(ctx, testMessage("m1", "!heyyyyyyy"))

	assert.Equal(t, 0, tb.llm.callCount())
	assert.Contains(t, tb.session.deletedMessages, testChannelID+"/m1")

	warnings, err := tb.stores.Warnings.List(ctx, Filter{Where: map[string]any{"user_id": testUserID}})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.True(t, warnings[0].Automatic)
	assert.Contains(t, warnings[0].Reason, automodRuleSpam)

	history, err := tb.stores.ChannelMessages.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, history)
	levels, err := tb.stores.Levels.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, levels)
}

func TestBot_HandleMessage_ModeratorsBypassAutomod(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	_, err := tb.settings.Update(
		ctx, testGuildID, func(s *GuildSettings) {
			s.AutomodEnabled = true
		},
	)
	require.NoError(t, err)

	m := testMessage("m1", "heyyyyyyy")
	m.Member = testMember(testUserID, discordgo.PermissionManageMessages)
	tb.handleMessage(ctx, m)

	assert.Empty(t, tb.session.deletedMessages)
	history, err := tb.stores.ChannelMessages.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, history)
}

func TestBot_HandleMessage_Paused(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	_, err := tb.settings.Update(
		ctx, testGuildID, func(s *GuildSettings) {
			s.AIEnabled = true
		},
	)
	require.NoError(t, err)
	paused := true
	_, err = tb.updateBotState(ctx, BotStateUpdate{Paused: &paused})
	require.NoError(t, err)

	tb.handleMessage(ctx, testMessage("m1", "!hello"))

	assert.Equal(t, 0, tb.llm.callCount())
	levels, err := tb.stores.Levels.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, levels)
}

func TestBot_UpdateBotState(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	paused := true
	status := "maintenance"
	state, err := tb.updateBotState(ctx, BotStateUpdate{Paused: &paused, CustomStatus: &status})
	require.NoError(t, err)
	assert.True(t, state.Paused)
	assert.True(t, tb.Paused())
	assert.Equal(t, "maintenance", tb.State().CustomStatus)

	stored, err := loadBotState(ctx, tb.db)
	require.NoError(t, err)
	assert.True(t, stored.Paused)
	assert.Equal(t, "maintenance", stored.CustomStatus)

	_, err = tb.updateBotState(ctx, BotStateUpdate{Paused: &paused})
	require.NoError(t, err)

	debug := DBLogLevelDebug
	_, err = tb.updateBotState(ctx, BotStateUpdate{LogLevel: &debug})
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, tb.config.LogLevel.Level())
}

func TestBot_PausedGuard(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	paused := true
	_, err := tb.updateBotState(ctx, BotStateUpdate{Paused: &paused})
	require.NoError(t, err)

	r := tb.dispatch(t, commandInteraction(commandAIStatus, testMember(testUserID, 0)))
	assert.Contains(t, lastReply(t, r).Content, "paused")
}

func TestBot_HandleInteractionLogs(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	i := commandInteraction(commandAIStatus, testMember(testUserID, 0))
	ev, ok := eventFromInteraction(i)
	require.True(t, ok)
	r := &fakeResponder{}
	tb.handleInteraction(ctx, interactionMethodGateway, ev, r)

	logs, err := tb.stores.InteractionLogs.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, interactionMethodGateway, logs[0].Method)
	assert.Equal(t, commandAIStatus, logs[0].Name)
	assert.Equal(t, testUserID, logs[0].UserID)
	assert.True(t, logs[0].Admitted)
	assert.Equal(t, 1, r.acks)
	assert.Len(t, r.replies, 1)
}

func TestBot_OnMessageCreateFilters(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	handler := tb.onMessageCreate(ctx)

	bot := testMessage("m1", "hello")
	bot.Author.Bot = true
	dm := testMessage("m2", "hello")
	dm.GuildID = ""

	handler(nil, &discordgo.MessageCreate{Message: bot})
	handler(nil, &discordgo.MessageCreate{Message: dm})
	handler(nil, &discordgo.MessageCreate{Message: testMessage("m3", "hello")})
	tb.handlersWG.Wait()

	history, err := tb.stores.ChannelMessages.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "m3", history[0].MessageID)
}

func TestBot_ScheduleJobs(t *testing.T) {
	tb := newTestBot(t)
	tb.config.Automod.HistoryPruneSchedule = ""
	require.NoError(t, tb.scheduleJobs())
	next := tb.scheduler.Next()
	assert.Len(t, next, 3)
	assert.Contains(t, next, "lease_sweep")
	assert.Contains(t, next, "cooldown_sweep")
	assert.Contains(t, next, "giveaway_end")

	tb.config.Lease.SweepSchedule = "not a schedule"
	assert.Error(t, tb.scheduleJobs())
}
