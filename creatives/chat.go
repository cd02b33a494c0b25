package creatives

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// AI personalities, the values of the ai-personality command's type option
const (
	PersonalityFriendly     = "friendly"
	PersonalityProfessional = "professional"
	PersonalityCasual       = "casual"
	PersonalityFunny        = "funny"
)

const (
	colorGreen  = 0x00FF00
	colorOrange = 0xFF9900
	colorRed    = 0xFF0000
	colorPurple = 0x9932CC
	colorBlue   = 0x0099FF
	colorAmber  = 0xFFA500
	colorCoral  = 0xFF6B6B
	colorPink   = 0xFF69B4

	chatCooldownNotice = "⏰ Please wait a moment before sending another message."

	// topicTransitionChance is the probability of suggesting a topic
	// transition in the system prompt, when no game is active
	topicTransitionChance = 0.15

	// channelContextMessages is the number of recent channel messages
	// included in the system prompt
	channelContextMessages  = 2
	channelContextMaxLength = 80
)

var personalities = []string{
	PersonalityFriendly,
	PersonalityProfessional,
	PersonalityCasual,
	PersonalityFunny,
}

var personalityDescriptions = map[string]string{
	PersonalityFriendly:     "Warm and welcoming responses",
	PersonalityProfessional: "Formal and business-like communication",
	PersonalityCasual:       "Relaxed and informal conversation",
	PersonalityFunny:        "Humorous and entertaining responses",
}

var topicTransitions = []string{
	"Speaking of that, it reminds me of",
	"That's interesting! On a related note",
	"I love how that connects to",
	"You know what else is fascinating?",
	"By the way, that reminds me of",
}

// promptInput is everything that goes into the system prompt.
type promptInput struct {
	Personality    string
	VIP            bool
	GameContext    string
	ChannelContext []ChannelMessage
	Transition     string
}

func buildSystemPrompt(in promptInput) string {
	userType := "Regular user - be frank, casual, and feel free to crack appropriate jokes"
	tone := "Be frank, casual, and add humor when appropriate"
	if in.VIP {
		userType = "VIP user - be respectful, polite, and professional"
		tone = "Be respectful, polite, and professional"
	}
	personality := in.Personality
	if personality == "" {
		personality = DefaultAIPersonality
	}

	var b strings.Builder
	fmt.Fprintf(
		&b,
		`You are a helpful AI assistant in a Discord server. You must ALWAYS respond in English only.
Personality: %s
User type: %s
Guidelines:
- Analyze the user's mood from their message and respond appropriately
- Keep responses concise (under 1400 characters)
- Be helpful and informative
- %s
- Always respond in English regardless of input language
- Remember conversation context and refer to previous messages naturally
- Use natural conversation flow and smooth transitions
- Add appropriate emojis based on detected mood (happy=😊✨, sad=💙🤗, excited=🚀🎉, confused=🤔💭, etc.)
- Avoid controversial topics
- Build engaging dialogue that encourages continued conversation%s`,
		personality,
		userType,
		tone,
		in.GameContext,
	)

	if len(in.ChannelContext) > 0 {
		lines := make([]string, 0, len(in.ChannelContext))
		for _, m := range in.ChannelContext {
			lines = append(lines, fmt.Sprintf("%s: %s", m.AuthorName, truncate(m.Content, channelContextMaxLength)))
		}
		b.WriteString("\n\nRecent channel context:\n")
		b.WriteString(strings.Join(lines, "\n"))
	}

	if in.Transition != "" {
		fmt.Fprintf(
			&b,
			"\n\nConsider using this natural transition: \"%s...\" if it fits the conversation flow.",
			in.Transition,
		)
	}
	return b.String()
}

func (b *Bot) isVIP(userID string) bool {
	return slices.Contains(b.config.Discord.VIPUserIDs, userID)
}

// aiTriggerPrompt returns the prompt of a message addressed to the AI, and
// false if the message doesn't trigger it.
func aiTriggerPrompt(settings *GuildSettings, m *discordgo.Message) (string, bool) {
	if !settings.AIEnabled {
		return "", false
	}
	if settings.AIChannelID != "" && settings.AIChannelID != m.ChannelID {
		return "", false
	}
	symbol := settings.AITriggerSymbol
	if symbol == "" {
		symbol = DefaultAITriggerSymbol
	}
	if !strings.HasPrefix(m.Content, symbol) {
		return "", false
	}
	prompt := strings.TrimSpace(strings.TrimPrefix(m.Content, symbol))
	return prompt, prompt != ""
}

// channelContext returns up to channelContextMessages recent messages
// from the channel, oldest first, excluding the triggering message.
func (b *Bot) channelContext(ctx context.Context, channelID, excludeID string) []ChannelMessage {
	recent, err := b.stores.ChannelMessages.List(
		ctx,
		Filter{
			Where: map[string]any{"channel_id": channelID},
			Order: "created_at desc, id desc",
			Limit: channelContextMessages + 1,
		},
	)
	if err != nil {
		b.logger.WarnContext(ctx, "unable to load channel context", "channel_id", channelID, tint.Err(err))
		return nil
	}
	recent = slices.DeleteFunc(
		recent, func(m ChannelMessage) bool {
			return m.MessageID == excludeID || m.Content == ""
		},
	)
	if len(recent) > channelContextMessages {
		recent = recent[:channelContextMessages]
	}
	slices.Reverse(recent)
	return recent
}

// handleAIMessage answers a message that starts with the guild's trigger
// symbol. Each (message, author) pair is answered at most once.
func (b *Bot) handleAIMessage(ctx context.Context, m *discordgo.Message, settings *GuildSettings) {
	prompt, ok := aiTriggerPrompt(settings, m)
	if !ok {
		return
	}
	key := messageLeaseKey(m.ID, m.Author.ID)
	admitted := b.locks.WithLease(
		key, func() {
			b.respondToAIMessage(ctx, m, settings, prompt)
		},
	)
	if !admitted {
		b.logger.DebugContext(ctx, "dropping duplicate message trigger", "lease_key", key)
	}
}

func (b *Bot) respondToAIMessage(
	ctx context.Context,
	m *discordgo.Message,
	settings *GuildSettings,
	prompt string,
) {
	userID := m.Author.ID
	logger := b.logger.With("message_id", m.ID, "user_id", userID, "guild_id", m.GuildID)

	if !b.limiter.Allow(userID, CooldownChat, b.config.Cooldowns.Chat) {
		b.replyToMessage(ctx, m, discordgo.MessageSend{Content: chatCooldownNotice})
		return
	}

	gameContext := b.games.Advance(userID, prompt)
	in := promptInput{
		Personality:    settings.AIPersonality,
		VIP:            b.isVIP(userID),
		GameContext:    gameContext,
		ChannelContext: b.channelContext(ctx, m.ChannelID, m.ID),
	}
	if gameContext == "" && b.randFloat() < topicTransitionChance {
		in.Transition = pick(b.randIntn, topicTransitions)
	}

	entries := append(
		b.memory.SelectContext(userID, b.config.Memory.ContextTokenBudget),
		ConversationEntry{Role: RoleUser, Content: prompt, CreatedAt: b.now()},
	)

	temperature := float32(DefaultOpenAITemperature)
	if in.VIP {
		temperature = DefaultOpenAIVIPTemperature
	}

	reply, err := b.llm.Complete(
		ctx,
		buildSystemPrompt(in),
		entries,
		b.config.OpenAI.MaxTokens,
		temperature,
	)
	if err != nil {
		ce := Classify(err)
		logger.ErrorContext(ctx, "error getting AI response", append(ce.LogAttrs(), tint.Err(err))...)
		b.replyToMessage(ctx, m, discordgo.MessageSend{Content: userNotice(ce)})
		return
	}

	b.memory.AppendExchange(userID, prompt, reply)
	b.replyToMessage(
		ctx,
		m,
		discordgo.MessageSend{Content: truncateReply(reply, b.config.Memory.MaxReplyLength)},
	)
	logger.InfoContext(ctx, "sent AI response", "reply_length", len(reply))
}

// replyToMessage sends data as a reply to m, without pinging the author.
func (b *Bot) replyToMessage(ctx context.Context, m *discordgo.Message, data discordgo.MessageSend) {
	data.Reference = &discordgo.MessageReference{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
	}
	data.AllowedMentions = &discordgo.MessageAllowedMentions{RepliedUser: false}
	if _, err := b.discord.session.ChannelMessageSendComplex(
		m.ChannelID,
		&data,
		discordgo.WithContext(ctx),
	); err != nil {
		b.logger.ErrorContext(ctx, "error replying to message", "message_id", m.ID, tint.Err(err))
	}
}

func (b *Bot) embedTimestamp() string {
	return b.now().Format(time.RFC3339)
}

func (b *Bot) aiToggle(ctx context.Context, req *Request) error {
	var enabled bool
	if opt, ok := req.Options()["enabled"]; ok {
		enabled = opt.BoolValue()
	}
	if _, err := b.settings.Update(
		ctx, req.GuildID, func(s *GuildSettings) {
			s.AIEnabled = enabled
		},
	); err != nil {
		return fmt.Errorf("error updating AI toggle setting: %w", err)
	}

	color, state := colorOrange, "disabled"
	if enabled {
		color, state = colorGreen, "enabled"
	}
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       color,
					Title:       "🤖 AI Chat Settings",
					Description: fmt.Sprintf("AI chat has been **%s** for this server.", state),
					Timestamp:   b.embedTimestamp(),
				},
			},
		},
	)
}

// resolvedChannel returns the channel for a channel option, with its type
// populated from the interaction's resolved data when available.
func resolvedChannel(req *Request, name string) *discordgo.Channel {
	opt, ok := req.Options()[name]
	if !ok {
		return nil
	}
	ch := opt.ChannelValue(nil)
	if req.Raw == nil {
		return ch
	}
	if resolved := req.Raw.ApplicationCommandData().Resolved; resolved != nil {
		if rc, found := resolved.Channels[ch.ID]; found && rc != nil {
			return rc
		}
	}
	return ch
}

func isTextChannel(ch *discordgo.Channel) bool {
	switch ch.Type {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildVoice:
		return true
	}
	return false
}

func (b *Bot) aiChannel(ctx context.Context, req *Request) error {
	ch := resolvedChannel(req, "channel")
	if ch == nil {
		return newUserError("Please select a channel.")
	}
	if !isTextChannel(ch) {
		return req.Resolve(
			ctx, Reply{
				Embeds: []*discordgo.MessageEmbed{
					{
						Color:       colorRed,
						Title:       "❌ Invalid Channel",
						Description: "Please select a text channel for AI responses.",
						Timestamp:   b.embedTimestamp(),
					},
				},
			},
		)
	}
	if _, err := b.settings.Update(
		ctx, req.GuildID, func(s *GuildSettings) {
			s.AIChannelID = ch.ID
		},
	); err != nil {
		return fmt.Errorf("error updating AI channel setting: %w", err)
	}
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorGreen,
					Title:       "🤖 AI Chat Settings",
					Description: fmt.Sprintf("AI will now respond in <#%s>.", ch.ID),
					Timestamp:   b.embedTimestamp(),
				},
			},
		},
	)
}

func (b *Bot) aiSymbol(ctx context.Context, req *Request) error {
	symbol := strings.TrimSpace(optionString(req.Options(), "symbol"))
	if symbol == "" {
		return newUserError("Please provide a trigger symbol.")
	}
	if _, err := b.settings.Update(
		ctx, req.GuildID, func(s *GuildSettings) {
			s.AITriggerSymbol = symbol
		},
	); err != nil {
		return fmt.Errorf("error updating AI trigger symbol: %w", err)
	}
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorGreen,
					Title:       "🤖 AI Chat Settings",
					Description: fmt.Sprintf("AI trigger symbol has been set to: **%s**", symbol),
					Fields: []*discordgo.MessageEmbedField{
						{
							Name:  "Usage",
							Value: fmt.Sprintf("Type `%syour message` to chat with AI", symbol),
						},
					},
					Timestamp: b.embedTimestamp(),
				},
			},
		},
	)
}

func (b *Bot) aiStatus(ctx context.Context, req *Request) error {
	settings, err := b.settings.Get(ctx, req.GuildID)
	if err != nil {
		return fmt.Errorf("error retrieving AI status: %w", err)
	}

	color, status := colorRed, "❌ Disabled"
	if settings.AIEnabled {
		color, status = colorGreen, "✅ Enabled"
	}
	channel := "Any channel"
	if settings.AIChannelID != "" {
		channel = fmt.Sprintf("<#%s>", settings.AIChannelID)
	}
	memoryInfo := "No history"
	if n := b.memory.Len(req.UserID); n > 0 {
		memoryInfo = fmt.Sprintf("%d exchanges", n/2)
	}
	personality := settings.AIPersonality
	if personality == "" {
		personality = DefaultAIPersonality
	}

	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color: color,
					Title: "🤖 AI Chat Status & Features",
					Fields: []*discordgo.MessageEmbedField{
						{Name: "Status", Value: status, Inline: true},
						{Name: "Channel", Value: channel, Inline: true},
						{Name: "Trigger Symbol", Value: fmt.Sprintf("`%s`", settings.AITriggerSymbol), Inline: true},
						{Name: "Personality", Value: personality, Inline: true},
						{Name: "Your Memory", Value: memoryInfo, Inline: true},
						{Name: "Active Users", Value: fmt.Sprintf("%d", len(b.memory.Users())), Inline: true},
						{
							Name: "🎭 Enhanced Features",
							Value: "• Advanced mood detection\n• Context-aware responses\n" +
								"• Natural topic transitions\n• Interactive games",
						},
					},
					Timestamp: b.embedTimestamp(),
				},
			},
		},
	)
}

func (b *Bot) aiReset(ctx context.Context, req *Request) error {
	if _, err := b.settings.Update(
		ctx, req.GuildID, func(s *GuildSettings) {
			s.AIEnabled = false
			s.AIChannelID = ""
			s.AITriggerSymbol = DefaultAITriggerSymbol
			s.AIPersonality = DefaultAIPersonality
		},
	); err != nil {
		return fmt.Errorf("error resetting AI settings: %w", err)
	}
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorOrange,
					Title:       "🤖 AI Settings Reset",
					Description: "All AI settings have been reset to default values.",
					Timestamp:   b.embedTimestamp(),
				},
			},
		},
	)
}

func (b *Bot) aiPersonality(ctx context.Context, req *Request) error {
	personality := optionString(req.Options(), "type")
	description, ok := personalityDescriptions[personality]
	if !ok {
		return newUserError("Unknown personality: %s", personality)
	}
	if _, err := b.settings.Update(
		ctx, req.GuildID, func(s *GuildSettings) {
			s.AIPersonality = personality
		},
	); err != nil {
		return fmt.Errorf("error updating AI personality: %w", err)
	}
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorGreen,
					Title:       "🤖 AI Personality Updated",
					Description: fmt.Sprintf("AI personality has been set to: **%s**", personality),
					Fields: []*discordgo.MessageEmbedField{
						{Name: "Description", Value: description},
					},
					Timestamp: b.embedTimestamp(),
				},
			},
		},
	)
}

// aiClear drops the user's conversation history, active game and
// cooldowns.
func (b *Bot) aiClear(ctx context.Context, req *Request) error {
	removed := b.memory.Clear(req.UserID)
	if removed == 0 {
		return req.Resolve(ctx, Reply{Content: "📝 You don't have any conversation history to clear."})
	}
	return req.Resolve(
		ctx, Reply{
			Content: fmt.Sprintf(
				"🧹 Your conversation history and active games have been cleared! (%d exchanges removed)\n"+
					"The AI will start fresh with no memory of our previous conversations.",
				removed/2,
			),
		},
	)
}

func (b *Bot) aiGame(ctx context.Context, req *Request) error {
	game := GameType(optionString(req.Options(), "game"))
	content, err := b.games.Start(req.UserID, game)
	if err != nil {
		return err
	}
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorPurple,
					Title:       fmt.Sprintf("🎪 %s Game Started!", gameDefinitions[game].Name),
					Description: content,
					Footer: &discordgo.MessageEmbedFooter{
						Text: "Remember to use your AI trigger symbol so I can respond to your game moves!",
					},
					Timestamp: b.embedTimestamp(),
				},
			},
		},
	)
}
