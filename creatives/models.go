package creatives

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"gorm.io/datatypes"
)

const (
	DefaultAITriggerSymbol = "!"
	DefaultAIPersonality   = PersonalityCasual
	DefaultCommandPrefix   = "!"
)

// GuildSettings holds per-guild feature toggles and configuration.
type GuildSettings struct {
	GuildID string `gorm:"primaryKey" json:"guild_id"`

	Prefix string `json:"prefix"`

	AIEnabled       bool   `json:"ai_enabled"`
	AIChannelID     string `json:"ai_channel_id"`
	AITriggerSymbol string `json:"ai_trigger_symbol"`
	AIPersonality   string `json:"ai_personality"`

	AutomodEnabled  bool                        `json:"automod_enabled"`
	AutomodSpam     bool                        `json:"automod_spam"`
	AutomodCaps     bool                        `json:"automod_caps"`
	AutomodMentions bool                        `json:"automod_mentions"`
	AutomodLinks    bool                        `json:"automod_links"`
	LinkWhitelist   datatypes.JSONSlice[string] `json:"link_whitelist"`

	XPEnabled       bool   `json:"xp_enabled"`
	ModLogChannelID string `json:"mod_log_channel_id"`

	ModelUnixTime
}

// defaultGuildSettings returns the settings used for a guild with no
// stored row.
func defaultGuildSettings(guildID string) *GuildSettings {
	return &GuildSettings{
		GuildID:         guildID,
		Prefix:          DefaultCommandPrefix,
		AITriggerSymbol: DefaultAITriggerSymbol,
		AIPersonality:   DefaultAIPersonality,
		AutomodSpam:     true,
		AutomodCaps:     true,
		AutomodMentions: true,
		XPEnabled:       true,
		LinkWhitelist:   datatypes.NewJSONSlice([]string{}),
	}
}

// DisabledCommand marks a slash command as disabled for one guild.
type DisabledCommand struct {
	ModelUintID
	GuildID     string `gorm:"uniqueIndex:idx_disabled_guild_command;not null" json:"guild_id"`
	CommandName string `gorm:"uniqueIndex:idx_disabled_guild_command;not null" json:"command_name"`
	Reason      string `json:"reason"`
	DisabledBy  string `json:"disabled_by"`
	DisabledAt  int64  `gorm:"autoCreateTime:milli" json:"disabled_at"`
}

// ChannelMessage is a recent message, kept as conversational context.
type ChannelMessage struct {
	ModelUintID
	MessageID  string `gorm:"uniqueIndex" json:"message_id"`
	GuildID    string `gorm:"index" json:"guild_id"`
	ChannelID  string `gorm:"index" json:"channel_id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
	CreatedAt  int64  `gorm:"autoCreateTime:milli;index" json:"created_at"`
}

type Warning struct {
	ModelUintID
	GuildID     string `gorm:"index:idx_warning_guild_user" json:"guild_id"`
	UserID      string `gorm:"index:idx_warning_guild_user" json:"user_id"`
	ModeratorID string `json:"moderator_id"`
	Reason      string `json:"reason"`
	Automatic   bool   `json:"automatic"`
	CreatedAt   int64  `gorm:"autoCreateTime:milli" json:"created_at"`
}

type ModLogAction string

const (
	ModLogWarn           ModLogAction = "warn"
	ModLogAutomod        ModLogAction = "automod"
	ModLogCommandDisable ModLogAction = "command_disable"
	ModLogCommandEnable  ModLogAction = "command_enable"
	ModLogTicketClose    ModLogAction = "ticket_close"
)

type ModLog struct {
	ModelUintID
	GuildID     string       `gorm:"index" json:"guild_id"`
	Action      ModLogAction `json:"action"`
	TargetID    string       `json:"target_id"`
	ModeratorID string       `json:"moderator_id"`
	Reason      string       `json:"reason"`
	CreatedAt   int64        `gorm:"autoCreateTime:milli" json:"created_at"`
}

type TicketSettings struct {
	GuildID       string                      `gorm:"primaryKey" json:"guild_id"`
	CategoryID    string                      `json:"category_id"`
	StaffRoleIDs  datatypes.JSONSlice[string] `json:"staff_role_ids"`
	LogChannelID  string                      `json:"log_channel_id"`
	TicketCounter int                         `json:"ticket_counter"`
	ModelUnixTime
}

// IsStaff reports whether the member holds one of the staff roles, or
// has the Manage Channels permission.
func (t *TicketSettings) IsStaff(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	if member.Permissions&discordgo.PermissionManageChannels != 0 {
		return true
	}
	for _, role := range member.Roles {
		if slices.Contains(t.StaffRoleIDs, role) {
			return true
		}
	}
	return false
}

type TicketStatus string

const (
	TicketOpen    TicketStatus = "open"
	TicketClaimed TicketStatus = "claimed"
	TicketClosed  TicketStatus = "closed"
)

type Ticket struct {
	ModelUintID
	GuildID     string       `gorm:"index;not null" json:"guild_id"`
	ChannelID   string       `gorm:"uniqueIndex" json:"channel_id"`
	UserID      string       `gorm:"index;not null" json:"user_id"`
	Number      int          `json:"number"`
	Subject     string       `json:"subject"`
	Status      TicketStatus `gorm:"index" json:"status"`
	ClaimedBy   string       `json:"claimed_by,omitempty"`
	ClosedBy    string       `json:"closed_by,omitempty"`
	CloseReason string       `json:"close_reason,omitempty"`
	ClosedAt    int64        `json:"closed_at,omitempty"`
	ModelUnixTime
}

func (t Ticket) ChannelName(username string) string {
	name := strings.ToLower(username)
	name = strings.Map(
		func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
				return r
			}
			return -1
		}, name,
	)
	if name == "" {
		name = "user"
	}
	return fmt.Sprintf("ticket-%04d-%s", t.Number, name)
}

// UserLevel tracks XP per guild member.
type UserLevel struct {
	GuildID  string `gorm:"primaryKey" json:"guild_id"`
	UserID   string `gorm:"primaryKey" json:"user_id"`
	XP       int    `json:"xp"`
	Level    int    `json:"level"`
	Messages int    `json:"messages"`
	ModelUnixTime
}

// InteractionLog records every inbound interaction.
type InteractionLog struct {
	ModelUintID
	Method        string `json:"method"` // webhook or gateway
	InteractionID string `json:"interaction_id" gorm:"index;not null"`
	Type          string `json:"type"`
	Name          string `json:"name"`
	UserID        string `json:"user_id" gorm:"not null"`
	Username      string `json:"username"`
	GuildID       string `json:"guild_id"`
	ChannelID     string `json:"channel_id"`
	Payload       string `json:"payload"`
	Admitted      bool   `json:"admitted"`
	CreatedAt     int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func newInteractionLog(
	method string,
	ev Event,
) (*InteractionLog, error) {
	p, err := json.Marshal(ev.Raw)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}
	il := &InteractionLog{
		Method:        method,
		InteractionID: ev.ID,
		Type:          ev.Kind.String(),
		Name:          ev.Name,
		UserID:        ev.UserID,
		GuildID:       ev.GuildID,
		ChannelID:     ev.ChannelID,
		Payload:       string(p),
	}
	if ev.Raw != nil {
		if u := getDiscordUser(ev.Raw); u != nil {
			il.Username = u.String()
		}
	}
	return il, nil
}

// Giveaway is a timed draw posted as a message with an entry button.
type Giveaway struct {
	ModelUintID
	GuildID     string                      `gorm:"index;not null" json:"guild_id"`
	ChannelID   string                      `gorm:"not null" json:"channel_id"`
	MessageID   string                      `gorm:"uniqueIndex" json:"message_id"`
	HostID      string                      `gorm:"not null" json:"host_id"`
	Prize       string                      `gorm:"not null" json:"prize"`
	Description string                      `json:"description"`
	WinnerCount int                         `json:"winner_count"`
	EndsAt      int64                       `gorm:"index;not null" json:"ends_at"`
	Ended       bool                        `gorm:"index" json:"ended"`
	Winners     datatypes.JSONSlice[string] `json:"winners"`
	ModelUnixTime
}

// Expired reports whether the draw time has passed. nowMilli is a unix
// timestamp in milliseconds.
func (g Giveaway) Expired(nowMilli int64) bool {
	return g.EndsAt <= nowMilli
}

type GiveawayEntry struct {
	GiveawayID uint   `gorm:"primaryKey;autoIncrement:false" json:"giveaway_id"`
	UserID     string `gorm:"primaryKey" json:"user_id"`
	CreatedAt  int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

// SelfRole is a role members may grant themselves from the role panel.
type SelfRole struct {
	GuildID     string `gorm:"primaryKey" json:"guild_id"`
	RoleID      string `gorm:"primaryKey" json:"role_id"`
	Name        string `json:"name"`
	Emoji       string `json:"emoji"`
	Description string `json:"description"`
	CreatedAt   int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}
