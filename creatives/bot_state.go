package creatives

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

const botStateID = 1

// BotState is the bot's persisted runtime state. Unlike Config, it can be
// changed while the bot is running (via the API), and survives restarts.
// There is a single row.
//
//nolint:lll // struct tags can't be split
type BotState struct {
	ModelUintID
	ModelUnixTime

	// Paused bots acknowledge interactions with a notice, and ignore
	// message triggers.
	Paused bool `json:"paused" gorm:"not null"`

	// CustomStatus is the custom status message shown for the bot on Discord.
	CustomStatus string `json:"custom_status"`

	// AdminUsername for the admin API
	AdminUsername string `json:"admin_username" log:"[redacted]"`

	// AdminPassword stores the argon2id hash of the admin password
	AdminPassword string `json:"-" log:"[redacted]"`

	LogLevel          DBLogLevel `json:"log_level" gorm:"type:string" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	OpenAILogLevel    DBLogLevel `json:"openai_log_level" gorm:"column:openai_log_level;type:string" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   DBLogLevel `json:"discord_log_level" gorm:"type:string" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel DBLogLevel `json:"discordgo_log_level" gorm:"column:discordgo_log_level;type:string" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  DBLogLevel `json:"database_log_level" gorm:"type:string" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       DBLogLevel `json:"api_log_level" gorm:"type:string" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
}

func (BotState) TableName() string {
	return "bot_state"
}

func DefaultBotState() BotState {
	return BotState{
		ModelUintID:       ModelUintID{ID: botStateID},
		LogLevel:          DBLogLevelInfo,
		OpenAILogLevel:    DBLogLevelInfo,
		DiscordLogLevel:   DBLogLevelInfo,
		DiscordGoLogLevel: DBLogLevelWarn,
		DatabaseLogLevel:  DBLogLevelWarn,
		APILogLevel:       DBLogLevelInfo,
	}
}

func (s BotState) LogValue() slog.Value {
	return structToSlogValue(s)
}

// BotStateUpdate is a partial update of BotState. Nil fields are left
// unchanged.
//
//nolint:lll // can't break tags
type BotStateUpdate struct {
	Paused       *bool   `json:"paused,omitempty"`
	CustomStatus *string `json:"custom_status,omitempty" binding:"omitnil,max=128"`

	LogLevel          *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	OpenAILogLevel    *DBLogLevel `json:"openai_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (u BotStateUpdate) validate() error {
	return structValidator.Struct(u)
}

// apply copies the non-nil fields of u onto s, returning true if
// anything changed.
func (u BotStateUpdate) apply(s *BotState) bool {
	changed := false
	set := func(dst *DBLogLevel, v *DBLogLevel) {
		if v != nil && *dst != *v {
			*dst = *v
			changed = true
		}
	}
	if u.Paused != nil && s.Paused != *u.Paused {
		s.Paused = *u.Paused
		changed = true
	}
	if u.CustomStatus != nil && s.CustomStatus != *u.CustomStatus {
		s.CustomStatus = *u.CustomStatus
		changed = true
	}
	set(&s.LogLevel, u.LogLevel)
	set(&s.OpenAILogLevel, u.OpenAILogLevel)
	set(&s.DiscordLogLevel, u.DiscordLogLevel)
	set(&s.DiscordGoLogLevel, u.DiscordGoLogLevel)
	set(&s.DatabaseLogLevel, u.DatabaseLogLevel)
	set(&s.APILogLevel, u.APILogLevel)
	return changed
}

// loadBotState returns the persisted BotState, creating the default row
// if it doesn't exist yet.
func loadBotState(ctx context.Context, db DBI) (*BotState, error) {
	state := &BotState{}
	err := db.DB().WithContext(ctx).Take(state, botStateID).Error
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("error loading bot state: %w", err)
	}
	def := DefaultBotState()
	if _, err = db.Create(ctx, &def); err != nil {
		return nil, fmt.Errorf("error creating bot state: %w", err)
	}
	return &def, nil
}

// saveBotState persists every column of state.
func saveBotState(ctx context.Context, db DBI, state *BotState) error {
	state.ID = botStateID
	_, err := db.Save(ctx, state)
	return err
}

// setAdminCredentials stores username and an argon2id hash of password.
func setAdminCredentials(ctx context.Context, db DBI, username, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	state, err := loadBotState(ctx, db)
	if err != nil {
		return err
	}
	hashed, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	state.AdminUsername = username
	state.AdminPassword = hashed
	return saveBotState(ctx, db, state)
}

// SetAdminCredentials creates the bot state row, if needed, and sets the
// admin API credentials.
func SetAdminCredentials(ctx context.Context, db *gorm.DB, username, password string) error {
	return setAdminCredentials(ctx, NewDatabase(db, nil, false), username, password)
}

// LoadBotState returns the persisted bot state, creating the row if it
// doesn't exist yet.
func LoadBotState(ctx context.Context, db *gorm.DB) (*BotState, error) {
	return loadBotState(ctx, NewDatabase(db, nil, false))
}

// applyLogLevels sets each subsystem LevelVar from state.
func applyLogLevels(state BotState, levels *Config) {
	pairs := []struct {
		v     *slog.LevelVar
		level DBLogLevel
	}{
		{levels.LogLevel, state.LogLevel},
		{levels.OpenAI.LogLevel, state.OpenAILogLevel},
		{levels.Discord.LogLevel, state.DiscordLogLevel},
		{levels.Discord.DiscordGoLogLevel, state.DiscordGoLogLevel},
		{levels.DatabaseLogLevel, state.DatabaseLogLevel},
		{levels.API.LogLevel, state.APILogLevel},
	}
	for _, p := range pairs {
		if p.v == nil || p.level == "" {
			continue
		}
		p.v.Set(p.level.Level())
	}
}

func presenceStatusUpdate(state BotState) discordgo.UpdateStatusData {
	if state.Paused {
		return discordgo.UpdateStatusData{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	update := discordgo.UpdateStatusData{Status: string(discordgo.StatusOnline)}
	if state.CustomStatus != "" {
		update.Activities = []*discordgo.Activity{
			{
				Name:  "Custom Status",
				Type:  discordgo.ActivityTypeCustom,
				State: state.CustomStatus,
			},
		}
	}
	return update
}
