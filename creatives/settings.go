package creatives

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"gorm.io/datatypes"
)

var settingsNotifyTimeout = 5 * time.Second

type cachedSettings struct {
	settings GuildSettings
	loadedAt time.Time
}

// SettingsStore serves GuildSettings from a per-guild cache. Writes made
// through the store invalidate the cache entry immediately, and are
// announced through the DBNotifier so other instances drop theirs.
type SettingsStore struct {
	mu       sync.RWMutex
	cache    map[string]cachedSettings
	guildMu  map[string]*sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	settings *RecordStore[GuildSettings]
	disabled *RecordStore[DisabledCommand]
	notifier DBNotifier
	logger   *slog.Logger
}

func NewSettingsStore(stores *Stores, ttl time.Duration, notifier DBNotifier, logger *slog.Logger) *SettingsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsStore{
		cache:    map[string]cachedSettings{},
		guildMu:  map[string]*sync.Mutex{},
		ttl:      ttl,
		now:      time.Now,
		settings: stores.Settings,
		disabled: stores.DisabledCommands,
		notifier: notifier,
		logger:   logger.With(loggerNameKey, "settings"),
	}
}

func cloneSettings(s GuildSettings) *GuildSettings {
	s.LinkWhitelist = datatypes.NewJSONSlice(slices.Clone([]string(s.LinkWhitelist)))
	return &s
}

// Get returns a copy of the guild's settings. Guilds with no stored row
// get defaultGuildSettings, which is not persisted until updated.
func (s *SettingsStore) Get(ctx context.Context, guildID string) (*GuildSettings, error) {
	s.mu.RLock()
	cached, ok := s.cache[guildID]
	s.mu.RUnlock()
	if ok && (s.ttl <= 0 || s.now().Sub(cached.loadedAt) < s.ttl) {
		return cloneSettings(cached.settings), nil
	}

	rec, err := s.settings.Get(ctx, Key{"guild_id": guildID})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = defaultGuildSettings(guildID)
	}
	s.mu.Lock()
	s.cache[guildID] = cachedSettings{settings: *cloneSettings(*rec), loadedAt: s.now()}
	s.mu.Unlock()
	return rec, nil
}

// guildLock returns the mutex serializing updates for guildID.
func (s *SettingsStore) guildLock(guildID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.guildMu[guildID]
	if !ok {
		l = &sync.Mutex{}
		s.guildMu[guildID] = l
	}
	return l
}

// Update applies fn to the guild's current settings and persists the
// result. Updates to the same guild are applied one at a time.
func (s *SettingsStore) Update(
	ctx context.Context,
	guildID string,
	fn func(*GuildSettings),
) (*GuildSettings, error) {
	if guildID == "" {
		return nil, errors.New("guild id required")
	}
	l := s.guildLock(guildID)
	l.Lock()
	defer l.Unlock()

	current, err := s.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}
	fn(current)
	current.GuildID = guildID
	if err = s.settings.Put(ctx, current); err != nil {
		return nil, err
	}
	s.Invalidate(guildID)
	s.announce(ctx, guildID)
	return current, nil
}

func (s *SettingsStore) announce(ctx context.Context, guildID string) {
	if s.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settingsNotifyTimeout)
	defer cancel()
	if !s.notifier.SettingsUpdated(nctx, guildID) {
		s.logger.WarnContext(ctx, "settings update not announced", "guild_id", guildID)
	}
}

// Invalidate drops the cached entry for guildID.
func (s *SettingsStore) Invalidate(guildID string) {
	s.mu.Lock()
	delete(s.cache, guildID)
	s.mu.Unlock()
}

// DisabledCommand returns the DisabledCommand for the guild and command,
// or nil if the command is enabled.
func (s *SettingsStore) DisabledCommand(
	ctx context.Context,
	guildID, command string,
) (*DisabledCommand, error) {
	if guildID == "" {
		return nil, nil
	}
	return s.disabled.Get(ctx, Key{"guild_id": guildID, "command_name": command})
}

// DisableCommand disables command for the guild. Returns false if it was
// already disabled.
func (s *SettingsStore) DisableCommand(
	ctx context.Context,
	guildID, command, reason, userID string,
) (bool, error) {
	existing, err := s.DisabledCommand(ctx, guildID, command)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	_, err = s.disabled.db.Create(
		ctx,
		&DisabledCommand{
			GuildID:     guildID,
			CommandName: command,
			Reason:      reason,
			DisabledBy:  userID,
		},
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

// EnableCommand removes the guild's disabled entry for command. Returns
// false if it wasn't disabled.
func (s *SettingsStore) EnableCommand(ctx context.Context, guildID, command string) (bool, error) {
	n, err := s.disabled.Delete(ctx, Key{"guild_id": guildID, "command_name": command})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SettingsStore) DisabledCommands(ctx context.Context, guildID string) ([]DisabledCommand, error) {
	return s.disabled.List(
		ctx,
		Filter{Where: map[string]any{"guild_id": guildID}, Order: "command_name"},
	)
}

// watch drops cache entries as settings-updated notifications arrive,
// until ctx is done.
func (s *SettingsStore) watch(ctx context.Context, updates <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case guildID := <-updates:
			s.logger.DebugContext(ctx, "invalidating cached settings", "guild_id", guildID)
			s.Invalidate(guildID)
		}
	}
}

// GuildSettingsUpdate is a partial update of GuildSettings, accepted by
// the admin API. Nil fields are left unchanged.
//
//nolint:lll // can't break tags
type GuildSettingsUpdate struct {
	Prefix *string `json:"prefix,omitempty" binding:"omitnil,min=1,max=5"`

	AIEnabled       *bool   `json:"ai_enabled,omitempty"`
	AIChannelID     *string `json:"ai_channel_id,omitempty" binding:"omitempty,numeric"`
	AITriggerSymbol *string `json:"ai_trigger_symbol,omitempty" binding:"omitnil,min=1,max=5"`
	AIPersonality   *string `json:"ai_personality,omitempty" binding:"omitnil,oneof=friendly professional casual funny"`

	AutomodEnabled  *bool    `json:"automod_enabled,omitempty"`
	AutomodSpam     *bool    `json:"automod_spam,omitempty"`
	AutomodCaps     *bool    `json:"automod_caps,omitempty"`
	AutomodMentions *bool    `json:"automod_mentions,omitempty"`
	AutomodLinks    *bool    `json:"automod_links,omitempty"`
	LinkWhitelist   []string `json:"link_whitelist,omitempty" binding:"omitempty,dive,hostname"`

	XPEnabled       *bool   `json:"xp_enabled,omitempty"`
	ModLogChannelID *string `json:"mod_log_channel_id,omitempty" binding:"omitempty,numeric"`
}

func (u GuildSettingsUpdate) validate() error {
	return structValidator.Struct(u)
}

func (u GuildSettingsUpdate) apply(s *GuildSettings) {
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setString(&s.Prefix, u.Prefix)
	setBool(&s.AIEnabled, u.AIEnabled)
	setString(&s.AIChannelID, u.AIChannelID)
	setString(&s.AITriggerSymbol, u.AITriggerSymbol)
	setString(&s.AIPersonality, u.AIPersonality)
	setBool(&s.AutomodEnabled, u.AutomodEnabled)
	setBool(&s.AutomodSpam, u.AutomodSpam)
	setBool(&s.AutomodCaps, u.AutomodCaps)
	setBool(&s.AutomodMentions, u.AutomodMentions)
	setBool(&s.AutomodLinks, u.AutomodLinks)
	if u.LinkWhitelist != nil {
		s.LinkWhitelist = datatypes.NewJSONSlice(slices.Clone(u.LinkWhitelist))
	}
	setBool(&s.XPEnabled, u.XPEnabled)
	setString(&s.ModLogChannelID, u.ModLogChannelID)
}
