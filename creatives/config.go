//nolint:lll // struct tags can't be split
package creatives

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	openai "github.com/sashabaranov/go-openai"
)

const (
	EnvvarSetEnvPrefix      = "CREATIVES_ENV_PREFIX"
	DefaultEnvPrefix        = "CB"
	DefaultDatabaseType     = "sqlite"
	DefaultDatabase         = "creatives.sqlite3"
	DefaultLogLevel         = slog.LevelInfo
	DefaultStartupTimeout   = 30 * time.Second
	DefaultShutdownTimeout  = 60 * time.Second
	DefaultSettingsCacheTTL = 5 * time.Minute

	DefaultOpenAIModel                = openai.GPT4oMini
	DefaultOpenAIMaxTokens            = 400
	DefaultOpenAIMaxRequestsPerSecond = 3
	DefaultOpenAIRetryAttempts        = 2
	DefaultOpenAIRetryBackoff         = 2 * time.Second
	DefaultOpenAITemperature          = 0.8
	DefaultOpenAIVIPTemperature       = 0.7

	DefaultMemoryMaxEntries         = 300
	DefaultMemoryMaxUsers           = 200
	DefaultMemoryKeepUsers          = 100
	DefaultMemoryContextTokenBudget = 2000
	DefaultMaxReplyLength           = 1900

	DefaultLeaseTTL              = 5 * time.Minute
	DefaultLeaseSweepSchedule    = "@every 60s"
	DefaultCooldownSweepSchedule = "@every 10m"
	DefaultHistoryPruneSchedule  = "@every 30m"
	DefaultGiveawayEndSchedule   = "@every 1m"

	DefaultChatCooldown    = 3 * time.Second
	DefaultTicketCooldown  = 30 * time.Second
	DefaultCommandCooldown = 3 * time.Second
	DefaultXPCooldown      = 60 * time.Second

	DefaultAutomodMaxMessageLength = 500
	DefaultAutomodMaxMentions      = 5
	DefaultAutomodCapsRatio        = 0.7
	DefaultAutomodCapsMinLength    = 10

	DefaultChannelHistoryLimit = 100
	DefaultTicketDeleteDelay   = 10 * time.Second

	DefaultReadTimeout                       = 5 * time.Second
	DefaultReadHeaderTimeout                 = 5 * time.Second
	DefaultWriteTimeout                      = 10 * time.Second
	DefaultIdleTimeout                       = 30 * time.Second
	DefaultDiscordWebhookServerListen        = "127.0.0.1:5001"
	DefaultDiscordWebhookServerTLSminVersion = tls.VersionTLS12
	DefaultDiscordGatewayIntent              = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers
	DefaultDiscordWebhookLogLevel = slog.LevelInfo
	DefaultDiscordLogLevel        = slog.LevelWarn
	DefaultDiscordStartupMessage  = "🤖 Creatives bot is online!"
	discordMaxMessageLength       = 2000
	DefaultAPIListen              = "127.0.0.1:5000"
	DefaultUITLSMinVersion        = tls.VersionTLS12
	DefaultAPISessionMaxAge       = 6 * time.Hour

	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelInfo
	DefaultDiscordgoLogLevel       = slog.LevelWarn
	DefaultOpenAILogLevel          = slog.LevelInfo
	DefaultAPILogLevel             = slog.LevelInfo
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = true
)

var (
	ErrMissingDiscordToken = errors.New("discord token is required")
	ErrMissingOpenAIToken  = errors.New("openai token is required")
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string (sqlite path or postgres DSN)
	Database string `yaml:"database" mapstructure:"database" json:"database" log:"[redacted]"`

	// DatabaseType is either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	DatabaseLogLevel      *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`
	DatabaseSlowThreshold time.Duration  `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout bounds gateway connection and initial state loading.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for in-flight interactions to
	// finish before connections are force-closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// SettingsCacheTTL bounds how long a cached GuildSettings row may be
	// served before it is re-read. Writes from this process always
	// invalidate immediately. 0 disables TTL refresh.
	SettingsCacheTTL time.Duration `yaml:"settings_cache_ttl" mapstructure:"settings_cache_ttl" json:"settings_cache_ttl"`

	OpenAI    *OpenAIConfig   `yaml:"openai" mapstructure:"openai" json:"openai"`
	Discord   *DiscordConfig  `yaml:"discord" mapstructure:"discord" json:"discord"`
	API       *APIConfig      `yaml:"api" mapstructure:"api" json:"api"`
	Memory    *MemoryConfig   `yaml:"memory" mapstructure:"memory" json:"memory"`
	Lease     *LeaseConfig    `yaml:"lease" mapstructure:"lease" json:"lease"`
	Cooldowns *CooldownConfig `yaml:"cooldowns" mapstructure:"cooldowns" json:"cooldowns"`
	Automod   *AutomodConfig  `yaml:"automod" mapstructure:"automod" json:"automod"`
	Giveaways *GiveawayConfig `yaml:"giveaways" mapstructure:"giveaways" json:"giveaways"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// Validate reports missing credentials. Both tokens are required to run.
func (c Config) Validate() error {
	var errs []error
	if c.Discord == nil || c.Discord.Token == "" {
		errs = append(errs, ErrMissingDiscordToken)
	}
	if c.OpenAI == nil || c.OpenAI.Token == "" {
		errs = append(errs, ErrMissingOpenAIToken)
	}
	return errors.Join(errs...)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	WebhookServer DiscordWebhookServerConfig `yaml:"webhook_server" mapstructure:"webhook_server" json:"webhook_server"`

	// GuildID scopes slash command registration to one guild.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	LogLevel          *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// StartupMessage is sent to NotificationChannelID on gateway connect,
	// when a channel is set.
	StartupMessage        string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// VIPUserIDs get a slightly more focused temperature and a VIP hint
	// in the system prompt.
	VIPUserIDs []string `yaml:"vip_user_ids" mapstructure:"vip_user_ids" json:"vip_user_ids"`

	httpClient *http.Client
}

// DiscordWebhookServerConfig configures the optional HTTP interactions
// endpoint, used instead of receiving interactions over the gateway.
type DiscordWebhookServerConfig struct {
	Enabled       bool      `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Listen        string    `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`
	ListenNetwork string    `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`
	SSL           SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The public key used for verifying Discord interaction POST requests.
	PublicKey string `yaml:"public_key" mapstructure:"public_key" json:"public_key" binding:"required_if=Enabled true"`

	LogLevel          *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	ReadTimeout       time.Duration  `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration  `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration  `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration  `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// OpenAIConfig configures the chat completion provider
type OpenAIConfig struct {
	Token    string         `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	Model    string         `yaml:"model" mapstructure:"model" json:"model"`

	// MaxTokens caps completion length
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens"`

	// Outbound request pacing. 0 disables the limiter.
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`

	// RetryAttempts is the number of retries after a rate-limited request.
	// RetryBackoff is the base delay, doubled per attempt.
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts" json:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff" json:"retry_backoff"`
}

// MemoryConfig bounds per-user conversation history.
type MemoryConfig struct {
	MaxEntries         int `yaml:"max_entries" mapstructure:"max_entries" json:"max_entries"`
	MaxUsers           int `yaml:"max_users" mapstructure:"max_users" json:"max_users"`
	KeepUsers          int `yaml:"keep_users" mapstructure:"keep_users" json:"keep_users"`
	ContextTokenBudget int `yaml:"context_token_budget" mapstructure:"context_token_budget" json:"context_token_budget"`
	MaxReplyLength     int `yaml:"max_reply_length" mapstructure:"max_reply_length" json:"max_reply_length"`
}

type LeaseConfig struct {
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl" json:"ttl"`
	SweepSchedule string        `yaml:"sweep_schedule" mapstructure:"sweep_schedule" json:"sweep_schedule"`
}

type CooldownConfig struct {
	Chat          time.Duration `yaml:"chat" mapstructure:"chat" json:"chat"`
	Ticket        time.Duration `yaml:"ticket" mapstructure:"ticket" json:"ticket"`
	Command       time.Duration `yaml:"command" mapstructure:"command" json:"command"`
	XP            time.Duration `yaml:"xp" mapstructure:"xp" json:"xp"`
	SweepSchedule string        `yaml:"sweep_schedule" mapstructure:"sweep_schedule" json:"sweep_schedule"`
}

// AutomodConfig holds thresholds. Per-guild toggles live in GuildSettings.
type AutomodConfig struct {
	MaxMessageLength int     `yaml:"max_message_length" mapstructure:"max_message_length" json:"max_message_length"`
	MaxMentions      int     `yaml:"max_mentions" mapstructure:"max_mentions" json:"max_mentions"`
	CapsRatio        float64 `yaml:"caps_ratio" mapstructure:"caps_ratio" json:"caps_ratio"`
	CapsMinLength    int     `yaml:"caps_min_length" mapstructure:"caps_min_length" json:"caps_min_length"`

	// ChannelHistoryLimit is the number of messages retained per channel
	ChannelHistoryLimit  int    `yaml:"channel_history_limit" mapstructure:"channel_history_limit" json:"channel_history_limit"`
	HistoryPruneSchedule string `yaml:"history_prune_schedule" mapstructure:"history_prune_schedule" json:"history_prune_schedule"`
}

type GiveawayConfig struct {
	// EndSchedule is how often expired giveaways are drawn
	EndSchedule string `yaml:"end_schedule" mapstructure:"end_schedule" json:"end_schedule"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Listen        string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// Secret used for signing cookies
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	SSL               SSLConfig      `yaml:"ssl" mapstructure:"ssl" json:"ssl"`
	LogLevel          *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	CORS              CORSConfig     `yaml:"cors" mapstructure:"cors" json:"cors"`
	ReadTimeout       time.Duration  `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration  `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration  `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration  `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
	SessionMaxAge     time.Duration  `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age"`

	// Enables pprof routes and SameSite=None session cookies
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	Cert          string `yaml:"cert" mapstructure:"cert" json:"cert"`
	Key           string `yaml:"key" mapstructure:"key" json:"key"`
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string(nil), DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string(nil), DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string(nil), DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

func newLevelVar(level slog.Level) *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(level)
	return v
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      newLevelVar(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              newLevelVar(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		SettingsCacheTTL:      DefaultSettingsCacheTTL,
		OpenAI: &OpenAIConfig{
			LogLevel:             newLevelVar(DefaultOpenAILogLevel),
			Model:                DefaultOpenAIModel,
			MaxTokens:            DefaultOpenAIMaxTokens,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			RetryAttempts:        DefaultOpenAIRetryAttempts,
			RetryBackoff:         DefaultOpenAIRetryBackoff,
		},
		Discord: &DiscordConfig{
			WebhookServer: DiscordWebhookServerConfig{
				Listen:        DefaultDiscordWebhookServerListen,
				ListenNetwork: defaultListenNetwork,
				SSL: SSLConfig{
					TLSMinVersion: DefaultDiscordWebhookServerTLSminVersion,
				},
				LogLevel:          newLevelVar(DefaultDiscordWebhookLogLevel),
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				ReadTimeout:       DefaultReadTimeout,
				WriteTimeout:      DefaultWriteTimeout,
				IdleTimeout:       DefaultIdleTimeout,
			},
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          newLevelVar(DefaultDiscordLogLevel),
			DiscordGoLogLevel: newLevelVar(DefaultDiscordgoLogLevel),
			StartupMessage:    DefaultDiscordStartupMessage,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultUITLSMinVersion,
			},
			LogLevel:          newLevelVar(DefaultAPILogLevel),
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			SessionMaxAge:     DefaultAPISessionMaxAge,
			CORS:              DefaultCORSConfig(),
		},
		Memory: &MemoryConfig{
			MaxEntries:         DefaultMemoryMaxEntries,
			MaxUsers:           DefaultMemoryMaxUsers,
			KeepUsers:          DefaultMemoryKeepUsers,
			ContextTokenBudget: DefaultMemoryContextTokenBudget,
			MaxReplyLength:     DefaultMaxReplyLength,
		},
		Lease: &LeaseConfig{
			TTL:           DefaultLeaseTTL,
			SweepSchedule: DefaultLeaseSweepSchedule,
		},
		Cooldowns: &CooldownConfig{
			Chat:          DefaultChatCooldown,
			Ticket:        DefaultTicketCooldown,
			Command:       DefaultCommandCooldown,
			XP:            DefaultXPCooldown,
			SweepSchedule: DefaultCooldownSweepSchedule,
		},
		Automod: &AutomodConfig{
			MaxMessageLength:     DefaultAutomodMaxMessageLength,
			MaxMentions:          DefaultAutomodMaxMentions,
			CapsRatio:            DefaultAutomodCapsRatio,
			CapsMinLength:        DefaultAutomodCapsMinLength,
			ChannelHistoryLimit:  DefaultChannelHistoryLimit,
			HistoryPruneSchedule: DefaultHistoryPruneSchedule,
		},
		Giveaways: &GiveawayConfig{
			EndSchedule: DefaultGiveawayEndSchedule,
		},
	}
}
