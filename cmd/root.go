package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"strings"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/creative812/Creatives-bot/creatives"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = creatives.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:          "creatives [flags]",
	Short:        "Discord community bot with AI chat, tickets, moderation and leveling",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.Unmarshal(cfg, viper.DecodeHook(configDecodeHook()))
	},
}

func configDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(" "),
		LevelToStringHookFunc(),
		StringToIntentHookFunc(),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
	return lvl, nil
}

// LevelToStringHookFunc decodes level names (DEBUG, INFO, WARN, ERROR)
// into *slog.LevelVar fields.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if t != reflect.TypeOf(&slog.LevelVar{}) {
			return data, nil
		}
		switch v := data.(type) {
		case *slog.LevelVar:
			return v, nil
		case string:
			lvl, err := getLogLevel(v)
			if err != nil {
				return nil, err
			}
			lvlVar := &slog.LevelVar{}
			lvlVar.Set(lvl)
			return lvlVar, nil
		}
		return data, nil
	}
}

// StringToIntentHookFunc decodes gateway intents given as an integer
// string, which is how they arrive from the environment.
func StringToIntentHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(discordgo.Intent(0)) {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return creatives.DefaultDiscordGatewayIntent, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid gateway intents: %q", s)
		}
		return discordgo.Intent(n), nil
	}
}

func Execute() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
	)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading env file %s: %v", configFile, err)
		}
	}

	d := creatives.DefaultConfig()

	viper.SetDefault("database", d.Database)
	viper.SetDefault("database_type", d.DatabaseType)
	viper.SetDefault("database_slow_threshold", d.DatabaseSlowThreshold)
	viper.SetDefault("database_log_level", d.DatabaseLogLevel.Level().String())
	viper.SetDefault("log_level", d.LogLevel.Level().String())
	viper.SetDefault("startup_timeout", d.StartupTimeout)
	viper.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	viper.SetDefault("settings_cache_ttl", d.SettingsCacheTTL)

	// OpenAI
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.log_level", d.OpenAI.LogLevel.Level().String())
	viper.SetDefault("openai.model", d.OpenAI.Model)
	viper.SetDefault("openai.max_tokens", d.OpenAI.MaxTokens)
	viper.SetDefault("openai.max_requests_per_second", d.OpenAI.MaxRequestsPerSecond)
	viper.SetDefault("openai.retry_attempts", d.OpenAI.RetryAttempts)
	viper.SetDefault("openai.retry_backoff", d.OpenAI.RetryBackoff)

	// Discord
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.log_level", d.Discord.LogLevel.Level().String())
	viper.SetDefault("discord.discordgo_log_level", d.Discord.DiscordGoLogLevel.Level().String())
	viper.SetDefault("discord.gateway_intents", strconv.Itoa(int(d.Discord.GatewayIntents)))
	viper.SetDefault("discord.startup_message", d.Discord.StartupMessage)
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.vip_user_ids", []string{})

	// Discord: webhook server
	wh := d.Discord.WebhookServer
	viper.SetDefault("discord.webhook_server.enabled", false)
	viper.SetDefault("discord.webhook_server.listen", wh.Listen)
	viper.SetDefault("discord.webhook_server.listen_network", wh.ListenNetwork)
	viper.SetDefault("discord.webhook_server.public_key", "")
	viper.SetDefault("discord.webhook_server.ssl.cert", "")
	viper.SetDefault("discord.webhook_server.ssl.key", "")
	viper.SetDefault("discord.webhook_server.ssl.tls_min_version", wh.SSL.TLSMinVersion)
	viper.SetDefault("discord.webhook_server.log_level", wh.LogLevel.Level().String())
	viper.SetDefault("discord.webhook_server.read_timeout", wh.ReadTimeout)
	viper.SetDefault("discord.webhook_server.read_header_timeout", wh.ReadHeaderTimeout)
	viper.SetDefault("discord.webhook_server.write_timeout", wh.WriteTimeout)
	viper.SetDefault("discord.webhook_server.idle_timeout", wh.IdleTimeout)

	// API
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", d.API.Listen)
	viper.SetDefault("api.listen_network", d.API.ListenNetwork)
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.log_level", d.API.LogLevel.Level().String())
	viper.SetDefault("api.session_max_age", d.API.SessionMaxAge)
	viper.SetDefault("api.read_timeout", d.API.ReadTimeout)
	viper.SetDefault("api.read_header_timeout", d.API.ReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", d.API.WriteTimeout)
	viper.SetDefault("api.idle_timeout", d.API.IdleTimeout)
	viper.SetDefault("api.ssl.cert", "")
	viper.SetDefault("api.ssl.key", "")
	viper.SetDefault("api.ssl.tls_min_version", d.API.SSL.TLSMinVersion)

	// API: CORS
	viper.SetDefault("api.cors.allow_origins", d.API.CORS.AllowOrigins)
	viper.SetDefault("api.cors.allow_methods", d.API.CORS.AllowMethods)
	viper.SetDefault("api.cors.allow_headers", d.API.CORS.AllowHeaders)
	viper.SetDefault("api.cors.expose_headers", d.API.CORS.ExposeHeaders)
	viper.SetDefault("api.cors.allow_credentials", d.API.CORS.AllowCredentials)
	viper.SetDefault("api.cors.max_age", d.API.CORS.MaxAge)

	// Memory, leases and cooldowns
	viper.SetDefault("memory.max_entries", d.Memory.MaxEntries)
	viper.SetDefault("memory.max_users", d.Memory.MaxUsers)
	viper.SetDefault("memory.keep_users", d.Memory.KeepUsers)
	viper.SetDefault("memory.context_token_budget", d.Memory.ContextTokenBudget)
	viper.SetDefault("memory.max_reply_length", d.Memory.MaxReplyLength)
	viper.SetDefault("lease.ttl", d.Lease.TTL)
	viper.SetDefault("lease.sweep_schedule", d.Lease.SweepSchedule)
	viper.SetDefault("cooldowns.chat", d.Cooldowns.Chat)
	viper.SetDefault("cooldowns.ticket", d.Cooldowns.Ticket)
	viper.SetDefault("cooldowns.command", d.Cooldowns.Command)
	viper.SetDefault("cooldowns.xp", d.Cooldowns.XP)
	viper.SetDefault("cooldowns.sweep_schedule", d.Cooldowns.SweepSchedule)

	// Automod and channel history
	viper.SetDefault("automod.max_message_length", d.Automod.MaxMessageLength)
	viper.SetDefault("automod.max_mentions", d.Automod.MaxMentions)
	viper.SetDefault("automod.caps_ratio", d.Automod.CapsRatio)
	viper.SetDefault("automod.caps_min_length", d.Automod.CapsMinLength)
	viper.SetDefault("automod.channel_history_limit", d.Automod.ChannelHistoryLimit)
	viper.SetDefault("automod.history_prune_schedule", d.Automod.HistoryPruneSchedule)
	viper.SetDefault("giveaways.end_schedule", d.Giveaways.EndSchedule)

	envPrefix := os.Getenv(creatives.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = creatives.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

//nolint:gochecknoinits // cobra wiring
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load configuration from",
	)
}
