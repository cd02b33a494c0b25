package creatives

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
)

const (
	postgresNotifyChannelSettingsUpdated = "creatives_settings_updated"
	postgresNotifyChannelBotStateUpdated = "creatives_bot_state_updated"
	postgresNotifyChannelStop            = "creatives_stop"
	recordSeparator                      = string(rune(30))
	notifySignalBuffer                   = 16
)

var dbNotifierSendTimeout = 15 * time.Second

// notifySignals are consumed by the bot's run loop.
type notifySignals struct {
	// settingsUpdated carries the guild ID whose settings changed
	settingsUpdated chan string
	botStateUpdated chan struct{}
	stop            chan struct{}
}

func newNotifySignals() *notifySignals {
	return &notifySignals{
		settingsUpdated: make(chan string, notifySignalBuffer),
		botStateUpdated: make(chan struct{}, 1),
		stop:            make(chan struct{}, 1),
	}
}

// DBNotifier announces database changes to every bot instance sharing
// the database. With sqlite there is a single instance, and signals are
// delivered in-process. With postgres, LISTEN/NOTIFY is used, and each
// instance ignores its own notifications.
type DBNotifier interface {
	ID() string

	// SettingsUpdated announces that a guild's settings changed
	SettingsUpdated(ctx context.Context, guildID string) bool

	// BotStateUpdated announces that the BotState row changed
	BotStateUpdated(ctx context.Context) bool

	// Stop sends a shutdown signal to all bots
	Stop(ctx context.Context) bool

	// Channels lists the channels Listen should be called with
	Channels() []string
	Listen(ctx context.Context, channel string) error
}

func newDBNotifier(
	databaseType string,
	dsn string,
	db DBI,
	signals *notifySignals,
	logger *slog.Logger,
) (DBNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(loggerNameKey, "db_notifier")
	switch databaseType {
	case dbTypeSQLite:
		return &localNotifier{id: notifyID, signals: signals, logger: logger}, nil
	case dbTypePostgres:
		return &postgresNotifier{
			id:      notifyID,
			dsn:     dsn,
			db:      db,
			signals: signals,
			logger:  logger,
		}, nil
	default:
		return nil, fmt.Errorf("invalid database type: %q", databaseType)
	}
}

func sendSignal[T any](ctx context.Context, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

type localNotifier struct {
	id      string
	signals *notifySignals
	logger  *slog.Logger
}

func (n *localNotifier) ID() string { return n.id }

func (*localNotifier) Channels() []string { return nil }

func (n *localNotifier) Listen(_ context.Context, channel string) error {
	n.logger.Debug("listener not needed for in-process notifier", "channel", channel)
	return nil
}

func (n *localNotifier) SettingsUpdated(ctx context.Context, guildID string) bool {
	if !sendSignal(ctx, n.signals.settingsUpdated, guildID) {
		n.logger.Warn("timeout sending settings refresh", "guild_id", guildID)
		return false
	}
	return true
}

func (n *localNotifier) BotStateUpdated(ctx context.Context) bool {
	if !sendSignal(ctx, n.signals.botStateUpdated, struct{}{}) {
		n.logger.Warn("timeout sending bot state refresh")
		return false
	}
	return true
}

func (n *localNotifier) Stop(ctx context.Context) bool {
	n.logger.Info("notifying stop signal")
	if !sendSignal(ctx, n.signals.stop, struct{}{}) {
		n.logger.Warn("timeout sending stop signal")
		return false
	}
	return true
}

type postgresNotifier struct {
	id      string
	dsn     string
	db      DBI
	signals *notifySignals
	logger  *slog.Logger
}

func (p *postgresNotifier) ID() string { return p.id }

func (*postgresNotifier) Channels() []string {
	return []string{
		postgresNotifyChannelSettingsUpdated,
		postgresNotifyChannelBotStateUpdated,
		postgresNotifyChannelStop,
	}
}

func (p *postgresNotifier) notify(ctx context.Context, channel, payload string) bool {
	err := p.db.DB().WithContext(ctx).Exec("SELECT pg_notify(?, ?)", channel, payload).Error
	if err != nil {
		p.logger.ErrorContext(ctx, "error sending NOTIFY", "channel", channel, tint.Err(err))
		return false
	}
	p.logger.InfoContext(ctx, "sent notification", "channel", channel, "pg_notify_id", p.id)
	return true
}

func (p *postgresNotifier) SettingsUpdated(ctx context.Context, guildID string) bool {
	return p.notify(
		ctx,
		postgresNotifyChannelSettingsUpdated,
		newNotificationPayload(p.id, guildID),
	)
}

func (p *postgresNotifier) BotStateUpdated(ctx context.Context) bool {
	return p.notify(ctx, postgresNotifyChannelBotStateUpdated, newNotificationPayload(p.id, ""))
}

func (p *postgresNotifier) Stop(ctx context.Context) bool {
	// stop applies to this instance too
	sendSignal(ctx, p.signals.stop, struct{}{})
	return p.notify(ctx, postgresNotifyChannelStop, newNotificationPayload(p.id, ""))
}

// Listen blocks, forwarding notifications on channel to the bot's
// signal channels, until ctx is done.
func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	logger := p.logger.With("channel", channel)

	pool, err := pgxpool.New(ctx, p.dsn)
	if err != nil {
		return fmt.Errorf("creating listener pool: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listener connection: %w", err)
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return fmt.Errorf("listening on %s: %w", channel, err)
	}
	logger.InfoContext(ctx, "started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			if errors.Is(e, context.Canceled) || errors.Is(e, context.DeadlineExceeded) {
				break
			}
			logger.ErrorContext(ctx, "error waiting for notification", tint.Err(e))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}

		senderID, value := parseNotificationPayload(notification.Payload)
		if senderID == p.id {
			logger.DebugContext(ctx, "ignoring notification from self")
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, dbNotifierSendTimeout)
		var sent bool
		switch notification.Channel {
		case postgresNotifyChannelSettingsUpdated:
			sent = sendSignal(sendCtx, p.signals.settingsUpdated, value)
		case postgresNotifyChannelBotStateUpdated:
			sent = sendSignal(sendCtx, p.signals.botStateUpdated, struct{}{})
		case postgresNotifyChannelStop:
			sent = sendSignal(sendCtx, p.signals.stop, struct{}{})
		default:
			logger.WarnContext(ctx, "received unknown notification", "notify_channel", notification.Channel)
			sent = true
		}
		cancel()
		if !sent {
			logger.WarnContext(ctx, "timed out forwarding notification", "payload", value)
		}
	}
	return nil
}

func parseNotificationPayload(s string) (notifierID, value string) {
	before, after, _ := strings.Cut(s, recordSeparator)
	return before, after
}

func newNotificationPayload(notifierID string, value string) string {
	return notifierID + recordSeparator + value
}
