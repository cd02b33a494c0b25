package creatives

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

const (
	interactionMethodGateway = "gateway"
	interactionMethodWebhook = "webhook"

	botStateNotifyTimeout = 5 * time.Second
)

var (
	// Set at build time:
	// -ldflags "-X github.com/creative812/Creatives-bot/creatives.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var defaultLogWriter = os.Stdout

// Bot is the running discord bot: the gateway session, the interaction
// dispatcher, message triggers, scheduled jobs, and the optional admin
// API and webhook servers.
type Bot struct {
	config *Config
	logger *slog.Logger

	db       DBI
	stores   *Stores
	settings *SettingsStore
	notifier DBNotifier
	signals  *notifySignals

	discord       *Discord
	llm           LLM
	api           *API
	webhookServer *DiscordWebhookServer

	locks      *LockManager
	limiter    *RateLimiter
	memory     *ConversationMemory
	games      *GameSessions
	router     *Router
	dispatcher *Dispatcher
	scheduler  *Scheduler

	stateMu sync.RWMutex
	state   BotState
	paused  atomic.Bool

	runMu      sync.Mutex
	handlersWG sync.WaitGroup
	runtimeWG  sync.WaitGroup
	startedAt  time.Time

	randIntn  func(int) int
	randFloat func() float64
	now       func() time.Time
	afterFunc func(time.Duration, func())
}

func subsystemLogger(level slog.Leveler, name string) *slog.Logger {
	return slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     level,
				AddSource: true,
			},
		),
	).With(loggerNameKey, name)
}

// New creates a Bot from config. Nothing is connected or opened until
// Run is called.
func New(config *Config) (*Bot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
	default:
		errs = append(errs, errors.New("invalid database type (must be 'sqlite' or 'postgres')"))
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	logger := slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)
	slog.SetDefault(logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		),
	)

	b := &Bot{
		config:    config,
		logger:    logger,
		signals:   newNotifySignals(),
		state:     DefaultBotState(),
		randIntn:  rand.IntN,
		randFloat: rand.Float64,
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}

	config.Discord.httpClient = config.HTTPClient
	disc, err := newDiscord(config.Discord, subsystemLogger(config.Discord.LogLevel, "discord"))
	if err != nil {
		errs = append(errs, err)
	}
	b.discord = disc

	b.llm = NewOpenAILLM(config.OpenAI, config.HTTPClient, subsystemLogger(config.OpenAI.LogLevel, "openai"))
	b.locks = NewLockManager(config.Lease.TTL, logger.With(loggerNameKey, "leases"))
	b.limiter = NewRateLimiter()
	b.games = NewGameSessions()
	b.memory = NewConversationMemory(*config.Memory, logger.With(loggerNameKey, "memory"), b.limiter, b.games)
	b.scheduler = NewScheduler(logger)
	b.router = b.routes()
	b.dispatcher = NewDispatcher(
		b.router,
		b.locks,
		logger.With(loggerNameKey, "dispatcher"),
		b.pausedGuard,
		b.disabledCommandGuard,
		b.commandCooldownGuard,
	)

	if config.API.Enabled {
		api, e := newAPI(b, config.API)
		errs = append(errs, e)
		b.api = api
	}
	if config.Discord.WebhookServer.Enabled && disc != nil {
		srv, e := newWebhookServer(b, config.Discord.WebhookServer)
		errs = append(errs, e)
		b.webhookServer = srv
	}
	return b, errors.Join(errs...)
}

// initDB opens and migrates the database, and loads the persisted bot
// state.
func (b *Bot) initDB(ctx context.Context) error {
	dbLogger := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     b.config.DatabaseLogLevel,
			AddSource: true,
		},
	)
	gdb, err := createDB(ctx, b.config.DatabaseType, b.config.Database, dbLogger, b.config.DatabaseSlowThreshold)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.db = NewDatabase(gdb, b.logger, b.config.DatabaseType == dbTypePostgres)
	b.stores = NewStores(b.db)

	notifier, err := newDBNotifier(b.config.DatabaseType, b.config.Database, b.db, b.signals, b.logger)
	if err != nil {
		return err
	}
	b.notifier = notifier
	b.settings = NewSettingsStore(
		b.stores,
		b.config.SettingsCacheTTL,
		notifier,
		b.logger.With(loggerNameKey, "settings"),
	)

	state, err := loadBotState(ctx, b.db)
	if err != nil {
		return err
	}
	b.setState(*state)
	if state.AdminUsername == "" {
		b.logger.WarnContext(ctx, "admin credentials not set, the admin API login is disabled")
	}
	return nil
}

func (b *Bot) State() BotState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

// Paused reports whether interactions and message triggers are
// currently suspended.
func (b *Bot) Paused() bool {
	return b.paused.Load()
}

func (b *Bot) setState(state BotState) {
	b.stateMu.Lock()
	b.state = state
	b.paused.Store(state.Paused)
	b.stateMu.Unlock()
	applyLogLevels(state, b.config)
}

// updateBotState applies u, persists the result, and announces it to
// other instances sharing the database.
func (b *Bot) updateBotState(ctx context.Context, u BotStateUpdate) (BotState, error) {
	b.stateMu.Lock()
	next := b.state
	if !u.apply(&next) {
		b.stateMu.Unlock()
		return next, nil
	}
	if err := saveBotState(ctx, b.db, &next); err != nil {
		b.stateMu.Unlock()
		return b.State(), err
	}
	b.state = next
	b.paused.Store(next.Paused)
	b.stateMu.Unlock()

	applyLogLevels(next, b.config)
	b.syncPresence(next)
	b.logger.InfoContext(ctx, "bot state updated", "state", next)

	if b.notifier != nil && b.config.DatabaseType == dbTypePostgres {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), botStateNotifyTimeout)
		defer cancel()
		b.notifier.BotStateUpdated(nctx)
	}
	return next, nil
}

// reloadBotState re-reads the bot state row, after another instance
// changed it.
func (b *Bot) reloadBotState(ctx context.Context) {
	state, err := loadBotState(ctx, b.db)
	if err != nil {
		b.logger.ErrorContext(ctx, "error reloading bot state", tint.Err(err))
		return
	}
	b.setState(*state)
	b.syncPresence(*state)
}

func (b *Bot) syncPresence(state BotState) {
	if b.discord.session == nil || !b.discord.connected.Load() {
		return
	}
	_ = b.discord.updatePresence(state)
}

// handleInteraction dispatches ev and records it in the interaction log.
func (b *Bot) handleInteraction(ctx context.Context, method string, ev Event, responder Responder) {
	admitted := b.dispatcher.Dispatch(ctx, ev, responder)

	il, err := newInteractionLog(method, ev)
	if err != nil {
		b.logger.WarnContext(ctx, "error creating interaction log", tint.Err(err))
		return
	}
	il.Admitted = admitted
	if _, err = b.db.Create(ctx, il); err != nil {
		b.logger.WarnContext(ctx, "error saving interaction log", tint.Err(err))
	}
}

// handleMessage runs the message triggers, in order: automod, then
// leveling, then the AI trigger. A message removed by automod goes no
// further.
func (b *Bot) handleMessage(ctx context.Context, m *discordgo.Message) {
	settings, err := b.settings.Get(ctx, m.GuildID)
	if err != nil {
		b.logger.ErrorContext(ctx, "error loading guild settings", "guild_id", m.GuildID, tint.Err(err))
		return
	}
	if b.handleAutomod(ctx, m, settings) {
		return
	}
	b.recordChannelMessage(ctx, m)
	b.handleLeveling(ctx, m, settings)
	if b.Paused() {
		return
	}
	b.handleAIMessage(ctx, m, settings)
}

func (b *Bot) onInteractionCreate(ctx context.Context) func(*discordgo.Session, *discordgo.InteractionCreate) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		ev, ok := eventFromInteraction(i)
		if !ok {
			b.logger.DebugContext(ctx, "ignoring interaction", interactionLogAttrs(i)...)
			return
		}
		responder := newGatewayResponder(b.discord.session, i.Interaction)
		b.handlersWG.Add(1)
		go func() {
			defer b.handlersWG.Done()
			b.handleInteraction(ctx, interactionMethodGateway, ev, responder)
		}()
	}
}

func (b *Bot) onMessageCreate(ctx context.Context) func(*discordgo.Session, *discordgo.MessageCreate) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil || m.Author == nil || m.Author.Bot || m.GuildID == "" {
			return
		}
		b.handlersWG.Add(1)
		go func() {
			defer b.handlersWG.Done()
			b.handleMessage(ctx, m.Message)
		}()
	}
}

func (b *Bot) sweepLeasesJob() {
	if removed := b.locks.Sweep(); removed > 0 {
		b.logger.Warn("swept expired leases", "removed", removed, "remaining", b.locks.Len())
	}
}

func (b *Bot) sweepCooldownsJob() {
	c := b.config.Cooldowns
	maxAge := slices.Max([]time.Duration{c.Chat, c.Ticket, c.Command, c.XP})
	if removed := b.limiter.SweepStale(maxAge); removed > 0 {
		b.logger.Debug("swept stale cooldowns", "removed", removed)
	}
}

func (b *Bot) scheduleJobs() error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"lease_sweep", b.config.Lease.SweepSchedule, b.sweepLeasesJob},
		{"cooldown_sweep", b.config.Cooldowns.SweepSchedule, b.sweepCooldownsJob},
		{"history_prune", b.config.Automod.HistoryPruneSchedule, b.pruneHistoryJob},
		{"giveaway_end", b.config.Giveaways.EndSchedule, b.endGiveawaysJob},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if err := b.scheduler.Add(job.name, job.spec, job.fn); err != nil {
			return err
		}
	}
	return nil
}

// watchSignals handles notifier signals until ctx is done. A stop
// signal cancels the run.
func (b *Bot) watchSignals(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.signals.botStateUpdated:
			b.reloadBotState(ctx)
		case <-b.signals.stop:
			b.logger.WarnContext(ctx, "got stop signal, canceling")
			cancel()
			return
		}
	}
}

func (b *Bot) startRuntime(ctx context.Context, cancel context.CancelFunc) {
	b.runtimeWG.Add(2)
	go func() {
		defer b.runtimeWG.Done()
		b.settings.watch(ctx, b.signals.settingsUpdated)
	}()
	go func() {
		defer b.runtimeWG.Done()
		b.watchSignals(ctx, cancel)
	}()
	for _, channel := range b.notifier.Channels() {
		b.runtimeWG.Add(1)
		go func() {
			defer b.runtimeWG.Done()
			if err := b.notifier.Listen(ctx, channel); err != nil {
				b.logger.ErrorContext(ctx, "error listening for notifications", "channel", channel, tint.Err(err))
			}
		}()
	}
}

func (b *Bot) openGateway(ctx context.Context) error {
	b.discord.session.SetIdentify(b.discord.identify(b.State()))

	handlerCtx := WithLogger(context.WithoutCancel(ctx), b.logger)
	b.discord.addHandlers(
		b.discord.handlerConnect(),
		b.discord.handlerDisconnect(),
		b.discord.handlerReady(
			func() {
				_ = b.discord.updatePresence(b.State())
			},
		),
		b.onInteractionCreate(handlerCtx),
		b.onMessageCreate(handlerCtx),
	)
	if err := b.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord gateway: %w", err)
	}
	return nil
}

// Run connects to Discord and serves until ctx is canceled, a stop
// signal arrives, or a server fails. In-flight interactions are given
// ShutdownTimeout to finish.
func (b *Bot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if err := b.config.Validate(); err != nil {
		b.logger.Error("invalid config", tint.Err(err))
		return err
	}
	b.startedAt = time.Now()
	ctx = WithLogger(ctx, b.logger)
	b.logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()
	if err := b.initDB(startCtx); err != nil {
		return err
	}
	if err := b.scheduleJobs(); err != nil {
		return err
	}
	if b.discord.session == nil {
		session, err := b.discord.newSession()
		if err != nil {
			return err
		}
		b.discord.session = session
	}

	g, gctx := errgroup.WithContext(ctx)
	if b.api != nil {
		g.Go(func() error { return b.api.Serve(gctx) })
	}
	if b.webhookServer != nil {
		g.Go(func() error { return b.webhookServer.Serve(gctx) })
	}
	b.startRuntime(gctx, cancel)

	if err := b.openGateway(startCtx); err != nil {
		cancel()
		return errors.Join(err, b.shutdown(g))
	}
	b.scheduler.Start()
	b.logger.InfoContext(ctx, "ready", "startup_duration", time.Since(b.startedAt))

	<-gctx.Done()
	cancel()
	return b.shutdown(g)
}

// shutdown stops the servers and gateway handlers, then waits up to
// ShutdownTimeout for in-flight handlers before closing the gateway.
func (b *Bot) shutdown(g *errgroup.Group) error {
	b.logger.Warn("shutting down", "shutdown_timeout", b.config.ShutdownTimeout)
	start := time.Now()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), b.config.ShutdownTimeout)
	defer closeCancel()

	var errs []error
	if b.api != nil {
		errs = append(errs, b.api.Shutdown(closeCtx))
	}
	if b.webhookServer != nil {
		errs = append(errs, b.webhookServer.Shutdown(closeCtx))
	}
	b.discord.removeHandlers()
	b.scheduler.Stop(closeCtx)

	done := make(chan struct{})
	go func() {
		b.handlersWG.Wait()
		b.runtimeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("finished handling in-flight requests", "elapsed", time.Since(start))
	case <-closeCtx.Done():
		b.logger.Warn("timed out waiting for in-flight requests")
	}

	if b.discord.session != nil {
		errs = append(errs, b.discord.session.Close())
	}
	errs = append(errs, g.Wait())
	return errors.Join(errs...)
}
