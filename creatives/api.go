package creatives

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiHealthCheck          = "/healthz"
	apiMetrics              = "/metrics"
	apiPathLogin            = "/api/login"
	apiPathLogout           = "/api/logout"
	apiPathLoggedIn         = "/logged_in"
	apiPathGuildSettings    = "/guilds/:guild_id/settings"
	apiPathGuildTickets     = "/guilds/:guild_id/tickets"
	apiPathGuildWarnings    = "/guilds/:guild_id/warnings"
	apiPathRegisterCommands = "/commands/register"
	apiPathLeases           = "/leases"
	apiPathMemory           = "/memory/:user_id"
	apiPathBot              = "/bot"
	apiPathQuit             = "/quit"

	apiDefaultListLimit = 50
	apiQuitTimeout      = 30 * time.Second
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
)

var structValidator = validator.New()

// API is the admin HTTP server.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	logger              *slog.Logger
	bot                 *Bot
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loggedInResponse struct {
	Username string `json:"username"`
}

type healthCheckResponse struct {
	Paused                  bool `json:"paused"`
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
	Leases                  int  `json:"leases"`
	MemoryUsers             int  `json:"memory_users"`
	ActiveGames             int  `json:"active_games"`
}

type botStatusResponse struct {
	State        BotState             `json:"state"`
	StartedAt    time.Time            `json:"started_at"`
	BotUserID    string               `json:"bot_user_id,omitempty"`
	Connected    bool                 `json:"discord_gateway_connected"`
	Cooldowns    int                  `json:"cooldown_users"`
	ScheduledRun map[string]time.Time `json:"scheduled_runs"`
}

type listQuery struct {
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
	Status string `form:"status" binding:"omitempty,oneof=open claimed closed"`
	UserID string `form:"user_id" binding:"omitempty,numeric"`
}

func (q listQuery) limit() int {
	if q.Limit == 0 {
		return apiDefaultListLimit
	}
	return q.Limit
}

func newAPI(b *Bot, config *APIConfig) (*API, error) {
	logger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "api")

	r := gin.New()
	api := &API{
		config:              config,
		engine:              r,
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:              logger,
		bot:                 b,
	}

	var secretKey []byte
	if config.Secret == "" {
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	} else {
		secretKey = derive64ByteKey(config.Secret)
	}
	api.store = NewCookieStore(secretKey)
	api.store.Options(api.sessionOptions())

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	if config.SSL.Cert != "" {
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
	}
	api.httpServer = httpServer

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = config.Development
		corsConfig.AllowCredentials = corsConfig.AllowCredentials && !config.Development
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		ginMetricsMiddleware(),
		gzip.Gzip(gzip.DefaultCompression),
		sessions.Sessions(sessionVarName, api.store),
	)
	if len(corsConfig.AllowOrigins) > 0 || corsConfig.AllowAllOrigins {
		r.Use(cors.New(corsConfig))
	}

	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(apiMetrics, gin.WrapH(promhttp.Handler()))
	r.POST(apiPathLogin, api.loginHandler)
	r.POST(apiPathLogout, api.logoutHandler)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
		runtime.SetMutexProfileFraction(1)
		runtime.SetBlockProfileRate(1)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(api.store))

	protected.GET(apiPathLoggedIn, api.loggedIn)
	protected.GET(apiPathGuildSettings, api.getGuildSettings)
	protected.PATCH(apiPathGuildSettings, api.updateGuildSettings)
	protected.GET(apiPathGuildTickets, api.getTickets)
	protected.GET(apiPathGuildWarnings, api.getWarnings)
	protected.POST(apiPathRegisterCommands, api.registerCommands)
	protected.GET(apiPathLeases, api.getLeases)
	protected.DELETE(apiPathMemory, api.clearMemory)
	protected.GET(apiPathBot, api.getBot)
	protected.PATCH(apiPathBot, api.updateBot)
	protected.POST(apiPathQuit, api.botQuit)

	return api, nil
}

func (a *API) sessionOptions() sessions.Options {
	sameSite := http.SameSiteStrictMode
	if a.config.Development {
		sameSite = http.SameSiteNoneMode
	}
	return sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		MaxAge:   int(a.config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
	}
}

// Serve listens on the configured address until the server is shut down.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("api: %w", err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		} else {
			a.logger.Warn("starting api without TLS")
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "addr", a.listener.Addr().String())
	err := a.httpServer.Serve(a.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// requestContext returns the request's context carrying the request
// logger.
func requestContext(c *gin.Context) context.Context {
	return WithLogger(c.Request.Context(), ginContextLogger(c))
}

func (a *API) loginHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	if !a.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, httpError{Error: "too many requests"})
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	state := a.bot.State()
	if state.AdminUsername == "" || state.AdminPassword == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	if login.Username != state.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	valid, err := VerifyPassword(state.AdminPassword, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	session := sessions.Default(c)
	session.Set(sessionVarField, login.Username)
	if err = session.Save(); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (a *API) logoutHandler(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	opts := a.sessionOptions()
	opts.MaxAge = -1
	session.Options(opts)
	if err := session.Save(); err != nil {
		ginContextLogger(c).Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (a *API) loggedIn(c *gin.Context) {
	username, _ := sessions.Default(c).Get(sessionVarField).(string)
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

func (a *API) healthCheck(c *gin.Context) {
	b := a.bot
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  b.Paused(),
			DiscordGatewayConnected: b.discord.connected.Load(),
			Leases:                  b.locks.Len(),
			MemoryUsers:             len(b.memory.Users()),
			ActiveGames:             b.games.Len(),
		},
	)
}

func (a *API) getGuildSettings(c *gin.Context) {
	settings, err := a.bot.settings.Get(requestContext(c), c.Param("guild_id"))
	if err != nil {
		ginContextLogger(c).Error("error loading settings", tint.Err(err))
		ginReplyError(c, "error loading settings")
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (a *API) updateGuildSettings(c *gin.Context) {
	var update GuildSettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if err := update.validate(); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	settings, err := a.bot.settings.Update(requestContext(c), c.Param("guild_id"), update.apply)
	if err != nil {
		ginContextLogger(c).Error("error updating settings", tint.Err(err))
		ginReplyError(c, "error updating settings")
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (a *API) getTickets(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	where := map[string]any{"guild_id": c.Param("guild_id")}
	if q.Status != "" {
		where["status"] = q.Status
	}
	if q.UserID != "" {
		where["user_id"] = q.UserID
	}
	tickets, err := a.bot.stores.Tickets.List(
		requestContext(c),
		Filter{Where: where, Order: "created_at desc", Limit: q.limit(), Offset: q.Offset},
	)
	if err != nil {
		ginContextLogger(c).Error("error listing tickets", tint.Err(err))
		ginReplyError(c, "error listing tickets")
		return
	}
	c.JSON(http.StatusOK, tickets)
}

func (a *API) getWarnings(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	where := map[string]any{"guild_id": c.Param("guild_id")}
	if q.UserID != "" {
		where["user_id"] = q.UserID
	}
	warnings, err := a.bot.stores.Warnings.List(
		requestContext(c),
		Filter{Where: where, Order: "created_at desc", Limit: q.limit(), Offset: q.Offset},
	)
	if err != nil {
		ginContextLogger(c).Error("error listing warnings", tint.Err(err))
		ginReplyError(c, "error listing warnings")
		return
	}
	c.JSON(http.StatusOK, warnings)
}

func (a *API) registerCommands(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.Info("registering commands")
	created, err := a.bot.discord.registerCommands(requestContext(c), a.bot.config.Discord.GuildID)
	if err != nil {
		logger.Error("error registering commands", tint.Err(err))
		ginReplyError(c, "error registering commands")
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (a *API) getLeases(c *gin.Context) {
	c.JSON(http.StatusOK, a.bot.locks.Snapshot())
}

func (a *API) clearMemory(c *gin.Context) {
	removed := a.bot.memory.Clear(c.Param("user_id"))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (a *API) getBot(c *gin.Context) {
	b := a.bot
	c.JSON(
		http.StatusOK, botStatusResponse{
			State:        b.State(),
			StartedAt:    b.startedAt,
			BotUserID:    b.discord.BotUserID(),
			Connected:    b.discord.connected.Load(),
			Cooldowns:    b.limiter.Len(),
			ScheduledRun: b.scheduler.Next(),
		},
	)
}

func (a *API) updateBot(c *gin.Context) {
	var update BotStateUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if err := update.validate(); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	state, err := a.bot.updateBotState(requestContext(c), update)
	if err != nil {
		ginContextLogger(c).Error("error updating bot state", tint.Err(err))
		ginReplyError(c, "error updating bot state")
		return
	}
	c.JSON(http.StatusOK, state)
}

func (a *API) botQuit(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), apiQuitTimeout)
	defer cancel()
	if !a.bot.notifier.Stop(ctx) {
		logger.Warn("timeout sending stop signal")
		c.JSON(http.StatusGatewayTimeout, httpError{Error: "timeout sending stop signal"})
		return
	}
	ginReplyMessage(c, "quitting")
}

// authMiddleware rejects requests without a logged-in session.
func authMiddleware(store CookieStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		session, err := store.Get(c.Request, sessionVarName)
		if err != nil || session == nil {
			logger.Warn("error getting session", tint.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		username, _ := session.Values[sessionVarField].(string)
		if username == "" {
			logger.Warn("username not found in session")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// requestIDMiddleware tags each request with an ID, reusing the
// caller's X-Request-ID if it sent a valid UUID.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(xRequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request logger set by ginLoggingMiddleware,
// creating one from the default logger if there isn't one.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if l, isLogger := v.(*slog.Logger); isLogger {
			return l
		}
	}
	l := requestLogger(c, slog.Default())
	c.Set(string(loggerContextKey), l)
	return l
}

func requestLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	return base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
}

// ginLoggingMiddleware sets the request logger, derived from base, and
// logs each finished request.
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		logger := requestLogger(c, base)
		c.Set(string(loggerContextKey), logger)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			logger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL.Path),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		logger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL.Path),
			"duration", latency,
			response,
		)
	}
}

func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

//nolint:gochecknoinits // validators share gin's tag name
func init() {
	structValidator.SetTagName("binding")
}
