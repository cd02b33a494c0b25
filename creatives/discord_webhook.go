package creatives

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const apiDiscordInteractions = "/discord/interactions"

// webhookDeferAfter is how long the webhook handler waits on the
// initial response before deferring on the handler's behalf. Discord
// allows 3 seconds.
var webhookDeferAfter = 2500 * time.Millisecond

// DiscordWebhookServer receives interactions as signed HTTP POSTs, as an
// alternative to the gateway.
type DiscordWebhookServer struct {
	config     DiscordWebhookServerConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
}

func newWebhookServer(b *Bot, config DiscordWebhookServerConfig) (*DiscordWebhookServer, error) {
	if len(b.discord.publicKey) != ed25519.PublicKeySize {
		return nil, errors.New("discord webhook server requires a valid public key")
	}
	logger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()
	srv := &DiscordWebhookServer{
		config: config,
		engine: r,
		logger: logger.With(loggerNameKey, "discord_webhook"),
	}
	srv.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	if config.SSL.Cert != "" {
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading webhook SSL certs: %w", err)
		}
		srv.httpServer.TLSConfig = tlsCfg
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(srv.logger),
		ginMetricsMiddleware(),
		discordRequestAuthenticationMiddleware(b.discord.publicKey),
	)
	r.POST(apiDiscordInteractions, b.webhookInteractionHandler)
	return srv, nil
}

// Serve listens on the configured address until the server is shut down.
func (d *DiscordWebhookServer) Serve(ctx context.Context) error {
	if d.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, d.config.ListenNetwork, d.config.Listen)
		if err != nil {
			return fmt.Errorf("discord webhook server: %w", err)
		}
		if d.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, d.httpServer.TLSConfig)
		} else {
			d.logger.Warn("starting server without TLS")
		}
		d.listener = ln
	}
	d.logger.InfoContext(ctx, "discord webhook server listening", "addr", d.listener.Addr().String())
	err := d.httpServer.Serve(d.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (d *DiscordWebhookServer) Shutdown(ctx context.Context) error {
	return d.httpServer.Shutdown(ctx)
}

// webhookInteractionHandler dispatches a signed interaction and writes
// its initial response as the HTTP response body. If the handler hasn't
// produced one by webhookDeferAfter, a deferred response is written
// instead, and the handler's reply becomes an edit.
func (b *Bot) webhookInteractionHandler(c *gin.Context) {
	logger := ginContextLogger(c)

	defer func() {
		_ = c.Request.Body.Close()
	}()
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		logger.ErrorContext(c, "error reading body", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error reading body"})
		return
	}

	var interaction discordgo.InteractionCreate
	if err = json.Unmarshal(body, &interaction); err != nil || interaction.Interaction == nil {
		logger.WarnContext(c, "error unmarshalling body", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: "error unmarshalling body"})
		return
	}
	if interaction.Type == discordgo.InteractionPing {
		c.JSON(http.StatusOK, discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
		return
	}

	ev, ok := eventFromInteraction(&interaction)
	if !ok {
		logger.WarnContext(c, "unsupported interaction type", "type", interaction.Type.String())
		c.JSON(http.StatusBadRequest, httpError{Error: "unsupported interaction type"})
		return
	}

	responder := newWebhookResponder(b.discord.session, interaction.Interaction)
	ctx := WithLogger(context.WithoutCancel(c.Request.Context()), logger)
	done := make(chan struct{})
	b.handlersWG.Add(1)
	go func() {
		defer b.handlersWG.Done()
		defer close(done)
		b.handleInteraction(ctx, interactionMethodWebhook, ev, responder)
	}()

	timer := time.NewTimer(webhookDeferAfter)
	defer timer.Stop()

	select {
	case resp := <-responder.initial:
		c.JSON(http.StatusOK, resp)
	case <-done:
		select {
		case resp := <-responder.initial:
			c.JSON(http.StatusOK, resp)
		default:
			c.Status(http.StatusNoContent)
		}
	case <-timer.C:
		if !responder.takeOver() {
			c.JSON(http.StatusOK, <-responder.initial)
			return
		}
		route, found := b.router.Lookup(ev.Kind, ev.Name)
		logger.WarnContext(c, "deferring slow interaction", "name", ev.Name)
		c.JSON(
			http.StatusOK, discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Flags: replyFlags(route.Ephemeral || !found),
				},
			},
		)
	}
}

// discordRequestAuthenticationMiddleware rejects requests without a
// valid Ed25519 signature.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
//nolint:lll // can't split link
func discordRequestAuthenticationMiddleware(publicKey ed25519.PublicKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !verifyRequest(c.Request, publicKey) {
			ginContextLogger(c).WarnContext(c, "invalid signature")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "invalid signature"})
			return
		}
		c.Next()
	}
}

// verifyRequest checks the signature over timestamp+body. The body is
// restored for the next reader.
func verifyRequest(r *http.Request, key ed25519.PublicKey) bool {
	signature := r.Header.Get("X-Signature-Ed25519")
	timestamp := r.Header.Get("X-Signature-Timestamp")
	if signature == "" || timestamp == "" {
		return false
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	if len(sig) != ed25519.SignatureSize || sig[63]&224 != 0 {
		return false
	}

	var msg, body bytes.Buffer
	msg.WriteString(timestamp)
	defer func() {
		_ = r.Body.Close()
		r.Body = io.NopCloser(&body)
	}()
	if _, err = io.Copy(&msg, io.TeeReader(r.Body, &body)); err != nil {
		return false
	}
	return ed25519.Verify(key, msg.Bytes(), sig)
}
