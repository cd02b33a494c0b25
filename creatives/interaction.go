package creatives

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// InteractionState tracks where an Interaction is in its response
// lifecycle. InteractionReplied and InteractionFailed are terminal.
type InteractionState int

const (
	InteractionUnacknowledged InteractionState = iota
	InteractionDeferred
	InteractionReplied
	InteractionFailed
)

func (s InteractionState) String() string {
	switch s {
	case InteractionUnacknowledged:
		return "unacknowledged"
	case InteractionDeferred:
		return "deferred"
	case InteractionReplied:
		return "replied"
	case InteractionFailed:
		return "failed"
	default:
		return "invalid"
	}
}

func (s InteractionState) Terminal() bool {
	return s == InteractionReplied || s == InteractionFailed
}

// AckMode selects how an interaction is acknowledged.
type AckMode int

const (
	// AckDefer sends a deferred response ("thinking..."), and the
	// eventual reply edits it.
	AckDefer AckMode = iota

	// AckImmediate sends nothing up front. The handler's reply (or
	// modal) is the interaction's initial response.
	AckImmediate
)

var ErrInteractionClosed = errors.New("interaction already failed")

// Reply is a response payload. When Modal is set, Content, Embeds and
// Components are ignored and the modal is shown instead.
type Reply struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
	Ephemeral  bool
	Modal      *discordgo.InteractionResponseData

	// Update edits the message a component is attached to, instead of
	// sending a new one. Only honored for an initial response.
	Update bool
}

// Responder delivers responses for one interaction. Implementations may
// return discordgo errors, which are classified by the caller.
type Responder interface {
	// Acknowledge sends a deferred response.
	Acknowledge(ctx context.Context, ephemeral bool) error

	// Reply sends the interaction's primary response: the initial
	// response if nothing was sent yet, or an edit of the deferred one.
	Reply(ctx context.Context, reply Reply) error

	// FollowUp sends an additional message after the primary response
	// or deferral.
	FollowUp(ctx context.Context, reply Reply) error
}

// Interaction enforces a single terminal response for one platform
// interaction. All transitions are serialized.
type Interaction struct {
	ID        string
	mu        sync.Mutex
	state     InteractionState
	acked     bool
	ephemeral bool
	responder Responder
	logger    *slog.Logger
}

func NewInteraction(id string, responder Responder, ephemeral bool, logger *slog.Logger) *Interaction {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interaction{
		ID:        id,
		state:     InteractionUnacknowledged,
		ephemeral: ephemeral,
		responder: responder,
		logger:    logger.With("interaction_id", id),
	}
}

func (i *Interaction) State() InteractionState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Acknowledge acknowledges the interaction. It returns
// ErrInteractionAcknowledged, without side effects, if the interaction
// was already acknowledged. If the deferred response can't be sent, the
// interaction is marked failed (no notice is attempted) and the
// classified error is returned.
func (i *Interaction) Acknowledge(ctx context.Context, mode AckMode) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.acked || i.state != InteractionUnacknowledged {
		i.logger.WarnContext(
			ctx,
			"ignoring duplicate acknowledgement",
			"state", i.state.String(),
		)
		return ErrInteractionAcknowledged
	}
	i.acked = true

	if mode == AckImmediate {
		return nil
	}

	if err := i.responder.Acknowledge(ctx, i.ephemeral); err != nil {
		ce := Classify(err)
		i.state = InteractionFailed
		level := slog.LevelError
		if ce.Kind == ErrorKindPlatformRace {
			level = slog.LevelDebug
		}
		i.logger.Log(
			ctx,
			level,
			"failed to acknowledge interaction",
			append(ce.LogAttrs(), tint.Err(err))...,
		)
		return ce
	}
	i.state = InteractionDeferred
	return nil
}

// Resolve delivers the interaction's primary reply and marks it replied.
// It's a no-op once the interaction is terminal. A platform race
// (interaction already answered or expired) counts as replied and is not
// returned. Any other delivery error leaves the state unchanged.
func (i *Interaction) Resolve(ctx context.Context, reply Reply) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state.Terminal() {
		i.logger.DebugContext(ctx, "resolve on terminal interaction", "state", i.state.String())
		return nil
	}

	if err := i.responder.Reply(ctx, reply); err != nil {
		ce := Classify(err)
		if ce.Kind == ErrorKindPlatformRace {
			i.logger.DebugContext(
				ctx,
				"interaction already resolved",
				append(ce.LogAttrs(), tint.Err(err))...,
			)
			i.state = InteractionReplied
			return nil
		}
		return ce
	}
	i.state = InteractionReplied
	return nil
}

// Fail marks the interaction failed and makes one best-effort attempt to
// tell the user. The notice is a direct reply if nothing was sent yet,
// otherwise a follow-up. It's a no-op once the interaction is terminal.
// Delivery errors are logged, never returned.
func (i *Interaction) Fail(ctx context.Context, cause error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state.Terminal() {
		i.logger.DebugContext(ctx, "fail on terminal interaction", "state", i.state.String())
		return
	}
	prev := i.state
	i.state = InteractionFailed

	if cause == nil {
		cause = ErrNoResponse
	}
	ce := Classify(cause)
	if ce.Kind == ErrorKindPlatformRace {
		i.logger.DebugContext(
			ctx,
			"interaction expired",
			append(ce.LogAttrs(), tint.Err(cause))...,
		)
		return
	}

	level := slog.LevelError
	var un userNoticer
	if errors.As(cause, &un) {
		level = slog.LevelInfo
	}
	i.logger.Log(
		ctx,
		level,
		"interaction failed",
		append(ce.LogAttrs(), "previous_state", prev.String(), tint.Err(cause))...,
	)

	notice := Reply{Content: userNotice(ce), Ephemeral: true}
	var ne noticeEmbedder
	if errors.As(cause, &ne) {
		notice = Reply{Embeds: []*discordgo.MessageEmbed{ne.NoticeEmbed()}, Ephemeral: true}
	}
	var err error
	if prev == InteractionUnacknowledged {
		err = i.responder.Reply(ctx, notice)
	} else {
		err = i.responder.FollowUp(ctx, notice)
	}
	if err != nil {
		i.logger.WarnContext(
			ctx,
			"unable to deliver error notice",
			"correlation_id", ce.CorrelationID,
			tint.Err(err),
		)
	}
}

// FollowUp sends an additional message. If nothing has been sent yet, it
// is delivered as the primary reply instead. Refused once the interaction
// has failed.
func (i *Interaction) FollowUp(ctx context.Context, reply Reply) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch i.state {
	case InteractionFailed:
		return ErrInteractionClosed
	case InteractionUnacknowledged:
		if err := i.responder.Reply(ctx, reply); err != nil {
			return Classify(err)
		}
		i.state = InteractionReplied
		return nil
	}
	if err := i.responder.FollowUp(ctx, reply); err != nil {
		return Classify(err)
	}
	return nil
}
