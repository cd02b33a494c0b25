package creatives

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/discordgo"
)

var errModalAfterResponse = errors.New("a modal must be the initial interaction response")

// interactionResponder implements Responder for one discord interaction.
// The initial response goes through respond, which differs between the
// gateway (a REST callback) and the webhook server (the HTTP response
// body). Edits and follow-ups always use the REST API.
type interactionResponder struct {
	mu          sync.Mutex
	session     DiscordSessionHandler
	interaction *discordgo.Interaction
	respond     func(ctx context.Context, resp *discordgo.InteractionResponse) error
	responded   bool
}

// newGatewayResponder returns a Responder which sends the initial
// response via the interaction callback endpoint.
func newGatewayResponder(session DiscordSessionHandler, i *discordgo.Interaction) *interactionResponder {
	return &interactionResponder{
		session:     session,
		interaction: i,
		respond: func(ctx context.Context, resp *discordgo.InteractionResponse) error {
			return session.InteractionRespond(i, resp, discordgo.WithContext(ctx))
		},
	}
}

func replyFlags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

func (r *interactionResponder) Acknowledge(ctx context.Context, ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responded {
		return ErrInteractionAcknowledged
	}
	err := r.respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: replyFlags(ephemeral)},
		},
	)
	if err != nil {
		return err
	}
	r.responded = true
	return nil
}

func (r *interactionResponder) Reply(ctx context.Context, reply Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reply.Modal != nil {
		if r.responded {
			return errModalAfterResponse
		}
		if err := r.respond(
			ctx,
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseModal,
				Data: reply.Modal,
			},
		); err != nil {
			return err
		}
		r.responded = true
		return nil
	}

	if !r.responded {
		responseType := discordgo.InteractionResponseChannelMessageWithSource
		if reply.Update {
			responseType = discordgo.InteractionResponseUpdateMessage
		}
		err := r.respond(
			ctx,
			&discordgo.InteractionResponse{
				Type: responseType,
				Data: &discordgo.InteractionResponseData{
					Content:    reply.Content,
					Embeds:     reply.Embeds,
					Components: reply.Components,
					Flags:      replyFlags(reply.Ephemeral),
				},
			},
		)
		if err != nil {
			return err
		}
		r.responded = true
		return nil
	}

	edit := &discordgo.WebhookEdit{Content: &reply.Content}
	if reply.Embeds != nil {
		edit.Embeds = &reply.Embeds
	}
	if reply.Components != nil {
		edit.Components = &reply.Components
	}
	_, err := r.session.InteractionResponseEdit(r.interaction, edit, discordgo.WithContext(ctx))
	return err
}

func (r *interactionResponder) FollowUp(ctx context.Context, reply Reply) error {
	_, err := r.session.FollowupMessageCreate(
		r.interaction,
		true,
		&discordgo.WebhookParams{
			Content:    reply.Content,
			Embeds:     reply.Embeds,
			Components: reply.Components,
			Flags:      replyFlags(reply.Ephemeral),
		},
		discordgo.WithContext(ctx),
	)
	return err
}

// webhookResponder delivers the initial response to the HTTP handler
// waiting on initial, so it can be written as the response body.
type webhookResponder struct {
	*interactionResponder
	initial chan *discordgo.InteractionResponse
}

func newWebhookResponder(session DiscordSessionHandler, i *discordgo.Interaction) *webhookResponder {
	w := &webhookResponder{initial: make(chan *discordgo.InteractionResponse, 1)}
	w.interactionResponder = &interactionResponder{
		session:     session,
		interaction: i,
		respond: func(_ context.Context, resp *discordgo.InteractionResponse) error {
			w.initial <- resp
			return nil
		},
	}
	return w
}

// takeOver marks the interaction as responded on the handler's behalf.
// It returns false if an initial response was already produced, which
// is then waiting on initial.
func (w *webhookResponder) takeOver() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.responded {
		return false
	}
	w.responded = true
	return true
}
