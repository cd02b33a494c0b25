package creatives

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const unknownInteractionMessage = "This button interaction is not recognized or may have expired."

// InteractionKind is the routing namespace of an interaction.
type InteractionKind int

const (
	KindCommand InteractionKind = iota
	KindComponent
	KindModal
)

func (k InteractionKind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindComponent:
		return "component"
	case KindModal:
		return "modal"
	default:
		return "unknown"
	}
}

// Event is the routing view of an inbound interaction.
type Event struct {
	ID        string
	Kind      InteractionKind
	Name      string
	UserID    string
	GuildID   string
	ChannelID string
	Member    *discordgo.Member
	Raw       *discordgo.InteractionCreate
}

// eventFromInteraction builds an Event from a gateway or webhook
// interaction. The boolean is false for interaction types that are not
// dispatched (pings, autocomplete).
func eventFromInteraction(i *discordgo.InteractionCreate) (Event, bool) {
	ev := Event{
		ID:        i.ID,
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Member:    i.Member,
		Raw:       i,
	}
	if u := getDiscordUser(i); u != nil {
		ev.UserID = u.ID
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		ev.Kind = KindCommand
		ev.Name = i.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		ev.Kind = KindComponent
		ev.Name = i.MessageComponentData().CustomID
	case discordgo.InteractionModalSubmit:
		ev.Kind = KindModal
		ev.Name = i.ModalSubmitData().CustomID
	default:
		return ev, false
	}
	return ev, true
}

// Request is passed to handlers. Resolve, Fail and FollowUp act on the
// request's Interaction.
type Request struct {
	Event
	Interaction *Interaction
	Logger      *slog.Logger
}

func (r *Request) Resolve(ctx context.Context, reply Reply) error {
	return r.Interaction.Resolve(ctx, reply)
}

func (r *Request) Fail(ctx context.Context, err error) {
	r.Interaction.Fail(ctx, err)
}

func (r *Request) FollowUp(ctx context.Context, reply Reply) error {
	return r.Interaction.FollowUp(ctx, reply)
}

// Options returns slash command options by name. Empty for non-command
// interactions.
func (r *Request) Options() map[string]*discordgo.ApplicationCommandInteractionDataOption {
	if r.Raw == nil || r.Kind != KindCommand {
		return map[string]*discordgo.ApplicationCommandInteractionDataOption{}
	}
	return discordInteractionOptions(r.Raw)
}

// ModalValue returns the value of the text input with the given custom ID.
func (r *Request) ModalValue(customID string) string {
	if r.Raw == nil || r.Kind != KindModal {
		return ""
	}
	for _, row := range r.Raw.ModalSubmitData().Components {
		ar, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, c := range ar.Components {
			if ti, ok := c.(*discordgo.TextInput); ok && ti.CustomID == customID {
				return ti.Value
			}
		}
	}
	return ""
}

// HandlerFunc handles one routed interaction. Returning an error fails
// the interaction with a user notice. Returning nil without resolving
// also fails it, with ErrNoResponse.
type HandlerFunc func(ctx context.Context, req *Request) error

// GuardFunc runs before the handler. A non-nil error fails the
// interaction without invoking the handler.
type GuardFunc func(ctx context.Context, req *Request) error

// Route binds a handler and its acknowledgement behavior.
type Route struct {
	Handler HandlerFunc

	// Immediate skips the deferred response, for handlers that answer
	// with a modal or must reply in the initial response.
	Immediate bool

	// Ephemeral defers with an ephemeral "thinking" message.
	Ephemeral bool
}

type matchRoute struct {
	name  string
	match func(string) bool
	route Route
}

// Router maps (kind, name) to a Route. Exact names take precedence over
// predicate routes, which are tried in registration order.
type Router struct {
	exact   map[InteractionKind]map[string]Route
	matches map[InteractionKind][]matchRoute
}

func NewRouter() *Router {
	return &Router{
		exact:   map[InteractionKind]map[string]Route{},
		matches: map[InteractionKind][]matchRoute{},
	}
}

func (r *Router) Handle(kind InteractionKind, name string, route Route) {
	if r.exact[kind] == nil {
		r.exact[kind] = map[string]Route{}
	}
	r.exact[kind][name] = route
}

func (r *Router) HandlePrefix(kind InteractionKind, prefix string, route Route) {
	r.HandleMatch(
		kind,
		prefix+"*",
		func(name string) bool { return strings.HasPrefix(name, prefix) },
		route,
	)
}

func (r *Router) HandleMatch(kind InteractionKind, label string, match func(string) bool, route Route) {
	r.matches[kind] = append(
		r.matches[kind],
		matchRoute{name: label, match: match, route: route},
	)
}

func (r *Router) Lookup(kind InteractionKind, name string) (Route, bool) {
	if route, ok := r.exact[kind][name]; ok {
		return route, true
	}
	for _, m := range r.matches[kind] {
		if m.match(name) {
			return m.route, true
		}
	}
	return Route{}, false
}

// Commands returns the exact names registered for slash commands.
func (r *Router) Commands() []string {
	names := make([]string, 0, len(r.exact[KindCommand]))
	for name := range r.exact[KindCommand] {
		names = append(names, name)
	}
	return names
}

// Dispatcher admits interactions through the LockManager, acknowledges
// them and runs the routed handler, funnelling every failure through
// Interaction.Fail.
type Dispatcher struct {
	router *Router
	locks  *LockManager
	guards []GuardFunc
	logger *slog.Logger
}

func NewDispatcher(router *Router, locks *LockManager, logger *slog.Logger, guards ...GuardFunc) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		router: router,
		locks:  locks,
		guards: guards,
		logger: logger,
	}
}

// Dispatch processes ev, and returns false if it was dropped as a
// duplicate. Duplicates produce no responder calls.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event, responder Responder) bool {
	logger := d.logger.With(
		"interaction_id", ev.ID,
		"kind", ev.Kind.String(),
		"name", ev.Name,
		"user_id", ev.UserID,
	)
	key := interactionLeaseKey(ev.UserID, ev.ID)
	admitted := d.locks.WithLease(
		key, func() {
			inflightInteractions.Inc()
			defer inflightInteractions.Dec()
			d.run(WithLogger(ctx, logger), ev, responder, logger)
		},
	)
	if !admitted {
		logger.InfoContext(ctx, "dropping duplicate interaction", "lease_key", key)
		interactionsTotal.WithLabelValues(ev.Kind.String(), "duplicate").Inc()
	}
	return admitted
}

func (d *Dispatcher) run(ctx context.Context, ev Event, responder Responder, logger *slog.Logger) {
	start := time.Now()
	route, found := d.router.Lookup(ev.Kind, ev.Name)

	mode := AckDefer
	if found && route.Immediate {
		mode = AckImmediate
	}
	ix := NewInteraction(ev.ID, responder, route.Ephemeral || !found, logger)

	outcome := "replied"
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(
				ctx,
				"recovered panic in interaction handler",
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			ix.Fail(ctx, fmt.Errorf("panic: %v", r))
			outcome = "panic"
		}
		interactionsTotal.WithLabelValues(ev.Kind.String(), outcome).Inc()
		handlerDuration.WithLabelValues(ev.Kind.String()).Observe(time.Since(start).Seconds())
	}()

	if err := ix.Acknowledge(ctx, mode); err != nil {
		outcome = "ack_failed"
		return
	}

	if !found {
		logger.WarnContext(ctx, "no route for interaction")
		if err := ix.Resolve(ctx, Reply{Content: unknownInteractionMessage, Ephemeral: true}); err != nil {
			ix.Fail(ctx, err)
		}
		outcome = "unrouted"
		return
	}

	req := &Request{Event: ev, Interaction: ix, Logger: logger}
	for _, guard := range d.guards {
		if err := guard(ctx, req); err != nil {
			logger.InfoContext(ctx, "interaction rejected by guard", "reason", err.Error())
			ix.Fail(ctx, err)
			outcome = "rejected"
			return
		}
	}

	if err := route.Handler(ctx, req); err != nil {
		ix.Fail(ctx, err)
		outcome = "failed"
		return
	}

	if !ix.State().Terminal() {
		logger.WarnContext(ctx, "handler returned without responding")
		ix.Fail(ctx, ErrNoResponse)
		outcome = "no_response"
		return
	}
	if ix.State() == InteractionFailed {
		outcome = "failed"
	}
}
