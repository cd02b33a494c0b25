package creatives

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// Discord JSON error codes the bot reacts to.
// See: https://discord.com/developers/docs/topics/opcodes-and-status-codes#json
const (
	discordCodeUnknownAccount              = 10001
	discordCodeUnknownInteraction          = 10062
	discordCodeInteractionAlreadyResponded = 40060
	discordCodeMissingAccess               = 50001
	discordCodeMissingPermissions          = 50013
	discordCodeInvalidFormBody             = 50035
)

// ErrorKind is the category a provider or platform error is reduced to.
// Handler and dispatch logic branch on ErrorKind, never on vendor fields.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindTransientProvider
	ErrorKindQuota
	ErrorKindCredential
	ErrorKindPlatformRace
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransientProvider:
		return "transient_provider"
	case ErrorKindQuota:
		return "quota"
	case ErrorKindCredential:
		return "credential"
	case ErrorKindPlatformRace:
		return "platform_race"
	default:
		return "unknown"
	}
}

var (
	// ErrInteractionAcknowledged is returned by Interaction.Acknowledge
	// when the interaction has already left the unacknowledged state.
	ErrInteractionAcknowledged = errors.New("interaction already acknowledged")

	// ErrNoResponse is used to fail an interaction whose handler returned
	// without replying.
	ErrNoResponse = errors.New("handler returned without responding")

	ErrUnknownRoute = errors.New("no handler registered")
)

// ClassifiedError wraps an error with its ErrorKind and a correlation ID
// that is included in logs and, for unknown errors, in the user notice.
type ClassifiedError struct {
	Kind          ErrorKind
	CorrelationID string
	Err           error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.CorrelationID, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

func (e *ClassifiedError) LogAttrs() []any {
	return []any{
		"error_kind", e.Kind.String(),
		"correlation_id", e.CorrelationID,
	}
}

// Classify reduces err to a *ClassifiedError. Errors that are already
// classified are returned as-is. nil returns nil.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return &ClassifiedError{
		Kind:          errorKind(err),
		CorrelationID: uuid.NewString(),
		Err:           err,
	}
}

// KindOf returns the ErrorKind of err without allocating a correlation ID.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return errorKind(err)
}

func errorKind(err error) ErrorKind {
	if kind, ok := classifyOpenAIError(err); ok {
		return kind
	}
	if kind, ok := classifyDiscordError(err); ok {
		return kind
	}
	return ErrorKindUnknown
}

func classifyOpenAIError(err error) (ErrorKind, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := strings.ToLower(fmt.Sprint(apiErr.Code))
		errType := strings.ToLower(apiErr.Type)
		switch {
		case code == "insufficient_quota" || errType == "insufficient_quota":
			return ErrorKindQuota, true
		case code == "invalid_api_key" || apiErr.HTTPStatusCode == http.StatusUnauthorized:
			return ErrorKindCredential, true
		case code == "rate_limit_exceeded" || apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return ErrorKindTransientProvider, true
		}
		return ErrorKindUnknown, true
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return ErrorKindTransientProvider, true
		case http.StatusUnauthorized:
			return ErrorKindCredential, true
		}
		return ErrorKindUnknown, true
	}
	return ErrorKindUnknown, false
}

func classifyDiscordError(err error) (ErrorKind, bool) {
	code, ok := discordErrorCode(err)
	if !ok {
		return ErrorKindUnknown, false
	}
	switch code {
	case discordCodeUnknownInteraction, discordCodeInteractionAlreadyResponded:
		return ErrorKindPlatformRace, true
	}
	return ErrorKindUnknown, true
}

// discordErrorCode extracts the JSON error code from a discordgo REST
// error.
func discordErrorCode(err error) (int, bool) {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return 0, false
	}
	return restErr.Message.Code, true
}

const (
	noticeRateLimited = "🚦 I'm thinking too fast! Please try again in a moment."
	noticeQuota       = "💳 OpenAI quota exceeded. Please check your billing."
	noticeCredential  = "🔑 My AI service isn't configured correctly. Please let a server admin know."
	noticeGeneric     = "🤖 Something went wrong with my AI processing. Please try again later!"
)

// userNotice renders the single user-visible message for a failed
// interaction. Raw error text is never included.
func userNotice(err error) string {
	ce := Classify(err)
	if ce == nil {
		return noticeGeneric
	}
	switch ce.Kind {
	case ErrorKindTransientProvider:
		return noticeRateLimited
	case ErrorKindQuota:
		return noticeQuota
	case ErrorKindCredential:
		return noticeCredential
	}
	var un userNoticer
	if errors.As(err, &un) {
		return un.UserNotice()
	}
	return fmt.Sprintf("%s\n-# ref: `%s`", noticeGeneric, ce.CorrelationID)
}

// userNoticer is implemented by errors that carry their own user-facing
// message (validation failures, permission checks).
type userNoticer interface {
	UserNotice() string
}

// userError is a handler error whose text is safe to show to the user.
type userError struct {
	msg string
}

func (e userError) Error() string      { return e.msg }
func (e userError) UserNotice() string { return e.msg }

func newUserError(format string, args ...any) error {
	return userError{msg: fmt.Sprintf(format, args...)}
}

// noticeEmbedder is implemented by errors whose user notice is rendered
// as an embed rather than plain text.
type noticeEmbedder interface {
	NoticeEmbed() *discordgo.MessageEmbed
}

type embedError struct {
	userError
	embed *discordgo.MessageEmbed
}

func (e embedError) NoticeEmbed() *discordgo.MessageEmbed { return e.embed }

// newEmbedError returns a user error shown as embed. msg is used for
// logs and as the plain-text fallback.
func newEmbedError(msg string, embed *discordgo.MessageEmbed) error {
	return embedError{userError: userError{msg: msg}, embed: embed}
}
