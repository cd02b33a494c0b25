package creatives

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discordRESTError(code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusBadRequest},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "nope"},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{
			name: "openai rate limit",
			err: &openai.APIError{
				Code:           "rate_limit_exceeded",
				HTTPStatusCode: http.StatusTooManyRequests,
			},
			expected: ErrorKindTransientProvider,
		},
		{
			name: "openai quota",
			err: &openai.APIError{
				Code:           "insufficient_quota",
				HTTPStatusCode: http.StatusTooManyRequests,
			},
			expected: ErrorKindQuota,
		},
		{
			name:     "openai invalid key",
			err:      &openai.APIError{Code: "invalid_api_key", HTTPStatusCode: http.StatusUnauthorized},
			expected: ErrorKindCredential,
		},
		{
			name:     "openai request error 429",
			err:      &openai.RequestError{HTTPStatusCode: http.StatusTooManyRequests, Err: errors.New("slow down")},
			expected: ErrorKindTransientProvider,
		},
		{
			name:     "openai server error",
			err:      &openai.APIError{HTTPStatusCode: http.StatusInternalServerError},
			expected: ErrorKindUnknown,
		},
		{
			name:     "wrapped openai error",
			err:      fmt.Errorf("completing: %w", &openai.APIError{Code: "insufficient_quota"}),
			expected: ErrorKindQuota,
		},
		{
			name:     "discord unknown interaction",
			err:      discordRESTError(discordCodeUnknownInteraction),
			expected: ErrorKindPlatformRace,
		},
		{
			name:     "discord already acknowledged",
			err:      discordRESTError(discordCodeInteractionAlreadyResponded),
			expected: ErrorKindPlatformRace,
		},
		{
			name:     "discord missing access",
			err:      discordRESTError(discordCodeMissingAccess),
			expected: ErrorKindUnknown,
		},
		{
			name:     "deadline",
			err:      fmt.Errorf("completion: %w", context.DeadlineExceeded),
			expected: ErrorKindUnknown,
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			expected: ErrorKindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				ce := Classify(tt.err)
				require.NotNil(t, ce)
				assert.Equal(t, tt.expected, ce.Kind)
				assert.NotEmpty(t, ce.CorrelationID)
				assert.ErrorIs(t, ce, tt.err)
				assert.Equal(t, tt.expected, KindOf(tt.err))
			},
		)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	assert.Nil(t, Classify(nil))

	first := Classify(errors.New("boom"))
	second := Classify(fmt.Errorf("again: %w", first))
	assert.Same(t, first, second)
}

func TestUserNotice(t *testing.T) {
	assert.Equal(
		t,
		noticeRateLimited,
		userNotice(&openai.APIError{Code: "rate_limit_exceeded"}),
	)
	assert.Equal(
		t,
		noticeQuota,
		userNotice(&openai.APIError{Code: "insufficient_quota"}),
	)
	assert.Equal(
		t,
		noticeCredential,
		userNotice(&openai.APIError{HTTPStatusCode: http.StatusUnauthorized}),
	)
	assert.Equal(
		t,
		"You need to be staff to do that.",
		userNotice(newUserError("You need to be staff to do that.")),
	)

	ce := Classify(errors.New("database exploded"))
	notice := userNotice(ce)
	assert.Contains(t, notice, noticeGeneric)
	assert.Contains(t, notice, ce.CorrelationID)
	assert.NotContains(t, notice, "database exploded")

	// timeouts get the generic notice, not the rate-limit one
	notice = userNotice(fmt.Errorf("completion: %w", context.DeadlineExceeded))
	assert.Contains(t, notice, noticeGeneric)
}
