package creatives

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

var ErrEmptyCompletion = errors.New("completion returned no choices")

// LLM produces a reply to a conversation. Errors are *ClassifiedError.
type LLM interface {
	Complete(
		ctx context.Context,
		systemPrompt string,
		entries []ConversationEntry,
		maxTokens int,
		temperature float32,
	) (string, error)
}

// OpenAIClient is the subset of the go-openai client used by OpenAILLM.
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (response openai.ChatCompletionResponse, err error)
}

// OpenAILLM implements LLM with the chat completions API. Requests are
// paced by a shared limiter, and rate-limited requests are retried with
// exponential backoff.
type OpenAILLM struct {
	client OpenAIClient
	config *OpenAIConfig
	logger *slog.Logger

	mu             sync.RWMutex // protects requestLimiter
	requestLimiter *rate.Limiter

	// sleep waits for d, or until ctx is done
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOpenAILLM(config *OpenAIConfig, httpClient *http.Client, logger *slog.Logger) *OpenAILLM {
	clientCfg := openai.DefaultConfig(config.Token)
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	return newOpenAILLM(openai.NewClientWithConfig(clientCfg), config, logger)
}

func newOpenAILLM(client OpenAIClient, config *OpenAIConfig, logger *slog.Logger) *OpenAILLM {
	if logger == nil {
		logger = slog.Default()
	}
	o := &OpenAILLM{
		client: client,
		config: config,
		logger: logger.With(loggerNameKey, "openai"),
		sleep:  sleepContext,
	}
	o.SetRequestLimit(config.MaxRequestsPerSecond)
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetRequestLimit replaces the request limiter. rps <= 0 disables pacing.
func (o *OpenAILLM) SetRequestLimit(rps int) {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = rps
	}
	o.mu.Lock()
	o.requestLimiter = rate.NewLimiter(limit, burst)
	o.mu.Unlock()
}

func (o *OpenAILLM) waitOnRequestLimiter(ctx context.Context) error {
	o.mu.RLock()
	requestLimiter := o.requestLimiter
	o.mu.RUnlock()
	return requestLimiter.Wait(ctx)
}

// retryDelay returns the backoff before retry number attempt (0-based).
func (o *OpenAILLM) retryDelay(attempt int) time.Duration {
	return o.config.RetryBackoff << attempt
}

func (o *OpenAILLM) Complete(
	ctx context.Context,
	systemPrompt string,
	entries []ConversationEntry,
	maxTokens int,
	temperature float32,
) (string, error) {
	logger := loggerFrom(ctx, o.logger)

	messages := make([]openai.ChatCompletionMessage, 0, len(entries)+1)
	messages = append(
		messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	)
	for _, e := range entries {
		messages = append(
			messages,
			openai.ChatCompletionMessage{Role: string(e.Role), Content: e.Content},
		)
	}
	req := openai.ChatCompletionRequest{
		Model:       o.config.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	var lastErr error
	for attempt := 0; attempt <= o.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := o.retryDelay(attempt - 1)
			logger.WarnContext(
				ctx,
				"retrying rate-limited completion",
				"attempt", attempt,
				"delay", delay,
			)
			if err := o.sleep(ctx, delay); err != nil {
				return "", Classify(errors.Join(lastErr, err))
			}
		}
		if err := o.waitOnRequestLimiter(ctx); err != nil {
			return "", Classify(err)
		}

		start := time.Now()
		resp, err := o.client.CreateChatCompletion(ctx, req)
		llmLatency.Observe(time.Since(start).Seconds())
		if err == nil {
			if len(resp.Choices) == 0 {
				llmRequests.WithLabelValues("empty").Inc()
				return "", Classify(ErrEmptyCompletion)
			}
			llmRequests.WithLabelValues("ok").Inc()
			logger.DebugContext(
				ctx,
				"completion finished",
				"prompt_tokens", resp.Usage.PromptTokens,
				"completion_tokens", resp.Usage.CompletionTokens,
				"duration", time.Since(start),
			)
			return resp.Choices[0].Message.Content, nil
		}

		ce := Classify(err)
		llmRequests.WithLabelValues(ce.Kind.String()).Inc()
		if ce.Kind != ErrorKindTransientProvider {
			logger.ErrorContext(ctx, "completion failed", append(ce.LogAttrs(), tint.Err(ce.Err))...)
			return "", ce
		}
		lastErr = ce
	}
	logger.ErrorContext(ctx, "completion retries exhausted", tint.Err(lastErr))
	return "", lastErr
}
