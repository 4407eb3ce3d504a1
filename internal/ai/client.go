package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	DefaultModel      = openai.GPT4oMini
	DefaultTimeout    = 35 * time.Second
	MaxRetries        = 3
	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 30 * time.Second
	BackoffMultiplier = 2.0
)

var (
	// ErrTimeout is returned when the AI service does not answer within the
	// configured timeout. Callers may retry.
	ErrTimeout = errors.New("ai request timed out")
	// ErrNotConfigured is returned when no API key is configured
	ErrNotConfigured = errors.New("ai service not configured")
	// ErrEmptyResponse is returned when the completion carries no choices
	ErrEmptyResponse = errors.New("ai service returned no content")
)

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat completion request
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	// JSON asks the model for a JSON object response
	JSON bool
}

// ChatResponse is the first choice of a chat completion
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
}

// Completer sends chat completions
type Completer interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ClientConfig configures a Client. Zero values fall back to the package defaults.
type ClientConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	Clock          clockwork.Clock
	Logger         *zap.Logger
}

// Client talks to the OpenAI chat completions API with retries and a hard
// per-call timeout.
type Client struct {
	api            *openai.Client
	model          string
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	clock          clockwork.Clock
	log            *zap.Logger
}

// NewClient creates a new OpenAI client
func NewClient(cfg ClientConfig) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = InitialBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		api:            openai.NewClientWithConfig(apiCfg),
		model:          cfg.Model,
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		clock:          cfg.Clock,
		log:            cfg.Logger.Named("openai"),
	}
}

// Chat sends a chat completion request with retry logic. Rate limits and
// server errors are retried with exponential backoff; timeouts are not.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	apiReq := c.buildRequest(req)

	var lastErr error
	backoff := c.initialBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clock.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * BackoffMultiplier)
			if backoff > MaxBackoff {
				backoff = MaxBackoff
			}
		}

		resp, err := c.complete(ctx, apiReq)
		if err == nil {
			if len(resp.Choices) == 0 {
				return nil, ErrEmptyResponse
			}
			return &ChatResponse{
				Content:          resp.Choices[0].Message.Content,
				Model:            resp.Model,
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			}, nil
		}

		lastErr = err
		if !isRetryableStatus(err) {
			return nil, err
		}
		c.log.Warn("retrying chat completion",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) buildRequest(req *ChatRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSON {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return apiReq
}

// complete races one API call against the timeout. The call is cancelled
// when the timer wins.
func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		resp openai.ChatCompletionResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.api.CreateChatCompletion(callCtx, req)
		done <- result{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-c.clock.After(c.timeout):
		return openai.ChatCompletionResponse{}, ErrTimeout
	case <-ctx.Done():
		return openai.ChatCompletionResponse{}, ctx.Err()
	}
}

// statusCode extracts the HTTP status of an API error, or 0.
func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func isRetryableStatus(err error) bool {
	code := statusCode(err)
	return code == http.StatusTooManyRequests || code >= 500
}

// IsRetryable reports whether the caller may retry a failed request later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || isRetryableStatus(err)
}

// IsRateLimited reports whether the upstream service rejected the request
// for exceeding its rate limit.
func IsRateLimited(err error) bool {
	return statusCode(err) == http.StatusTooManyRequests
}
