package textgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lexiqai/story-pipeline/internal/config"
	"github.com/lexiqai/story-pipeline/internal/observability"
	"github.com/lexiqai/story-pipeline/internal/resilience"
	"github.com/lexiqai/story-pipeline/internal/story"
)

const serviceName = "openai"

// minContentLength is the shortest reply treated as a real generation
const minContentLength = 5

// Generator produces raw dialogue lines for a topic
type Generator interface {
	Generate(ctx context.Context, systemPrompt, topicText string) ([]string, error)
}

// OpenAIGenerator implements Generator with the chat completions API
type OpenAIGenerator struct {
	client      openai.Client
	model       string
	temperature float64
	breaker     *resilience.CircuitBreaker
	retry       *resilience.RetryConfig
}

// NewOpenAIGenerator creates a generator from configuration
func NewOpenAIGenerator(cfg *config.Config) *OpenAIGenerator {
	httpClient := &http.Client{Timeout: config.Seconds(cfg.OpenAITimeout)}
	client := openai.NewClient(
		option.WithBaseURL(strings.TrimRight(cfg.OpenAIAPIBase, "/")),
		option.WithHTTPClient(httpClient),
		option.WithAPIKey(cfg.OpenAIAPIKey),
		option.WithMaxRetries(0), // retries go through resilience.Retry
	)

	breaker := resilience.NewCircuitBreaker(
		serviceName,
		cfg.CircuitBreakerMaxFailures,
		config.Seconds(cfg.CircuitBreakerResetTimeout),
	).OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
	})

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = max(1, cfg.RetryMaxAttempts)
	if cfg.RetryInitialBackoff > 0 {
		retry.InitialBackoff = config.Millis(cfg.RetryInitialBackoff)
	}

	return &OpenAIGenerator{
		client:      client,
		model:       cfg.OpenAIModel,
		temperature: cfg.OpenAITemperature,
		breaker:     breaker,
		retry:       retry,
	}
}

// Generate asks the model for a dialogue about topicText and returns its lines.
// Failures are a *story.ServiceError, a *story.FatalError for rejected
// credentials or an unknown model, story.ErrRejectedTopic when the request
// itself is refused, or story.ErrEmptyResponse.
func (g *OpenAIGenerator) Generate(ctx context.Context, systemPrompt, topicText string) ([]string, error) {
	var content string
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return g.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			content, err = g.complete(ctx, systemPrompt, topicText)
			return err
		})
	}, g.retry, resilience.IsRetryable)

	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, &story.ServiceError{Service: serviceName, Err: err}
		}
		return nil, err
	}

	content = strings.TrimSpace(content)
	if len(content) < minContentLength {
		return nil, story.ErrEmptyResponse
	}
	return strings.Split(strings.ReplaceAll(content, "\n\n", "\n"), "\n"), nil
}

func (g *OpenAIGenerator) complete(ctx context.Context, systemPrompt, topicText string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(topicText),
		},
		Temperature: openai.Float(g.temperature),
	})
	if err != nil {
		return "", classify(ctx, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps an API failure onto the pipeline's error taxonomy
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		// Transport failure
		return resilience.NewRetryableError(&story.ServiceError{Service: serviceName, Err: err})
	}

	cause := fmt.Errorf("status=%d: %s", apiErr.StatusCode, strings.TrimSpace(apiErr.Message))
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden,
		apiErr.StatusCode == http.StatusNotFound:
		// Bad credentials or an unknown model: no topic can succeed until config changes
		return &story.FatalError{Service: serviceName, Err: cause}
	case apiErr.StatusCode == http.StatusBadRequest, apiErr.StatusCode == http.StatusRequestEntityTooLarge,
		apiErr.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %v", story.ErrRejectedTopic, cause)
	case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= 500:
		return resilience.NewRetryableError(&story.ServiceError{Service: serviceName, Err: cause})
	default:
		return &story.ServiceError{Service: serviceName, Err: cause}
	}
}

// Healthy reports whether the generator's circuit is closed enough to accept calls
func (g *OpenAIGenerator) Healthy(ctx context.Context) (bool, error) {
	if g.breaker.GetState() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}
