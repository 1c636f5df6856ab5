// Package upstream talks to the external chat-completion service.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
)

const (
	DefaultBaseURL = "https://api.deepseek.com/v1"
	DefaultModel   = "deepseek-chat"
	DefaultTimeout = 10 * time.Second

	// FallbackReply is returned when a 2xx response carries no reply text.
	FallbackReply = "Erro na resposta."

	maxResponseBytes = 4 << 20
	tracerName       = "github.com/sapphir-health/sapphir-gateway/internal/upstream"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL; "/chat/completions" is appended.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithModel sets the model identifier sent with every request.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTimeout bounds each Complete call. Non-positive values are ignored.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Options are the per-call sampling parameters. Nil fields are omitted from
// the request so the upstream default applies.
type Options struct {
	Temperature *float64
	MaxTokens   *int
}

// Completion is a successful upstream call.
type Completion struct {
	Reply        string
	Model        string
	FinishReason string
	Usage        *domain.Usage
	// Fallback is true when the response had no reply and FallbackReply was used.
	Fallback bool
}

// Client is an HTTP client for an OpenAI-compatible chat completions API.
// It never retries.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewClient creates a new upstream client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		timeout: DefaultTimeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model identifier sent upstream.
func (c *Client) Model() string {
	return c.model
}

// Endpoint returns the full chat completions URL.
func (c *Client) Endpoint() string {
	return c.baseURL + "/chat/completions"
}

// Complete sends messages upstream and returns the first choice's reply.
// Failures are *domain.Error of kind Timeout, Network or UpstreamError.
func (c *Client) Complete(ctx context.Context, messages []domain.Message, opts Options) (*Completion, error) {
	wire, err := buildMessages(messages)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(&ChatCompletionRequest{
		Model:       c.model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Messages:    wire,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "upstream.complete", trace.WithAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.messages", len(wire)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	completion, err := c.do(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Bool("llm.fallback", completion.Fallback))
	return completion, nil
}

func (c *Client) do(ctx context.Context, body []byte) (*Completion, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, classify(err)
	}
	if len(respBody) > maxResponseBytes {
		c.logger.Warn("upstream response exceeds size limit",
			slog.Int("status", resp.StatusCode),
			slog.Int("limit_bytes", maxResponseBytes),
		)
		return nil, domain.NewNetwork(fmt.Errorf("upstream response exceeds %d bytes", maxResponseBytes))
	}

	c.logger.Debug("upstream responded",
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(respBody))
		if apiErr, err := ParseErrorResponse(respBody); err == nil && apiErr != nil {
			detail = apiErr.String()
		}
		return nil, domain.NewUpstream(resp.StatusCode, detail)
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		c.logger.Warn("unparseable upstream response, using fallback reply",
			slog.String("error", err.Error()),
		)
		return &Completion{Reply: FallbackReply, Fallback: true}, nil
	}

	reply, finish, ok := replyFrom(&result)
	if !ok {
		c.logger.Warn("upstream response has no reply content, using fallback reply",
			slog.Int("choices", len(result.Choices)),
		)
		return &Completion{
			Reply:        FallbackReply,
			Model:        result.Model,
			FinishReason: finish,
			Usage:        result.Usage,
			Fallback:     true,
		}, nil
	}

	return &Completion{
		Reply:        reply,
		Model:        result.Model,
		FinishReason: finish,
		Usage:        result.Usage,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "sapphir-gateway/1.0")
}

// classify maps a transport error to Timeout or Network.
func classify(err error) *domain.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTimeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewTimeout(err)
	}
	return domain.NewNetwork(err)
}
