// Package textgen is the client for the external text-generation provider.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ideaforge/ideaforge/pkg/logger"
	"github.com/ideaforge/ideaforge/pkg/model"
)

const tracerName = "ideaforge.textgen"

// maxErrorBody caps how much of a non-JSON error body is kept as the message.
const maxErrorBody = 512

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is one generation call. An empty Model, nil Temperature and zero
// MaxTokens fall back to the client defaults.
type Request struct {
	Prompt      string
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Config configures a Client.
type Config struct {
	BaseURL      string
	APIKey       string
	DefaultModel string

	// MaxAttempts is the total number of HTTP calls per Generate.
	MaxAttempts int
	// BackoffBase is the sleep after the first failed attempt; it doubles
	// after each subsequent failure.
	BackoffBase time.Duration
	Timeout     time.Duration

	// RequestsPerSecond paces outbound calls; 0 disables pacing.
	RequestsPerSecond float64
	Burst             int

	DefaultTemperature float64
	DefaultMaxTokens   int
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://api.openai.com/v1",
		DefaultModel:       "gpt-4o-mini",
		MaxAttempts:        3,
		BackoffBase:        2 * time.Second,
		Timeout:            120 * time.Second,
		Burst:              1,
		DefaultTemperature: model.DefaultTemperature,
		DefaultMaxTokens:   model.DefaultMaxTokens,
	}
}

// MetricsRecorder receives one sample per provider attempt.
type MetricsRecorder interface {
	RecordProviderAttempt(outcome string, duration time.Duration)
	RecordProviderRetry(reason string)
}

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordProviderAttempt(string, time.Duration) {}
func (nopMetricsRecorder) RecordProviderRetry(string)                  {}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetryNotify registers a callback invoked before each backoff sleep.
func WithRetryNotify(fn func(err error, wait time.Duration)) Option {
	return func(c *Client) {
		c.notify = fn
	}
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	metrics MetricsRecorder
	logger  logger.Logger
	notify  func(error, time.Duration)
}

var _ Generator = (*Client)(nil)

// NewClient creates a client. Credentials are checked per call so a client
// built from incomplete configuration fails with a ConfigurationError rather
// than at startup.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffBase < 0 {
		cfg.BackoffBase = 0
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: nopMetricsRecorder{},
		logger:  logger.Global(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateText generates text for prompt with modelID, using the configured
// defaults for the remaining parameters.
func (c *Client) GenerateText(ctx context.Context, prompt, modelID string) (string, error) {
	return c.Generate(ctx, Request{Prompt: prompt, Model: modelID})
}

// Generate performs the call with bounded retry and exponential backoff.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	req = c.withDefaults(req)
	if err := c.checkConfig(req); err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: *req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	attempts := 0
	var lastErr error
	operation := func() (string, error) {
		attempts++
		text, err := c.attempt(ctx, req.Model, attempts, body)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", backoff.Permanent(ctx.Err())
			}
		}
		return text, err
	}

	text, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) { c.onRetry(ctx, err, wait) }),
	)
	if err == nil {
		return text, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if lastErr == nil {
		lastErr = err
	}
	return "", toProviderError(lastErr, attempts)
}

func (c *Client) withDefaults(req Request) Request {
	if req.Model == "" {
		req.Model = c.cfg.DefaultModel
	}
	if req.Temperature == nil {
		req.Temperature = model.Float64Ptr(c.cfg.DefaultTemperature)
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.cfg.DefaultMaxTokens
	}
	return req
}

func (c *Client) checkConfig(req Request) error {
	switch {
	case strings.TrimSpace(c.cfg.APIKey) == "":
		return model.NewConfigurationError("text generation provider", "api key is not set")
	case strings.TrimSpace(c.cfg.BaseURL) == "":
		return model.NewConfigurationError("text generation provider", "base url is not set")
	case strings.TrimSpace(req.Model) == "":
		return model.NewConfigurationError("text generation provider", "no model selected")
	}
	return nil
}

// newBackOff yields base, 2*base, 4*base, ... with no jitter.
func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffBase
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = c.cfg.BackoffBase << uint(c.cfg.MaxAttempts)
	if b.InitialInterval == 0 {
		return &backoff.ZeroBackOff{}
	}
	return b
}

func (c *Client) onRetry(ctx context.Context, err error, wait time.Duration) {
	reason := "error"
	var rl *RateLimitError
	if errors.As(err, &rl) {
		reason = "rate_limited"
	}
	c.metrics.RecordProviderRetry(reason)
	c.logger.WarnContext(ctx, "text generation attempt failed, backing off",
		"reason", reason,
		"wait", wait,
		"error", err,
	)
	if c.notify != nil {
		c.notify(err, wait)
	}
}

func (c *Client) attempt(ctx context.Context, modelID string, n int, body []byte) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "textgen.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("textgen.model", modelID),
			attribute.Int("textgen.attempt", n),
		),
	)
	defer span.End()

	start := time.Now()
	text, err := c.call(ctx, body)
	outcome := "success"
	if err != nil {
		outcome = attemptOutcome(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	c.metrics.RecordProviderAttempt(outcome, time.Since(start))
	return text, err
}

func (c *Client) call(ctx context.Context, body []byte) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &RateLimitError{Message: errorMessage(raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &statusError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("provider response contained no choices")
	}
	return decoded.Choices[0].Message.Content, nil
}

func attemptOutcome(err error) string {
	var rl *RateLimitError
	var se *statusError
	switch {
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &se):
		return "status_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "transport_error"
	}
}

func toProviderError(err error, attempts int) *ProviderError {
	pe := &ProviderError{Attempts: attempts, Cause: err}
	var rl *RateLimitError
	var se *statusError
	switch {
	case errors.As(err, &rl):
		pe.StatusCode = http.StatusTooManyRequests
		pe.Message = rl.Error()
	case errors.As(err, &se):
		pe.StatusCode = se.StatusCode
		pe.Message = se.Message
		if pe.Message == "" {
			pe.Message = se.Error()
		}
	default:
		pe.Message = err.Error()
	}
	return pe
}

// errorMessage extracts {"error":{"message":...}} or falls back to the body.
func errorMessage(raw []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Error) > 0 {
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(envelope.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
		var s string
		if json.Unmarshal(envelope.Error, &s) == nil && s != "" {
			return s
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > maxErrorBody {
		i := maxErrorBody
		for i > 0 && !utf8.RuneStart(msg[i]) {
			i--
		}
		msg = msg[:i]
	}
	return msg
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
