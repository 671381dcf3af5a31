// Package openrouter implements domain.AIClient against the OpenRouter
// chat-completions API (OpenAI-compatible).
package openrouter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/config"
	"github.com/talentsift/screener/internal/domain"
)

// Client calls OpenRouter chat completions with bounded-retry backoff.
// Transient failures (429, 5xx, network) are retried; 4xx client errors are
// permanent.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a Client with an otel-instrumented transport.
func New(cfg config.Config) *Client {
	timeout := cfg.ChatTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "openrouter " + r.Method + " " + r.URL.Path
		}),
	)
	return &Client{cfg: cfg, hc: &http.Client{Timeout: timeout, Transport: transport}}
}

func (c *Client) backoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsed, initial, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

// ChatJSON sends a system+user prompt pair and returns the first choice's
// message content. Callers validate the content against their schema.
func (c *Client) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if c.cfg.OpenRouterAPIKey == "" {
		return "", fmt.Errorf("%w: OPENROUTER_API_KEY missing", domain.ErrInvalidArgument)
	}

	body := map[string]any{
		"model":       c.cfg.OpenRouterModel,
		"temperature": 0.2,
		"max_tokens":  maxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	b, _ := json.Marshal(body)

	var out struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	rateLimited := false
	op := func() error {
		start := time.Now()
		// Recreate request each attempt to avoid reusing consumed bodies
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OpenRouterBaseURL+"/chat/completions", bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Authorization", "Bearer "+c.cfg.OpenRouterAPIKey)
		r.Header.Set("Content-Type", "application/json")
		if c.cfg.OpenRouterReferer != "" {
			r.Header.Set("HTTP-Referer", c.cfg.OpenRouterReferer)
		}
		if c.cfg.OpenRouterTitle != "" {
			r.Header.Set("X-Title", c.cfg.OpenRouterTitle)
		}
		resp, err := c.hc.Do(r)
		if err != nil {
			observability.ObserveLLMRequest("chat", "network_error", time.Since(start))
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			observability.ObserveLLMRequest("chat", "read_error", time.Since(start))
			return err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			rateLimited = true
			observability.ObserveLLMRequest("chat", "rate_limited", time.Since(start))
			slog.Warn("ai provider rate limited",
				slog.String("provider", "openrouter"),
				slog.Int("status", resp.StatusCode),
				slog.String("x_request_id", resp.Header.Get("X-Request-Id")))
			return fmt.Errorf("rate limited: 429")
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			observability.ObserveLLMRequest("chat", "client_error", time.Since(start))
			slog.Warn("ai provider 4xx",
				slog.String("provider", "openrouter"),
				slog.Int("status", resp.StatusCode),
				slog.String("body", snippet(bodyBytes, 512)))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			observability.ObserveLLMRequest("chat", "server_error", time.Since(start))
			slog.Error("ai provider non-2xx",
				slog.String("provider", "openrouter"),
				slog.Int("status", resp.StatusCode),
				slog.String("body", snippet(bodyBytes, 512)))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			observability.ObserveLLMRequest("chat", "decode_error", time.Since(start))
			return err
		}
		observability.ObserveLLMRequest("chat", "ok", time.Since(start))
		return nil
	}

	bo := backoff.WithContext(c.backoffConfig(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, ctx.Err()) || errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
		if rateLimited {
			return "", fmt.Errorf("%w: %v", domain.ErrUpstreamRateLimit, err)
		}
		return "", fmt.Errorf("openrouter api failed: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("empty choices from OpenRouter API")
	}
	return out.Choices[0].Message.Content, nil
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
