package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/chatlens/chatlens/pkg/logger"
	"github.com/chatlens/chatlens/pkg/metrics"
	"github.com/chatlens/chatlens/pkg/retry"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 8 * time.Second
)

// Client talks to a local OpenAI-compatible chat-completions endpoint
// (LM Studio, llama.cpp server). The endpoint is treated as unreliable:
// per-attempt deadlines, bounded retries for timeouts, one immediate retry
// when the connection is refused, and fail-fast on error responses.
type Client struct {
	apiBase      string
	defaultModel string
	httpClient   *http.Client
}

func NewClient(apiBase, defaultModel string) (*Client, error) {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("inference endpoint API base not configured")
	}
	return &Client{
		apiBase:      apiBase,
		defaultModel: strings.TrimSpace(defaultModel),
		// No client-level timeout: per-attempt deadlines come from the
		// request context, and streaming reads must be able to outlive any
		// fixed duration.
		httpClient: &http.Client{},
	}, nil
}

func (c *Client) DefaultModel() string { return c.defaultModel }

// Complete sends the context window and returns the assistant reply.
// Exactly one of (Result, error) is meaningful; no partial results.
func (c *Client) Complete(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: empty context window", ErrUpstream)
	}

	start := time.Now()
	var result *Result

	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  opts.MaxRetries + 1,
		InitialDelay: retryBaseDelay,
		MaxDelay:     retryMaxDelay,
		// Only per-attempt timeouts earn the backoff loop. Error responses
		// are deterministic and connection refusal gets its single immediate
		// retry inside the attempt.
		ShouldRetry: func(err error) bool { return errors.Is(err, ErrUpstreamTimeout) },
		OnRetry:     func(int, error) { metrics.CompletionRetries.Inc() },
	}, func() error {
		var err error
		result, err = c.doComplete(ctx, messages, opts)
		if errors.Is(err, ErrUpstreamUnavailable) {
			logger.Log.Debug().Msg("endpoint unreachable, retrying once immediately")
			metrics.CompletionRetries.Inc()
			result, err = c.doComplete(ctx, messages, opts)
		}
		return err
	})

	elapsed := time.Since(start)
	metrics.CompletionDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.CompletionRequests.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	result.Elapsed = elapsed
	metrics.CompletionRequests.WithLabelValues("ok").Inc()
	return result, nil
}

func (c *Client) doComplete(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	body, err := c.newRequestBody(messages, opts, false)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classifyTransportError(ctx, attemptCtx, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: status=%d error=%s", ErrUpstream, resp.StatusCode, extractAPIError(raw))
	}

	return parseCompletionResponse(raw)
}

func (c *Client) newRequestBody(messages []Message, opts Options, stream bool) ([]byte, error) {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = c.defaultModel
	}

	requestBody := map[string]interface{}{
		"messages": messages,
		"stream":   stream,
	}
	if model != "" {
		requestBody["model"] = model
	}
	if opts.Temperature > 0 {
		requestBody["temperature"] = opts.Temperature
	}
	if opts.TopP > 0 {
		requestBody["top_p"] = opts.TopP
	}
	if opts.MaxTokens > 0 {
		requestBody["max_tokens"] = opts.MaxTokens
	}

	data, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}
	return data, nil
}

// classifyTransportError maps a transport failure to the retry taxonomy.
// Caller cancellation is surfaced as-is so nothing retries it.
func (c *Client) classifyTransportError(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return fmt.Errorf("%w at %s: %v", ErrUpstreamUnavailable, c.apiBase, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w at %s: %v", ErrUpstreamUnavailable, c.apiBase, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "upstream_error"
	}
}

func parseCompletionResponse(raw []byte) (*Result, error) {
	var apiResponse struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *UsageInfo `json:"usage"`
	}
	if err := json.Unmarshal(raw, &apiResponse); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUpstream, err)
	}
	if len(apiResponse.Choices) == 0 {
		return nil, fmt.Errorf("%w: response carried no choices", ErrUpstream)
	}

	choice := apiResponse.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty completion content", ErrUpstream)
	}

	return &Result{
		Content:      content,
		Model:        apiResponse.Model,
		FinishReason: choice.FinishReason,
		Usage:        apiResponse.Usage,
	}, nil
}

func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}

	if len(trimmed) > 2000 {
		return trimmed[:2000] + "..."
	}
	return trimmed
}
