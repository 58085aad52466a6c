package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chatlens/chatlens/pkg/metrics"
)

// Stream is a finite, non-restartable sequence of completion fragments.
// Recv returns fragments until io.EOF; cancelling the request context stops
// the read promptly. Fragments already delivered stay delivered.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// Stream opens a streaming completion. The same unavailability policy as
// Complete applies to establishing the connection; once fragments flow, any
// failure terminates the stream.
func (c *Client) Stream(ctx context.Context, messages []Message, opts Options) (*Stream, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: empty context window", ErrUpstream)
	}

	st, err := c.openStream(ctx, messages, opts)
	if errors.Is(err, ErrUpstreamUnavailable) {
		metrics.CompletionRetries.Inc()
		st, err = c.openStream(ctx, messages, opts)
	}
	if err != nil {
		metrics.CompletionRequests.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	return st, nil
}

func (c *Client) openStream(ctx context.Context, messages []Message, opts Options) (*Stream, error) {
	body, err := c.newRequestBody(messages, opts, true)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(ctx, ctx, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status=%d error=%s", ErrUpstream, resp.StatusCode, extractAPIError(raw))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{ctx: ctx, body: resp.Body, scanner: scanner}, nil
}

// Recv returns the next non-empty text fragment, or io.EOF after the
// end-of-stream marker.
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.done = true
			_ = s.body.Close()
			return "", io.EOF
		}

		fragment, err := parseStreamChunk(payload)
		if err != nil {
			s.done = true
			_ = s.body.Close()
			return "", err
		}
		if fragment == "" {
			continue
		}
		metrics.StreamFragments.Inc()
		return fragment, nil
	}

	s.done = true
	_ = s.body.Close()
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: stream read: %v", ErrUpstream, err)
	}
	// Endpoint closed without [DONE]; treat as normal end.
	return "", io.EOF
}

// Close releases the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}

func parseStreamChunk(payload string) (string, error) {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", fmt.Errorf("%w: malformed stream chunk: %v", ErrUpstream, err)
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	return chunk.Choices[0].Delta.Content, nil
}
