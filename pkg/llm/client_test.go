package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMessages = []Message{{Role: "user", Content: "What is ML?"}}

func completionJSON(content string) string {
	resp := map[string]interface{}{
		"model": "test-model",
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 5, "total_tokens": 8},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestComplete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body struct {
			Messages []Message `json:"messages"`
			Stream   bool      `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.False(t, body.Stream)
		assert.Len(t, body.Messages, 1)
		fmt.Fprint(w, completionJSON("Machine learning is..."))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "test-model")
	require.NoError(t, err)

	res, err := c.Complete(context.Background(), testMessages, Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "Machine learning is...", res.Content)
	assert.Equal(t, "test-model", res.Model)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 8, res.Usage.TotalTokens)
}

func TestComplete_TimeoutRetriesThenFails(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, completionJSON("too late"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), testMessages, Options{Timeout: 30 * time.Millisecond, MaxRetries: 2})
	require.ErrorIs(t, err, ErrUpstreamTimeout)
	assert.Equal(t, int32(3), attempts.Load(), "expected initial attempt plus two retries")
}

func TestComplete_ErrorResponseNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"model not loaded"}}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), testMessages, Options{Timeout: time.Second, MaxRetries: 3})
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "model not loaded")
	assert.Equal(t, int32(1), attempts.Load(), "error responses must not be retried")
}

func TestComplete_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens here anymore

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), testMessages, Options{Timeout: time.Second})
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestComplete_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json at all")
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), testMessages, Options{Timeout: time.Second})
	require.ErrorIs(t, err, ErrUpstream)
}

func TestComplete_CallerCancellationNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = c.Complete(ctx, testMessages, Options{Timeout: 5 * time.Second, MaxRetries: 3})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), attempts.Load())
}

func sseHandler(fragments []string, delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range fragments {
			chunk := map[string]interface{}{
				"choices": []map[string]interface{}{{"delta": map[string]string{"content": f}}},
			}
			b, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
			if delay > 0 {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(delay):
				}
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func TestStream_DeliversFragmentsThenEOF(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{"Hel", "lo", " world"}, 0))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	st, err := c.Stream(context.Background(), testMessages, Options{})
	require.NoError(t, err)
	defer st.Close()

	var got string
	for {
		frag, err := st.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got += frag
	}
	assert.Equal(t, "Hello world", got)

	// Finite and not restartable.
	_, err = st.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestStream_CancellationStopsRead(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{"one", "two", "three"}, 200*time.Millisecond))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	st, err := c.Stream(ctx, testMessages, Options{})
	require.NoError(t, err)
	defer st.Close()

	frag, err := st.Recv()
	require.NoError(t, err)
	assert.Equal(t, "one", frag)

	cancel()
	_, err = st.Recv()
	require.ErrorIs(t, err, context.Canceled)
}

func TestStream_ErrorStatusFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom"}}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	_, err = c.Stream(context.Background(), testMessages, Options{})
	require.ErrorIs(t, err, ErrUpstream)
}
