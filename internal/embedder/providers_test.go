package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

// embeddingServer answers OpenAI-style embedding requests. Each input gets a
// vector [len(input), index]. The first failures requests return status.
func embeddingServer(t *testing.T, failures int32, status int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)

		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if n <= failures {
			http.Error(w, `{"error":{"message":"try later"}}`, status)
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := make([]map[string]interface{}, len(req.Input))
		// Answer in reverse order to exercise index mapping
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = map[string]interface{}{
				"object":    "embedding",
				"index":     j,
				"embedding": []float64{float64(len(req.Input[j])), float64(j)},
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(server.Close)

	return server, &calls
}

func TestJinaProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("batch keeps request order", func(t *testing.T) {
		server, _ := embeddingServer(t, 0, 0)
		p, err := NewJinaProvider("test-key", "", server.URL+"/", nil)
		require.NoError(t, err)
		p.retry = fastRetry()

		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "bbb"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 2)
		assert.Equal(t, []float32{1, 0}, resp.Embeddings[0].Vector)
		assert.Equal(t, []float32{3, 1}, resp.Embeddings[1].Vector)
		assert.Equal(t, DefaultJinaModel, resp.Model)
	})

	t.Run("retries transient errors", func(t *testing.T) {
		server, calls := embeddingServer(t, 2, http.StatusInternalServerError)
		p, err := NewJinaProvider("test-key", "", server.URL, nil)
		require.NoError(t, err)
		p.retry = fastRetry()

		emb, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "hello"})
		require.NoError(t, err)
		assert.Equal(t, []float32{5, 0}, emb.Vector)
		assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		server, calls := embeddingServer(t, 5, http.StatusBadRequest)
		p, err := NewJinaProvider("test-key", "", server.URL, nil)
		require.NoError(t, err)
		p.retry = fastRetry()

		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "hello"})
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	})

	t.Run("cache skips repeated texts", func(t *testing.T) {
		server, calls := embeddingServer(t, 0, 0)
		p, err := NewJinaProvider("test-key", "", server.URL, NewCache(10))
		require.NoError(t, err)

		_, err = p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"same"}})
		require.NoError(t, err)
		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"same", "other"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 2)
		assert.Equal(t, int32(2), atomic.LoadInt32(calls))

		// Queries use a different task adapter and never hit the document cache
		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "same"})
		require.NoError(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	})

	t.Run("task adapter per call type", func(t *testing.T) {
		var tasks []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req jinaRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			tasks = append(tasks, req.Task)

			var resp jinaResponse
			resp.Model = req.Model
			for i := range req.Input {
				resp.Data = append(resp.Data, struct {
					Index     int       `json:"index"`
					Embedding []float32 `json:"embedding"`
				}{Index: i, Embedding: []float32{1}})
			}
			_ = json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		p, err := NewJinaProvider("test-key", "", server.URL, nil)
		require.NoError(t, err)

		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "query"})
		require.NoError(t, err)
		_, err = p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"passage"}})
		require.NoError(t, err)
		assert.Equal(t, []string{jinaTaskQuery, jinaTaskPassage}, tasks)
	})

	t.Run("rejects duplicate indexes", func(t *testing.T) {
		resp := jinaResponse{Data: make([]struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}, 2)}
		_, err := resp.embeddings(2)
		assert.Error(t, err)
	})

	t.Run("requires api key", func(t *testing.T) {
		_, err := NewJinaProvider("", "", "", nil)
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("metadata", func(t *testing.T) {
		p, err := NewJinaProvider("k", "custom-model", "", nil)
		require.NoError(t, err)
		assert.Equal(t, ProviderJina, p.Provider())
		assert.Equal(t, "custom-model", p.Model())
		assert.Equal(t, JinaDimension, p.Dimension())
		assert.NoError(t, p.Close())
	})
}

func TestOpenAIProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("batch through sdk", func(t *testing.T) {
		server, _ := embeddingServer(t, 0, 0)
		p, err := NewOpenAIProvider("test-key", "", server.URL, nil)
		require.NoError(t, err)
		p.retry = fastRetry()

		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"ab", "c", "dddd"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 3)
		assert.Equal(t, []float32{2, 0}, resp.Embeddings[0].Vector)
		assert.Equal(t, []float32{1, 1}, resp.Embeddings[1].Vector)
		assert.Equal(t, []float32{4, 2}, resp.Embeddings[2].Vector)
		assert.Equal(t, ProviderOpenAI, resp.Provider)
	})

	t.Run("retries server errors", func(t *testing.T) {
		server, calls := embeddingServer(t, 1, http.StatusServiceUnavailable)
		p, err := NewOpenAIProvider("test-key", "", server.URL, nil)
		require.NoError(t, err)
		p.retry = fastRetry()

		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "hi"})
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		server, calls := embeddingServer(t, 100, http.StatusInternalServerError)
		p, err := NewOpenAIProvider("test-key", "", server.URL, nil)
		require.NoError(t, err)
		p.retry = fastRetry()

		_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "hi"})
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	})

	t.Run("requires api key", func(t *testing.T) {
		_, err := NewOpenAIProvider("", "", "", nil)
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})
}

func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failure", func(t *testing.T) {
		calls := 0
		result, err := retryWithBackoff(ctx, fastRetry(), func() (string, error) {
			calls++
			if calls < 2 {
				return "", fmt.Errorf("transient")
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 2, calls)
	})

	t.Run("returns last error", func(t *testing.T) {
		calls := 0
		_, err := retryWithBackoff(ctx, fastRetry(), func() (int, error) {
			calls++
			return 0, fmt.Errorf("error %d", calls)
		})
		assert.EqualError(t, err, "error 3")
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		bad := errors.New("bad request")
		_, err := retryWithBackoff(ctx, fastRetry(), func() (int, error) {
			calls++
			return 0, permanent(bad)
		})
		assert.Equal(t, bad, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		_, err := retryWithBackoff(cctx, fastRetry(), func() (int, error) {
			calls++
			cancel()
			return 0, fmt.Errorf("fails")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
