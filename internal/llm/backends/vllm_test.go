package backends

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image/color"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fridge-tetris/internal/llm"
)

const testVLLMModel = "Qwen/Qwen2.5-VL-7B-Instruct"

func newTestVLLM(t *testing.T, endpoint string) *VLLMBackend {
	t.Helper()
	b, err := NewVLLMBackend(llm.BackendConfig{
		Type:     llm.BackendVLLM,
		Endpoint: endpoint,
		Model:    testVLLMModel,
		APIKey:   "secret-token",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func completion(content string, images ...[]byte) map[string]any {
	msg := map[string]any{"role": "assistant", "content": content}
	if len(images) > 0 {
		encoded := make([]string, len(images))
		for i, img := range images {
			encoded[i] = base64.StdEncoding.EncodeToString(img)
		}
		msg["images"] = encoded
	}
	return map[string]any{
		"model":   testVLLMModel,
		"choices": []any{map[string]any{"message": msg, "finish_reason": "stop"}},
		"usage":   map[string]int{"prompt_tokens": 900, "completion_tokens": 120},
	}
}

func TestVLLMChat(t *testing.T) {
	req, fridge, groceries := testChatRequest(t, testVLLMModel, llm.ModeNormal)
	annotated := testPNG(t, 3, 3, color.Black)

	var (
		got     openAIChatRequest
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, http.StatusOK, completion("1. Eggs go in the door.", annotated))
	}))
	defer srv.Close()

	resp, err := newTestVLLM(t, srv.URL).Chat(context.Background(), req)
	require.NoError(t, err)

	t.Run("request", func(t *testing.T) {
		assert.Equal(t, "Bearer secret-token", headers.Get("Authorization"))
		assert.Equal(t, "req-1", headers.Get("X-Request-Id"))
		assert.Equal(t, testVLLMModel, got.Model)
		assert.False(t, got.Stream)

		require.Len(t, got.Messages, 1)
		parts := got.Messages[0].Content
		require.Len(t, parts, 3)
		assert.Equal(t, "image_url", parts[0].Type)
		assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(fridge), parts[0].ImageURL.URL)
		assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(groceries), parts[1].ImageURL.URL)
		assert.Equal(t, "text", parts[2].Type)
		assert.Equal(t, llm.BuildPrompt("Pack efficiently.", llm.ModeNormal), parts[2].Text)

		require.NotNil(t, got.Temperature)
		assert.InDelta(t, 0.7, *got.Temperature, 1e-9)
	})

	t.Run("response", func(t *testing.T) {
		assert.Equal(t, "1. Eggs go in the door.", resp.Message.Content)
		assert.Equal(t, 900, resp.PromptTokens)
		assert.Equal(t, 120, resp.ResponseTokens)
		require.Len(t, resp.Message.Images, 1)
		assert.Equal(t, annotated, resp.Message.Images[0])
	})
}

func TestVLLMChatErrors(t *testing.T) {
	req, _, _ := testChatRequest(t, testVLLMModel, llm.ModeChaos)

	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"model loading", http.StatusServiceUnavailable, `{"error":"loading"}`, llm.ErrModelNotReady},
		{"unknown model", http.StatusNotFound, `{"message":"The model does not exist."}`, llm.ErrModelNotReady},
		{"server error", http.StatusInternalServerError, `{"message":"CUDA out of memory"}`, llm.ErrBackendUnavailable},
		{"no choices", http.StatusOK, `{"model":"m","choices":[]}`, llm.ErrMalformedResponse},
		{"null content", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":null}}]}`, llm.ErrMalformedResponse},
		{"not json", http.StatusOK, `<html>proxy</html>`, llm.ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestVLLM(t, srv.URL).Chat(context.Background(), req)
			require.ErrorIs(t, err, tt.sentinel)

			var be *llm.BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "req-1", be.RequestID)
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.status, be.HTTPCode)
			}
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := newTestVLLM(t, url).Chat(context.Background(), req)
		require.ErrorIs(t, err, llm.ErrBackendUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := newTestVLLM(t, srv.URL).Chat(ctx, req)
		require.ErrorIs(t, err, llm.ErrBackendUnavailable)
	})

	t.Run("unencodable request", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer srv.Close()

		bad, _, _ := testChatRequest(t, testVLLMModel, llm.ModeNormal)
		nan := math.NaN()
		bad.Temperature = &nan

		_, err := newTestVLLM(t, srv.URL).Chat(context.Background(), bad)
		require.ErrorIs(t, err, llm.ErrBackendUnavailable)

		var be *llm.BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "req-1", be.RequestID)
		assert.Contains(t, err.Error(), "failed to marshal request")
		assert.EqualValues(t, 0, calls.Load())
	})
}

func modelsHandler(ids ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]string, len(ids))
		for i, id := range ids {
			data[i] = map[string]string{"id": id, "object": "model"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	}
}

func TestVLLMPing(t *testing.T) {
	t.Run("model served", func(t *testing.T) {
		srv := httptest.NewServer(modelsHandler("other", testVLLMModel))
		defer srv.Close()
		assert.NoError(t, newTestVLLM(t, srv.URL).Ping(context.Background()))
	})

	t.Run("model not served", func(t *testing.T) {
		srv := httptest.NewServer(modelsHandler("other"))
		defer srv.Close()
		err := newTestVLLM(t, srv.URL).Ping(context.Background())
		assert.ErrorIs(t, err, llm.ErrModelNotReady)
	})
}

func TestVLLMWaitReady(t *testing.T) {
	old := readyPollInterval
	readyPollInterval = 10 * time.Millisecond
	t.Cleanup(func() { readyPollInterval = old })

	t.Run("becomes ready", func(t *testing.T) {
		var calls atomic.Int32
		ready := modelsHandler(testVLLMModel)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			ready(w, r)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		require.NoError(t, newTestVLLM(t, srv.URL).WaitReady(ctx))
		assert.GreaterOrEqual(t, calls.Load(), int32(3))
	})

	t.Run("gives up", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := newTestVLLM(t, srv.URL).WaitReady(ctx)
		assert.ErrorIs(t, err, llm.ErrModelNotReady)
	})
}

func TestDecodeImagePayload(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	encoded := base64.StdEncoding.EncodeToString(raw)

	got, err := decodeImagePayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = decodeImagePayload("data:image/png;base64," + encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = decodeImagePayload("data:image/png;base64")
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	f := NewDefaultFactory()

	b, err := f.Create(llm.BackendConfig{Type: llm.BackendOllama})
	require.NoError(t, err)
	assert.Equal(t, llm.BackendOllama, b.Type())
	assert.Equal(t, llm.DefaultOllamaModel, b.Model())

	b, err = f.Create(llm.BackendConfig{Type: llm.BackendVLLM})
	require.NoError(t, err)
	assert.Equal(t, llm.BackendVLLM, b.Type())
	_, ok := b.(llm.ReadyWaiter)
	assert.True(t, ok)

	_, err = f.Create(llm.BackendConfig{Type: "tgi"})
	assert.Error(t, err)
}
