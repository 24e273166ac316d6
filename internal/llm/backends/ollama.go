// Package backends provides the two implementations of llm.Backend: a local
// Ollama runner and an OpenAI-compatible GPU inference server (vLLM).
package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"fridge-tetris/internal/llm"
)

// OllamaBackend implements llm.Backend for a local Ollama runner using the
// official client. Images travel as the base64 "images" array of a message.
type OllamaBackend struct {
	client   *api.Client
	name     string
	endpoint string
	model    string
}

// Compile-time interface assertion
var _ llm.Backend = (*OllamaBackend)(nil)

// NewOllamaBackend creates a new Ollama backend instance.
func NewOllamaBackend(cfg llm.BackendConfig) (*OllamaBackend, error) {
	if cfg.Type != llm.BackendOllama {
		return nil, fmt.Errorf("invalid backend type: expected %s, got %s", llm.BackendOllama, cfg.Type)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	baseURL, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL %q: %w", cfg.Endpoint, err)
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
	}

	return &OllamaBackend{
		client:   api.NewClient(baseURL, httpClient),
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
	}, nil
}

// Name returns the backend instance name.
func (b *OllamaBackend) Name() string {
	return b.name
}

// Type returns the backend type identifier.
func (b *OllamaBackend) Type() llm.BackendType {
	return llm.BackendOllama
}

// Model returns the model identifier requests are sent to.
func (b *OllamaBackend) Model() string {
	return b.model
}

// Ping checks that Ollama answers and the model has been pulled.
func (b *OllamaBackend) Ping(ctx context.Context) error {
	if err := b.client.Heartbeat(ctx); err != nil {
		return llm.NewBackendError(llm.BackendOllama, "Ping", llm.Wrap(llm.ErrBackendUnavailable, err)).
			WithSuggestion("Ensure Ollama is running at " + b.endpoint)
	}

	if _, err := b.client.Show(ctx, &api.ShowRequest{Model: b.model}); err != nil {
		return b.classifyError("Ping", err)
	}
	return nil
}

// Chat performs a single non-streaming chat completion.
func (b *OllamaBackend) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	ollamaReq := convertChatRequestToOllama(req)

	var final *api.ChatResponse
	err := b.client.Chat(ctx, ollamaReq, func(resp api.ChatResponse) error {
		final = &resp
		return nil
	})
	if err != nil {
		return nil, b.classifyError("Chat", err).WithRequestID(req.RequestID)
	}

	if final == nil || strings.TrimSpace(final.Message.Content) == "" {
		return nil, llm.NewBackendError(llm.BackendOllama, "Chat",
			fmt.Errorf("%w: response has no message content", llm.ErrMalformedResponse)).
			WithRequestID(req.RequestID)
	}

	return convertOllamaChatResponse(*final), nil
}

// Close releases any resources held by the backend.
func (b *OllamaBackend) Close() error {
	// Ollama client doesn't require explicit cleanup
	return nil
}

// classifyError maps an Ollama client error onto the error taxonomy.
func (b *OllamaBackend) classifyError(op string, err error) *llm.BackendError {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusNotFound:
			return llm.NewBackendError(llm.BackendOllama, op, llm.Wrap(llm.ErrModelNotReady, err)).
				WithCode(statusErr.StatusCode).
				WithSuggestion(fmt.Sprintf("Run 'ollama pull %s'", b.model))
		default:
			return llm.NewBackendError(llm.BackendOllama, op, llm.Wrap(llm.ErrBackendUnavailable, err)).
				WithCode(statusErr.StatusCode)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"):
		// Ollama reports a missing model in the error body before the status code.
		return llm.NewBackendError(llm.BackendOllama, op, llm.Wrap(llm.ErrModelNotReady, err)).
			WithSuggestion(fmt.Sprintf("Run 'ollama pull %s'", b.model))
	case strings.HasPrefix(msg, "unmarshal"):
		return llm.NewBackendError(llm.BackendOllama, op, llm.Wrap(llm.ErrMalformedResponse, err))
	default:
		return llm.NewBackendError(llm.BackendOllama, op, llm.Wrap(llm.ErrBackendUnavailable, err)).
			WithSuggestion("Ensure Ollama is running at " + b.endpoint)
	}
}

// --- Conversion helpers ---

// convertChatRequestToOllama converts llm.ChatRequest to api.ChatRequest.
func convertChatRequestToOllama(req *llm.ChatRequest) *api.ChatRequest {
	stream := false

	messages := make([]api.Message, len(req.Messages))
	for i, m := range req.Messages {
		msg := api.Message{
			Role:    m.Role,
			Content: m.Content,
		}
		// ImageData is []byte and is base64-encoded by encoding/json.
		if len(m.Images) > 0 {
			msg.Images = make([]api.ImageData, len(m.Images))
			for j, img := range m.Images {
				msg.Images[j] = api.ImageData(img)
			}
		}
		messages[i] = msg
	}

	opts := make(map[string]any)
	if req.Temperature != nil {
		opts["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		opts["num_predict"] = *req.MaxTokens
	}

	ollamaReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
	}
	if len(opts) > 0 {
		ollamaReq.Options = opts
	}
	return ollamaReq
}

// convertOllamaChatResponse converts api.ChatResponse to llm.ChatResponse.
func convertOllamaChatResponse(resp api.ChatResponse) *llm.ChatResponse {
	result := &llm.ChatResponse{
		Model: resp.Model,
		Message: llm.Message{
			Role:    resp.Message.Role,
			Content: resp.Message.Content,
		},
		DoneReason:     resp.DoneReason,
		PromptTokens:   resp.PromptEvalCount,
		ResponseTokens: resp.EvalCount,
	}

	if len(resp.Message.Images) > 0 {
		result.Message.Images = make([][]byte, len(resp.Message.Images))
		for i, img := range resp.Message.Images {
			result.Message.Images[i] = []byte(img)
		}
	}
	return result
}
