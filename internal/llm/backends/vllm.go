package backends

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"fridge-tetris/internal/llm"
)

var readyPollInterval = 2 * time.Second

// VLLMBackend implements llm.Backend for a GPU inference server exposing the
// OpenAI-compatible chat completions API. The server loads the model once at
// its own startup; this backend only waits for it to become ready.
type VLLMBackend struct {
	name       string
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Compile-time interface assertions
var (
	_ llm.Backend     = (*VLLMBackend)(nil)
	_ llm.ReadyWaiter = (*VLLMBackend)(nil)
)

// NewVLLMBackend creates a backend from BackendConfig.
func NewVLLMBackend(cfg llm.BackendConfig) (*VLLMBackend, error) {
	if cfg.Type != llm.BackendVLLM {
		return nil, fmt.Errorf("invalid backend type: expected %s, got %s", llm.BackendVLLM, cfg.Type)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &VLLMBackend{
		name:    cfg.Name,
		baseURL: strings.TrimSuffix(cfg.Endpoint, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: slog.Default().With("component", "vllm-backend"),
	}, nil
}

// Name returns the backend instance name.
func (b *VLLMBackend) Name() string {
	return b.name
}

// Type returns the backend type identifier.
func (b *VLLMBackend) Type() llm.BackendType {
	return llm.BackendVLLM
}

// Model returns the model identifier requests are sent to.
func (b *VLLMBackend) Model() string {
	return b.model
}

// doRequest makes an HTTP request with the optional bearer token.
func (b *VLLMBackend) doRequest(req *http.Request) (*http.Response, error) {
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	return b.httpClient.Do(req)
}

// modelsResponse is the /v1/models listing.
type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Ping checks that the server answers and has the configured model loaded.
func (b *VLLMBackend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v1/models", nil)
	if err != nil {
		return llm.NewBackendError(llm.BackendVLLM, "Ping", llm.Wrap(llm.ErrBackendUnavailable, err))
	}

	resp, err := b.doRequest(req)
	if err != nil {
		return b.classifyHTTPError("Ping", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return b.handleHTTPError("Ping", resp)
	}

	var models modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return llm.NewBackendError(llm.BackendVLLM, "Ping", llm.Wrap(llm.ErrMalformedResponse, err))
	}

	for _, m := range models.Data {
		if m.ID == b.model {
			return nil
		}
	}

	return llm.NewBackendError(llm.BackendVLLM, "Ping",
		fmt.Errorf("%w: %s is not served by %s", llm.ErrModelNotReady, b.model, b.baseURL)).
		WithSuggestion("Start the inference server with --model " + b.model)
}

// WaitReady polls Ping until the model is served or ctx is done. Model
// loading on a GPU server can take minutes.
func (b *VLLMBackend) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		err := b.Ping(ctx)
		if err == nil {
			return nil
		}
		b.logger.Debug("waiting for model", "model", b.model, "error", err)

		select {
		case <-ctx.Done():
			return llm.NewBackendError(llm.BackendVLLM, "WaitReady",
				llm.Wrap(llm.ErrModelNotReady, fmt.Errorf("%s: %v", b.model, err)))
		case <-ticker.C:
		}
	}
}

// openAIChatRequest represents the OpenAI-compatible chat request format.
type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Stream      bool                `json:"stream"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
}

// openAIChatMessage is a message whose content is an array of parts.
type openAIChatMessage struct {
	Role    string              `json:"role"`
	Content []openAIContentPart `json:"content"`
}

// openAIContentPart is either a text part or an image_url part.
type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

// openAIChatResponse represents a non-streaming OpenAI chat response. Images
// is not part of the OpenAI schema; servers that render an annotated layout
// return it as base64 strings on the message.
type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string   `json:"role"`
			Content *string  `json:"content"`
			Images  []string `json:"images,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat performs a single non-streaming chat completion request.
func (b *VLLMBackend) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := json.Marshal(convertToOpenAIRequest(req))
	if err != nil {
		// The request never left the process.
		return nil, llm.NewBackendError(llm.BackendVLLM, "Chat",
			llm.Wrap(llm.ErrBackendUnavailable, fmt.Errorf("failed to marshal request: %w", err))).
			WithRequestID(req.RequestID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewBackendError(llm.BackendVLLM, "Chat", llm.Wrap(llm.ErrBackendUnavailable, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-Id", req.RequestID)
	}

	resp, err := b.doRequest(httpReq)
	if err != nil {
		return nil, b.classifyHTTPError("Chat", err).WithRequestID(req.RequestID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, b.handleHTTPError("Chat", resp).WithRequestID(req.RequestID)
	}

	out, err := b.handleResponse(resp.Body, req.Model)
	if err != nil {
		return nil, llm.NewBackendError(llm.BackendVLLM, "Chat", err).WithRequestID(req.RequestID)
	}
	return out, nil
}

// handleResponse decodes the completion and extracts the assistant text.
func (b *VLLMBackend) handleResponse(body io.Reader, model string) (*llm.ChatResponse, error) {
	var resp openAIChatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", llm.ErrMalformedResponse, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", llm.ErrMalformedResponse)
	}

	choice := resp.Choices[0]
	if choice.Message.Content == nil || strings.TrimSpace(*choice.Message.Content) == "" {
		return nil, fmt.Errorf("%w: response has no message content", llm.ErrMalformedResponse)
	}

	if resp.Model != "" {
		model = resp.Model
	}

	out := &llm.ChatResponse{
		Model: model,
		Message: llm.Message{
			Role:    choice.Message.Role,
			Content: *choice.Message.Content,
		},
		DoneReason:     choice.FinishReason,
		PromptTokens:   resp.Usage.PromptTokens,
		ResponseTokens: resp.Usage.CompletionTokens,
	}

	for _, encoded := range choice.Message.Images {
		img, err := decodeImagePayload(encoded)
		if err != nil {
			b.logger.Warn("skipping undecodable image in response", "error", err)
			continue
		}
		out.Message.Images = append(out.Message.Images, img)
	}
	return out, nil
}

// convertToOpenAIRequest converts llm.ChatRequest to the OpenAI content-part
// format. Images come first, then the instruction text.
func convertToOpenAIRequest(req *llm.ChatRequest) openAIChatRequest {
	messages := make([]openAIChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		parts := make([]openAIContentPart, 0, len(m.Images)+1)
		for _, img := range m.Images {
			parts = append(parts, openAIContentPart{
				Type:     "image_url",
				ImageURL: &openAIImageURL{URL: dataURL(img)},
			})
		}
		parts = append(parts, openAIContentPart{Type: "text", Text: m.Content})

		messages[i] = openAIChatMessage{
			Role:    m.Role,
			Content: parts,
		}
	}

	return openAIChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Stream:      false,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// dataURL embeds image bytes as an inline base64 data URL.
func dataURL(img []byte) string {
	return "data:" + mimetype.Detect(img).String() + ";base64," + base64.StdEncoding.EncodeToString(img)
}

// decodeImagePayload accepts either raw base64 or a data URL.
func decodeImagePayload(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, errors.New("data URL without payload")
		}
		s = s[idx+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

// classifyHTTPError categorizes transport errors. Every transport failure,
// timeouts included, surfaces as ErrBackendUnavailable.
func (b *VLLMBackend) classifyHTTPError(op string, err error) *llm.BackendError {
	suggestion := "Ensure the inference server is running at " + b.baseURL
	if errors.Is(err, context.DeadlineExceeded) {
		suggestion = "The inference server did not answer in time"
	}
	return llm.NewBackendError(llm.BackendVLLM, op, llm.Wrap(llm.ErrBackendUnavailable, err)).
		WithSuggestion(suggestion)
}

// handleHTTPError processes HTTP error responses.
func (b *VLLMBackend) handleHTTPError(op string, resp *http.Response) *llm.BackendError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	errMsg := strings.TrimSpace(string(body))
	cause := fmt.Errorf("HTTP %d: %s", resp.StatusCode, errMsg)

	switch {
	case resp.StatusCode == http.StatusNotFound && strings.Contains(strings.ToLower(errMsg), "model"):
		return llm.NewBackendError(llm.BackendVLLM, op, llm.Wrap(llm.ErrModelNotReady, cause)).
			WithCode(resp.StatusCode).
			WithSuggestion("Start the inference server with --model " + b.model)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return llm.NewBackendError(llm.BackendVLLM, op, llm.Wrap(llm.ErrModelNotReady, cause)).
			WithCode(resp.StatusCode).
			WithSuggestion("Server is overloaded or model is loading")
	default:
		return llm.NewBackendError(llm.BackendVLLM, op, llm.Wrap(llm.ErrBackendUnavailable, cause)).
			WithCode(resp.StatusCode)
	}
}

// Close releases idle connections.
func (b *VLLMBackend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}
