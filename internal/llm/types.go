// Package llm provides the backend-neutral abstraction used to ask a
// vision-language model for a fridge packing plan. It defines the request and
// response types, the Backend contract and the error taxonomy shared by the
// Ollama and vLLM implementations.
package llm

import (
	"fmt"
	"strings"
	"time"
)

// BackendType identifies the type of model-serving backend.
type BackendType string

const (
	// BackendOllama represents a local Ollama model runner.
	BackendOllama BackendType = "ollama"
	// BackendVLLM represents a GPU inference server speaking the
	// OpenAI-compatible chat completions protocol (vLLM and friends).
	BackendVLLM BackendType = "vllm"
)

// Mode selects the directive appended to the base prompt.
type Mode string

const (
	// ModeNormal asks for the most efficient, cold-chain aware arrangement.
	ModeNormal Mode = "Normal"
	// ModeChaos asks for a deliberately bad but physically possible arrangement.
	ModeChaos Mode = "Chaos"
)

// ParseMode converts user input into a Mode. Matching is case-insensitive and
// an empty value selects ModeNormal.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return ModeNormal, nil
	case "chaos":
		return ModeChaos, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// String returns the display name of the mode.
func (m Mode) String() string {
	return string(m)
}

// InferenceRequest is one user submission. It is built per request and not
// modified after construction.
type InferenceRequest struct {
	// SystemPrompt is the base instruction template loaded at startup.
	SystemPrompt string
	// CurrentFridge is the encoded photo of the fridge as it is now.
	CurrentFridge []byte
	// NewGroceries is the encoded photo of the groceries to pack.
	NewGroceries []byte
	// Mode selects the directive appended to SystemPrompt.
	Mode Mode
}

// InferenceResponse is the outcome of a successful packing plan request.
type InferenceResponse struct {
	// NarrativeText is the model's packing plan, passed through unchanged.
	NarrativeText string
	// AnnotatedImage is an optional image returned by the backend.
	AnnotatedImage []byte
	// Model is the model that produced the plan.
	Model string
	// Backend is the backend type that served the request.
	Backend BackendType
	// Duration is the wall time of the backend call.
	Duration time.Duration
}

// HasAnnotatedImage reports whether the backend returned an image.
func (r *InferenceResponse) HasAnnotatedImage() bool {
	return len(r.AnnotatedImage) > 0
}

// Message represents a chat message sent to or received from a backend.
type Message struct {
	// Role identifies the message author: "system", "user" or "assistant".
	Role string `json:"role"`
	// Content is the text content of the message.
	Content string `json:"content"`
	// Images holds raw encoded image bytes. Backends base64-encode them for
	// their own wire format.
	Images [][]byte `json:"images,omitempty"`
}

// ChatRequest contains parameters for a chat completion request.
type ChatRequest struct {
	// Model is the name of the model to use.
	Model string `json:"model"`
	// Messages is the conversation, in order.
	Messages []Message `json:"messages"`
	// Temperature controls randomness.
	Temperature *float64 `json:"temperature,omitempty"`
	// MaxTokens limits the response length.
	MaxTokens *int `json:"max_tokens,omitempty"`
	// RequestID correlates backend errors with access logs.
	RequestID string `json:"-"`
}

// ChatResponse contains the result of a chat completion.
type ChatResponse struct {
	// Model is the name of the model that generated the response.
	Model string `json:"model"`
	// Message is the assistant's response.
	Message Message `json:"message"`
	// DoneReason explains why generation stopped (e.g., "stop", "length").
	DoneReason string `json:"done_reason,omitempty"`
	// PromptTokens is the number of tokens in the prompt.
	PromptTokens int `json:"prompt_tokens,omitempty"`
	// ResponseTokens is the number of tokens in the response.
	ResponseTokens int `json:"response_tokens,omitempty"`
}
