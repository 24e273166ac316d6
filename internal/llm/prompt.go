package llm

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
)

const (
	normalDirective = "Normal mode: maximum efficiency and cold-chain logic"
	chaosDirective  = "Chaos mode: intentionally terrible but technically possible packing with evil commentary"

	normalTemperature = 0.7
	chaosTemperature  = 0.9
	maxTokens         = 2048
)

// Directive returns the instruction appended to the base prompt for a mode.
func (m Mode) Directive() string {
	if m == ModeChaos {
		return chaosDirective
	}
	return normalDirective
}

// Temperature returns the sampling temperature used for a mode. Chaos runs hotter.
func (m Mode) Temperature() float64 {
	if m == ModeChaos {
		return chaosTemperature
	}
	return normalTemperature
}

// BuildPrompt appends the mode header and directive to the base template.
// It performs no templating; the same inputs always yield the same text.
func BuildPrompt(basePromptTemplate string, mode Mode) string {
	var sb strings.Builder
	sb.Grow(len(basePromptTemplate) + 64)
	sb.WriteString(basePromptTemplate)
	sb.WriteString("\n\nMode: ")
	sb.WriteString(mode.String())
	sb.WriteString("\n")
	sb.WriteString(mode.Directive())
	return sb.String()
}

// BuildChatRequest assembles the chat payload shared by every backend: a single
// user message carrying the prompt, the fridge photo and the groceries photo.
func BuildChatRequest(model string, req InferenceRequest) *ChatRequest {
	temperature := req.Mode.Temperature()
	tokens := maxTokens

	return &ChatRequest{
		Model: model,
		Messages: []Message{
			{
				Role:    "user",
				Content: BuildPrompt(req.SystemPrompt, req.Mode),
				Images:  [][]byte{req.CurrentFridge, req.NewGroceries},
			},
		},
		Temperature: &temperature,
		MaxTokens:   &tokens,
	}
}

// LoadPromptTemplate reads the base prompt once at startup. location may be a
// local path or any URL the afs file system understands (file://, mem://, s3://).
// A missing or blank template is reported as ErrConfigurationMissing.
func LoadPromptTemplate(ctx context.Context, location string) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", fmt.Errorf("%w: prompt template path is empty", ErrConfigurationMissing)
	}

	if url.Scheme(location, "") == "" {
		abs, err := filepath.Abs(location)
		if err != nil {
			return "", fmt.Errorf("%w: prompt template %q: %v", ErrConfigurationMissing, location, err)
		}
		location = abs
	}

	fs := afs.New()
	exists, err := fs.Exists(ctx, location)
	if err != nil || !exists {
		return "", fmt.Errorf("%w: prompt template %q not found", ErrConfigurationMissing, location)
	}

	data, err := fs.DownloadWithURL(ctx, location)
	if err != nil {
		return "", fmt.Errorf("%w: reading prompt template %q: %v", ErrConfigurationMissing, location, err)
	}

	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("%w: prompt template %q is empty", ErrConfigurationMissing, location)
	}
	return string(data), nil
}
