package llm

import (
	"fmt"
	"net/url"
	"time"
)

const (
	DefaultTimeout       = 120 * time.Second
	DefaultMaxImageBytes = 20 << 20

	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "qwen2.5vl:7b"
	DefaultVLLMURL     = "http://localhost:8000"
	DefaultVLLMModel   = "Qwen/Qwen2.5-VL-7B-Instruct"
)

// BackendConfig holds configuration for the single backend selected at startup.
// It is copied into the backend on construction and never changed afterwards.
type BackendConfig struct {
	Type     BackendType   `json:"type"`
	Name     string        `json:"name"`
	Endpoint string        `json:"endpoint"`
	Model    string        `json:"model"`
	APIKey   string        `json:"-"` // Hidden from JSON serialization
	Timeout  time.Duration `json:"timeout"`
	// MaxImageBytes bounds each uploaded photo before it is encoded.
	MaxImageBytes int64 `json:"max_image_bytes"`
}

// Validate checks the configuration and sets defaults.
func (c *BackendConfig) Validate() error {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = DefaultMaxImageBytes
	}

	switch c.Type {
	case BackendOllama:
		if c.Endpoint == "" {
			c.Endpoint = DefaultOllamaURL
		}
		if c.Model == "" {
			c.Model = DefaultOllamaModel
		}
		if c.Name == "" {
			c.Name = "ollama"
		}

	case BackendVLLM:
		if c.Endpoint == "" {
			c.Endpoint = DefaultVLLMURL
		}
		if c.Model == "" {
			c.Model = DefaultVLLMModel
		}
		if c.Name == "" {
			c.Name = "vllm"
		}

	default:
		return fmt.Errorf("unknown backend type: %q", c.Type)
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", c.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint %q must use http or https", c.Endpoint)
	}

	return nil
}

// BackendFactory creates Backend instances from configuration.
// The concrete implementation lives in package backends to avoid import cycles.
type BackendFactory interface {
	Create(cfg BackendConfig) (Backend, error)
}
