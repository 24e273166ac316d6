package backends

import (
	"fmt"

	"fridge-tetris/internal/llm"
)

// DefaultFactory is the standard backend factory implementation.
// It creates Backend instances based on configuration type.
type DefaultFactory struct{}

// Compile-time interface assertion
var _ llm.BackendFactory = (*DefaultFactory)(nil)

// NewDefaultFactory creates a new DefaultFactory.
func NewDefaultFactory() *DefaultFactory {
	return &DefaultFactory{}
}

// Create creates a Backend instance based on the configuration type.
func (f *DefaultFactory) Create(cfg llm.BackendConfig) (llm.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Type {
	case llm.BackendOllama:
		return NewOllamaBackend(cfg)

	case llm.BackendVLLM:
		return NewVLLMBackend(cfg)

	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// New creates the single backend selected by cfg.
func New(cfg llm.BackendConfig) (llm.Backend, error) {
	return NewDefaultFactory().Create(cfg)
}
