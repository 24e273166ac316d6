package llm

import (
	"context"
)

// Backend defines the interface both model-serving variants implement. One
// Backend is selected at startup; call sites depend only on this interface.
type Backend interface {
	// Name returns the unique identifier for this backend instance.
	Name() string

	// Type returns the backend type identifier.
	Type() BackendType

	// Model returns the model identifier requests are sent to.
	Model() string

	// Ping checks that the backend is reachable and the model is present.
	// It returns an error wrapping ErrBackendUnavailable or ErrModelNotReady.
	Ping(ctx context.Context) error

	// Chat performs a single, non-streaming chat completion request.
	// There is no retry: one attempt, one outcome.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Close releases any resources held by the backend.
	Close() error
}

// ReadyWaiter is implemented by backends whose model is loaded by a separate
// server process that may still be starting.
type ReadyWaiter interface {
	Backend

	// WaitReady blocks until Ping succeeds or the context is done.
	WaitReady(ctx context.Context) error
}
