// Package packing turns two photos and a mode into a packing plan by asking
// the configured vision-language backend.
package packing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fridge-tetris/internal/lib/sl"
	"fridge-tetris/internal/llm"
)

// Planner issues one backend call per packing plan. It holds no mutable
// state, so a single Planner serves concurrent requests.
type Planner struct {
	backend       llm.Backend
	maxImageBytes int64
	timeout       time.Duration
	log           *slog.Logger
}

// Option customises a Planner.
type Option func(*Planner)

// WithMaxImageBytes bounds each photo. Zero or negative disables the limit.
func WithMaxImageBytes(n int64) Option {
	return func(p *Planner) {
		p.maxImageBytes = n
	}
}

// WithTimeout bounds a single backend call. Zero disables the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Planner) {
		p.timeout = d
	}
}

// WithLogger sets the logger used for per-request logging.
func WithLogger(log *slog.Logger) Option {
	return func(p *Planner) {
		p.log = log
	}
}

// NewPlanner creates a Planner bound to one backend.
func NewPlanner(backend llm.Backend, opts ...Option) *Planner {
	p := &Planner{
		backend:       backend,
		maxImageBytes: llm.DefaultMaxImageBytes,
		timeout:       llm.DefaultTimeout,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(sl.Module("planner"))
	return p
}

// Backend returns the backend the planner sends requests to.
func (p *Planner) Backend() llm.Backend {
	return p.backend
}

type requestIDKey struct{}

// ContextWithRequestID attaches a request id that is forwarded to the backend
// and included in logs.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored in ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// GeneratePackingPlan validates both photos, builds the prompt and performs a
// single backend call. Invalid photos fail with llm.ErrInvalidImage before any
// network traffic. There is no retry.
func (p *Planner) GeneratePackingPlan(ctx context.Context, req llm.InferenceRequest) (*llm.InferenceResponse, error) {
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := p.log.With(
		sl.RequestID(requestID),
		slog.String("mode", req.Mode.String()),
		slog.String("backend", p.backend.Name()),
	)

	if req.Mode != llm.ModeNormal && req.Mode != llm.ModeChaos {
		return nil, fmt.Errorf("%w: %q", llm.ErrInvalidMode, req.Mode)
	}

	fridge, err := ValidateImage("current fridge", req.CurrentFridge, p.maxImageBytes)
	if err != nil {
		log.Warn("rejecting request", sl.Err(err))
		return nil, err
	}
	groceries, err := ValidateImage("new groceries", req.NewGroceries, p.maxImageBytes)
	if err != nil {
		log.Warn("rejecting request", sl.Err(err))
		return nil, err
	}
	log.Debug("images accepted",
		slog.String("fridge", fmt.Sprintf("%s %dx%d", fridge.Format, fridge.Width, fridge.Height)),
		slog.String("groceries", fmt.Sprintf("%s %dx%d", groceries.Format, groceries.Width, groceries.Height)),
	)

	chatReq := llm.BuildChatRequest(p.backend.Model(), req)
	chatReq.RequestID = requestID

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.backend.Chat(ctx, chatReq)
	elapsed := time.Since(start)
	if err != nil {
		err = ensureCategorized(p.backend.Type(), err)
		log.Error("backend call failed", sl.Err(err), slog.Duration("duration", elapsed))
		return nil, err
	}

	out := &llm.InferenceResponse{
		NarrativeText: resp.Message.Content,
		Model:         resp.Model,
		Backend:       p.backend.Type(),
		Duration:      elapsed,
	}
	if out.Model == "" {
		out.Model = p.backend.Model()
	}
	if len(resp.Message.Images) > 0 {
		out.AnnotatedImage = resp.Message.Images[0]
	}

	log.Info("packing plan generated",
		slog.String("model", out.Model),
		slog.Int("chars", len(out.NarrativeText)),
		slog.Bool("annotated", out.HasAnnotatedImage()),
		slog.Duration("duration", elapsed),
	)
	return out, nil
}

// ensureCategorized guarantees that errors leaving the planner match one of the
// taxonomy sentinels, even if a backend returns something unexpected.
func ensureCategorized(backend llm.BackendType, err error) error {
	for _, sentinel := range []error{
		llm.ErrBackendUnavailable,
		llm.ErrModelNotReady,
		llm.ErrMalformedResponse,
		llm.ErrInvalidImage,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return llm.NewBackendError(backend, "Chat", llm.Wrap(llm.ErrBackendUnavailable, err))
}
