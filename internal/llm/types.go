// Package llm provides the uniform LLM provider capability handle used by
// the LLM skill and the contextual-enrichment stage: a single interface
// over whichever generation backend the host has configured.
package llm

import "context"

// GenerateOptions configures one generation call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// GenerateResult is one completed (non-streaming) generation.
type GenerateResult struct {
	Text       string
	Model      string
	DoneReason string
}

// StreamChunk is one piece of a streamed generation.
type StreamChunk struct {
	Text string
	Done bool
}

// Provider is the uniform capability spec.md §6 requires: credential
// validation, model listing, and both blocking and streaming generation.
// The active provider is selected per process and may be swapped at
// runtime without restart (the host holds a *Session, not a Provider,
// and calls Session.SetProvider).
type Provider interface {
	Name() string
	ValidateCredentials(ctx context.Context) error
	ListModels(ctx context.Context) ([]string, error)
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (GenerateResult, error)
	Stream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error)
}

// Session holds the currently active Provider and lets it be swapped
// without restarting the process, per spec.md §6.
type Session struct {
	provider Provider
}

// NewSession constructs a Session with the given initial provider.
func NewSession(provider Provider) *Session {
	return &Session{provider: provider}
}

// SetProvider swaps the active provider.
func (s *Session) SetProvider(p Provider) {
	s.provider = p
}

// Provider returns the currently active provider.
func (s *Session) Provider() Provider {
	return s.provider
}

// Generate delegates to the active provider.
func (s *Session) Generate(ctx context.Context, prompt string, opts GenerateOptions) (GenerateResult, error) {
	return s.provider.Generate(ctx, prompt, opts)
}
