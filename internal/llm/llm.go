// Package llm provides interfaces and implementations for Large Language Model clients.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownProvider is returned when a request names a provider that is not configured.
var ErrUnknownProvider = errors.New("unknown llm provider")

// GenerateOptions configures the LLM generation request.
type GenerateOptions struct {
	// Model overrides the client's default model.
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness in generation (0.0 = deterministic, 1.0 = creative).
	Temperature float32

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int
}

// LLM defines the interface for Large Language Model clients.
type LLM interface {
	// Generate sends a prompt to the LLM and returns the complete response.
	// It blocks until the full response is received, ctx is done, or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// Name identifies the provider ("ollama", "gemini", ...).
	Name() string
}

// Registry holds the configured providers. The default is used when a
// request does not name one.
type Registry struct {
	providers   map[string]LLM
	defaultName string
}

// NewRegistry builds a registry. defaultName must match one of the providers.
func NewRegistry(defaultName string, providers ...LLM) (*Registry, error) {
	r := &Registry{providers: make(map[string]LLM, len(providers)), defaultName: defaultName}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	if _, ok := r.providers[defaultName]; !ok {
		return nil, fmt.Errorf("%w: default provider %q is not configured", ErrUnknownProvider, defaultName)
	}
	return r, nil
}

// Get returns the named provider, or the default for an empty name.
func (r *Registry) Get(name string) (LLM, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// DefaultName returns the default provider name.
func (r *Registry) DefaultName() string {
	return r.defaultName
}

// Names returns the configured provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
