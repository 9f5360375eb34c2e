package generator

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Registry holds the mapping between provider names and their Generator implementations.
type Registry struct {
	generators map[string]Generator
	logger     *zap.Logger
}

// NewRegistry creates a new generator registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		generators: make(map[string]Generator),
		logger:     logger.Named("generator_registry"),
	}
}

// Register adds a generator implementation under a provider name.
func (r *Registry) Register(provider string, g Generator) {
	if _, exists := r.generators[provider]; exists {
		r.logger.Warn("Provider already registered, overwriting", zap.String("provider", provider))
	}
	r.generators[provider] = g
	r.logger.Info("Registered generator", zap.String("provider", provider))
}

// Get retrieves a generator by provider name.
func (r *Registry) Get(provider string) (Generator, error) {
	g, exists := r.generators[provider]
	if !exists {
		return nil, fmt.Errorf("no generator registered for provider %q (known: %v)", provider, r.Providers())
	}
	return g, nil
}

// Providers lists registered provider names in sorted order.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
