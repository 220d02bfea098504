package providers

import (
	// Go Internal Packages
	"context"
	"sync"

	// Local Packages
	errors "disburse-engine/errors"

	// External Packages
	"go.uber.org/zap"
)

// Registry holds the configured adapters keyed by provider code and
// tracks their last observed health.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	healthy  map[string]bool
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		healthy:  make(map[string]bool),
		logger:   logger,
	}
}

// Register adds an adapter. Health starts false until the first check.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Code()] = a
	r.healthy[a.Code()] = false
	r.logger.Info("registered provider adapter",
		zap.String("provider", a.Code()), zap.String("kind", string(a.Kind())))
}

// Get returns the adapter for a provider code.
func (r *Registry) Get(code string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[code]
	if !ok {
		return nil, errors.AdapterNotFoundErr(code)
	}
	return a, nil
}

// Healthy reports the last observed health for a provider code.
func (r *Registry) Healthy(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthy[code]
}

// Codes lists registered provider codes.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	return codes
}

// CheckHealth probes every adapter once and records the result.
func (r *Registry) CheckHealth(ctx context.Context) {
	r.mu.RLock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	for _, a := range adapters {
		ok := a.Healthy(ctx)
		r.mu.Lock()
		prev := r.healthy[a.Code()]
		r.healthy[a.Code()] = ok
		r.mu.Unlock()
		if prev != ok {
			r.logger.Warn("provider health changed",
				zap.String("provider", a.Code()), zap.Bool("healthy", ok))
		}
	}
}
