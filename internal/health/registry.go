// Package health runs the readiness checks behind GET /ready.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 3 * time.Second

// Checker reports whether a dependency is available
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to Checker
type CheckFunc func(ctx context.Context) error

// HealthCheck calls f
func (f CheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// Registry manages named dependency checks
type Registry struct {
	mu      sync.RWMutex
	checks  map[string]Checker
	timeout time.Duration
}

// NewRegistry creates a new check registry
func NewRegistry() *Registry {
	return &Registry{
		checks:  make(map[string]Checker),
		timeout: defaultCheckTimeout,
	}
}

// Register adds a check to the registry
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check
}

// Unregister removes a check from the registry
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checks, name)
}

// List returns all registered check names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheckAll runs every check concurrently, each bounded by the registry timeout
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	checks := make(map[string]Checker, len(r.checks))
	for name, c := range r.checks {
		checks[name] = c
	}
	r.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]error, len(checks))
	)

	for name, c := range checks {
		wg.Add(1)
		go func(name string, c Checker) {
			defer wg.Done()

			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			err := c.HealthCheck(cctx)

			mu.Lock()
			results[name] = err
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()

	return results
}

// Healthy returns true when every result is nil
func Healthy(results map[string]error) bool {
	for _, err := range results {
		if err != nil {
			return false
		}
	}
	return true
}
