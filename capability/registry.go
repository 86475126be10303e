// Package capability holds the registry mapping intent labels to domain
// capabilities. Capabilities implement the narrow core.Capability contract;
// new ones register at startup without touching the router.
package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lumenstack/concierge/core"
)

// Registry maps intent labels to registered capabilities. Safe for concurrent
// use; population normally happens once at startup.
type Registry struct {
	mu   sync.RWMutex
	caps map[core.Intent]core.Capability
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[core.Intent]core.Capability)}
}

// Register binds a capability to an intent label, replacing any prior binding.
func (r *Registry) Register(label core.Intent, cap core.Capability) error {
	if label == "" || label == core.IntentUnknown {
		return fmt.Errorf("cannot register capability %q under label %q", cap.Name(), label)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[label] = cap
	return nil
}

// Resolve returns the capability bound to label or core.ErrNotFound.
func (r *Registry) Resolve(label core.Intent) (core.Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.caps[label]
	if !ok {
		return nil, fmt.Errorf("intent %s: %w", label, core.ErrNotFound)
	}
	return cap, nil
}

// Labels returns the registered intent labels in sorted order.
func (r *Registry) Labels() []core.Intent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	labels := make([]core.Intent, 0, len(r.caps))
	for label := range r.caps {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

// Func adapts a plain function into a core.Capability. Useful for tests and
// thin shims over external collaborators.
type Func struct {
	name string
	fn   func(ctx context.Context, input core.CapabilityInput) (core.CapabilityResult, error)
}

// NewFunc constructs a function-backed capability.
func NewFunc(name string, fn func(ctx context.Context, input core.CapabilityInput) (core.CapabilityResult, error)) *Func {
	return &Func{name: name, fn: fn}
}

// Name implements core.Capability.
func (f *Func) Name() string { return f.name }

// Invoke implements core.Capability.
func (f *Func) Invoke(ctx context.Context, input core.CapabilityInput) (core.CapabilityResult, error) {
	return f.fn(ctx, input)
}
