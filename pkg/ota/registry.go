package ota

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/edgefleet/otawatch/pkg/logging"
)

// Factory builds a registered agent binding.
type Factory func(log logging.Logger) (Agent, error)

var registry = struct {
	mu       sync.RWMutex
	bindings map[string]Factory
}{
	bindings: map[string]Factory{},
}

// Register makes an agent binding available under name. Vendor bindings
// register themselves from an init function; registering the same name twice
// panics, as it can only be a wiring mistake.
func Register(name string, factory Factory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, dup := registry.bindings[name]; dup {
		panic("ota: duplicate agent binding " + name)
	}
	registry.bindings[name] = factory
}

// Binding returns the factory registered under name.
func Binding(name string) (Factory, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, ok := registry.bindings[name]
	if !ok {
		return nil, errors.Errorf("no agent binding registered as %q (have %v)", name, bindingNames())
	}
	return factory, nil
}

func bindingNames() []string {
	names := make([]string, 0, len(registry.bindings))
	for name := range registry.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
