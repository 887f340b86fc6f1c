package ehr

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Gateway from an adapter-specific DSN or path. Adapters
// register themselves so the service can select one by configuration.
type Factory func(dsn string) (Gateway, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds an adapter factory under the given name. Panics on a
// duplicate name; registration happens at init time where a panic is the
// right failure mode.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if name == "" {
		panic("ehr adapter name cannot be empty")
	}
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("ehr adapter %q already registered", name))
	}
	registry[name] = f
}

// Open builds a Gateway by adapter name.
func Open(name, dsn string) (Gateway, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown ehr adapter %q (registered: %v)", name, Names())
	}
	return f(dsn)
}

// Names returns the registered adapter names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("memory", func(string) (Gateway, error) {
		return NewMemory(), nil
	})
}
