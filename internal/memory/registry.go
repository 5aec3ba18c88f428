package memory

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// BackendEnvVar selects the default backend when no explicit name is given.
const BackendEnvVar = "WC_MEMORY_BACKEND"

// DefaultBackend is used when neither an argument nor the environment names
// a backend.
const DefaultBackend = "null"

// Factory creates a backend from its options. Options are backend-specific
// string settings resolved by the config layer.
type Factory func(opts map[string]string) (Backend, error)

var (
	registryMu      sync.RWMutex
	backendRegistry = make(map[string]Factory)
)

// Register adds a backend factory under name. Later registrations replace
// earlier ones, which lets tests substitute fakes.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backendRegistry[name] = factory
}

// Registered returns the sorted names of all registered backends.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(backendRegistry))
	for name := range backendRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveName picks the backend name from the explicit argument, then the
// WC_MEMORY_BACKEND environment variable, then the default.
func ResolveName(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(BackendEnvVar); env != "" {
		return env
	}
	return DefaultBackend
}

// Open resolves a backend name and invokes its factory. An unknown name is a
// ConfigError listing what is registered.
func Open(name string, opts map[string]string) (Backend, error) {
	resolved := ResolveName(name)

	registryMu.RLock()
	factory, ok := backendRegistry[resolved]
	registryMu.RUnlock()
	if !ok {
		return nil, &ConfigError{
			Msg: fmt.Sprintf("unknown memory backend %q (registered: %v)", resolved, Registered()),
		}
	}
	return factory(opts)
}
