package worker

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ClientSpec)
)

// Register makes a client spec available under name, so a re-executed binary
// can find it. It panics on duplicates, like http.Handle.
func Register(name string, spec ClientSpec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("worker: client %q registered twice", name))
	}
	registry[name] = spec
}

// Lookup returns the spec registered under name.
func Lookup(name string) (ClientSpec, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	spec, ok := registry[name]
	if !ok {
		return ClientSpec{}, fmt.Errorf("no worker client registered as %q (known: %v)", name, registeredNames())
	}
	return spec, nil
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
