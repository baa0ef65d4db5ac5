package trainer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownKind is returned by New for a kind no constructor was
// registered under.
var ErrUnknownKind = errors.New("unknown trainer kind")

// Constructor builds a trainer from its dependencies.
type Constructor func(deps Deps) (Trainer, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register makes a trainer kind available to New. Registering the
// same name twice panics; kinds are wired once at init time.
func Register(kind string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[kind]; exists {
		panic(fmt.Sprintf("trainer kind %q registered twice", kind))
	}
	registry[kind] = c
}

// Registered reports whether a constructor exists for kind.
func Registered(kind string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()

	_, ok := registry[kind]
	return ok
}

// Kinds lists the registered trainer kinds, sorted.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	return kinds
}

// New constructs the trainer registered under kind. Unknown kinds
// fail immediately, before any data or model work happens.
func New(kind string, deps Deps) (Trainer, error) {
	registryMu.RLock()
	c, ok := registry[kind]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownKind, kind, strings.Join(Kinds(), ", "))
	}

	return c(deps)
}
