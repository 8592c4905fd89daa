package auth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ValidatorFactory builds a validator from a provider's JSON options.
type ValidatorFactory func(options json.RawMessage) (Validator, error)

var (
	mu        sync.RWMutex
	factories = map[string]ValidatorFactory{}
)

func normalizeProvider(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// RegisterProvider makes a validator provider selectable by name from
// config. Providers register themselves in init; a later registration for
// the same name replaces the earlier one.
func RegisterProvider(name string, factory ValidatorFactory) {
	name = normalizeProvider(name)
	if name == "" || factory == nil {
		panic("auth: RegisterProvider requires a name and a factory")
	}
	mu.Lock()
	factories[name] = factory
	mu.Unlock()
}

// NewValidator builds the validator registered under provider. Empty options
// are passed to the factory as "{}".
func NewValidator(provider string, options json.RawMessage) (Validator, error) {
	mu.RLock()
	factory, ok := factories[normalizeProvider(provider)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown auth provider %q (registered: %s)", provider, strings.Join(ListProviders(), ", "))
	}
	if len(options) == 0 {
		options = json.RawMessage("{}")
	}
	v, err := factory(options)
	if err != nil {
		return nil, fmt.Errorf("auth provider %s: %w", normalizeProvider(provider), err)
	}
	return v, nil
}

// ListProviders returns the registered provider names, sorted.
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
