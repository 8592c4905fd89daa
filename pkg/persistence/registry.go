package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// PluginConfig is handed to a plugin factory.
type PluginConfig struct {
	// Options is the provider's JSON options block; "{}" when unset.
	Options json.RawMessage
	// Timezone stamps createdAt/updatedAt on stored records.
	Timezone *time.Location
}

type PluginFactory func(cfg PluginConfig) (PluginPersistence, error)

var (
	mu        sync.RWMutex
	factories = map[string]PluginFactory{}
)

func normalizeProvider(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// RegisterProvider makes a storage plugin selectable by name from config.
func RegisterProvider(name string, factory PluginFactory) {
	name = normalizeProvider(name)
	if name == "" || factory == nil {
		panic("persistence: RegisterProvider requires a name and a factory")
	}
	mu.Lock()
	factories[name] = factory
	mu.Unlock()
}

// Open builds the plugin registered under provider, filling Options and
// Timezone defaults.
func Open(provider string, cfg PluginConfig) (PluginPersistence, error) {
	mu.RLock()
	factory, ok := factories[normalizeProvider(provider)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown persistence provider %q (registered: %s)", provider, strings.Join(ListProviders(), ", "))
	}
	if len(cfg.Options) == 0 {
		cfg.Options = json.RawMessage("{}")
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("persistence provider %s: %w", normalizeProvider(provider), err)
	}
	return p, nil
}

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
