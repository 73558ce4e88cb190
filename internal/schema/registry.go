package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

// Provider builds the schema registered under a name.
type Provider func() *jsonschema.Schema

// Registry maps schema names to providers and caches what they build.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	built     map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		providers: map[string]Provider{},
		built:     map[string]*jsonschema.Schema{},
	}
}

var defaultRegistry = NewRegistry()

// Register installs or replaces provider under name. Names are case
// insensitive.
func (r *Registry) Register(name string, provider Provider) error {
	name = normalizeName(name)
	if name == "" {
		return fmt.Errorf("schema name is required for registration")
	}
	if provider == nil {
		return fmt.Errorf("schema provider is required")
	}
	r.mu.Lock()
	r.providers[name] = provider
	delete(r.built, name)
	r.mu.Unlock()
	return nil
}

// Resolve returns the schema for name, building it on first use.
func (r *Registry) Resolve(name string) (*jsonschema.Schema, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, fmt.Errorf("schema name is required for lookup")
	}

	r.mu.RLock()
	s, ok := r.built[name]
	provider, known := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	if !known {
		return nil, fmt.Errorf("unknown schema %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}

	s = provider()
	r.mu.Lock()
	r.built[name] = s
	r.mu.Unlock()
	return s, nil
}

// Document renders the named schema as indented JSON.
func (r *Registry) Document(name string) ([]byte, error) {
	s, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode schema %q: %w", normalizeName(name), err)
	}
	return payload, nil
}

// Names lists registered schema names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ClearCache drops built schemas so providers run again on next lookup.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	r.built = map[string]*jsonschema.Schema{}
	r.mu.Unlock()
}

func Register(name string, provider Provider) error {
	return defaultRegistry.Register(name, provider)
}

func Resolve(name string) (*jsonschema.Schema, error) {
	return defaultRegistry.Resolve(name)
}

func Document(name string) ([]byte, error) {
	return defaultRegistry.Document(name)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
