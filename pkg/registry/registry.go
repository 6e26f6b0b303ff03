// Package registry is the tool registry: a catalog of every tool the MCP
// server exposes, keyed by canonical name. Tools are global, not
// per-tenant — the catalog is the same for every tenant, and tenant
// scoping happens inside each tool's handler.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/pierre-mcp/pierre/pkg/tooling"
)

// ErrToolNotFound is returned by Lookup when no entry matches the name.
var ErrToolNotFound = errors.New("registry: tool not found")

// Handler executes a tool call once params have been validated.
type Handler func(ctx context.Context, params []byte) ([]byte, error)

// Entry couples a tool's descriptor with its handler.
type Entry struct {
	Descriptor tooling.Descriptor
	Handler    Handler
}

// Filter narrows List results. A zero-value Filter matches everything.
type Filter struct {
	Category string
	// Scopes, when non-nil, restricts the result to tools whose required
	// scopes are a subset of Scopes — "what can this principal see".
	Scopes []string
}

// Catalog is the tool registry's read/write surface.
type Catalog interface {
	// Register adds or replaces an entry. The descriptor must already be
	// schema-valid (tooling.Descriptor.Validate).
	Register(entry Entry) error
	// Lookup finds an entry by canonical name, ErrToolNotFound on miss.
	Lookup(name string) (Entry, error)
	// List returns catalog entries matching filter, ordered by name.
	List(filter Filter) []Entry
}

// InMemoryCatalog is the canonical, process-local Catalog implementation.
// Built once at startup from the compiled-in tool set and held for the
// life of the process; this is the catalog the dispatcher actually calls.
type InMemoryCatalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewInMemoryCatalog creates an empty catalog.
func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{entries: make(map[string]Entry)}
}

func (c *InMemoryCatalog) Register(entry Entry) error {
	if entry.Descriptor.Name == "" {
		return errors.New("registry: entry name is required")
	}
	if entry.Handler == nil {
		return errors.New("registry: entry handler is required")
	}
	if err := entry.Descriptor.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Descriptor.Name] = entry
	return nil
}

func (c *InMemoryCatalog) Lookup(name string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return Entry{}, ErrToolNotFound
	}
	return e, nil
}

func (c *InMemoryCatalog) List(filter Filter) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if filter.Category != "" && e.Descriptor.Category != filter.Category {
			continue
		}
		if filter.Scopes != nil && !scopesSatisfy(filter.Scopes, e.Descriptor.RequiredScopes) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor.Name < out[j].Descriptor.Name })
	return out
}

// scopesSatisfy reports whether every scope the tool requires is present
// in the principal's available scopes.
func scopesSatisfy(available, required []string) bool {
	have := make(map[string]bool, len(available))
	for _, s := range available {
		have[s] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}
