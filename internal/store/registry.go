// Package store is a small document store over a key/value backend.
// Entities must be registered with a Schema before they can be queried.
package store

import (
	"fmt"
	"sort"
	"sync"
)

// CardsEntity is the entity holding card metadata documents.
const CardsEntity = "cards"

// Schema describes how documents of one entity are keyed and indexed.
type Schema struct {
	Entity  string
	Key     string   // document field holding the primary id
	Indexes []string // fields maintained as secondary index sets
}

func (s Schema) indexed(field string) bool {
	for _, f := range s.Indexes {
		if f == field {
			return true
		}
	}
	return false
}

// SchemaNotFoundError is returned for entities missing from the registry.
type SchemaNotFoundError struct {
	Entity string
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("schema not found for entity %q", e.Entity)
}

// Registry maps entity names to schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry returns a registry holding schemas.
func NewRegistry(schemas ...Schema) *Registry {
	r := &Registry{schemas: make(map[string]Schema, len(schemas))}
	for _, s := range schemas {
		r.Register(s)
	}
	return r
}

// DefaultRegistry registers the cards entity keyed and indexed by id.
func DefaultRegistry() *Registry {
	return NewRegistry(Schema{Entity: CardsEntity, Key: "id", Indexes: []string{"id"}})
}

// Register adds or replaces a schema. An empty Key defaults to "id".
func (r *Registry) Register(s Schema) {
	if s.Key == "" {
		s.Key = "id"
	}
	r.mu.Lock()
	r.schemas[s.Entity] = s
	r.mu.Unlock()
}

// Lookup returns the schema for entity.
func (r *Registry) Lookup(entity string) (Schema, error) {
	r.mu.RLock()
	s, ok := r.schemas[entity]
	r.mu.RUnlock()
	if !ok {
		return Schema{}, &SchemaNotFoundError{Entity: entity}
	}
	return s, nil
}

// Entities lists registered entity names in sorted order.
func (r *Registry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
