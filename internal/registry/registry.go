// Package registry holds the collection definitions: which entity types are
// indexed, under which collection, with which fields.
package registry

import (
	"fmt"
	"sort"

	"github.com/kilupskalvis/wvsync/internal/models"
)

// Registry is the read-only set of collection definitions
type Registry struct {
	defs    map[string]*models.CollectionDefinition
	byType  map[models.EntityType]*models.CollectionDefinition
	byIndex map[string]*models.CollectionDefinition
}

// New builds a registry. Every managed entity type must map to exactly one
// collection, and no two collections may share an index name.
func New(defs map[string]models.CollectionDefinition) (*Registry, error) {
	r := &Registry{
		defs:    make(map[string]*models.CollectionDefinition, len(defs)),
		byType:  make(map[models.EntityType]*models.CollectionDefinition, len(defs)),
		byIndex: make(map[string]*models.CollectionDefinition, len(defs)),
	}

	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		def := defs[key]
		def.Key = key
		if def.IndexName == "" {
			def.IndexName = key
		}
		if def.Entity == "" {
			return nil, fmt.Errorf("collection %s: entity is required", key)
		}
		if other, dup := r.byType[def.Entity]; dup {
			return nil, fmt.Errorf("entity %s is mapped by both %s and %s", def.Entity, other.Key, key)
		}
		if other, dup := r.byIndex[def.IndexName]; dup {
			return nil, fmt.Errorf("index %s is used by both %s and %s", def.IndexName, other.Key, key)
		}
		r.defs[key] = &def
		r.byType[def.Entity] = &def
		r.byIndex[def.IndexName] = &def
	}
	return r, nil
}

// ListManagedEntityTypes returns the indexed entity types in sorted order
func (r *Registry) ListManagedEntityTypes() []models.EntityType {
	types := make([]models.EntityType, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// GetDefinitions returns all definitions keyed by collection key
func (r *Registry) GetDefinitions() map[string]*models.CollectionDefinition {
	out := make(map[string]*models.CollectionDefinition, len(r.defs))
	for k, v := range r.defs {
		out[k] = v
	}
	return out
}

// GetDefinition returns the definition stored under key
func (r *Registry) GetDefinition(key string) (*models.CollectionDefinition, error) {
	def, ok := r.defs[key]
	if !ok {
		return nil, fmt.Errorf("unknown collection %s", key)
	}
	return def, nil
}

// ForType returns the definition managing an entity type
func (r *Registry) ForType(typ models.EntityType) (*models.CollectionDefinition, bool) {
	def, ok := r.byType[typ]
	return def, ok
}

// ForIndex returns the definition written to the named index
func (r *Registry) ForIndex(name string) (*models.CollectionDefinition, bool) {
	def, ok := r.byIndex[name]
	return def, ok
}

// IsManaged reports whether an entity type is indexed
func (r *Registry) IsManaged(typ models.EntityType) bool {
	_, ok := r.byType[typ]
	return ok
}
