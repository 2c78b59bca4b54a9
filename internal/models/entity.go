package models

// EntityType is the stable identifier of a store entity type, e.g. "Author".
type EntityType string

// DefaultPrimaryKey is the attribute used when an entity does not name its key.
const DefaultPrimaryKey = "id"

// Entity is a single record of the relational store
type Entity struct {
	Type  EntityType             `json:"type"`
	PK    string                 `json:"pk,omitempty"` // primary key attribute name
	Attrs map[string]interface{} `json:"attrs"`
}

// NewEntity creates an entity of the given type with a copy of attrs
func NewEntity(typ EntityType, attrs map[string]interface{}) *Entity {
	e := &Entity{Type: typ, PK: DefaultPrimaryKey, Attrs: make(map[string]interface{}, len(attrs))}
	for k, v := range attrs {
		e.Attrs[k] = v
	}
	return e
}

// ID returns the primary key value, or nil if the entity has not been persisted yet.
func (e *Entity) ID() interface{} {
	if e == nil || e.Attrs == nil {
		return nil
	}
	pk := e.PK
	if pk == "" {
		pk = DefaultPrimaryKey
	}
	return e.Attrs[pk]
}

// Get returns the value of an attribute
func (e *Entity) Get(attr string) (interface{}, bool) {
	if e == nil || e.Attrs == nil {
		return nil, false
	}
	v, ok := e.Attrs[attr]
	return v, ok
}

// Set assigns an attribute value
func (e *Entity) Set(attr string, value interface{}) {
	if e.Attrs == nil {
		e.Attrs = make(map[string]interface{})
	}
	e.Attrs[attr] = value
}

// Event is a single lifecycle notification emitted by a store transaction.
// Seq is unique within the transaction; both phases of a delete carry the same Seq.
type Event struct {
	Seq    uint64
	Entity *Entity
}

// Association describes a field of an entity type that points to another entity type.
//
// Exactly one of Column, MappedBy or JoinTable is set:
//   - Column: foreign key column on the owner's table (many-to-one)
//   - MappedBy: foreign key column on the target's table referencing the owner (one-to-many)
//   - JoinTable: link table with OwnerColumn and TargetColumn (many-to-many)
type Association struct {
	Field        string     `toml:"field"`
	Target       EntityType `toml:"target"`
	Column       string     `toml:"column,omitempty"`
	MappedBy     string     `toml:"mapped_by,omitempty"`
	JoinTable    string     `toml:"join_table,omitempty"`
	OwnerColumn  string     `toml:"owner_column,omitempty"`
	TargetColumn string     `toml:"target_column,omitempty"`
}
