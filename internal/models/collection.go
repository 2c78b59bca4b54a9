package models

// FieldType is the document type of a collection field
type FieldType string

const (
	FieldPrimary    FieldType = "primary"
	FieldString     FieldType = "string"
	FieldStringList FieldType = "string[]"
	FieldInt32      FieldType = "int32"
	FieldInt64      FieldType = "int64"
	FieldFloat      FieldType = "float"
	FieldBool       FieldType = "bool"
	FieldDatetime   FieldType = "datetime"
	FieldCollection FieldType = "collection"
)

// FieldSpec maps one document attribute to one entity attribute
type FieldSpec struct {
	Name            string    `toml:"name"`
	Type            FieldType `toml:"type"`
	EntityAttribute string    `toml:"entity_attribute"`
	Optional        bool      `toml:"optional,omitempty"`
}

// Attribute returns the entity attribute, defaulting to the document name
func (f FieldSpec) Attribute() string {
	if f.EntityAttribute != "" {
		return f.EntityAttribute
	}
	return f.Name
}

// CollectionDefinition binds a search collection to a store entity type
type CollectionDefinition struct {
	Key       string      `toml:"-"`
	IndexName string      `toml:"index_name"`
	Entity    EntityType  `toml:"entity"`
	Fields    []FieldSpec `toml:"fields"`
}

// PrimaryKeyInfo is the document/entity attribute pair of a collection's primary key
type PrimaryKeyInfo struct {
	DocumentAttribute string
	EntityAttribute   string
}

// PrimaryKey returns the primary key field pair.
// A collection without a primary field is a configuration error.
func (d *CollectionDefinition) PrimaryKey() (PrimaryKeyInfo, error) {
	for _, f := range d.Fields {
		if f.Type == FieldPrimary {
			return PrimaryKeyInfo{DocumentAttribute: f.Name, EntityAttribute: f.Attribute()}, nil
		}
	}
	return PrimaryKeyInfo{}, &ConfigurationError{
		Collection: d.IndexName,
		Reason:     "primary key info have not been found",
	}
}

// DocumentFields returns the names of all non-primary document fields
func (d *CollectionDefinition) DocumentFields() []string {
	names := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		if f.Type == FieldPrimary {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}
