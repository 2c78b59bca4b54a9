package store

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/kilupskalvis/wvsync/internal/models"
)

// KeyType is the Go representation of an entity's primary key
type KeyType string

const (
	KeyInt    KeyType = "int"
	KeyUUID   KeyType = "uuid"
	KeyString KeyType = "string"
)

// ErrUnknownEntity is returned for entity types missing from the schema
var ErrUnknownEntity = errors.New("unknown entity type")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EntityMeta describes the table backing an entity type
type EntityMeta struct {
	Type         models.EntityType
	Table        string
	PrimaryKey   string
	KeyType      KeyType
	Associations []models.Association
}

// Association returns the association declared under field
func (m *EntityMeta) Association(field string) (models.Association, bool) {
	for _, a := range m.Associations {
		if a.Field == field {
			return a, true
		}
	}
	return models.Association{}, false
}

// Schema is the set of entity types known to the store
type Schema struct {
	entities map[models.EntityType]*EntityMeta
}

// NewSchema validates entity metadata and builds a schema.
// Identifiers are restricted to [A-Za-z_][A-Za-z0-9_]* since they are spliced into SQL.
func NewSchema(metas ...*EntityMeta) (*Schema, error) {
	s := &Schema{entities: make(map[models.EntityType]*EntityMeta, len(metas))}

	for _, m := range metas {
		if m.Type == "" {
			return nil, fmt.Errorf("entity type is required")
		}
		if _, dup := s.entities[m.Type]; dup {
			return nil, fmt.Errorf("entity %s declared twice", m.Type)
		}
		if m.PrimaryKey == "" {
			m.PrimaryKey = models.DefaultPrimaryKey
		}
		if m.KeyType == "" {
			m.KeyType = KeyInt
		}
		switch m.KeyType {
		case KeyInt, KeyUUID, KeyString:
		default:
			return nil, fmt.Errorf("entity %s: unsupported key type %q", m.Type, m.KeyType)
		}
		if err := checkIdent(m.Table, m.PrimaryKey); err != nil {
			return nil, fmt.Errorf("entity %s: %w", m.Type, err)
		}
		s.entities[m.Type] = m
	}

	for _, m := range s.entities {
		for _, a := range m.Associations {
			if err := s.checkAssociation(a); err != nil {
				return nil, fmt.Errorf("entity %s association %s: %w", m.Type, a.Field, err)
			}
		}
	}
	return s, nil
}

func (s *Schema) checkAssociation(a models.Association) error {
	if a.Field == "" {
		return fmt.Errorf("field is required")
	}
	if _, ok := s.entities[a.Target]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, a.Target)
	}

	kinds := 0
	for _, set := range []bool{a.Column != "", a.MappedBy != "", a.JoinTable != ""} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return fmt.Errorf("exactly one of column, mapped_by or join_table must be set")
	}

	switch {
	case a.Column != "":
		return checkIdent(a.Column)
	case a.MappedBy != "":
		return checkIdent(a.MappedBy)
	default:
		return checkIdent(a.JoinTable, a.OwnerColumn, a.TargetColumn)
	}
}

func checkIdent(names ...string) error {
	for _, n := range names {
		if !identRe.MatchString(n) {
			return fmt.Errorf("invalid identifier %q", n)
		}
	}
	return nil
}

// Meta returns the metadata of an entity type
func (s *Schema) Meta(typ models.EntityType) (*EntityMeta, error) {
	m, ok := s.entities[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, typ)
	}
	return m, nil
}

// AssociationsOf returns the associations declared on an entity type
func (s *Schema) AssociationsOf(typ models.EntityType) []models.Association {
	m, ok := s.entities[typ]
	if !ok {
		return nil
	}
	return m.Associations
}

// Types returns all entity types in sorted order
func (s *Schema) Types() []models.EntityType {
	types := make([]models.EntityType, 0, len(s.entities))
	for t := range s.entities {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
