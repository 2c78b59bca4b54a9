package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kilupskalvis/wvsync/internal/models"
)

// Querier is the read side shared by Store and Tx
type Querier interface {
	Get(ctx context.Context, typ models.EntityType, id interface{}) (*models.Entity, error)
	FindByAttributeIn(ctx context.Context, typ models.EntityType, attr string, keys []interface{}) ([]*models.Entity, error)
	FindByAssociatedChildID(ctx context.Context, owner models.EntityType, field string, childID interface{}) ([]*models.Entity, error)
	FindAssociated(ctx context.Context, e *models.Entity, field string) ([]*models.Entity, error)
}

var (
	_ Querier = (*Store)(nil)
	_ Querier = (*Tx)(nil)
)

type querier struct {
	conn   dbtx
	driver string
	schema *Schema
}

// quote quotes a validated identifier
func quote(ident string) string {
	return `"` + ident + `"`
}

// rebind rewrites ? placeholders for the postgres driver
func (q *querier) rebind(query string) string {
	if q.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (q *querier) query(ctx context.Context, meta *EntityMeta, query string, args ...interface{}) ([]*models.Entity, error) {
	rows, err := q.conn.QueryContext(ctx, q.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", meta.Type, err)
	}
	defer rows.Close()

	entities, err := scanEntities(rows, meta)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", meta.Type, err)
	}
	return entities, nil
}

// Get loads a single entity by primary key
func (q *querier) Get(ctx context.Context, typ models.EntityType, id interface{}) (*models.Entity, error) {
	meta, err := q.schema.Meta(typ)
	if err != nil {
		return nil, err
	}
	key, err := coerceKey(meta.KeyType, id)
	if err != nil {
		return nil, err
	}

	entities, err := q.query(ctx, meta,
		fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", quote(meta.Table), quote(meta.PrimaryKey)), key)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%s %v: %w", typ, id, ErrNotFound)
	}
	return entities[0], nil
}

// FindByAttributeIn loads all entities whose attribute value is in keys, in no
// particular order. Primary keys that do not parse as the key type are skipped.
func (q *querier) FindByAttributeIn(ctx context.Context, typ models.EntityType, attr string, keys []interface{}) ([]*models.Entity, error) {
	meta, err := q.schema.Meta(typ)
	if err != nil {
		return nil, err
	}
	if err := checkIdent(attr); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		if attr == meta.PrimaryKey {
			// a key of the wrong shape cannot match any row
			if k, err = coerceKey(meta.KeyType, k); err != nil {
				continue
			}
		}
		args = append(args, k)
	}
	if len(args) == 0 {
		return nil, nil
	}

	return q.query(ctx, meta, fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s)",
		quote(meta.Table), quote(attr), placeholders(len(args))), args...)
}

// FindByAssociatedChildID loads every owner entity whose association field
// references the child with the given id.
func (q *querier) FindByAssociatedChildID(ctx context.Context, owner models.EntityType, field string, childID interface{}) ([]*models.Entity, error) {
	meta, err := q.schema.Meta(owner)
	if err != nil {
		return nil, err
	}
	assoc, ok := meta.Association(field)
	if !ok {
		return nil, fmt.Errorf("%s has no association %s", owner, field)
	}
	target, err := q.schema.Meta(assoc.Target)
	if err != nil {
		return nil, err
	}
	id, err := coerceKey(target.KeyType, childID)
	if err != nil {
		return nil, err
	}

	var query string
	switch {
	case assoc.Column != "":
		query = fmt.Sprintf("SELECT p.* FROM %s p WHERE p.%s = ?",
			quote(meta.Table), quote(assoc.Column))
	case assoc.MappedBy != "":
		query = fmt.Sprintf("SELECT p.* FROM %s p JOIN %s c ON c.%s = p.%s WHERE c.%s = ?",
			quote(meta.Table), quote(target.Table), quote(assoc.MappedBy), quote(meta.PrimaryKey), quote(target.PrimaryKey))
	default:
		query = fmt.Sprintf("SELECT p.* FROM %s p JOIN %s j ON j.%s = p.%s WHERE j.%s = ?",
			quote(meta.Table), quote(assoc.JoinTable), quote(assoc.OwnerColumn), quote(meta.PrimaryKey), quote(assoc.TargetColumn))
	}
	return q.query(ctx, meta, query, id)
}

// FindAssociated loads the entities e references through field
func (q *querier) FindAssociated(ctx context.Context, e *models.Entity, field string) ([]*models.Entity, error) {
	meta, err := q.schema.Meta(e.Type)
	if err != nil {
		return nil, err
	}
	assoc, ok := meta.Association(field)
	if !ok {
		return nil, fmt.Errorf("%s has no association %s", e.Type, field)
	}
	target, err := q.schema.Meta(assoc.Target)
	if err != nil {
		return nil, err
	}

	switch {
	case assoc.Column != "":
		fk, _ := e.Get(assoc.Column)
		if fk == nil {
			return nil, nil
		}
		key, err := coerceKey(target.KeyType, fk)
		if err != nil {
			return nil, err
		}
		return q.query(ctx, target, fmt.Sprintf("SELECT * FROM %s WHERE %s = ?",
			quote(target.Table), quote(target.PrimaryKey)), key)
	case assoc.MappedBy != "":
		if e.ID() == nil {
			return nil, nil
		}
		return q.query(ctx, target, fmt.Sprintf("SELECT * FROM %s WHERE %s = ?",
			quote(target.Table), quote(assoc.MappedBy)), e.ID())
	default:
		if e.ID() == nil {
			return nil, nil
		}
		return q.query(ctx, target, fmt.Sprintf("SELECT t.* FROM %s t JOIN %s j ON j.%s = t.%s WHERE j.%s = ?",
			quote(target.Table), quote(assoc.JoinTable), quote(assoc.TargetColumn), quote(target.PrimaryKey), quote(assoc.OwnerColumn)), e.ID())
	}
}
