// Package transform converts store entities into search documents.
package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/kilupskalvis/wvsync/internal/registry"
)

// Source resolves associations of an entity, e.g. a store.Querier
type Source interface {
	FindAssociated(ctx context.Context, e *models.Entity, field string) ([]*models.Entity, error)
}

// Transformer builds documents according to collection field definitions
type Transformer struct {
	registry *registry.Registry
}

// New creates a Transformer
func New(reg *registry.Registry) *Transformer {
	return &Transformer{registry: reg}
}

// Convert builds the document for e. The resolved primary key is always stored under "id".
func (t *Transformer) Convert(ctx context.Context, src Source, e *models.Entity) (models.Document, error) {
	def, ok := t.registry.ForType(e.Type)
	if !ok {
		return nil, fmt.Errorf("entity type %s is not indexed", e.Type)
	}

	doc := make(models.Document, len(def.Fields)+1)
	for _, f := range def.Fields {
		values, err := resolve(ctx, src, e, f.Attribute())
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.Key, f.Name, err)
		}

		value, err := convertField(f.Type, values)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.Key, f.Name, err)
		}

		if f.Type == models.FieldPrimary {
			if value == nil {
				return nil, fmt.Errorf("%s: entity has no value for primary key %s", def.Key, f.Attribute())
			}
			doc[models.DocumentIDField] = value
		}
		if value == nil && f.Optional {
			continue
		}
		doc[f.Name] = value
	}
	return doc, nil
}

// resolve reads attr from e. A dotted attribute "assoc.attr" follows an association
// and collects attr from every associated entity.
func resolve(ctx context.Context, src Source, e *models.Entity, attr string) ([]interface{}, error) {
	field, rest, nested := strings.Cut(attr, ".")
	if !nested {
		v, _ := e.Get(attr)
		return []interface{}{v}, nil
	}
	if src == nil {
		return nil, fmt.Errorf("cannot follow association %s without a source", field)
	}

	related, err := src.FindAssociated(ctx, e, field)
	if err != nil {
		return nil, err
	}

	var values []interface{}
	for _, r := range related {
		vs, err := resolve(ctx, src, r, rest)
		if err != nil {
			return nil, err
		}
		values = append(values, vs...)
	}
	return values, nil
}

func first(values []interface{}) interface{} {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

func convertField(ft models.FieldType, values []interface{}) (interface{}, error) {
	switch ft {
	case models.FieldStringList, models.FieldCollection:
		out := make([]string, 0, len(values))
		for _, v := range values {
			if v != nil {
				out = append(out, models.KeyString(v))
			}
		}
		return out, nil
	}

	v := first(values)
	if v == nil {
		return nil, nil
	}

	switch ft {
	case models.FieldPrimary, models.FieldString:
		return models.KeyString(v), nil
	case models.FieldInt32, models.FieldInt64:
		return toInt64(v)
	case models.FieldFloat:
		return toFloat64(v)
	case models.FieldBool:
		return toBool(v)
	case models.FieldDatetime:
		ts, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return ts.Unix(), nil
	default:
		return v, nil
	}
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to float", v)
}

func toBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case int:
		return b != 0, nil
	case string:
		return strconv.ParseBool(b)
	}
	return false, fmt.Errorf("cannot convert %T to bool", v)
}

var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case int64:
		return time.Unix(t, 0), nil
	case string:
		for _, f := range timeFormats {
			if ts, err := time.Parse(f, t); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized datetime %q", t)
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to datetime", v)
}
