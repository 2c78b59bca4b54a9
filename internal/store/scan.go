package store

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/kilupskalvis/wvsync/internal/models"
)

// scanEntities reads every row into an entity of the given type
func scanEntities(rows *sql.Rows, meta *EntityMeta) ([]*models.Entity, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []*models.Entity
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		e := &models.Entity{Type: meta.Type, PK: meta.PrimaryKey, Attrs: make(map[string]interface{}, len(cols))}
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			e.Attrs[col] = v
		}

		if id, ok := e.Attrs[meta.PrimaryKey]; ok && id != nil {
			key, err := coerceKey(meta.KeyType, id)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", meta.Type, err)
			}
			e.Attrs[meta.PrimaryKey] = key
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// coerceKey converts a key to the Go type of the primary key.
// Keys arrive as strings from search hits and as driver values from rows.
func coerceKey(kt KeyType, v interface{}) (interface{}, error) {
	switch kt {
	case KeyUUID:
		switch k := v.(type) {
		case uuid.UUID:
			return k, nil
		case string:
			id, err := uuid.Parse(k)
			if err != nil {
				return nil, fmt.Errorf("invalid uuid key %q: %w", k, err)
			}
			return id, nil
		}
	case KeyInt:
		switch k := v.(type) {
		case int64:
			return k, nil
		case int:
			return int64(k), nil
		case int32:
			return int64(k), nil
		case float64:
			return int64(k), nil
		case string:
			n, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid integer key %q: %w", k, err)
			}
			return n, nil
		}
	case KeyString:
		return models.KeyString(v), nil
	}
	return v, nil
}
