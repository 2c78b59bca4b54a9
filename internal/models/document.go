package models

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DocumentIDField is the document attribute holding the resolved primary key
const DocumentIDField = "id"

// Document is the flat payload sent to the search index
type Document map[string]interface{}

// ID returns the resolved primary key of the document
func (d Document) ID() string {
	return KeyString(d[DocumentIDField])
}

// OperationKind is the kind of a pending index operation
type OperationKind string

const (
	OperationIndex  OperationKind = "index"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// PendingOperation is one staged write against the search index
type PendingOperation struct {
	Kind       OperationKind `json:"kind"`
	Collection string        `json:"collection"`
	ID         string        `json:"id"`
	Document   Document      `json:"document,omitempty"`
}

// KeyString normalizes an identifier to its canonical string form so that keys
// read from search hits compare equal to keys read from the store.
func KeyString(v interface{}) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	case []byte:
		return string(k)
	case uuid.UUID:
		return k.String()
	case *uuid.UUID:
		if k == nil {
			return ""
		}
		return k.String()
	case int:
		return strconv.Itoa(k)
	case int32:
		return strconv.FormatInt(int64(k), 10)
	case int64:
		return strconv.FormatInt(k, 10)
	case uint64:
		return strconv.FormatUint(k, 10)
	case float64:
		if k == math.Trunc(k) && math.Abs(k) < 1<<53 {
			return strconv.FormatInt(int64(k), 10)
		}
		return strconv.FormatFloat(k, 'f', -1, 64)
	case time.Time:
		return k.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return k.String()
	default:
		return fmt.Sprint(v)
	}
}
