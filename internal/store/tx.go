package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/kilupskalvis/wvsync/internal/models"
)

// ErrTxDone is returned when a finished transaction is used again
var ErrTxDone = errors.New("transaction already finished")

// FlushError reports that a transaction committed but its hooks failed to flush.
type FlushError struct {
	Err error
}

func (e *FlushError) Error() string {
	return "index flush: " + e.Err.Error()
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// Hooks receives the lifecycle events of a single transaction.
// Events for one transaction are delivered sequentially; Flush runs once after
// a successful commit and Discard once after a rollback.
type Hooks interface {
	AfterInsert(ctx context.Context, ev *models.Event) error
	AfterUpdate(ctx context.Context, ev *models.Event) error
	BeforeDelete(ctx context.Context, ev *models.Event) error
	AfterDelete(ctx context.Context, ev *models.Event) error
	Flush(ctx context.Context) error
	Discard()
}

// Subscriber creates the hooks for each new transaction.
// q reads through the transaction, so uncommitted rows are visible.
type Subscriber interface {
	BeginTx(q Querier) Hooks
}

// Tx is a store transaction that emits lifecycle events
type Tx struct {
	querier
	tx    *sql.Tx
	hooks Hooks
	seq   uint64
	done  bool
}

func (t *Tx) event(e *models.Entity) *models.Event {
	t.seq++
	return &models.Event{Seq: t.seq, Entity: e}
}

func (t *Tx) check() error {
	if t.done {
		return ErrTxDone
	}
	return nil
}

// sortedColumns returns the entity's attribute names, excluding skip, in stable order
func sortedColumns(e *models.Entity, skip string) ([]string, error) {
	cols := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		if k == skip {
			continue
		}
		if err := checkIdent(k); err != nil {
			return nil, err
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

// Insert writes a new entity and assigns its primary key when missing
func (t *Tx) Insert(ctx context.Context, e *models.Entity) error {
	if err := t.check(); err != nil {
		return err
	}
	meta, err := t.schema.Meta(e.Type)
	if err != nil {
		return err
	}
	e.PK = meta.PrimaryKey

	if e.ID() == nil && meta.KeyType == KeyUUID {
		e.Set(meta.PrimaryKey, uuid.New())
	}

	skip := ""
	if e.ID() == nil {
		skip = meta.PrimaryKey
	}
	cols, err := sortedColumns(e, skip)
	if err != nil {
		return err
	}

	quoted := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		args[i] = e.Attrs[c]
	}

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quote(meta.Table))
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quote(meta.Table), strings.Join(quoted, ", "), placeholders(len(cols)))
	}

	switch {
	case e.ID() != nil:
		if _, err := t.tx.ExecContext(ctx, t.rebind(query), args...); err != nil {
			return fmt.Errorf("insert %s: %w", e.Type, err)
		}
	case t.driver == DriverPostgres:
		var id int64
		query += " RETURNING " + quote(meta.PrimaryKey)
		if err := t.tx.QueryRowContext(ctx, t.rebind(query), args...).Scan(&id); err != nil {
			return fmt.Errorf("insert %s: %w", e.Type, err)
		}
		e.Set(meta.PrimaryKey, id)
	default:
		res, err := t.tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("insert %s: %w", e.Type, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert %s: %w", e.Type, err)
		}
		e.Set(meta.PrimaryKey, id)
	}

	if t.hooks == nil {
		return nil
	}
	return t.hooks.AfterInsert(ctx, t.event(e))
}

// Update rewrites all non-key attributes of an existing entity
func (t *Tx) Update(ctx context.Context, e *models.Entity) error {
	if err := t.check(); err != nil {
		return err
	}
	meta, err := t.schema.Meta(e.Type)
	if err != nil {
		return err
	}
	e.PK = meta.PrimaryKey
	if e.ID() == nil {
		return fmt.Errorf("update %s: missing primary key %s", e.Type, meta.PrimaryKey)
	}

	cols, err := sortedColumns(e, meta.PrimaryKey)
	if err != nil {
		return err
	}

	if len(cols) > 0 {
		sets := make([]string, len(cols))
		args := make([]interface{}, 0, len(cols)+1)
		for i, c := range cols {
			sets[i] = quote(c) + " = ?"
			args = append(args, e.Attrs[c])
		}
		args = append(args, e.ID())

		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
			quote(meta.Table), strings.Join(sets, ", "), quote(meta.PrimaryKey))
		res, err := t.tx.ExecContext(ctx, t.rebind(query), args...)
		if err != nil {
			return fmt.Errorf("update %s: %w", e.Type, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update %s %v: %w", e.Type, e.ID(), ErrNotFound)
		}
	}

	if t.hooks == nil {
		return nil
	}
	return t.hooks.AfterUpdate(ctx, t.event(e))
}

// Delete removes an entity. BeforeDelete observes the entity while its row
// and associations still exist.
func (t *Tx) Delete(ctx context.Context, e *models.Entity) error {
	if err := t.check(); err != nil {
		return err
	}
	meta, err := t.schema.Meta(e.Type)
	if err != nil {
		return err
	}
	e.PK = meta.PrimaryKey
	if e.ID() == nil {
		return fmt.Errorf("delete %s: missing primary key %s", e.Type, meta.PrimaryKey)
	}

	ev := t.event(e)
	if t.hooks != nil {
		if err := t.hooks.BeforeDelete(ctx, ev); err != nil {
			return err
		}
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(meta.Table), quote(meta.PrimaryKey))
	res, err := t.tx.ExecContext(ctx, t.rebind(query), e.ID())
	if err != nil {
		return fmt.Errorf("delete %s: %w", e.Type, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete %s %v: %w", e.Type, e.ID(), ErrNotFound)
	}

	if t.hooks == nil {
		return nil
	}
	return t.hooks.AfterDelete(ctx, ev)
}

// Link adds target to owner's many-to-many association field
func (t *Tx) Link(ctx context.Context, owner *models.Entity, field string, target *models.Entity) error {
	return t.linkOp(ctx, owner, field, target, "INSERT INTO %s (%s, %s) VALUES (?, ?)")
}

// Unlink removes target from owner's many-to-many association field
func (t *Tx) Unlink(ctx context.Context, owner *models.Entity, field string, target *models.Entity) error {
	return t.linkOp(ctx, owner, field, target, "DELETE FROM %s WHERE %s = ? AND %s = ?")
}

func (t *Tx) linkOp(ctx context.Context, owner *models.Entity, field string, target *models.Entity, format string) error {
	if err := t.check(); err != nil {
		return err
	}
	meta, err := t.schema.Meta(owner.Type)
	if err != nil {
		return err
	}
	assoc, ok := meta.Association(field)
	if !ok {
		return fmt.Errorf("%s has no association %s", owner.Type, field)
	}
	if assoc.JoinTable == "" {
		return fmt.Errorf("%s.%s is not a many-to-many association", owner.Type, field)
	}
	if assoc.Target != target.Type {
		return fmt.Errorf("%s.%s expects %s, got %s", owner.Type, field, assoc.Target, target.Type)
	}
	if owner.ID() == nil || target.ID() == nil {
		return fmt.Errorf("link %s.%s: both entities must be persisted", owner.Type, field)
	}

	query := fmt.Sprintf(format, quote(assoc.JoinTable), quote(assoc.OwnerColumn), quote(assoc.TargetColumn))
	if _, err := t.tx.ExecContext(ctx, t.rebind(query), owner.ID(), target.ID()); err != nil {
		return fmt.Errorf("%s.%s: %w", owner.Type, field, err)
	}

	if t.hooks == nil {
		return nil
	}
	return t.hooks.AfterUpdate(ctx, t.event(owner))
}

// Commit commits the transaction, then flushes the hooks.
// A flush failure is returned as *FlushError; the data is committed regardless.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true

	if err := t.tx.Commit(); err != nil {
		if t.hooks != nil {
			t.hooks.Discard()
		}
		return fmt.Errorf("failed to commit: %w", err)
	}

	if t.hooks == nil {
		return nil
	}
	if err := t.hooks.Flush(ctx); err != nil {
		return &FlushError{Err: err}
	}
	return nil
}

// Rollback aborts the transaction and discards pending hook state
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true

	err := t.tx.Rollback()
	if t.hooks != nil {
		t.hooks.Discard()
	}
	return err
}
