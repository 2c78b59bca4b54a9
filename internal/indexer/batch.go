package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilupskalvis/wvsync/internal/metrics"
	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/kilupskalvis/wvsync/internal/store"
)

// ErrBatchClosed is returned when a batch is used after Flush or Discard.
var ErrBatchClosed = errors.New("batch already flushed or discarded")

type deletionState int

const (
	deletionStaged    deletionState = iota // pre-delete seen
	deletionConfirmed                      // post-delete seen
	deletionFlushed
	deletionDiscarded
)

func (s deletionState) String() string {
	switch s {
	case deletionStaged:
		return "staged"
	case deletionConfirmed:
		return "confirmed"
	case deletionFlushed:
		return "flushed"
	case deletionDiscarded:
		return "discarded"
	}
	return "unknown"
}

// deletion is one two-phase delete, keyed in the batch by the event sequence.
// A managed entity carries its collection and id; an unmanaged related entity
// carries the parents to refresh once its row is gone.
type deletion struct {
	state      deletionState
	entityType models.EntityType
	collection string
	id         string
	parents    []*models.Entity
}

// Batch holds the pending operations of one transaction.
// It is not safe for concurrent use; the store delivers events sequentially.
type Batch struct {
	ix *Indexer
	q  store.Querier

	toIndex   []models.PendingOperation
	toUpdate  []models.PendingOperation
	toDelete  []models.PendingOperation
	deletions map[uint64]*deletion
	closed    bool
}

func newBatch(ix *Indexer, q store.Querier) *Batch {
	return &Batch{
		ix:        ix,
		q:         q,
		deletions: make(map[uint64]*deletion),
	}
}

// Pending returns the staged operations in flush order.
func (b *Batch) Pending() []models.PendingOperation {
	ops := make([]models.PendingOperation, 0, len(b.toIndex)+len(b.toUpdate)+len(b.toDelete))
	ops = append(ops, b.toIndex...)
	ops = append(ops, b.toUpdate...)
	return append(ops, b.toDelete...)
}

// PendingDeletions returns the number of deletions awaiting flush.
func (b *Batch) PendingDeletions() int {
	return len(b.deletions)
}

// AfterInsert stages an index operation for a managed entity, or refreshes
// the parents of a related one.
func (b *Batch) AfterInsert(ctx context.Context, ev *models.Event) error {
	if b.closed {
		return ErrBatchClosed
	}
	def, ok := b.ix.registry.ForType(ev.Entity.Type)
	if !ok {
		return b.refreshRelated(ctx, ev.Entity)
	}

	doc, err := b.convert(ctx, def, ev.Entity)
	if err != nil {
		return err
	}
	b.stage(models.PendingOperation{
		Kind:       models.OperationIndex,
		Collection: def.IndexName,
		ID:         doc.ID(),
		Document:   doc,
	})
	return nil
}

// AfterUpdate stages an update for a managed entity, or refreshes the parents
// of a related one.
func (b *Batch) AfterUpdate(ctx context.Context, ev *models.Event) error {
	if b.closed {
		return ErrBatchClosed
	}
	if !b.ix.registry.IsManaged(ev.Entity.Type) {
		return b.refreshRelated(ctx, ev.Entity)
	}
	return b.stageUpdate(ctx, ev.Entity)
}

// BeforeDelete resolves the document id while the row and its associations
// still exist, and stages the deletion under the event sequence.
func (b *Batch) BeforeDelete(ctx context.Context, ev *models.Event) error {
	if b.closed {
		return ErrBatchClosed
	}
	e := ev.Entity

	def, ok := b.ix.registry.ForType(e.Type)
	if !ok {
		parents, err := b.relatedParents(ctx, e)
		if err != nil || len(parents) == 0 {
			return err
		}
		b.deletions[ev.Seq] = &deletion{state: deletionStaged, entityType: e.Type, parents: parents}
		return nil
	}

	doc, err := b.convert(ctx, def, e)
	if err != nil {
		return err
	}
	b.deletions[ev.Seq] = &deletion{
		state:      deletionStaged,
		entityType: e.Type,
		collection: def.IndexName,
		id:         doc.ID(),
	}
	return nil
}

// AfterDelete confirms a staged deletion. An event that was never staged is ignored.
func (b *Batch) AfterDelete(ctx context.Context, ev *models.Event) error {
	if b.closed {
		return ErrBatchClosed
	}
	d, ok := b.deletions[ev.Seq]
	if !ok || d.state != deletionStaged {
		return nil
	}
	d.state = deletionConfirmed

	if d.parents != nil {
		for _, p := range d.parents {
			if err := b.stageUpdate(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}

	b.stage(models.PendingOperation{
		Kind:       models.OperationDelete,
		Collection: d.collection,
		ID:         d.id,
	})
	return nil
}

// Flush issues the staged operations: indexes, then updates, then deletes.
// Every operation is attempted and the batch is cleared whatever the outcome.
// Failures are joined into the returned error and recorded in the journal.
func (b *Batch) Flush(ctx context.Context) error {
	if b.closed {
		return ErrBatchClosed
	}
	defer b.close()

	b.settleDeletions()

	var errs []error
	for _, op := range b.Pending() {
		if err := b.apply(ctx, op); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every staged operation without contacting the index.
func (b *Batch) Discard() {
	if b.closed {
		return
	}
	for seq, d := range b.deletions {
		d.state = deletionDiscarded
		b.ix.logger.Debug("deletion discarded on rollback", "seq", seq, "entity", d.entityType, "id", d.id)
	}
	b.close()
}

func (b *Batch) close() {
	b.toIndex = nil
	b.toUpdate = nil
	b.toDelete = nil
	b.deletions = make(map[uint64]*deletion)
	b.closed = true
}

// settleDeletions moves every deletion to its final state. A deletion whose
// post-delete event never arrived is discarded.
func (b *Batch) settleDeletions() {
	for seq, d := range b.deletions {
		if d.state == deletionConfirmed {
			d.state = deletionFlushed
			continue
		}
		d.state = deletionDiscarded
		metrics.DiscardedDeletionsTotal.Inc()
		b.ix.logger.Debug("unconfirmed deletion discarded",
			"seq", seq, "entity", d.entityType, "collection", d.collection, "id", d.id)
	}
}

func (b *Batch) apply(ctx context.Context, op models.PendingOperation) error {
	metrics.FlushedOperationsTotal.WithLabelValues(string(op.Kind)).Inc()

	var err error
	switch op.Kind {
	case models.OperationIndex, models.OperationUpdate:
		err = b.ix.client.Index(ctx, op.Collection, op.Document)
	case models.OperationDelete:
		err = b.ix.client.Delete(ctx, op.Collection, op.ID)
	default:
		err = fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	if err == nil {
		return nil
	}

	err = fmt.Errorf("%s %s/%s: %w", op.Kind, op.Collection, op.ID, err)
	b.ix.logger.Warn("flush operation failed",
		"kind", op.Kind, "collection", op.Collection, "id", op.ID, "error", err)

	if b.ix.journal != nil {
		if _, jerr := b.ix.journal.Record(op, err); jerr != nil {
			return errors.Join(err, jerr)
		}
	}
	return err
}

// stage appends op to its queue. Earlier operations on the same document are
// dropped so each document gets exactly one call reflecting its last change.
func (b *Batch) stage(op models.PendingOperation) {
	b.toIndex = without(b.toIndex, op.Collection, op.ID)
	b.toUpdate = without(b.toUpdate, op.Collection, op.ID)
	b.toDelete = without(b.toDelete, op.Collection, op.ID)

	switch op.Kind {
	case models.OperationIndex:
		b.toIndex = append(b.toIndex, op)
	case models.OperationUpdate:
		b.toUpdate = append(b.toUpdate, op)
	case models.OperationDelete:
		b.toDelete = append(b.toDelete, op)
	}
}

func without(ops []models.PendingOperation, collection, id string) []models.PendingOperation {
	out := ops[:0]
	for _, op := range ops {
		if op.Collection != collection || op.ID != id {
			out = append(out, op)
		}
	}
	return out
}

// stageUpdate converts a managed entity and stages an update for it
func (b *Batch) stageUpdate(ctx context.Context, e *models.Entity) error {
	def, ok := b.ix.registry.ForType(e.Type)
	if !ok {
		return fmt.Errorf("entity type %s is not indexed", e.Type)
	}
	doc, err := b.convert(ctx, def, e)
	if err != nil {
		return err
	}
	b.stage(models.PendingOperation{
		Kind:       models.OperationUpdate,
		Collection: def.IndexName,
		ID:         doc.ID(),
		Document:   doc,
	})
	return nil
}

// convert checks the collection has a primary key, then builds the document.
func (b *Batch) convert(ctx context.Context, def *models.CollectionDefinition, e *models.Entity) (models.Document, error) {
	if _, err := def.PrimaryKey(); err != nil {
		return nil, err
	}
	return b.ix.transformer.Convert(ctx, b.q, e)
}

// refreshRelated stages an update for every indexed parent of e
func (b *Batch) refreshRelated(ctx context.Context, e *models.Entity) error {
	parents, err := b.relatedParents(ctx, e)
	if err != nil {
		return err
	}
	for _, p := range parents {
		if err := b.stageUpdate(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// relatedParents loads the indexed entities associated with the unmanaged
// entity e. An entity without an id has no parents yet.
func (b *Batch) relatedParents(ctx context.Context, e *models.Entity) ([]*models.Entity, error) {
	collections := b.ix.related[e.Type]
	if len(collections) == 0 {
		return nil, nil
	}
	childID := e.ID()
	if childID == nil {
		return nil, nil
	}

	var parents []*models.Entity
	for _, key := range collections {
		field, ok := b.ix.reverse[relatedKey{child: e.Type, collection: key}]
		if !ok {
			continue
		}
		def, err := b.ix.registry.GetDefinition(key)
		if err != nil {
			return nil, err
		}

		found, err := b.q.FindByAssociatedChildID(ctx, def.Entity, field, childID)
		if err != nil {
			return nil, fmt.Errorf("refresh %s for %s %v: %w", key, e.Type, childID, err)
		}
		parents = append(parents, found...)
	}
	return parents, nil
}

var _ store.Hooks = (*Batch)(nil)
