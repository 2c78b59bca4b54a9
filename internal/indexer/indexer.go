// Package indexer captures store mutations and mirrors them into the search index.
//
// An Indexer is attached to a store as its Subscriber. Each store transaction gets
// its own Batch, which classifies the lifecycle events of the transaction, stages
// index, update and delete operations, and issues them in one flush after commit.
package indexer

import (
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/wvsync/internal/journal"
	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/kilupskalvis/wvsync/internal/registry"
	"github.com/kilupskalvis/wvsync/internal/store"
	"github.com/kilupskalvis/wvsync/internal/transform"
	"github.com/kilupskalvis/wvsync/internal/weaviate"
)

// relatedKey identifies one (child type, parent collection) refresh rule
type relatedKey struct {
	child      models.EntityType
	collection string
}

// Indexer creates a Batch for every store transaction.
type Indexer struct {
	registry    *registry.Registry
	transformer *transform.Transformer
	client      weaviate.DocumentClient
	journal     *journal.Journal
	logger      *slog.Logger

	related map[models.EntityType][]string
	// reverse maps a refresh rule to the association field on the parent
	// entity type that points back to the child type.
	reverse map[relatedKey]string
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithRelatedEntities declares which collections must be refreshed when an
// unindexed entity type changes.
func WithRelatedEntities(related map[models.EntityType][]string) Option {
	return func(ix *Indexer) {
		ix.related = related
	}
}

// WithJournal records operations the client rejects during a flush.
func WithJournal(j *journal.Journal) Option {
	return func(ix *Indexer) {
		ix.journal = j
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// New creates an Indexer and resolves every related-entity rule against the
// store's association metadata. A rule whose parent type has no association
// back to the child is logged and ignored.
func New(reg *registry.Registry, tr *transform.Transformer, client weaviate.DocumentClient, schema *store.Schema, opts ...Option) (*Indexer, error) {
	ix := &Indexer{
		registry:    reg,
		transformer: tr,
		client:      client,
		logger:      slog.Default(),
		reverse:     make(map[relatedKey]string),
	}
	for _, opt := range opts {
		opt(ix)
	}

	for child, collections := range ix.related {
		for _, key := range collections {
			def, err := reg.GetDefinition(key)
			if err != nil {
				return nil, fmt.Errorf("related entity %s: %w", child, err)
			}

			field, ok := backReference(schema, def.Entity, child)
			if !ok {
				ix.logger.Warn("no association back to related entity, refresh rule ignored",
					"entity", child, "collection", key, "parent", def.Entity)
				continue
			}
			ix.reverse[relatedKey{child: child, collection: key}] = field
		}
	}
	return ix, nil
}

// backReference finds the first association field of parent targeting child
func backReference(schema *store.Schema, parent, child models.EntityType) (string, bool) {
	for _, a := range schema.AssociationsOf(parent) {
		if a.Target == child {
			return a.Field, true
		}
	}
	return "", false
}

// BeginTx creates the batch for a new transaction. Reads go through q.
func (ix *Indexer) BeginTx(q store.Querier) store.Hooks {
	return newBatch(ix, q)
}

var _ store.Subscriber = (*Indexer)(nil)
