// Package finder runs searches against one collection and hydrates the hits
// back into store records, preserving relevance order.
package finder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kilupskalvis/wvsync/internal/metrics"
	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/kilupskalvis/wvsync/internal/weaviate"
)

// Repository bulk-loads entities by attribute value, e.g. a store.Querier
type Repository interface {
	FindByAttributeIn(ctx context.Context, typ models.EntityType, attr string, keys []interface{}) ([]*models.Entity, error)
}

// Finder is the read path of one collection.
type Finder struct {
	client     weaviate.DocumentClient
	repo       Repository
	definition *models.CollectionDefinition
	logger     *slog.Logger
}

// New creates a Finder for the given collection.
func New(client weaviate.DocumentClient, repo Repository, definition *models.CollectionDefinition) *Finder {
	return &Finder{
		client:     client,
		repo:       repo,
		definition: definition,
		logger:     slog.Default(),
	}
}

// WithLogger returns the finder with a different logger
func (f *Finder) WithLogger(logger *slog.Logger) *Finder {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// RawQuery runs q and returns the unhydrated response.
// Without explicit fields every non-primary document field is requested.
func (f *Finder) RawQuery(ctx context.Context, q models.Query) (*models.SearchResponse, error) {
	if len(q.Fields) == 0 {
		q.Fields = f.definition.DocumentFields()
	}
	raw, err := f.client.Search(ctx, f.definition.IndexName, q)
	if err != nil {
		return nil, err
	}
	return models.NewSearchResponse(raw), nil
}

// Query runs q and hydrates the response.
func (f *Finder) Query(ctx context.Context, q models.Query) (*models.SearchResponse, error) {
	r, err := f.RawQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	return f.HydrateResponse(ctx, r)
}

// HydrateResponse loads the store records of r's hits with a single query and
// stores them in hit order. Hits without a matching record are left out.
// r is left untouched when the store query fails.
func (f *Finder) HydrateResponse(ctx context.Context, r *models.SearchResponse) (*models.SearchResponse, error) {
	pk, err := f.definition.PrimaryKey()
	if err != nil {
		return nil, err
	}

	keys := hitKeys(r.Results(), pk.DocumentAttribute)
	if len(keys) == 0 {
		r.HydratedHits = []*models.Entity{}
		r.Hydrated = true
		return r, nil
	}

	position := make(map[string]int, len(keys))
	args := make([]interface{}, 0, len(keys))
	for i, k := range keys {
		if _, dup := position[k]; dup {
			continue
		}
		position[k] = i
		args = append(args, k)
	}

	records, err := f.repo.FindByAttributeIn(ctx, f.definition.Entity, pk.EntityAttribute, args)
	if err != nil {
		return nil, fmt.Errorf("hydrate %s: %w", f.definition.IndexName, err)
	}

	hydrated := make([]*models.Entity, 0, len(records))
	for _, rec := range records {
		v, _ := rec.Get(pk.EntityAttribute)
		if _, ok := position[models.KeyString(v)]; ok {
			hydrated = append(hydrated, rec)
		}
	}
	sort.SliceStable(hydrated, func(i, j int) bool {
		vi, _ := hydrated[i].Get(pk.EntityAttribute)
		vj, _ := hydrated[j].Get(pk.EntityAttribute)
		return position[models.KeyString(vi)] < position[models.KeyString(vj)]
	})

	if missing := len(args) - len(hydrated); missing > 0 {
		metrics.HydrationMissesTotal.WithLabelValues(f.definition.IndexName).Add(float64(missing))
		f.logger.Debug("search hits without store record",
			"collection", f.definition.IndexName, "missing", missing)
	}

	r.HydratedHits = hydrated
	r.Hydrated = true
	return r, nil
}

// hitKeys extracts the primary key of every hit in order. A hit that does not
// carry the primary document attribute falls back to its id.
func hitKeys(hits []models.Hit, attr string) []string {
	keys := make([]string, 0, len(hits))
	for _, h := range hits {
		k := models.KeyString(h.Document[attr])
		if k == "" {
			k = h.Document.ID()
		}
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
