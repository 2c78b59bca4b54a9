package weaviate

import (
	"context"

	"github.com/kilupskalvis/wvsync/internal/models"
)

// DocumentClient defines the contract for search index operations.
// This interface enables mocking and decorating (retry, metrics) the Weaviate client.
type DocumentClient interface {
	// Index creates or replaces the document stored under doc["id"]
	Index(ctx context.Context, collection string, doc models.Document) error
	// Delete removes a document; deleting a missing document is not an error
	Delete(ctx context.Context, collection, id string) error
	// Search returns hits in relevance order
	Search(ctx context.Context, collection string, q models.Query) (*models.SearchResult, error)
}

// Verify that *Client implements DocumentClient at compile time
var _ DocumentClient = (*Client)(nil)
