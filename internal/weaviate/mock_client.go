package weaviate

import (
	"context"
	"sort"
	"strings"

	"github.com/kilupskalvis/wvsync/internal/models"
)

// Call is one recorded MockClient invocation
type Call struct {
	Op         string // "index", "delete" or "search"
	Collection string
	ID         string
}

// MockClient is a mock implementation of DocumentClient for testing.
type MockClient struct {
	// Documents stores documents by collection, then id
	Documents map[string]map[string]models.Document
	// Calls records every invocation in order
	Calls []Call
	// Results can be set to return specific search results per collection
	Results map[string]*models.SearchResult
	// Err can be set to make methods return an error
	Err error
	// FailIDs makes Index and Delete fail for the listed document ids
	FailIDs map[string]error
}

// NewMockClient creates a new MockClient for testing.
func NewMockClient() *MockClient {
	return &MockClient{
		Documents: make(map[string]map[string]models.Document),
		Results:   make(map[string]*models.SearchResult),
		FailIDs:   make(map[string]error),
	}
}

// Reset forgets recorded calls
func (m *MockClient) Reset() {
	m.Calls = nil
}

// Index stores a document in the mock index.
func (m *MockClient) Index(ctx context.Context, collection string, doc models.Document) error {
	id := doc.ID()
	m.Calls = append(m.Calls, Call{Op: "index", Collection: collection, ID: id})
	if m.Err != nil {
		return m.Err
	}
	if err := m.FailIDs[id]; err != nil {
		return err
	}
	if m.Documents[collection] == nil {
		m.Documents[collection] = make(map[string]models.Document)
	}
	m.Documents[collection][id] = doc
	return nil
}

// Delete removes a document from the mock index.
func (m *MockClient) Delete(ctx context.Context, collection, id string) error {
	m.Calls = append(m.Calls, Call{Op: "delete", Collection: collection, ID: id})
	if m.Err != nil {
		return m.Err
	}
	if err := m.FailIDs[id]; err != nil {
		return err
	}
	delete(m.Documents[collection], id)
	return nil
}

// Search returns Results[collection] when set. Otherwise it returns the stored
// documents containing the query text, ordered by id.
func (m *MockClient) Search(ctx context.Context, collection string, q models.Query) (*models.SearchResult, error) {
	m.Calls = append(m.Calls, Call{Op: "search", Collection: collection})
	if m.Err != nil {
		return nil, m.Err
	}
	if r, ok := m.Results[collection]; ok {
		return r, nil
	}

	ids := make([]string, 0, len(m.Documents[collection]))
	for id := range m.Documents[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := &models.SearchResult{}
	for _, id := range ids {
		doc := m.Documents[collection][id]
		if q.Text != "" && !matches(doc, q.Text) {
			continue
		}
		result.Hits = append(result.Hits, models.Hit{Document: doc, Score: 1})
	}
	return result, nil
}

func matches(doc models.Document, text string) bool {
	for _, v := range doc {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), strings.ToLower(text)) {
			return true
		}
	}
	return false
}

// Verify MockClient implements DocumentClient
var _ DocumentClient = (*MockClient)(nil)
