package models

// Query is a search request against one collection
type Query struct {
	Text    string   `json:"q"`
	QueryBy []string `json:"query_by,omitempty"` // properties searched by BM25
	Fields  []string `json:"fields,omitempty"`   // properties returned in hits
	Limit   int      `json:"limit,omitempty"`
	Offset  int      `json:"offset,omitempty"`
}

// Hit is one raw search result
type Hit struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// SearchResult is the raw answer of the search service, ordered by relevance
type SearchResult struct {
	Hits []Hit `json:"hits"`
}

// SearchResponse pairs raw hits with their hydrated store records
type SearchResponse struct {
	Raw          *SearchResult
	HydratedHits []*Entity
	Hydrated     bool
}

// NewSearchResponse wraps a raw search result
func NewSearchResponse(raw *SearchResult) *SearchResponse {
	if raw == nil {
		raw = &SearchResult{}
	}
	return &SearchResponse{Raw: raw}
}

// Results returns the raw hits in relevance order
func (r *SearchResponse) Results() []Hit {
	if r.Raw == nil {
		return nil
	}
	return r.Raw.Hits
}
