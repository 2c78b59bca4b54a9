// Package weaviate provides the search index client backed by Weaviate.
// Documents are stored as objects of a class named after the collection.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	weaviatemodels "github.com/weaviate/weaviate/entities/models"
)

// SourceIDProperty holds the document id; Weaviate reserves "id" for the object uuid.
const SourceIDProperty = "sourceId"

// objectNamespace seeds the name-based object uuids
var objectNamespace = uuid.MustParse("0f6c3c2e-1d4b-5b8e-9a57-6f1f4c2d9b10")

// ServerVersion holds parsed Weaviate version info
type ServerVersion struct {
	Version string // e.g., "1.25.0"
	Major   int
	Minor   int
	Patch   int
}

// parseVersion parses a version string like "1.25.0" into ServerVersion
func parseVersion(version string) (*ServerVersion, error) {
	re := regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)
	matches := re.FindStringSubmatch(version)
	if len(matches) < 4 {
		return nil, fmt.Errorf("invalid version format: %s", version)
	}

	major, _ := strconv.Atoi(matches[1])
	minor, _ := strconv.Atoi(matches[2])
	patch, _ := strconv.Atoi(matches[3])

	return &ServerVersion{
		Version: version,
		Major:   major,
		Minor:   minor,
		Patch:   patch,
	}, nil
}

// SupportsBM25 reports whether the server supports keyword search
func (v *ServerVersion) SupportsBM25() bool {
	return v.Major > 1 || (v.Major == 1 && v.Minor >= 17)
}

// Client wraps the Weaviate client with document-level operations
type Client struct {
	client *weaviate.Client
	url    string
}

// NewClient creates a new Weaviate client
func NewClient(url string) (*Client, error) {
	cfg := weaviate.Config{
		Host:   url,
		Scheme: "http",
	}

	// Handle URL parsing
	if strings.HasPrefix(url, "http://") {
		cfg.Host = strings.TrimPrefix(url, "http://")
	} else if strings.HasPrefix(url, "https://") {
		cfg.Host = strings.TrimPrefix(url, "https://")
		cfg.Scheme = "https"
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	return &Client{
		client: client,
		url:    url,
	}, nil
}

// Ping checks if Weaviate is reachable
func (c *Client) Ping(ctx context.Context) error {
	live, err := c.client.Misc().LiveChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Weaviate: %w", err)
	}
	if !live {
		return fmt.Errorf("weaviate is not live")
	}
	return nil
}

// GetServerVersion fetches and parses the Weaviate server version
func (c *Client) GetServerVersion(ctx context.Context) (*ServerVersion, error) {
	meta, err := c.client.Misc().MetaGetter().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get server metadata: %w", err)
	}
	return parseVersion(meta.Version)
}

// ClassName returns the Weaviate class backing a collection.
// Weaviate class names must start with an upper case letter.
func ClassName(collection string) string {
	r, size := utf8.DecodeRuneInString(collection)
	if r == utf8.RuneError {
		return collection
	}
	return string(unicode.ToUpper(r)) + collection[size:]
}

// ObjectID returns the deterministic object uuid of a document
func ObjectID(collection, id string) string {
	return uuid.NewSHA1(objectNamespace, []byte(collection+"/"+id)).String()
}

// toProperties converts a document into object properties
func toProperties(doc models.Document) map[string]interface{} {
	props := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k == models.DocumentIDField {
			continue
		}
		props[k] = v
	}
	props[SourceIDProperty] = doc.ID()
	return props
}

// Index creates the object, or replaces it when it already exists
func (c *Client) Index(ctx context.Context, collection string, doc models.Document) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("index %s: document has no id", collection)
	}

	className := ClassName(collection)
	objectID := ObjectID(collection, id)
	props := toProperties(doc)

	exists, err := c.client.Data().Checker().
		WithClassName(className).
		WithID(objectID).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("check %s/%s: %w", collection, id, err)
	}

	if exists {
		err = c.client.Data().Updater().
			WithClassName(className).
			WithID(objectID).
			WithProperties(props).
			Do(ctx)
	} else {
		_, err = c.client.Data().Creator().
			WithClassName(className).
			WithID(objectID).
			WithProperties(props).
			Do(ctx)
	}
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete deletes a document by collection and id
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	err := c.client.Data().Deleter().
		WithClassName(ClassName(collection)).
		WithID(ObjectID(collection, id)).
		Do(ctx)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Search runs a GraphQL Get query, ranked by BM25 when the query has text
func (c *Client) Search(ctx context.Context, collection string, q models.Query) (*models.SearchResult, error) {
	className := ClassName(collection)

	fields := []graphql.Field{{Name: SourceIDProperty}}
	for _, f := range q.Fields {
		if f == models.DocumentIDField || f == SourceIDProperty {
			continue
		}
		fields = append(fields, graphql.Field{Name: f})
	}
	fields = append(fields, graphql.Field{
		Name:   "_additional",
		Fields: []graphql.Field{{Name: "score"}},
	})

	get := c.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields...)

	if q.Text != "" {
		bm25 := c.client.GraphQL().Bm25ArgBuilder().WithQuery(q.Text)
		if len(q.QueryBy) > 0 {
			bm25 = bm25.WithProperties(q.QueryBy...)
		}
		get = get.WithBM25(bm25)
	}
	if q.Limit > 0 {
		get = get.WithLimit(q.Limit)
	}
	if q.Offset > 0 {
		get = get.WithOffset(q.Offset)
	}

	resp, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("search %s: %s", collection, strings.Join(msgs, "; "))
	}

	return parseGetResponse(className, resp.Data)
}

// parseGetResponse extracts hits from the data of a GraphQL Get query
func parseGetResponse(className string, data map[string]weaviatemodels.JSONObject) (*models.SearchResult, error) {
	result := &models.SearchResult{}

	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected search response format")
	}

	objects, ok := get[className].([]interface{})
	if !ok {
		return result, nil
	}

	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		doc := make(models.Document, len(obj))
		var score float64
		for k, v := range obj {
			switch k {
			case SourceIDProperty:
				doc[models.DocumentIDField] = v
			case "_additional":
				score = parseScore(v)
			default:
				doc[k] = v
			}
		}
		result.Hits = append(result.Hits, models.Hit{Document: doc, Score: score})
	}
	return result, nil
}

// parseScore reads _additional.score, which Weaviate returns as a string
func parseScore(additional interface{}) float64 {
	m, ok := additional.(map[string]interface{})
	if !ok {
		return 0
	}
	switch s := m["score"].(type) {
	case string:
		f, _ := strconv.ParseFloat(s, 64)
		return f
	case float64:
		return s
	}
	return 0
}

func isNotFound(err error) bool {
	var clientErr *fault.WeaviateClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound
}
