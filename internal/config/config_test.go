package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
weaviate_url = "http://weaviate:8080"

[database]
driver = "sqlite"
dsn = "app.db"

[retry]
enabled = true
max_retries = 5

[entities.Author]
table = "authors"

[[entities.Author.associations]]
field = "books"
target = "Book"
join_table = "author_books"
owner_column = "author_id"
target_column = "book_id"

[entities.Book]
table = "books"
key_type = "int"

[collections.authors]
index_name = "authors_v1"
entity = "Author"

[[collections.authors.fields]]
name = "id"
type = "primary"
entity_attribute = "id"

[[collections.authors.fields]]
name = "name"
type = "string"

[related_entities]
Book = ["authors"]
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "http://weaviate:8080", cfg.WeaviateURL)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "app.db", cfg.Database.DSN)

	// Explicit values override defaults, the rest keep them
	assert.True(t, cfg.Retry.Enabled)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 500, cfg.Retry.InitialBackoffMs)

	require.Contains(t, cfg.Collections, "authors")
	def := cfg.Collections["authors"]
	assert.Equal(t, "authors", def.Key)
	assert.Equal(t, "authors_v1", def.IndexName)
	assert.Equal(t, models.EntityType("Author"), def.Entity)
	require.Len(t, def.Fields, 2)
	assert.Equal(t, models.FieldPrimary, def.Fields[0].Type)

	require.Len(t, cfg.Entities["Author"].Associations, 1)
	assoc := cfg.Entities["Author"].Associations[0]
	assert.Equal(t, "books", assoc.Field)
	assert.Equal(t, models.EntityType("Book"), assoc.Target)
	assert.Equal(t, "author_books", assoc.JoinTable)

	assert.Equal(t, []string{"authors"}, cfg.RelatedEntities["Book"])
}

func TestParse_IndexNameDefaultsToKey(t *testing.T) {
	cfg, err := Parse([]byte(`
[entities.Author]
table = "authors"

[collections.authors]
entity = "Author"
`))
	require.NoError(t, err)
	assert.Equal(t, "authors", cfg.Collections["authors"].IndexName)
}

func TestParse_InvalidReferences(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown driver",
			doc:  "[database]\ndriver = \"mysql\"\n",
			want: "unsupported database driver",
		},
		{
			name: "collection with unknown entity",
			doc:  "[collections.authors]\nentity = \"Author\"\n",
			want: "unknown entity Author",
		},
		{
			name: "related entity references unknown collection",
			doc:  "[entities.Book]\ntable = \"books\"\n[related_entities]\nBook = [\"authors\"]\n",
			want: "unknown collection authors",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_MissingPrimaryKeyIsAccepted(t *testing.T) {
	cfg, err := Parse([]byte(`
[entities.Author]
table = "authors"

[collections.authors]
entity = "Author"

[[collections.authors.fields]]
name = "name"
type = "string"
`))
	require.NoError(t, err)

	def := cfg.Collections["authors"]
	_, err = def.PrimaryKey()
	assert.Error(t, err)
}

func TestInitializeAndLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Initialize(dir, "http://localhost:8080", "sqlite", "app.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, WVSyncDir), cfg.Path())
	assert.Equal(t, filepath.Join(dir, WVSyncDir, JournalFile), cfg.JournalPath())

	loaded, err := LoadFrom(cfg.Path())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", loaded.WeaviateURL)
	assert.Equal(t, "app.db", loaded.Database.DSN)

	_, err = Initialize(dir, "http://localhost:8080", "sqlite", "app.db")
	assert.Error(t, err, "second initialize must fail")
}

func TestInitialize_InvalidDriverCleansUp(t *testing.T) {
	dir := t.TempDir()

	_, err := Initialize(dir, "http://localhost:8080", "oracle", "x")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, WVSyncDir))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Initialize(t.TempDir(), "http://localhost:8080", "sqlite", "app.db")
	require.NoError(t, err)

	cfg.Entities["Author"] = EntityConfig{Table: "authors"}
	cfg.Collections["authors"] = models.CollectionDefinition{
		IndexName: "authors",
		Entity:    "Author",
		Fields:    []models.FieldSpec{{Name: "id", Type: models.FieldPrimary}},
	}
	require.NoError(t, cfg.Save())

	loaded, err := LoadFrom(cfg.Path())
	require.NoError(t, err)
	require.Contains(t, loaded.Collections, "authors")
	assert.Equal(t, "authors", loaded.Collections["authors"].Key)
	assert.Equal(t, []string{"authors"}, loaded.CollectionKeys())
}
