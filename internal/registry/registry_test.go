package registry

import (
	"testing"

	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(map[string]models.CollectionDefinition{
		"authors": {IndexName: "authors_v2", Entity: "Author"},
		"books":   {Entity: "Book"},
	})
	require.NoError(t, err)
	return r
}

func TestRegistry_Lookups(t *testing.T) {
	r := newTestRegistry(t)

	assert.Equal(t, []models.EntityType{"Author", "Book"}, r.ListManagedEntityTypes())
	assert.True(t, r.IsManaged("Author"))
	assert.False(t, r.IsManaged("Publisher"))

	def, ok := r.ForType("Author")
	require.True(t, ok)
	assert.Equal(t, "authors", def.Key)
	assert.Equal(t, "authors_v2", def.IndexName)

	def, err := r.GetDefinition("books")
	require.NoError(t, err)
	assert.Equal(t, "books", def.IndexName, "index name defaults to the key")

	_, err = r.GetDefinition("nope")
	assert.Error(t, err)

	assert.Len(t, r.GetDefinitions(), 2)

	def, ok = r.ForIndex("authors_v2")
	require.True(t, ok)
	assert.Equal(t, models.EntityType("Author"), def.Entity)
	_, ok = r.ForIndex("authors")
	assert.False(t, ok)
}

func TestRegistry_RejectsDuplicateEntity(t *testing.T) {
	_, err := New(map[string]models.CollectionDefinition{
		"a": {Entity: "Author"},
		"b": {Entity: "Author"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Author")
}

func TestRegistry_RejectsSharedIndexName(t *testing.T) {
	_, err := New(map[string]models.CollectionDefinition{
		"authors": {IndexName: "people", Entity: "Author"},
		"people":  {Entity: "Person"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "people")
}

func TestRegistry_RequiresEntity(t *testing.T) {
	_, err := New(map[string]models.CollectionDefinition{"a": {}})
	assert.Error(t, err)
}
