package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDDL = `
CREATE TABLE publishers (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT);
CREATE TABLE authors (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, publisher_id INTEGER);
CREATE TABLE books (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT);
CREATE TABLE author_books (author_id INTEGER NOT NULL, book_id INTEGER NOT NULL);
CREATE TABLE reviews (id INTEGER PRIMARY KEY AUTOINCREMENT, book_id INTEGER, body TEXT);
CREATE TABLE tags (id TEXT PRIMARY KEY, label TEXT);
`

func testSchema(t *testing.T) *Schema {
	t.Helper()
	schema, err := NewSchema(
		&EntityMeta{Type: "Publisher", Table: "publishers"},
		&EntityMeta{Type: "Author", Table: "authors", Associations: []models.Association{
			{Field: "books", Target: "Book", JoinTable: "author_books", OwnerColumn: "author_id", TargetColumn: "book_id"},
			{Field: "publisher", Target: "Publisher", Column: "publisher_id"},
		}},
		&EntityMeta{Type: "Book", Table: "books", Associations: []models.Association{
			{Field: "reviews", Target: "Review", MappedBy: "book_id"},
		}},
		&EntityMeta{Type: "Review", Table: "reviews"},
		&EntityMeta{Type: "Tag", Table: "tags", KeyType: KeyUUID},
	)
	require.NoError(t, err)
	return schema
}

// newTestStore creates a new sqlite store in a temp directory for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "test.db"), testSchema(t))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.DB().Exec(testDDL)
	require.NoError(t, err)
	return st
}

// recordingHooks records lifecycle events in order.
type recordingHooks struct {
	events    []string
	seqs      []uint64
	flushed   int
	discarded int
	failOn    string
	flushErr  error
}

func (h *recordingHooks) record(ctx context.Context, name string, ev *models.Event) error {
	h.events = append(h.events, name+":"+string(ev.Entity.Type))
	h.seqs = append(h.seqs, ev.Seq)
	if h.failOn == name {
		return errors.New("hook failed")
	}
	return nil
}

func (h *recordingHooks) AfterInsert(ctx context.Context, ev *models.Event) error {
	return h.record(ctx, "insert", ev)
}
func (h *recordingHooks) AfterUpdate(ctx context.Context, ev *models.Event) error {
	return h.record(ctx, "update", ev)
}
func (h *recordingHooks) BeforeDelete(ctx context.Context, ev *models.Event) error {
	return h.record(ctx, "pre-delete", ev)
}
func (h *recordingHooks) AfterDelete(ctx context.Context, ev *models.Event) error {
	return h.record(ctx, "post-delete", ev)
}
func (h *recordingHooks) Flush(ctx context.Context) error {
	h.flushed++
	return h.flushErr
}
func (h *recordingHooks) Discard() {
	h.discarded++
}

type staticSubscriber struct{ hooks *recordingHooks }

func (s staticSubscriber) BeginTx(q Querier) Hooks { return s.hooks }

func mustInsert(t *testing.T, st *Store, e *models.Entity) *models.Entity {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(tx *Tx) error {
		return tx.Insert(context.Background(), e)
	}))
	return e
}

// ==================== Schema Tests ====================

func TestNewSchema_Validation(t *testing.T) {
	tests := []struct {
		name  string
		metas []*EntityMeta
		want  string
	}{
		{"bad table", []*EntityMeta{{Type: "A", Table: "a; drop"}}, "invalid identifier"},
		{"bad key type", []*EntityMeta{{Type: "A", Table: "a", KeyType: "blob"}}, "unsupported key type"},
		{"duplicate", []*EntityMeta{{Type: "A", Table: "a"}, {Type: "A", Table: "b"}}, "declared twice"},
		{"unknown target", []*EntityMeta{{Type: "A", Table: "a", Associations: []models.Association{
			{Field: "b", Target: "B", Column: "b_id"},
		}}}, "unknown entity type"},
		{"ambiguous association", []*EntityMeta{{Type: "A", Table: "a", Associations: []models.Association{
			{Field: "self", Target: "A", Column: "a_id", MappedBy: "a_id"},
		}}}, "exactly one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchema(tt.metas...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSchema_Defaults(t *testing.T) {
	schema := testSchema(t)

	meta, err := schema.Meta("Author")
	require.NoError(t, err)
	assert.Equal(t, "id", meta.PrimaryKey)
	assert.Equal(t, KeyInt, meta.KeyType)
	assert.Len(t, schema.AssociationsOf("Author"), 2)
	assert.Nil(t, schema.AssociationsOf("Nope"))

	_, err = schema.Meta("Nope")
	assert.ErrorIs(t, err, ErrUnknownEntity)
	assert.Equal(t, []models.EntityType{"Author", "Book", "Publisher", "Review", "Tag"}, schema.Types())
}

func TestRebind(t *testing.T) {
	q := &querier{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2,$3)", q.rebind("SELECT * FROM t WHERE a = ? AND b IN (?,?)"))

	q = &querier{driver: DriverSQLite}
	assert.Equal(t, "a = ?", q.rebind("a = ?"))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "x", testSchema(t))
	assert.Error(t, err)
}

// ==================== CRUD Tests ====================

func TestTx_InsertAssignsID(t *testing.T) {
	st := newTestStore(t)

	a := mustInsert(t, st, models.NewEntity("Author", map[string]interface{}{"name": "Ann"}))
	assert.Equal(t, int64(1), a.ID())

	got, err := st.Get(context.Background(), "Author", "1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Attrs["name"])
	assert.Equal(t, int64(1), got.ID())
}

func TestTx_InsertUUIDKey(t *testing.T) {
	st := newTestStore(t)

	tag := mustInsert(t, st, models.NewEntity("Tag", map[string]interface{}{"label": "go"}))
	id, ok := tag.ID().(uuid.UUID)
	require.True(t, ok)

	got, err := st.Get(context.Background(), "Tag", id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got.ID())
	assert.Equal(t, "go", got.Attrs["label"])
}

func TestTx_UpdateAndDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := mustInsert(t, st, models.NewEntity("Author", map[string]interface{}{"name": "Ann"}))
	a.Attrs["name"] = "Anne"
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error { return tx.Update(ctx, a) }))

	got, err := st.Get(ctx, "Author", a.ID())
	require.NoError(t, err)
	assert.Equal(t, "Anne", got.Attrs["name"])

	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error { return tx.Delete(ctx, a) }))
	_, err = st.Get(ctx, "Author", a.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	err = st.WithTx(ctx, func(tx *Tx) error { return tx.Delete(ctx, a) })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTx_UpdateWithoutIDFails(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx *Tx) error {
		return tx.Update(ctx, models.NewEntity("Author", map[string]interface{}{"name": "x"}))
	})
	assert.Error(t, err)
}

func TestTx_RejectsInvalidColumn(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx *Tx) error {
		return tx.Insert(ctx, models.NewEntity("Author", map[string]interface{}{"name = 1; --": "x"}))
	})
	assert.Error(t, err)
}

func TestFindByAttributeIn(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Ann", "Bob", "Cid"} {
		mustInsert(t, st, models.NewEntity("Author", map[string]interface{}{"name": name}))
	}

	found, err := st.FindByAttributeIn(ctx, "Author", "id", []interface{}{"3", "1"})
	require.NoError(t, err)
	require.Len(t, found, 2)

	names := []string{found[0].Attrs["name"].(string), found[1].Attrs["name"].(string)}
	assert.ElementsMatch(t, []string{"Ann", "Cid"}, names)

	found, err = st.FindByAttributeIn(ctx, "Author", "name", []interface{}{"Bob"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, err = st.FindByAttributeIn(ctx, "Author", "id", nil)
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = st.FindByAttributeIn(ctx, "Author", "id) OR (1=1", []interface{}{"1"})
	assert.Error(t, err)
}

func TestFindByAttributeIn_SkipsMalformedKeys(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustInsert(t, st, models.NewEntity("Author", map[string]interface{}{"name": "Ann"}))

	found, err := st.FindByAttributeIn(ctx, "Author", "id", []interface{}{"abc", "1"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Ann", found[0].Attrs["name"])

	found, err = st.FindByAttributeIn(ctx, "Tag", "id", []interface{}{"legacy-7"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

// ==================== Association Tests ====================

func seedLibrary(t *testing.T, st *Store) (pub, ann, bob, book, review *models.Entity) {
	t.Helper()
	ctx := context.Background()

	pub = models.NewEntity("Publisher", map[string]interface{}{"name": "Acme"})
	book = models.NewEntity("Book", map[string]interface{}{"title": "Go"})
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Insert(ctx, pub); err != nil {
			return err
		}
		ann = models.NewEntity("Author", map[string]interface{}{"name": "Ann", "publisher_id": pub.ID()})
		bob = models.NewEntity("Author", map[string]interface{}{"name": "Bob"})
		for _, e := range []*models.Entity{ann, bob, book} {
			if err := tx.Insert(ctx, e); err != nil {
				return err
			}
		}
		review = models.NewEntity("Review", map[string]interface{}{"body": "good", "book_id": book.ID()})
		if err := tx.Insert(ctx, review); err != nil {
			return err
		}
		if err := tx.Link(ctx, ann, "books", book); err != nil {
			return err
		}
		return tx.Link(ctx, bob, "books", book)
	}))
	return pub, ann, bob, book, review
}

func TestFindByAssociatedChildID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	pub, ann, _, book, review := seedLibrary(t, st)

	// many-to-many
	owners, err := st.FindByAssociatedChildID(ctx, "Author", "books", book.ID())
	require.NoError(t, err)
	assert.Len(t, owners, 2)

	// many-to-one
	owners, err = st.FindByAssociatedChildID(ctx, "Author", "publisher", pub.ID())
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, ann.ID(), owners[0].ID())

	// one-to-many
	owners, err = st.FindByAssociatedChildID(ctx, "Book", "reviews", review.ID())
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, book.ID(), owners[0].ID())

	_, err = st.FindByAssociatedChildID(ctx, "Author", "missing", 1)
	assert.Error(t, err)
}

func TestFindAssociated(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	pub, ann, bob, book, _ := seedLibrary(t, st)

	pubs, err := st.FindAssociated(ctx, ann, "publisher")
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, pub.ID(), pubs[0].ID())

	pubs, err = st.FindAssociated(ctx, bob, "publisher")
	require.NoError(t, err)
	assert.Empty(t, pubs)

	books, err := st.FindAssociated(ctx, ann, "books")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Go", books[0].Attrs["title"])

	reviews, err := st.FindAssociated(ctx, book, "reviews")
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "good", reviews[0].Attrs["body"])
}

func TestTx_LinkRequiresJoinTable(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	pub, ann, _, _, _ := seedLibrary(t, st)

	err := st.WithTx(ctx, func(tx *Tx) error { return tx.Link(ctx, ann, "publisher", pub) })
	assert.Error(t, err)
}

func TestTx_Unlink(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, ann, _, book, _ := seedLibrary(t, st)

	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error { return tx.Unlink(ctx, ann, "books", book) }))

	owners, err := st.FindByAssociatedChildID(ctx, "Author", "books", book.ID())
	require.NoError(t, err)
	assert.Len(t, owners, 1)
}

// ==================== Lifecycle Tests ====================

func TestTx_LifecycleEvents(t *testing.T) {
	st := newTestStore(t)
	hooks := &recordingHooks{}
	st.Subscribe(staticSubscriber{hooks})
	ctx := context.Background()

	a := models.NewEntity("Author", map[string]interface{}{"name": "Ann"})
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Insert(ctx, a); err != nil {
			return err
		}
		a.Attrs["name"] = "Anne"
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		return tx.Delete(ctx, a)
	}))

	assert.Equal(t, []string{"insert:Author", "update:Author", "pre-delete:Author", "post-delete:Author"}, hooks.events)
	assert.Equal(t, []uint64{1, 2, 3, 3}, hooks.seqs, "both delete phases share a sequence id")
	assert.Equal(t, 1, hooks.flushed)
	assert.Equal(t, 0, hooks.discarded)
}

func TestTx_RollbackDiscards(t *testing.T) {
	st := newTestStore(t)
	hooks := &recordingHooks{}
	st.Subscribe(staticSubscriber{hooks})
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, models.NewEntity("Author", map[string]interface{}{"name": "Ann"})))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")

	assert.Equal(t, 0, hooks.flushed)
	assert.Equal(t, 1, hooks.discarded)

	found, err := st.FindByAttributeIn(ctx, "Author", "name", []interface{}{"Ann"})
	require.NoError(t, err)
	assert.Empty(t, found)

	assert.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
}

func TestTx_HookErrorAbortsTransaction(t *testing.T) {
	st := newTestStore(t)
	hooks := &recordingHooks{failOn: "update"}
	st.Subscribe(staticSubscriber{hooks})
	ctx := context.Background()

	a := mustInsert(t, st, models.NewEntity("Author", map[string]interface{}{"name": "Ann"}))
	a.Attrs["name"] = "Anne"

	err := st.WithTx(ctx, func(tx *Tx) error { return tx.Update(ctx, a) })
	require.Error(t, err)
	assert.Equal(t, 1, hooks.discarded)

	got, err := st.Get(ctx, "Author", a.ID())
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Attrs["name"])
}

func TestTx_BeforeDeleteSeesAssociations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, _, _, book, _ := seedLibrary(t, st)

	var ownersDuringDelete int
	st.Subscribe(subscriberFunc(func(q Querier) Hooks {
		return &inspectingHooks{recordingHooks: &recordingHooks{}, onBeforeDelete: func(ev *models.Event) {
			owners, err := q.FindByAssociatedChildID(ctx, "Author", "books", ev.Entity.ID())
			require.NoError(t, err)
			ownersDuringDelete = len(owners)
		}}
	}))

	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error { return tx.Delete(ctx, book) }))
	assert.Equal(t, 2, ownersDuringDelete)
}

type subscriberFunc func(q Querier) Hooks

func (f subscriberFunc) BeginTx(q Querier) Hooks { return f(q) }

type inspectingHooks struct {
	*recordingHooks
	onBeforeDelete func(ev *models.Event)
}

func (h *inspectingHooks) BeforeDelete(ctx context.Context, ev *models.Event) error {
	h.onBeforeDelete(ev)
	return h.recordingHooks.BeforeDelete(ctx, ev)
}

func TestTx_FlushErrorAfterCommit(t *testing.T) {
	st := newTestStore(t)
	hooks := &recordingHooks{flushErr: errors.New("index down")}
	st.Subscribe(staticSubscriber{hooks: hooks})
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx *Tx) error {
		return tx.Insert(ctx, models.NewEntity("Publisher", map[string]interface{}{"name": "Acme"}))
	})
	require.Error(t, err)

	var flushErr *FlushError
	require.ErrorAs(t, err, &flushErr)
	assert.Contains(t, err.Error(), "index down")
	assert.Equal(t, 1, hooks.flushed)

	// the row is committed regardless
	found, err := st.Get(ctx, "Publisher", 1)
	require.NoError(t, err)
	assert.Equal(t, "Acme", found.Attrs["name"])
}
