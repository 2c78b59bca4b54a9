package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/wvsync/internal/journal"
	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/kilupskalvis/wvsync/internal/registry"
	"github.com/kilupskalvis/wvsync/internal/store"
	"github.com/kilupskalvis/wvsync/internal/transform"
	"github.com/kilupskalvis/wvsync/internal/weaviate"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Retry index operations that failed during a flush",
	Long: `Bring every document with a failed flush operation in the journal back in
line with the store. A document whose record still exists is rebuilt from the
record and indexed; a document whose record is gone is deleted. The payload
captured at failure time is never reused, so later changes are not undone.

Documents that are replayed are removed from the journal; the others stay for
the next replay. With --list the journal is printed without contacting Weaviate.`,
	Args: cobra.NoArgs,
	Run:  runReplay,
}

var replayList bool

func init() {
	replayCmd.Flags().BoolVar(&replayList, "list", false, "List failed operations without replaying them")
}

func runReplay(cmd *cobra.Command, args []string) {
	if replayList {
		listJournal()
		return
	}

	ctx := context.Background()
	c := initFullContext()
	defer c.Close()

	entries, err := c.Journal.List()
	if err != nil {
		exitError("failed to read journal: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("Journal is empty")
		return
	}

	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)

	r := &replayer{
		registry:    c.Registry,
		transformer: transform.New(c.Registry),
		store:       c.Store,
		client:      c.Client,
	}

	replayed, failed := 0, 0
	for _, d := range groupEntries(entries) {
		kind, err := r.replay(ctx, d.collection, d.id)
		if err != nil {
			failed++
			red.Printf("failed   %s/%s: %v\n", d.collection, d.id, err)
			continue
		}
		for _, seq := range d.seqs {
			if err := c.Journal.Remove(seq); err != nil {
				exitError("failed to update journal: %v", err)
			}
		}
		replayed++
		green.Printf("replayed %s %s/%s", kind, d.collection, d.id)
		fmt.Printf(" (%d %s)\n", len(d.seqs), plural(len(d.seqs), "entry", "entries"))
	}

	remaining, err := c.Journal.Len()
	if err != nil {
		exitError("failed to read journal: %v", err)
	}
	fmt.Printf("\n%d replayed, %d still failing, %d left in journal\n", replayed, failed, remaining)
	if failed > 0 {
		c.Close()
		exitError("some documents could not be replayed")
	}
}

func listJournal() {
	c := initContext()
	j, err := journal.Open(c.Config.JournalPath())
	if err != nil {
		exitError("failed to open journal: %v", err)
	}
	c.Journal = j
	defer c.Close()

	entries, err := j.List()
	if err != nil {
		exitError("failed to read journal: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("Journal is empty")
		return
	}

	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	for _, e := range entries {
		yellow.Printf("#%d ", e.Seq)
		fmt.Printf("%-6s %s/%s  %s\n", e.Operation.Kind, e.Operation.Collection, e.Operation.ID,
			e.FailedAt.Local().Format("2006-01-02 15:04:05"))
		red.Printf("    %s\n", e.Error)
	}
	fmt.Printf("\n%d failed %s\n", len(entries), plural(len(entries), "operation", "operations"))
}

// failedDocument is one document with one or more journal entries
type failedDocument struct {
	collection string
	id         string
	seqs       []uint64
}

// groupEntries collapses journal entries per document, ordered by first failure
func groupEntries(entries []*journal.Entry) []*failedDocument {
	var docs []*failedDocument
	index := make(map[[2]string]*failedDocument)
	for _, e := range entries {
		key := [2]string{e.Operation.Collection, e.Operation.ID}
		d, ok := index[key]
		if !ok {
			d = &failedDocument{collection: key[0], id: key[1]}
			index[key] = d
			docs = append(docs, d)
		}
		d.seqs = append(d.seqs, e.Seq)
	}
	return docs
}

// replayer resyncs documents from the current store state
type replayer struct {
	registry    *registry.Registry
	transformer *transform.Transformer
	store       store.Querier
	client      weaviate.DocumentClient
}

// replay indexes the document rebuilt from its current record, or deletes it
// when the record no longer exists. It returns the operation issued.
func (r *replayer) replay(ctx context.Context, collection, id string) (models.OperationKind, error) {
	def, ok := r.registry.ForIndex(collection)
	if !ok {
		return "", fmt.Errorf("index %s is not configured", collection)
	}
	pk, err := def.PrimaryKey()
	if err != nil {
		return "", err
	}

	records, err := r.store.FindByAttributeIn(ctx, def.Entity, pk.EntityAttribute, []interface{}{id})
	if err != nil {
		return "", fmt.Errorf("load %s %s: %w", def.Entity, id, err)
	}
	if len(records) == 0 {
		return models.OperationDelete, r.client.Delete(ctx, collection, id)
	}

	doc, err := r.transformer.Convert(ctx, r.store, records[0])
	if err != nil {
		return "", err
	}
	return models.OperationIndex, r.client.Index(ctx, collection, doc)
}
