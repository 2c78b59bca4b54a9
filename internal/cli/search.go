package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/wvsync/internal/finder"
	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <collection> [text]",
	Short: "Search a collection and show the matching records",
	Long: `Search a collection with BM25 and load the matching records from the
store, in relevance order. With --raw the hits are printed as returned by
Weaviate, without touching the store.`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runSearch,
}

var (
	searchQueryBy []string
	searchFields  []string
	searchLimit   int
	searchOffset  int
	searchRaw     bool
)

func init() {
	searchCmd.Flags().StringSliceVar(&searchQueryBy, "query-by", nil, "Properties to search (default: all)")
	searchCmd.Flags().StringSliceVar(&searchFields, "fields", nil, "Properties returned in raw hits (default: all collection fields)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of hits")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "Number of hits to skip")
	searchCmd.Flags().BoolVar(&searchRaw, "raw", false, "Print raw hits instead of store records")
}

func runSearch(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext()
	defer c.Close()

	def, err := c.Registry.GetDefinition(args[0])
	if err != nil {
		exitError("%v", err)
	}

	q := models.Query{
		QueryBy: searchQueryBy,
		Fields:  searchFields,
		Limit:   searchLimit,
		Offset:  searchOffset,
	}
	if len(args) > 1 {
		q.Text = args[1]
	}

	f := finder.New(c.Client, c.Store, def).WithLogger(c.Logger)
	yellow := color.New(color.FgYellow)

	if searchRaw {
		resp, err := f.RawQuery(ctx, q)
		if err != nil {
			exitError("search failed: %v", err)
		}
		if len(resp.Results()) == 0 {
			fmt.Println("No hits")
			return
		}
		for i, h := range resp.Results() {
			yellow.Printf("%2d. [%.4f] ", i+1, h.Score)
			fmt.Printf("%s %s\n", h.Document.ID(), formatAttrs(withoutID(h.Document)))
		}
		return
	}

	resp, err := f.Query(ctx, q)
	if err != nil {
		exitError("search failed: %v", err)
	}
	if len(resp.HydratedHits) == 0 {
		fmt.Println("No matching records")
		return
	}

	for i, e := range resp.HydratedHits {
		yellow.Printf("%2d. ", i+1)
		fmt.Printf("%s %v %s\n", e.Type, e.ID(), formatAttrs(withoutKey(e.Attrs, e.PK)))
	}
	if missing := len(resp.Results()) - len(resp.HydratedHits); missing > 0 {
		color.New(color.FgRed).Printf("\n%d %s no longer in the store\n", missing, plural(missing, "hit is", "hits are"))
	}
}

func withoutID(doc models.Document) map[string]interface{} {
	return withoutKey(doc, models.DocumentIDField)
}

func withoutKey(attrs map[string]interface{}, key string) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		if k != key {
			out[k] = v
		}
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
