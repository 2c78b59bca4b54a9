package cli

import (
	"context"

	"github.com/fatih/color"
	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/kilupskalvis/wvsync/internal/store"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <entity> <id>...",
	Aliases: []string{"rm"},
	Short:   "Delete records",
	Long: `Delete records from the store in one transaction.
Their documents are removed from Weaviate once the transaction commits,
and indexed parents of related records are refreshed.`,
	Args: cobra.MinimumNArgs(2),
	Run:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext()
	defer c.Close()

	typ := models.EntityType(args[0])
	ids := args[1:]

	err := c.Store.WithTx(ctx, func(tx *store.Tx) error {
		for _, id := range ids {
			e, err := tx.Get(ctx, typ, id)
			if err != nil {
				return err
			}
			if err := tx.Delete(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if !reportTxError(err) {
		return
	}

	red := color.New(color.FgRed)
	for _, id := range ids {
		red.Printf("Deleted %s %s\n", typ, id)
	}
}
