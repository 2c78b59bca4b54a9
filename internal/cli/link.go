package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/kilupskalvis/wvsync/internal/store"
	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:   "link <entity> <id> <field> <target-id>",
	Short: "Link two records through a many-to-many association",
	Long: `Add (or with --remove, delete) a row of the join table behind a
many-to-many association. The owner record is reindexed.

Examples:
  wvsync link Author 1 books 7
  wvsync link Author 1 books 7 --remove`,
	Args: cobra.ExactArgs(4),
	Run:  runLink,
}

var linkRemove bool

func init() {
	linkCmd.Flags().BoolVar(&linkRemove, "remove", false, "Remove the link instead of adding it")
}

func runLink(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext()
	defer c.Close()

	typ, id, field, targetID := models.EntityType(args[0]), args[1], args[2], args[3]

	meta, err := c.Store.Schema().Meta(typ)
	if err != nil {
		exitError("%v", err)
	}
	assoc, ok := meta.Association(field)
	if !ok {
		exitError("%s has no association %s", typ, field)
	}

	err = c.Store.WithTx(ctx, func(tx *store.Tx) error {
		owner, err := tx.Get(ctx, typ, id)
		if err != nil {
			return fmt.Errorf("%s %s: %w", typ, id, err)
		}
		target, err := tx.Get(ctx, assoc.Target, targetID)
		if err != nil {
			return fmt.Errorf("%s %s: %w", assoc.Target, targetID, err)
		}
		if linkRemove {
			return tx.Unlink(ctx, owner, field, target)
		}
		return tx.Link(ctx, owner, field, target)
	})
	if !reportTxError(err) {
		return
	}

	if linkRemove {
		color.New(color.FgRed).Printf("Unlinked %s %s -/-> %s %s\n", typ, id, assoc.Target, targetID)
		return
	}
	color.New(color.FgGreen).Printf("Linked %s %s --> %s %s\n", typ, id, assoc.Target, targetID)
}
