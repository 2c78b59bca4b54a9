package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/kilupskalvis/wvsync/internal/store"
	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put <entity> <attr=value>...",
	Short: "Insert or update a record",
	Long: `Insert a record into the store, or update it when --id is given.
The change is indexed in Weaviate once the transaction commits.

Examples:
  wvsync put Author name="Ann Smith" publisher_id=1
  wvsync put Author --id 1 name="Ann Smith-Jones"
  wvsync put Author --id 1 publisher_id=null`,
	Args: cobra.MinimumNArgs(1),
	Run:  runPut,
}

var putID string

func init() {
	putCmd.Flags().StringVar(&putID, "id", "", "Update the record with this primary key")
}

func runPut(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext()
	defer c.Close()

	typ := models.EntityType(args[0])
	attrs, err := parseAssignments(args[1:])
	if err != nil {
		exitError("%v", err)
	}

	var e *models.Entity
	err = c.Store.WithTx(ctx, func(tx *store.Tx) error {
		if putID == "" {
			e = models.NewEntity(typ, attrs)
			return tx.Insert(ctx, e)
		}

		existing, err := tx.Get(ctx, typ, putID)
		if err != nil {
			return err
		}
		for k, v := range attrs {
			existing.Set(k, v)
		}
		e = existing
		return tx.Update(ctx, e)
	})
	if !reportTxError(err) {
		return
	}

	verb := "Inserted"
	if putID != "" {
		verb = "Updated"
	}
	color.New(color.FgGreen).Printf("%s %s %v\n", verb, typ, e.ID())
}

// parseAssignments parses attr=value arguments. The value null clears an attribute.
func parseAssignments(args []string) (map[string]interface{}, error) {
	attrs := make(map[string]interface{}, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected attr=value", arg)
		}
		if v == "null" {
			attrs[k] = nil
			continue
		}
		attrs[k] = v
	}
	return attrs, nil
}

// reportTxError prints a transaction error. It returns true when the data was
// committed, including when only the index flush failed.
func reportTxError(err error) bool {
	if err == nil {
		return true
	}

	var cfgErr *models.ConfigurationError
	if errors.As(err, &cfgErr) {
		exitError("configuration error: %v", cfgErr)
	}

	var flushErr *store.FlushError
	if errors.As(err, &flushErr) {
		yellow := color.New(color.FgYellow)
		yellow.Println("Saved, but some index operations failed:")
		for _, line := range strings.Split(flushErr.Err.Error(), "\n") {
			fmt.Printf("  %s\n", line)
		}
		fmt.Println("\nUse 'wvsync replay' to retry them.")
		return true
	}

	exitError("%v", err)
	return false
}

// formatAttrs renders attributes in key order
func formatAttrs(attrs map[string]interface{}) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, models.KeyString(attrs[k]))
	}
	return strings.Join(parts, " ")
}
