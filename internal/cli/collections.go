package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/kilupskalvis/wvsync/internal/weaviate"
	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:     "collections",
	Aliases: []string{"ls"},
	Short:   "List configured collections",
	Long: `List the configured collections with their entity type, Weaviate class,
fields and the related entities that refresh them.`,
	Args: cobra.NoArgs,
	Run:  runCollections,
}

func runCollections(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	defs := c.Registry.GetDefinitions()
	if len(defs) == 0 {
		fmt.Println("No collections configured")
		return
	}

	// collection key -> entity types refreshing it
	refreshedBy := make(map[string][]string)
	for entity, keys := range c.Config.RelatedEntities {
		for _, k := range keys {
			refreshedBy[k] = append(refreshedBy[k], entity)
		}
	}

	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	for _, key := range c.Config.CollectionKeys() {
		def := defs[key]
		yellow.Printf("%s", key)
		fmt.Printf("  entity %s, class %s\n", def.Entity, weaviate.ClassName(def.IndexName))

		pk, err := def.PrimaryKey()
		if err != nil {
			red.Printf("    %v\n", err)
		} else {
			fmt.Printf("    primary: %s <- %s\n", pk.DocumentAttribute, pk.EntityAttribute)
		}

		for _, f := range def.Fields {
			opt := ""
			if f.Optional {
				opt = " (optional)"
			}
			fmt.Printf("    %-16s %-10s <- %s%s\n", f.Name, f.Type, f.Attribute(), opt)
		}

		if related := refreshedBy[key]; len(related) > 0 {
			sort.Strings(related)
			cyan.Printf("    refreshed by: %s\n", strings.Join(related, ", "))
		}
		fmt.Println()
	}
}
