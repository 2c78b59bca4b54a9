// Command wvsync keeps a Weaviate index in sync with a relational store.
package main

import (
	"os"

	"github.com/kilupskalvis/wvsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
