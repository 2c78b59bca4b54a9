package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/kilupskalvis/wvsync/internal/config"
	"github.com/kilupskalvis/wvsync/internal/weaviate"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new wvsync project",
	Long: `Initialize a new wvsync project in the current directory.
This creates a .wvsync directory holding the configuration and the journal
of failed index operations. Entities and collections are then declared in
.wvsync/config.`,
	Args: cobra.NoArgs,
	Run:  runInit,
}

var (
	initURL       string
	initDriver    string
	initDSN       string
	initSkipCheck bool
)

func init() {
	initCmd.Flags().StringVar(&initURL, "url", "http://localhost:8080", "Weaviate server URL")
	initCmd.Flags().StringVar(&initDriver, "driver", "sqlite", "Database driver (sqlite, postgres)")
	initCmd.Flags().StringVar(&initDSN, "dsn", "wvsync.db", "Database connection string")
	initCmd.Flags().BoolVar(&initSkipCheck, "skip-check", false, "Do not contact Weaviate")
}

func runInit(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if _, err := config.FindRoot(); err == nil {
		exitError("wvsync project already exists")
	}

	fmt.Printf("Initializing wvsync project...\n")
	fmt.Printf("Weaviate URL: %s\n", initURL)
	fmt.Printf("Database:     %s (%s)\n", initDriver, initDSN)

	if !initSkipCheck {
		client, err := weaviate.NewClient(initURL)
		if err != nil {
			exitError("failed to create Weaviate client: %v", err)
		}

		fmt.Printf("Connecting to Weaviate...\n")
		if err := client.Ping(ctx); err != nil {
			exitError("failed to connect to Weaviate: %v", err)
		}

		version, err := client.GetServerVersion(ctx)
		if err != nil {
			fmt.Printf("Warning: Could not detect Weaviate version\n")
		} else {
			fmt.Printf("Weaviate version: %s\n", version.Version)
			if !version.SupportsBM25() {
				color.New(color.FgYellow).Println("Warning: Server < 1.17 has no BM25, searches return unranked objects")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}
	cfg, err := config.Initialize(wd, initURL, initDriver, initDSN)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	fmt.Printf("\nInitialized empty wvsync project in %s/\n", config.WVSyncDir)
	fmt.Printf("Declare [entities] and [collections] in %s/%s to start indexing.\n", cfg.Path(), config.ConfigFile)
}
