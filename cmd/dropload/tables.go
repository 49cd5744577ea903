package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dropload/internal/catalog"
)

var tablesFlags struct {
	path   string
	asJSON bool
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables recorded in the catalog",
	Args:  cobra.NoArgs,
	RunE:  runTables,
}

func init() {
	f := tablesCmd.Flags()
	f.StringVar(&tablesFlags.path, "catalog", "", "catalog file (default: CATALOG_PATH)")
	f.BoolVar(&tablesFlags.asJSON, "json", false, "print the entries as JSON")
	rootCmd.AddCommand(tablesCmd)
}

func runTables(cmd *cobra.Command, args []string) error {
	path := tablesFlags.path
	if path == "" {
		path = os.Getenv("CATALOG_PATH")
	}
	if path == "" {
		return errors.New("no catalog: set CATALOG_PATH or pass --catalog")
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}

	store, err := catalog.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	if tablesFlags.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		pterm.Info.Println("catalog is empty")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(catalogRows(entries)).Render()
}
