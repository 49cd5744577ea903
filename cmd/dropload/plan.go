package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dropload/internal/format"
	"github.com/JonMunkholm/dropload/internal/loader"
)

var planFlags struct {
	table  string
	schema string
	mode   string
	asJSON bool
}

var planCmd = &cobra.Command{
	Use:   "plan <file>",
	Short: "Show what loading a file would change in its target table",
	Long: `plan infers column types from the head of the file and compares them with
the target table: columns to add, columns to widen and type conflicts. The
database is only read and the file is left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	f := planCmd.Flags()
	f.StringVar(&planFlags.table, "table", "", "target table (default: from rules or file name)")
	f.StringVar(&planFlags.schema, "schema", "", "target schema (default: from rules or LOAD_DEFAULT_SCHEMA)")
	f.StringVar(&planFlags.mode, "mode", "", "append or full (default: from rules or LOAD_DEFAULT_MODE)")
	f.BoolVar(&planFlags.asJSON, "json", false, "print the plan as JSON")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stderr, "warn")
	if err != nil {
		return err
	}
	path := filepath.Clean(args[0])
	if _, err := os.Stat(path); err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	spec, err := format.ReadSidecar(path)
	if err != nil {
		spec = format.Detect(path, cfg.Loader.SampleBytes)
	}

	p, err := a.loader.Preview(cmd.Context(), loader.Request{
		Path:   path,
		Format: spec,
		Mode:   loader.Mode(planFlags.mode),
		Schema: planFlags.schema,
		Table:  planFlags.table,
	})
	if err != nil {
		return err
	}

	if planFlags.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}

	target := p.Request.Target().String()
	if p.Exists {
		pterm.Info.Printfln("%s exists with %d columns, %s load, %d rows sampled", target, len(p.Existing), p.Request.Mode, p.Sampled)
	} else {
		pterm.Info.Printfln("%s will be created, %s load, %d rows sampled", target, p.Request.Mode, p.Sampled)
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(planRows(p)).Render()

	if n := len(p.Diff.Conflicts); n > 0 {
		if cfg.Loader.FailOnConflict {
			pterm.Error.Printfln("%d type conflict(s); the load would fail (LOAD_FAIL_ON_SCHEMA_CONFLICT)", n)
		} else {
			pterm.Warning.Printfln("%d type conflict(s); existing types are kept and values may be rejected", n)
		}
	}
	return nil
}
