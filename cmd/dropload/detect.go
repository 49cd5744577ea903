package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dropload/internal/format"
)

var detectFlags struct {
	sampleBytes int
	write       bool
	asJSON      bool
}

var detectCmd = &cobra.Command{
	Use:   "detect <file>...",
	Short: "Detect the CSV dialect of files without loading them",
	Long: `detect samples each file and prints the dialect a load would use. With
--write the result is saved as the file's sidecar, where it can be edited
before the file is loaded. No database connection is needed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDetect,
}

func init() {
	f := detectCmd.Flags()
	f.IntVar(&detectFlags.sampleBytes, "sample-bytes", format.DefaultSampleBytes, "bytes read from the start of each file")
	f.BoolVar(&detectFlags.write, "write", false, "save the result as the file's sidecar")
	f.BoolVar(&detectFlags.asJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	results := make(map[string]format.Spec, len(args))
	for _, path := range args {
		if _, err := os.Stat(path); err != nil {
			return err
		}
		spec := format.Detect(path, detectFlags.sampleBytes)
		if detectFlags.write {
			if err := format.WriteSidecar(path, spec, time.Now()); err != nil {
				return fmt.Errorf("write sidecar for %s: %w", path, err)
			}
		}
		results[path] = spec

		if detectFlags.asJSON {
			continue
		}
		pterm.DefaultSection.Println(path)
		_ = pterm.DefaultTable.WithHasHeader().WithData(specRows(spec)).Render()
		if detectFlags.write {
			pterm.Info.Printfln("wrote %s", format.SidecarPath(path))
		}
	}

	if detectFlags.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	return nil
}
