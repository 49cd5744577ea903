package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"atomicgo.dev/cursor"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dropload/internal/format"
	"github.com/JonMunkholm/dropload/internal/jobs"
	"github.com/JonMunkholm/dropload/internal/loader"
)

var ingestFlags struct {
	table      string
	schema     string
	mode       string
	reference  bool
	archiveDir string
	failedDir  string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Load one CSV file now and follow its progress",
	Long: `ingest runs a single file through the same pipeline serve uses, without
waiting for the file to settle. The file's sidecar is used when present and
written when not. Ctrl-C asks the load to stop at its next checkpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.table, "table", "", "target table (default: from rules or file name)")
	f.StringVar(&ingestFlags.schema, "schema", "", "target schema (default: from rules or LOAD_DEFAULT_SCHEMA)")
	f.StringVar(&ingestFlags.mode, "mode", "", "append or full (default: from rules or LOAD_DEFAULT_MODE)")
	f.BoolVar(&ingestFlags.reference, "reference", false, "mark the table as reference data in the catalog")
	f.StringVar(&ingestFlags.archiveDir, "archive-dir", "", "override WATCH_ARCHIVE_DIR")
	f.StringVar(&ingestFlags.failedDir, "failed-dir", "", "override WATCH_FAILED_DIR")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stderr, "warn")
	if err != nil {
		return err
	}
	if ingestFlags.archiveDir != "" {
		cfg.Watcher.ArchiveDir = ingestFlags.archiveDir
	}
	if ingestFlags.failedDir != "" {
		cfg.Watcher.FailedDir = ingestFlags.failedDir
	}

	path := filepath.Clean(args[0])
	if info, err := os.Stat(path); err != nil {
		return err
	} else if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	spec, err := format.ForFile(path, cfg.Loader.SampleBytes, time.Now())
	if err != nil {
		pterm.Warning.Printfln("format sidecar: %v", err)
	}
	if spec.Degraded {
		pterm.Warning.Printfln("dialect detection failed (%s), using defaults", spec.Note)
	}

	key, ch, err := a.jobs.StartJob(ctx, loader.Request{
		Path:      path,
		Format:    spec,
		Mode:      loader.Mode(ingestFlags.mode),
		Schema:    ingestFlags.schema,
		Table:     ingestFlags.table,
		Reference: ingestFlags.reference,
	})
	if err != nil {
		return err
	}

	res, err := follow(ctx, a.jobs, key, ch)
	if res != nil && res.Target != "" {
		_ = pterm.DefaultTable.WithData(resultRows(res)).Render()
	}
	switch {
	case errors.Is(err, loader.ErrCanceled):
		pterm.Warning.Println("load canceled")
		return err
	case err != nil:
		pterm.Error.Println(err)
		return err
	}
	pterm.Success.Printfln("loaded %d rows into %s", res.Transferred, res.Target)
	return nil
}

// follow shows a live status line until the job's message stream closes,
// then prints every message and returns the job's result. Canceling ctx
// asks the job to stop instead of abandoning it.
func follow(ctx context.Context, m *jobs.Manager, key string, ch <-chan loader.Message) (*loader.Result, error) {
	cursor.Hide()
	defer cursor.Show()

	area, err := pterm.DefaultArea.WithRemoveWhenDone(true).Start()
	if err != nil {
		area = nil
	}

	var (
		history []loader.Message
		last    loader.Message
		frame   int
	)
	update := func() {
		if area != nil {
			area.Update(statusLine(spinnerFrames[frame%len(spinnerFrames)], m.Progress(key), last))
		}
	}

	t := time.NewTicker(120 * time.Millisecond)
	defer t.Stop()
	interrupted := ctx.Done()

loop:
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				break loop
			}
			history = append(history, msg)
			last = msg
			update()
		case <-t.C:
			frame++
			update()
		case <-interrupted:
			interrupted = nil
			if err := m.Cancel(key); err == nil {
				last = loader.Message{Time: time.Now(), Phase: last.Phase, Text: "cancel requested, stopping at the next checkpoint"}
				update()
			}
		}
	}

	if area != nil {
		_ = area.Stop()
	}
	for _, msg := range history {
		pterm.Println(msg.String())
	}
	return m.Result(context.Background(), key)
}
