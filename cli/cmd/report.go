package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/nikomatsakis/cratesio-perf/iox"
	"github.com/nikomatsakis/cratesio-perf/ledger"
	"github.com/nikomatsakis/cratesio-perf/lode"
	"github.com/nikomatsakis/cratesio-perf/report"
)

// ReportCommand returns the report command. It prints one line per package
// directory: `<dir>, true, t1, t2, ...` when the log parsed, `<dir>, false`
// otherwise.
func ReportCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Summarize captured timing logs, one line per package",
		ArgsUsage: "[dir]",
		Flags: withFlags([]cli.Flag{
			OutputRootFlag,
			&cli.StringFlag{Name: "html", Usage: "Also write a bar chart of total timed seconds to this file"},
			&cli.BoolFlag{Name: "publish", Usage: "Also write every entry to the results dataset as a timing record"},
			&cli.StringFlag{Name: "batch-id", Usage: "Batch ID for published records (default: random UUID)"},
		}, storageFlags()),
		Action: reportAction,
	}
}

// reportRoot is the positional directory, or the ledger under --out.
func reportRoot(c *cli.Context) string {
	if c.NArg() > 0 {
		return c.Args().First()
	}
	return ledger.New(c.String("out")).Root()
}

func reportAction(c *cli.Context) error {
	root := reportRoot(c)
	htmlPath := c.String("html")
	publish := c.Bool("publish")

	if htmlPath == "" && !publish {
		if _, err := report.Write(c.App.Writer, root); err != nil {
			return cli.Exit(fmt.Sprintf("report %s: %v", root, err), exitFailure)
		}
		return nil
	}

	entries, err := report.Collect(root)
	if err != nil {
		return cli.Exit(fmt.Sprintf("report %s: %v", root, err), exitFailure)
	}
	w := bufio.NewWriter(c.App.Writer)
	for _, e := range entries {
		fmt.Fprintln(w, e.String())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if htmlPath != "" {
		if err := writeChart(htmlPath, root, entries); err != nil {
			return cli.Exit(err.Error(), exitFailure)
		}
	}
	if publish {
		if err := publishTimings(c, entries); err != nil {
			return cli.Exit(fmt.Sprintf("publish timings: %v", err), exitStorageError)
		}
	}
	return nil
}

func writeChart(path, root string, entries []report.Entry) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}
	defer iox.CloseInto(&err, f)

	title := fmt.Sprintf("Compile timings: %s", filepath.Clean(root))
	if err := report.WriteChart(f, title, entries); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func publishTimings(c *cli.Context, entries []report.Entry) error {
	st := storageChoice{
		dataset:   c.String("storage-dataset"),
		backend:   c.String("storage-backend"),
		path:      c.String("storage-path"),
		region:    c.String("storage-region"),
		endpoint:  c.String("storage-endpoint"),
		pathStyle: c.Bool("storage-s3-path-style"),
	}
	if !st.enabled() {
		return fmt.Errorf("--publish requires --storage-path")
	}
	batchID := c.String("batch-id")
	if batchID == "" {
		batchID = uuid.NewString()
	}

	cfg := lode.Config{Dataset: st.dataset, BatchID: batchID, Day: lode.DeriveDay(time.Now())}
	client, err := buildResultsClient(c.Context, st, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	recs := make([]lode.TimingRecord, 0, len(entries))
	for _, e := range entries {
		recs = append(recs, lode.TimingRecord{
			Path:    e.Path,
			Package: e.Name(),
			OK:      e.OK,
			Timings: e.Timings.Seconds(),
			Passes:  e.Timings.Texts(),
		})
	}
	return client.WriteTimings(c.Context, recs)
}
