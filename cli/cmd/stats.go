package cmd

import (
	"context"
	"fmt"
	"time"

	lodelibrary "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/nikomatsakis/cratesio-perf/cli/reader"
	"github.com/nikomatsakis/cratesio-perf/cli/render"
	"github.com/nikomatsakis/cratesio-perf/cli/tui"
	"github.com/nikomatsakis/cratesio-perf/lode"
)

// queryTimeout bounds dataset reads for stats.
const queryTimeout = 30 * time.Second

// StatsCommand returns the stats command with subcommands.
// Stats returns aggregated, derived facts.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregated statistics (ledger, metrics)",
		Subcommands: []*cli.Command{
			statsLedgerCommand(),
			statsMetricsCommand(),
		},
	}
}

func statsLedgerCommand() *cli.Command {
	return &cli.Command{
		Name:   "ledger",
		Usage:  "Count package directories by state",
		Flags:  withFlags([]cli.Flag{OutputRootFlag}, ReadOnlyFlags()),
		Action: statsLedgerAction,
	}
}

func statsLedgerAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	stats, err := reader.NewLedgerReader(c.String("out"), nil).StatsLedger()
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStatsLedger, stats)
	}
	return r.Render(stats)
}

func statsMetricsCommand() *cli.Command {
	return &cli.Command{
		Name:  "metrics",
		Usage: "Show the latest batch metrics from the results dataset",
		Flags: withFlags(ReadOnlyFlags(), storageFlags(), []cli.Flag{
			&cli.StringFlag{Name: "batch-id", Usage: "Read metrics for a specific batch"},
		}),
		Action: statsMetricsAction,
	}
}

func statsMetricsAction(c *cli.Context) error {
	st := storageChoice{
		dataset:   c.String("storage-dataset"),
		backend:   c.String("storage-backend"),
		path:      c.String("storage-path"),
		region:    c.String("storage-region"),
		endpoint:  c.String("storage-endpoint"),
		pathStyle: c.Bool("storage-s3-path-style"),
	}
	if !st.enabled() {
		return cli.Exit("--storage-path is required for metrics reads", exitFailure)
	}

	ctx, cancel := context.WithTimeout(c.Context, queryTimeout)
	defer cancel()

	ds, err := buildReadDataset(ctx, st)
	if err != nil {
		return fmt.Errorf("failed to initialize storage reader: %w", err)
	}

	snapshot, err := reader.NewLedgerReader("", ds).StatsMetrics(ctx, c.String("batch-id"))
	if err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStatsMetrics, snapshot)
	}
	return r.Render(snapshot)
}

// buildReadDataset creates a Lode Dataset for reading.
func buildReadDataset(ctx context.Context, st storageChoice) (lodelibrary.Dataset, error) {
	switch st.backend {
	case "fs":
		return lode.NewReadDatasetFS(st.dataset, st.path)
	case "s3":
		return lode.NewReadDatasetS3(ctx, st.dataset, st.s3Config())
	default:
		return nil, fmt.Errorf("unsupported storage-backend: %s (must be fs or s3)", st.backend)
	}
}
