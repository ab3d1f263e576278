package cmd

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/nikomatsakis/cratesio-perf/cli/reader"
	"github.com/nikomatsakis/cratesio-perf/cli/render"
	"github.com/nikomatsakis/cratesio-perf/cli/tui"
)

// InspectCommand returns the inspect command with subcommands.
// Inspect returns a deep view of a single entity.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a single entity",
		Subcommands: []*cli.Command{
			inspectPackageCommand(),
		},
	}
}

func inspectPackageCommand() *cli.Command {
	return &cli.Command{
		Name:      "package",
		Usage:     "Inspect a package's ledger directory",
		ArgsUsage: "<name[=version]>",
		Flags:     withFlags([]cli.Flag{OutputRootFlag}, ReadOnlyFlags()),
		Action:    inspectPackageAction,
	}
}

func inspectPackageAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("package specifier required", exitFailure)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	resp, err := reader.NewLedgerReader(c.String("out"), nil).InspectPackage(c.Args().First())
	if errors.Is(err, reader.ErrNotFound) {
		return cli.Exit(err.Error(), exitFailure)
	}
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspectPackage, resp)
	}
	return r.Render(resp)
}
