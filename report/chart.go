package report

import (
	"errors"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// ErrNoTimings is returned when no entry parsed successfully.
var ErrNoTimings = errors.New("no parsed timing logs to chart")

// Chart builds a bar chart of total timed seconds per package. Entries that
// did not parse are omitted.
func Chart(title string, entries []Entry) (*charts.Bar, error) {
	labels := make([]string, 0, len(entries))
	totals := make([]opts.BarData, 0, len(entries))
	passes := make([]opts.BarData, 0, len(entries))
	for _, e := range entries {
		if !e.OK {
			continue
		}
		labels = append(labels, e.Name())
		totals = append(totals, opts.BarData{Value: e.Timings.Total()})
		passes = append(passes, opts.BarData{Value: len(e.Timings)})
	}
	if len(labels) == 0 {
		return nil, ErrNoTimings
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: "Sum of per-pass compile timings",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "package", AxisLabel: &opts.AxisLabel{Rotate: 45}}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	bar.SetXAxis(labels).
		AddSeries("total seconds", totals).
		AddSeries("timed passes", passes)
	return bar, nil
}

// WriteChart renders the chart for entries as a standalone HTML page.
func WriteChart(w io.Writer, title string, entries []Entry) error {
	bar, err := Chart(title, entries)
	if err != nil {
		return err
	}
	return bar.Render(w)
}
