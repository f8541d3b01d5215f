package monitor

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// renderCyclesChart writes an HTML page with cycle timing and match
// coverage over the retained history.
func renderCyclesChart(w io.Writer, samples []Sample) error {
	x := make([]string, len(samples))
	durations := make([]opts.LineData, len(samples))
	valid := make([]opts.LineData, len(samples))
	mean := make([]opts.LineData, len(samples))
	for i, s := range samples {
		x[i] = strconv.FormatUint(s.Cycle, 10)
		durations[i] = opts.LineData{Value: s.DurationMS}
		if s.Computed {
			valid[i] = opts.LineData{Value: s.ValidRatio * 100}
			mean[i] = opts.LineData{Value: s.Mean}
		} else {
			// A skipped cycle leaves a gap rather than a drop to zero.
			valid[i] = opts.LineData{Value: "-"}
			mean[i] = opts.LineData{Value: "-"}
		}
	}

	timing := charts.NewLine()
	timing.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Cycle duration", Subtitle: fmt.Sprintf("%d cycles", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	timing.SetXAxis(x).AddSeries("duration", durations)

	coverage := charts.NewLine()
	coverage.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Disparity"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	coverage.SetXAxis(x).
		AddSeries("valid %", valid).
		AddSeries("mean px", mean)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(timing, coverage)
	return page.Render(w)
}
