package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethpandaops/buildstatsoor/pkg/notify"
	"github.com/ethpandaops/buildstatsoor/pkg/stats"
)

// Render writes a human readable summary of r.
func (r *Result) Render(w io.Writer) error {
	apps := table.NewWriter()
	apps.SetStyle(table.StyleLight)
	apps.SetTitle(fmt.Sprintf("%s  %s", r.Label, r.Window))
	apps.AppendHeader(table.Row{"App", "Type", "Builds", "Avg build", "Avg hold"})
	apps.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	for _, s := range r.Apps {
		apps.AppendRow(table.Row{
			s.Name,
			s.Type,
			humanize.Comma(int64(s.Count)),
			formatDays(s.AvgBuildTime),
			formatDays(s.AvgHoldTime),
		})
	}

	apps.AppendFooter(table.Row{
		fmt.Sprintf("%d apps", len(r.Apps)), "",
		humanize.Comma(int64(stats.TotalBuilds(r.Apps))), "", "",
	})

	types := table.NewWriter()
	types.SetStyle(table.StyleLight)
	types.AppendHeader(table.Row{"Type", "Apps", "Avg hold (min)"})

	for _, t := range r.Types {
		types.AppendRow(table.Row{
			t.Type,
			t.Apps,
			humanize.FtoaWithDigits(notify.HoldMinutes(t.AvgHoldTime), 1),
		})
	}

	writes := table.NewWriter()
	writes.SetStyle(table.StyleLight)
	writes.AppendHeader(table.Row{"Table", "Row", "Columns", "New columns"})

	for _, tw := range r.Tables {
		writes.AppendRow(table.Row{tw.Name, tw.Row, tw.Columns, len(tw.Added)})
	}

	_, err := fmt.Fprintf(w, "%s\n\n%s\n\n%s\n", apps.Render(), types.Render(), writes.Render())

	return err
}

// formatDays renders a duration given in days, rounded to the second.
func formatDays(days float64) string {
	return stats.DaysToDuration(days).Round(time.Second).String()
}
