package cmd

import (
	"fmt"
	"strconv"

	"github.com/andresmejia3/facereel/internal/engine"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// renderSummary formats the per-processor batch summaries of a run and its first failures.
func renderSummary(rep engine.Report) string {
	rows := make([][]string, 0, len(rep.Summaries))
	var failures [][]string
	for _, s := range rep.Summaries {
		rows = append(rows, []string{
			s.Processor,
			strconv.Itoa(s.Total),
			strconv.Itoa(s.Succeeded),
			strconv.Itoa(s.Skipped),
			strconv.Itoa(s.Failed),
		})
		for _, f := range s.Failures {
			failures = append(failures, []string{s.Processor, strconv.Itoa(f.Index), f.Reason})
		}
	}
	out := renderTable(
		[]string{"PROCESSOR", "FRAMES", "SUCCEEDED", "SKIPPED", "FAILED"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
	if len(failures) > 0 {
		out += fmt.Sprintf("\nFirst failed frames (%d failed in total):\n", rep.Failed())
		out += renderTable([]string{"PROCESSOR", "FRAME", "REASON"}, failures, []columnAlignment{alignLeft, alignRight, alignLeft})
	}
	return out
}
