package main

import (
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"dreamstate/internal/history"
	"dreamstate/internal/ipc"
)

// errorColumnWidth keeps long failure messages from blowing up the history table.
const errorColumnWidth = 48

type column struct {
	title    string
	align    text.Align
	maxWidth int
}

var (
	taskColumns = []column{
		{title: "ID"},
		{title: "Type"},
		{title: "Created"},
	}
	historyColumns = []column{
		{title: "Task"},
		{title: "Type"},
		{title: "Result", maxWidth: errorColumnWidth},
		{title: "Took", align: text.AlignRight},
		{title: "Completed"},
	}
	statsColumns = []column{
		{title: "Type"},
		{title: "Succeeded", align: text.AlignRight},
		{title: "Failed", align: text.AlignRight},
		{title: "Total", align: text.AlignRight},
	}
)

func renderTaskTable(tasks []ipc.Task) string {
	rows := make([]table.Row, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, table.Row{task.ID, humanLabel(string(task.Type)), formatCreated(task.CreatedAt)})
	}
	return renderRows(taskColumns, rows, nil)
}

func renderHistoryTable(entries []history.Entry) string {
	rows := make([]table.Row, 0, len(entries))
	for _, entry := range entries {
		outcome := "ok"
		if !entry.Success {
			outcome = entry.Error
		}
		rows = append(rows, table.Row{
			entry.TaskID,
			humanLabel(entry.TaskType),
			outcome,
			formatDuration(entry.Duration),
			formatTimestamp(entry.CompletedAt),
		})
	}
	return renderRows(historyColumns, rows, nil)
}

// renderStatsTable lists per-type counts with a totals footer.
func renderStatsTable(stats history.Stats) string {
	types := make([]string, 0, len(stats.ByType))
	for taskType := range stats.ByType {
		types = append(types, taskType)
	}
	sort.Strings(types)

	rows := make([]table.Row, 0, len(types))
	for _, taskType := range types {
		counts := stats.ByType[taskType]
		rows = append(rows, table.Row{
			humanLabel(taskType),
			strconv.Itoa(counts.Succeeded),
			strconv.Itoa(counts.Failed),
			strconv.Itoa(counts.Total()),
		})
	}
	footer := table.Row{"Total", strconv.Itoa(stats.Succeeded), strconv.Itoa(stats.Failed), strconv.Itoa(stats.Total)}
	return renderRows(statsColumns, rows, footer)
}

func renderRows(columns []column, rows []table.Row, footer table.Row) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, 0, len(columns))
	configs := make([]table.ColumnConfig, 0, len(columns))
	for i, col := range columns {
		header = append(header, col.title)
		align := col.align
		if align == text.AlignDefault {
			align = text.AlignLeft
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			AlignFooter: align,
			WidthMax:    col.maxWidth,
		})
	}
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	if footer != nil {
		tw.AppendFooter(footer)
	}
	tw.SetColumnConfigs(configs)

	return tw.Render() + "\n"
}
