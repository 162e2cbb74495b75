package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"stagectl/internal/operations"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// writeClassTable lists classes with their process count and groups,
// followed by the total number of processes an asynchronous run starts.
func writeClassTable(w io.Writer, header string, classes []*operations.StageClass) {
	t := newTable(header, "Process", "Groups")
	total := 0
	for _, class := range classes {
		t.Row(class.Name, strconv.Itoa(class.Workers()), strings.Join(class.GroupSet(), ":"))
		total += class.Workers()
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "  TOTAL PROCESSES: %d\n\n", total)
}

func writeGroupsTable(w io.Writer, steps, alerts []string) {
	alertGroups := strings.Join(alerts, ":")
	if alertGroups == "" {
		alertGroups = "-"
	}
	t := newTable("Processor", "Groups").
		Row("Steps", strings.Join(steps, ":")).
		Row("Alerts", alertGroups)
	fmt.Fprintln(w, t.Render())
}
