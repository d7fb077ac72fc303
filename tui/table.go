package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableBorderColor = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	tableBorderStyle = lipgloss.NewStyle().Foreground(tableBorderColor)
	tableLabelStyle  = lipgloss.NewStyle().Bold(true).Foreground(secondaryStyleColor)
)

// Table writes rows under headers as a bordered table.
func Table(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.String())
}

// Properties writes label/value pairs as a borderless two column table.
func Properties(w io.Writer, pairs [][2]string) {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return tableLabelStyle.PaddingRight(2)
			}
			return lipgloss.NewStyle()
		})
	for _, p := range pairs {
		t.Row(p[0], p[1])
	}
	fmt.Fprintln(w, t.String())
}
