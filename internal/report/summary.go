package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"credsweep/internal/model"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#BD93F9"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	countStyle  = cellStyle.Align(lipgloss.Right)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
)

// WriteSummary prints the per-category counts of rs as a table, followed by the invalid ranges
// and the report files when there are any.
func WriteSummary(w io.Writer, rs *model.ResultSet, files []string) error {
	rows := make([][]string, 0, len(rs.Summary()))
	for _, r := range rs.Summary() {
		rows = append(rows, []string{r.Category, strconv.Itoa(r.Count)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("Category", "Count").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 1:
				return countStyle
			default:
				return cellStyle
			}
		})

	title := "Credential sweep " + rs.RunID
	if rs.DryRun {
		title += " (dry run)"
	}

	if _, err := fmt.Fprintln(w, titleStyle.Render(title)); err != nil {
		return err
	}

	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}

	for _, re := range rs.RangeErrors {
		if _, err := fmt.Fprintf(w, "invalid range %q: %s\n", re.Range, re.Reason); err != nil {
			return err
		}
	}

	for _, f := range files {
		if _, err := fmt.Fprintf(w, "report written: %s\n", f); err != nil {
			return err
		}
	}

	return nil
}
