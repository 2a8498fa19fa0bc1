// SPDX-License-Identifier: MPL-2.0

package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/invowk/nodefleet/internal/deploy"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = cellStyle.Foreground(lipgloss.Color("#10B981"))
	failStyle   = cellStyle.Bold(true).Foreground(lipgloss.Color("#EF4444"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// statusColumn is the index of the STATUS column.
const statusColumn = 5

// Table renders one row per environment.
func Table(results []deploy.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, Row(r))
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("ENV", "ROLE", "INSTALLED", "COPIED", "REWRITTEN", "STATUS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == statusColumn && results[row].Failed():
				return failStyle
			case col == statusColumn:
				return okStyle
			default:
				return cellStyle
			}
		})
	return t.String()
}

// Row returns the plain cells of one result.
func Row(r deploy.Result) []string {
	installed := "no"
	if r.Installed {
		installed = "yes"
	}

	rewritten := make([]string, 0, len(r.Rewritten))
	for _, rw := range r.Rewritten {
		rewritten = append(rewritten, fmt.Sprintf("%s:%d", rw.Artifact, rw.Count))
	}
	if r.Injected {
		rewritten = append(rewritten, "config")
	}

	status := "ok"
	if r.Error != nil {
		status = string(r.Error.Kind)
		if detail := r.Error.Package + r.Error.Artifact; detail != "" {
			status += " (" + detail + ")"
		}
	}

	return []string{
		r.Name,
		r.Role.String(),
		installed,
		dashIfEmpty(strings.Join(r.Copied, ", ")),
		dashIfEmpty(strings.Join(rewritten, ", ")),
		status,
	}
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
