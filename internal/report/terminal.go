package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/yourorg/diagflow/pkg/types"
)

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorGray   = lipgloss.Color("#6272A4")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	labelStyle = lipgloss.NewStyle().Foreground(colorGray)
	warnStyle  = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	critStyle  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(colorGreen)
)

func statusStyle(s types.ProcedureStatus) lipgloss.Style {
	switch s {
	case types.StatusFailed:
		return critStyle
	case types.StatusTimeout, types.StatusStarted:
		return warnStyle
	default:
		return okStyle
	}
}

// Terminal renders a compact boxed summary for the CLI.
func Terminal(in Input) string {
	var lines []string
	lines = append(lines, titleStyle.Render(fmt.Sprintf("%s  %s", in.Job.ID, in.Job.Name)))
	lines = append(lines, kv("scope", in.Job.ScopeID))
	if in.Job.VIN != "" {
		lines = append(lines, kv("vin", in.Job.VIN))
	}
	lines = append(lines, kv("messages", fmt.Sprint(in.Job.MessageCount)))

	counts := map[types.ProcedureStatus]int{}
	for _, p := range in.Procedures {
		counts[p.Status]++
	}
	var parts []string
	for _, s := range []types.ProcedureStatus{types.StatusCompleted, types.StatusFailed, types.StatusTimeout, types.StatusStarted} {
		if counts[s] > 0 {
			parts = append(parts, statusStyle(s).Render(fmt.Sprintf("%d %s", counts[s], s)))
		}
	}
	lines = append(lines, kv("procedures", fmt.Sprintf("%d  %s", len(in.Procedures), strings.Join(parts, " "))))

	if len(in.Summaries) > 0 {
		lines = append(lines, "")
		for _, s := range in.Summaries {
			name := s.Name
			if !s.Known {
				name = warnStyle.Render(name)
			}
			lines = append(lines, fmt.Sprintf("%-5s %s  %s", s.Address, name,
				labelStyle.Render(fmt.Sprintf("%d req %d resp %d dtc", s.RequestCount, s.ResponseCount, s.DTCCount))))
		}
	}

	if in.Apply != nil {
		run := in.Apply.Run
		style := okStyle
		if run.Status == types.RunFailed {
			style = critStyle
		}
		lines = append(lines, "", kv("discovery", style.Render(fmt.Sprintf("%s: %d created, %d existing, %d pending", run.Status, run.Created, run.Existing, run.Pending))))
	}
	if len(in.ODXFiles) > 0 {
		lines = append(lines, kv("odx", fmt.Sprintf("%d files", len(in.ODXFiles))))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func kv(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-11s", label)) + value
}
