package traffic

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// Render formata o resumo para terminal.
func Render(s Summary) string {
	rateStyle := goodStyle
	switch {
	case s.SuccessRate() < 90:
		rateStyle = badStyle
	case s.SuccessRate() < 99:
		rateStyle = warnStyle
	}

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}

	rows := []string{
		row("Target", s.Target),
		row("Total requests", fmt.Sprint(s.Total)),
		row("Successful", goodStyle.Render(fmt.Sprint(s.Success))),
		row("Failed", fmt.Sprint(s.Failed)),
		row("  429", fmt.Sprint(s.RateLimited)),
		row("  5xx", fmt.Sprint(s.ServerError)),
		row("  transport", fmt.Sprint(s.Transport)),
		row("Success rate", rateStyle.Render(fmt.Sprintf("%.2f%%", s.SuccessRate()))),
		row("Avg latency", fmt.Sprintf("%dms", s.AvgLatency().Milliseconds())),
		row("Max latency", fmt.Sprintf("%dms", s.MaxLatency.Milliseconds())),
		row("Duration", fmt.Sprintf("%.0fs", s.Elapsed.Seconds())),
		row("Request rate", fmt.Sprintf("%.1f req/s", s.RequestRate())),
	}

	title := "traffic: " + s.Scenario
	if s.Interrupted {
		title += " (interrupted)"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		panelStyle.Render(strings.Join(rows, "\n")),
	)
}
