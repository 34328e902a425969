package trace

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("99")  // Purple
	successColor = lipgloss.Color("42")  // Green
	warningColor = lipgloss.Color("226") // Yellow
	errorColor   = lipgloss.Color("196") // Red
	mutedColor   = lipgloss.Color("245") // Gray
	accentColor  = lipgloss.Color("212") // Pink

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			PaddingLeft(2).
			MarginBottom(1)

	itemStyle = lipgloss.NewStyle().PaddingLeft(2)

	selectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(2).
				Foreground(accentColor).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderLeft(true).
				BorderForeground(primaryColor)

	spanContinueStyle = lipgloss.NewStyle().Foreground(mutedColor)
	spanDoneStyle     = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	spanFailStyle     = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	spanNeedStyle     = lipgloss.NewStyle().Foreground(warningColor).Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(mutedColor).
			PaddingTop(1).
			MarginTop(1)

	helpBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(2, 4)

	spinnerStyle = lipgloss.NewStyle().Foreground(primaryColor)
)

// spanStyleFor picks a style based on the event name recorded in a Span,
// following the step outcomes from spec §4.8 (Continue/Done/Fail/Need).
func spanStyleFor(name string, fields map[string]any) lipgloss.Style {
	outcome, _ := fields["outcome"].(string)
	switch outcome {
	case "Done":
		return spanDoneStyle
	case "Fail", "Error":
		return spanFailStyle
	case "Need":
		return spanNeedStyle
	}
	if name == "request_end" {
		return spanDoneStyle
	}
	return spanContinueStyle
}

// statusStyle colors a response status the way an HTTP dashboard would.
func statusStyle(status int) lipgloss.Style {
	switch {
	case status >= 500:
		return spanFailStyle
	case status >= 400:
		return spanNeedStyle
	case status >= 200:
		return spanDoneStyle
	default:
		return spanContinueStyle
	}
}
