package chat

import (
	"encoding/json"

	"github.com/charmbracelet/lipgloss"
	"github.com/tidwall/pretty"

	"github.com/ppiankov/archeck/internal/reasoning"
)

const (
	colorPrimary = "#7D56F4"
	colorSuccess = "#04B575"
	colorError   = "#FF0000"
	colorWarn    = "#FFA500"
	colorInfo    = "#626262"
	colorBorder  = "#874BFD"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorPrimary))

	userStyle = lipgloss.NewStyle().
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorSuccess))

	blockedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorWarn))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorError))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorInfo))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorBorder)).
			Padding(0, 1)
)

// formatFindings renders findings as indented JSON
func formatFindings(findings []reasoning.Finding) string {
	data, err := json.Marshal(findings)
	if err != nil {
		return err.Error()
	}
	return string(pretty.PrettyOptions(data, &pretty.Options{Width: 80, Indent: "  "}))
}
