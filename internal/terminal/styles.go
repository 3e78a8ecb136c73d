package terminal

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// palette holds the styles of one theme
type palette struct {
	title     lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	meta      lipgloss.Style
	errorText lipgloss.Style
	notice    lipgloss.Style
	dim       lipgloss.Style
	current   lipgloss.Style
	group     lipgloss.Style
}

func newPalette(r *lipgloss.Renderer, dark bool) palette {
	if dark {
		return palette{
			title:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
			user:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("255")).Background(lipgloss.Color("25")).Padding(0, 1),
			assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("255")).Background(lipgloss.Color("238")).Padding(0, 1),
			meta:      r.NewStyle().Foreground(lipgloss.Color("242")),
			errorText: r.NewStyle().Foreground(lipgloss.Color("203")),
			notice:    r.NewStyle().Foreground(lipgloss.Color("214")),
			dim:       r.NewStyle().Foreground(lipgloss.Color("240")),
			current:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
			group:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("252")),
		}
	}
	return palette{
		title:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("25")),
		user:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("16")).Background(lipgloss.Color("153")).Padding(0, 1),
		assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("16")).Background(lipgloss.Color("254")).Padding(0, 1),
		meta:      r.NewStyle().Foreground(lipgloss.Color("244")),
		errorText: r.NewStyle().Foreground(lipgloss.Color("160")),
		notice:    r.NewStyle().Foreground(lipgloss.Color("130")),
		dim:       r.NewStyle().Foreground(lipgloss.Color("248")),
		current:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("28")),
		group:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("235")),
	}
}

// newMarkdown builds the renderer for assistant replies
func newMarkdown(dark, plain bool, width int) (*glamour.TermRenderer, error) {
	style := "light"
	switch {
	case plain:
		style = "notty"
	case dark:
		style = "dark"
	}
	return glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width-4),
	)
}
