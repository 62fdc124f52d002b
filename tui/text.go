package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	linkForegroundColor = lipgloss.AdaptiveColor{Light: "#000099", Dark: "#9F9FFF"}
	linkStyle           = lipgloss.NewStyle().Foreground(linkForegroundColor).Underline(true)
	boldStyleColor      = lipgloss.AdaptiveColor{Light: "#36EEE0", Dark: "#00FFFF"}
	mutedStyleColor     = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	titleStyleColor     = lipgloss.AdaptiveColor{Light: "#071330", Dark: "#F652A0"}
	secondaryStyleColor = lipgloss.AdaptiveColor{Light: "#214358", Dark: "#AEB8C4"}

	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(titleStyleColor)
	boldStyle      = lipgloss.NewStyle().Bold(true).Foreground(boldStyleColor)
	secondaryStyle = lipgloss.NewStyle().Foreground(secondaryStyleColor)
	mutedStyle     = lipgloss.NewStyle().Foreground(mutedStyleColor)
)

// Title styles a heading, such as a banner title.
func Title(text string) string {
	return titleStyle.Render(text)
}

// Bold highlights a value inside a message, like an endpoint.
func Bold(text string) string {
	return boldStyle.Render(text)
}

func Secondary(text string) string {
	return secondaryStyle.Render(text)
}

// Muted styles details the user rarely needs, like response status lines.
func Muted(text string) string {
	return mutedStyle.Render(text)
}

// Link styles url as a link. The url is rendered as is; consent URLs carry
// percent escapes.
func Link(url string) string {
	return linkStyle.Render(url)
}

// MaxWidth truncates text to width cells with an ellipsis.
func MaxWidth(text string, width int) string {
	if lipgloss.Width(text) <= width || width < 4 {
		return text
	}
	runes := []rune(text)
	if len(runes) > width-3 {
		runes = runes[:width-3]
	}
	return string(runes) + "..."
}
