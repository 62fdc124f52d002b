package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerForegroundColor = lipgloss.AdaptiveColor{Light: "#a60853", Dark: "#F652A0"}
	bannerBorderColor     = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	bannerMaxWidth        = 72
	bannerStyle           = lipgloss.NewStyle().
				Padding(1).
				AlignVertical(lipgloss.Top).
				AlignHorizontal(lipgloss.Left).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(bannerBorderColor)
	bannerBodyStyle = lipgloss.NewStyle().Width(bannerMaxWidth).Foreground(bannerForegroundColor)
)

// ShowBanner prints a boxed message. Without a terminal it prints the title
// and body as plain lines.
func ShowBanner(title string, body string) {
	if !HasTTY {
		fmt.Fprintf(Out, "%s\n%s\n", title, body)
		return
	}
	block := Title(title) + "\n\n" + bannerBodyStyle.Render(body)
	fmt.Fprintln(Out, bannerStyle.Render(block))
}
