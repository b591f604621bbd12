package ui

import "github.com/charmbracelet/lipgloss"

// Semantic colors. ANSI-16 codes degrade cleanly on low-color terminals.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "4", Dark: "12"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "2", Dark: "10"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "3", Dark: "11"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "1", Dark: "9"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "8", Dark: "8"}
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
)

func render(style lipgloss.Style, s string) string {
	if !ShouldUseColor() {
		return s
	}
	return style.Render(s)
}

// RenderAccent styles s in the accent color when color is enabled.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass styles s as a success.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles s as a warning.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail styles s as a failure.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderMuted styles s as secondary text.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// TierGlyph returns the marker shown next to an agent in list output.
func TierGlyph(tier string) string {
	switch tier {
	case "active":
		return RenderPass("●")
	case "idle":
		return RenderAccent("◐")
	case "stuck":
		return RenderWarn("▲")
	default: // away
		return RenderMuted("○")
	}
}
