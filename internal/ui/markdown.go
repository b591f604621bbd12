package ui

import (
	"github.com/charmbracelet/glamour"
)

// RenderMarkdown renders spec markdown for terminal display. Non-TTY
// output and rendering failures fall back to the raw text so piped
// output stays machine-readable.
func RenderMarkdown(text string, width int) string {
	if !IsTerminal() || text == "" {
		return text
	}
	if width <= 0 || width > 120 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}
