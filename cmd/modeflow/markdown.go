package main

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

const defaultWrap = 80

// markdown renders model answers for the terminal. A nil *markdown, or one
// whose renderer failed to build, passes text through unchanged.
type markdown struct {
	r *glamour.TermRenderer
}

func newMarkdown(width int) *markdown {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return &markdown{}
	}
	return &markdown{r: r}
}

// Render returns content as styled terminal text, or content itself when
// rendering fails.
func (md *markdown) Render(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if md == nil || md.r == nil {
		return content
	}
	out, err := md.r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
