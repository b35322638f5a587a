package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
	"github.com/RichLycus/ProjekUtama-sub000/internal/router"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)

	modeBadgeStyles = map[router.Mode]lipgloss.Style{
		router.ModeFast:     badge("42"),
		router.ModeThorough: badge("63"),
		router.ModeHybrid:   badge("214"),
		router.ModeDepends:  badge("245"),
	}

	stepStatusStyles = map[pipeline.StepStatus]lipgloss.Style{
		pipeline.StepSuccess: successStyle,
		pipeline.StepSkipped: dimStyle,
		pipeline.StepError:   errorStyle,
	}
)

func badge(color string) lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color(color)).
		Padding(0, 1)
}

func modeBadge(m router.Mode) string {
	st, ok := modeBadgeStyles[m]
	if !ok {
		st = badge("245")
	}
	return st.Render(strings.ToUpper(string(m)))
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

// bar draws a fixed-width meter for a score in [0,1].
func bar(score float64) string {
	const width = 20
	n := int(score*width + 0.5)
	n = max(0, min(width, n))
	return strings.Repeat("█", n) + dimStyle.Render(strings.Repeat("░", width-n)) + fmt.Sprintf(" %.2f", score)
}

func renderDecision(d *router.ModeDecision) string {
	var b strings.Builder
	b.WriteString(modeBadge(d.Mode) + fmt.Sprintf("  confidence %.2f", d.Confidence) + "\n\n")

	if d.Intent != nil {
		b.WriteString(row("intent", fmt.Sprintf("%s (%.2f)", d.Intent.Intent, d.Intent.Confidence)) + "\n")
	}
	if d.Complexity != nil {
		b.WriteString(row("complexity", string(d.Complexity.Level)) + "\n")
	}
	b.WriteString(row("intent score", bar(d.IntentScore)) + "\n")
	b.WriteString(row("complexity", bar(d.ComplexityScore)) + "\n")
	b.WriteString(row("context", bar(d.ContextScore)) + "\n")
	b.WriteString(row("overall", bar(d.OverallScore)) + "\n")

	if d.Complexity != nil && len(d.Complexity.Factors) > 0 {
		b.WriteString("\n" + titleStyle.Render("Factors") + "\n")
		for _, f := range router.AllFactors() {
			fs, ok := d.Complexity.Factors[f]
			if !ok {
				continue
			}
			b.WriteString(row(string(f), bar(fs.Score)) + dimStyle.Render("  "+fs.Explanation) + "\n")
		}
	}
	if len(d.Overrides) > 0 {
		b.WriteString("\n" + row("overrides", warnStyle.Render(strings.Join(d.Overrides, ", "))) + "\n")
	}
	if d.Reasoning != "" {
		b.WriteString("\n" + dimStyle.Render(d.Reasoning) + "\n")
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderSteps(ec *pipeline.ExecutionContext) string {
	var b strings.Builder
	md := ec.Metadata
	b.WriteString(titleStyle.Render(md.FlowName) + dimStyle.Render(fmt.Sprintf("  %s v%s  %s", md.FlowID, md.FlowVersion, md.Status)) + "\n")
	for _, s := range md.Steps {
		st, ok := stepStatusStyles[s.Status]
		if !ok {
			st = dimStyle
		}
		line := fmt.Sprintf("  %-14s %-18s %s", s.StepID, s.Handler, st.Render(string(s.Status)))
		if s.Attempts > 1 {
			line += dimStyle.Render(fmt.Sprintf(" x%d", s.Attempts))
		}
		line += dimStyle.Render(" " + s.Duration.Round(time.Millisecond).String())
		if s.Reason != "" {
			line += dimStyle.Render("  " + s.Reason)
		}
		if s.Error != "" {
			line += errorStyle.Render("  " + s.Error)
		}
		b.WriteString(line + "\n")
	}
	if md.RecoveryUsed != "" {
		b.WriteString(warnStyle.Render("  recovered with "+md.RecoveryUsed) + "\n")
	}
	if md.FallbackUsed != "" {
		b.WriteString(warnStyle.Render("  fell back to "+md.FallbackUsed) + "\n")
	}
	b.WriteString(dimStyle.Render("  total "+md.TotalTime.Round(time.Millisecond).String()))
	return b.String()
}

func renderCounts[K ~string](title string, counts map[K]int64) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(titleStyle.Render(title) + "\n")
	for _, k := range keys {
		b.WriteString(row(k, fmt.Sprintf("%d", counts[K(k)])) + "\n")
	}
	return b.String()
}
