package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Dashboard renders a collector's session for the terminal.
type Dashboard struct {
	collector *Collector
	styles    DashboardStyles
	width     int
}

// DashboardStyles defines the styling for the dashboard.
type DashboardStyles struct {
	Border    lipgloss.Style
	Header    lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
}

// NewDashboard creates a dashboard renderer.
func NewDashboard(collector *Collector) *Dashboard {
	return &Dashboard{
		collector: collector,
		width:     80,
		styles:    defaultDashboardStyles(),
	}
}

func defaultDashboardStyles() DashboardStyles {
	return DashboardStyles{
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")),
		Label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),
		Value: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")),
		Success: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("82")),
		Error: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")),
		Highlight: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")),
	}
}

// SetWidth sets the dashboard width.
func (d *Dashboard) SetWidth(w int) {
	d.width = w
}

// Render returns the boxed session summary.
func (d *Dashboard) Render() string {
	s := d.collector.Session()

	var content strings.Builder
	content.WriteString(d.styles.Header.Render("SESSION"))
	content.WriteString("\n")

	fmt.Fprintf(&content, "%s %s │ %s %s │ %s %s\n",
		d.styles.Label.Render("Requests:"),
		d.styles.Value.Render(fmt.Sprintf("%d", s.Requests)),
		d.styles.Label.Render("Success:"),
		d.formatSuccessRate(s.SuccessRate()),
		d.styles.Label.Render("Cache:"),
		d.styles.Highlight.Render(fmt.Sprintf("%.0f%%", s.CacheHitRate()*100)),
	)

	fmt.Fprintf(&content, "%s %s │ %s %s │ %s %s\n",
		d.styles.Label.Render("Latency:"),
		d.styles.Value.Render(fmt.Sprintf("%.2fs avg", s.AverageLatency().Seconds())),
		d.styles.Label.Render("Fallbacks:"),
		d.styles.Value.Render(fmt.Sprintf("%d", s.Fallbacks)),
		d.styles.Label.Render("Recent:"),
		d.renderActivity(),
	)

	content.WriteString(d.styles.Label.Render("Modes:") + " " + d.renderModes(s.ByMode))

	return d.styles.Border.Width(d.width - 4).Render(content.String())
}

// RenderCompact returns a single-line summary.
func (d *Dashboard) RenderCompact() string {
	s := d.collector.Session()
	return fmt.Sprintf("[Session] %d req │ %.0f%% ok │ %.0f%% cached │ %.2fs avg │ %s",
		s.Requests,
		s.SuccessRate()*100,
		s.CacheHitRate()*100,
		s.AverageLatency().Seconds(),
		d.renderActivity(),
	)
}

func (d *Dashboard) formatSuccessRate(rate float64) string {
	formatted := fmt.Sprintf("%.0f%%", rate*100)
	if rate >= 0.9 {
		return d.styles.Success.Render(formatted)
	} else if rate >= 0.7 {
		return d.styles.Highlight.Render(formatted)
	}
	return d.styles.Error.Render(formatted)
}

// renderActivity shows the last five requests, oldest first: filled for a
// success, a cross for a failure, hollow for an empty slot.
func (d *Dashboard) renderActivity() string {
	recent := d.collector.Recent(5)

	activity := make([]string, 5)
	for i := range 5 {
		switch {
		case i >= len(recent):
			activity[i] = "○"
		case recent[i].Success:
			activity[i] = d.styles.Success.Render("●")
		default:
			activity[i] = d.styles.Error.Render("✗")
		}
	}
	return strings.Join(activity, "")
}

func (d *Dashboard) renderModes(byMode map[string]int) string {
	if len(byMode) == 0 {
		return d.styles.Label.Render("none")
	}
	modes := make([]string, 0, len(byMode))
	for m := range byMode {
		modes = append(modes, m)
	}
	sort.Strings(modes)

	parts := make([]string, len(modes))
	for i, m := range modes {
		parts[i] = fmt.Sprintf("%s %s", m, d.styles.Value.Render(fmt.Sprintf("%d", byMode[m])))
	}
	return strings.Join(parts, "  ")
}

// FormatLatency renders milliseconds the way the dashboard does.
func FormatLatency(ms float64) string {
	d := time.Duration(ms * float64(time.Millisecond))
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
