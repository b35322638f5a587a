package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/RichLycus/ProjekUtama-sub000/internal/metrics"
	"github.com/RichLycus/ProjekUtama-sub000/internal/orchestrator"
)

func chatCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session; each line is one request",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch, err := orchestrator.FromConfig(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer orch.Close()

			if f.sessionID == "" {
				f.sessionID = uuid.NewString()
			}

			// Cancelled before Close so an in-flight request stops first.
			reqCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			ask := func(text string) *orchestrator.Result {
				return handle(reqCtx, orch, &f, text)
			}
			m := newChatModel(f.sessionID, ask, f.steps, f.markdown())
			if _, err := tea.NewProgram(m, tea.WithContext(ctx)).Run(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("chat: %w", err)
			}
			cancel()

			stats := orch.Stats(context.WithoutCancel(ctx))
			fmt.Println(metrics.NewDashboard(orch.Metrics()).Render())
			if len(stats.Router.IntentDistribution) > 0 {
				fmt.Print(renderCounts("Intents", stats.Router.IntentDistribution))
			}
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// CHAT MODEL
// ═══════════════════════════════════════════════════════════════════════════════

type chatKeyMap struct {
	Send key.Binding
	Quit key.Binding
}

var chatKeys = chatKeyMap{
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "esc", "ctrl+d"),
		key.WithHelp("esc", "quit"),
	),
}

// answerMsg carries a finished request back to the model.
type answerMsg struct {
	res *orchestrator.Result
}

// chatModel reads one request per line and prints each exchange above the
// prompt. Only one request is in flight at a time.
type chatModel struct {
	session string
	ask     func(text string) *orchestrator.Result
	steps   bool
	md      *markdown

	input   textinput.Model
	spinner spinner.Model
	pending bool

	// transcript holds every printed block, oldest first.
	transcript []string
}

var promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))

func newChatModel(session string, ask func(string) *orchestrator.Result, steps bool, md *markdown) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask something... (enter to send, empty line or esc to quit)"
	ti.Prompt = "> "
	ti.PromptStyle = promptStyle
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return chatModel{
		session: session,
		ask:     ask,
		steps:   steps,
		md:      md,
		input:   ti,
		spinner: sp,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		tea.Println(dimStyle.Render("session "+m.session)),
	)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, chatKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, chatKeys.Send):
			if m.pending {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, tea.Quit
			}
			m.input.Reset()
			m.pending = true
			echo := m.print(promptStyle.Render("> ") + text)
			return m, tea.Batch(echo, m.send(text), m.spinner.Tick)
		}

	case answerMsg:
		m.pending = false
		out := m.print(formatResult(msg.res, m.steps, m.md) + "\n")
		return m, out

	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) View() string {
	if m.pending {
		return m.spinner.View() + dimStyle.Render(" thinking...")
	}
	return m.input.View()
}

// print records block and emits it above the prompt. The transcript slice is
// never shared between model copies.
func (m *chatModel) print(block string) tea.Cmd {
	m.transcript = append(m.transcript[:len(m.transcript):len(m.transcript)], block)
	return tea.Println(block)
}

func (m chatModel) send(text string) tea.Cmd {
	ask := m.ask
	return func() tea.Msg {
		return answerMsg{res: ask(text)}
	}
}
