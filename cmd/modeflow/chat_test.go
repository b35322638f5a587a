package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichLycus/ProjekUtama-sub000/internal/orchestrator"
)

// drain executes cmd and flattens batches into their messages.
func drain(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		return []tea.Msg{msg}
	}
	var out []tea.Msg
	for _, c := range batch {
		out = append(out, drain(c)...)
	}
	return out
}

func findAnswer(t *testing.T, msgs []tea.Msg) answerMsg {
	t.Helper()
	for _, msg := range msgs {
		if a, ok := msg.(answerMsg); ok {
			return a
		}
	}
	require.Fail(t, "no answer in messages")
	return answerMsg{}
}

func press(m tea.Model, k tea.KeyType) (chatModel, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: k})
	return next.(chatModel), cmd
}

func TestChatModel_EnterSendsAndPrintsAnswer(t *testing.T) {
	var asked []string
	ask := func(text string) *orchestrator.Result {
		asked = append(asked, text)
		return &orchestrator.Result{Success: true, Response: "Goroutines are cheap threads.", Pipeline: "fast/default"}
	}
	m := newChatModel("s1", ask, false, nil)
	m.input.SetValue("  what is a goroutine  ")

	m, cmd := press(m, tea.KeyEnter)
	assert.True(t, m.pending)
	assert.Empty(t, m.input.Value())
	require.Len(t, m.transcript, 1)
	assert.Contains(t, m.transcript[0], "what is a goroutine")

	answer := findAnswer(t, drain(cmd))
	assert.Equal(t, []string{"what is a goroutine"}, asked)

	next, _ := m.Update(answer)
	m = next.(chatModel)
	assert.False(t, m.pending)
	require.Len(t, m.transcript, 2)
	assert.Contains(t, m.transcript[1], "Goroutines are cheap threads.")
}

func TestChatModel_IgnoresEnterWhileWaiting(t *testing.T) {
	calls := 0
	m := newChatModel("s1", func(string) *orchestrator.Result {
		calls++
		return &orchestrator.Result{Success: true, Response: "ok"}
	}, false, nil)
	m.input.SetValue("first")
	m, cmd := press(m, tea.KeyEnter)
	drain(cmd)

	m.input.SetValue("second")
	m, cmd = press(m, tea.KeyEnter)
	assert.Nil(t, cmd)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "second", m.input.Value())
	assert.Contains(t, m.View(), "thinking")
}

func TestChatModel_Quits(t *testing.T) {
	for _, k := range []tea.KeyType{tea.KeyEnter, tea.KeyEsc, tea.KeyCtrlC} {
		m := newChatModel("s1", nil, false, nil)
		_, cmd := press(m, k)
		require.NotNil(t, cmd, k.String())
		assert.Equal(t, tea.QuitMsg{}, cmd(), k.String())
	}
}

func TestChatModel_FailedAnswer(t *testing.T) {
	m := newChatModel("s1", nil, false, nil)
	m.pending = true

	next, _ := m.Update(answerMsg{res: &orchestrator.Result{
		Response: "Sorry, something went wrong.",
		Error:    errors.New("backend down"),
	}})
	m = next.(chatModel)

	require.Len(t, m.transcript, 1)
	assert.Contains(t, m.transcript[0], "Sorry, something went wrong.")
	assert.False(t, m.pending)
}

func TestChatModel_TranscriptNotShared(t *testing.T) {
	m := newChatModel("s1", nil, false, nil)
	m.pending = true
	first, _ := m.Update(answerMsg{res: &orchestrator.Result{Success: true, Response: "one"}})
	second, _ := m.Update(answerMsg{res: &orchestrator.Result{Success: true, Response: "two"}})

	assert.True(t, strings.Contains(first.(chatModel).transcript[0], "one"))
	assert.True(t, strings.Contains(second.(chatModel).transcript[0], "two"))
	assert.Empty(t, m.transcript)
}

func TestMarkdown_Render(t *testing.T) {
	md := newMarkdown(40)

	out := md.Render("# Title\n\nSome **bold** text.")
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "bold")
	assert.False(t, strings.HasSuffix(out, "\n"))

	assert.Empty(t, md.Render("   "))

	var raw *markdown
	assert.Equal(t, "**as is**", raw.Render("**as is**"))
	assert.Equal(t, "plain", (&markdown{}).Render("plain"))
}
