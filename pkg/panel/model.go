package panel

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RenderMsg asks the model to redraw from the panel state.
type RenderMsg struct{}

type keyMap struct {
	Submit  key.Binding
	Newline key.Binding
	Clear   key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Submit:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "evaluate")),
	Newline: key.NewBinding(key.WithKeys("alt+enter"), key.WithHelp("alt+enter", "newline")),
	Clear:   key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "clear")),
	Quit:    key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "quit")),
}

var (
	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(salmonPink).
			Padding(0, 1)
	helpStyle = lipgloss.NewStyle().Foreground(mutedGray)
)

const inputHeight = 3

// Model is the interactive panel: rendered source and console above a code
// input.
type Model struct {
	panel    *Panel
	opts     RenderOptions
	viewport viewport.Model
	input    textarea.Model
	width    int
	height   int
	err      error
}

// NewModel creates a panel UI over p.
func NewModel(p *Panel, opts RenderOptions) Model {
	ta := textarea.New()
	ta.Placeholder = "JavaScript to evaluate in the page..."
	ta.ShowLineNumbers = false
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline = keys.Newline
	ta.Focus()

	m := Model{
		panel:    p,
		opts:     opts,
		viewport: viewport.New(80, 20),
		input:    ta,
	}
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = max(msg.Height-inputHeight-4, 1)
		m.input.SetWidth(msg.Width - 6)
		m.refresh()
		return m, nil

	case RenderMsg:
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Clear):
			m.err = m.panel.Clear()
			m.refresh()
			return m, nil
		case key.Matches(msg, keys.Submit):
			code := strings.TrimSpace(m.input.Value())
			if code != "" {
				m.err = m.panel.Submit(code)
				m.input.Reset()
				m.refresh()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) refresh() {
	out, err := Render(m.panel.State(), m.opts)
	if err != nil {
		m.err = err
		return
	}
	m.viewport.SetContent(out)
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(m.input.View()))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("enter evaluate • alt+enter newline • ctrl+l clear • esc quit"))
	return b.String()
}
