package popup

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/entrhq/devbridge/pkg/fx"
	"github.com/entrhq/devbridge/pkg/scripts"
)

// DispatchMsg asks the model to dispatch actions on the UI goroutine.
type DispatchMsg []fx.Action

// ScriptsMsg replaces the script list.
type ScriptsMsg []scripts.Script

// StatusMsg replaces the status line. Connecting shows a spinner.
type StatusMsg struct {
	Text       string
	Connecting bool
}

// Model is the bubbletea model of the popup. It keeps no list state of its
// own; everything it renders comes from the store.
type Model struct {
	store      *fx.Store
	spinner    spinner.Model
	connecting bool
	width      int
	err        error
}

// NewModel creates a popup model over store.
func NewModel(store *fx.Store) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle
	return &Model{store: store, spinner: s}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case DispatchMsg:
		m.dispatch(msg...)
		return m, nil

	case ScriptsMsg:
		m.dispatch(fx.A(ActScripts, []scripts.Script(msg)))
		return m, nil

	case StatusMsg:
		m.connecting = msg.Connecting
		m.dispatch(fx.A(ActStatus, msg.Text))
		if m.connecting {
			return m, m.spinner.Tick
		}
		return m, nil

	case spinner.TickMsg:
		if !m.connecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		return m, tea.Quit
	case "up", "k":
		m.dispatch(fx.A(ActSelect, -1))
	case "down", "j":
		m.dispatch(fx.A(ActSelect, 1))
	case "enter", " ":
		m.dispatch(fx.A(ActToggle))
	case "c":
		m.dispatch(fx.A(ActCopyURL))
	}
	return m, nil
}

func (m *Model) dispatch(actions ...fx.Action) {
	if err := m.store.Dispatch(actions...); err != nil {
		m.err = err
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	s := m.store.State()

	var b strings.Builder
	b.WriteString(titleStyle.Render("devbridge scripts"))
	b.WriteString("\n")

	status := Status(s)
	if m.connecting {
		status = m.spinner.View() + " " + status
	}
	if status != "" {
		b.WriteString(statusStyle.Render(status))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(renderList(s))

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(leavingStyle.Render(m.err.Error()))
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ select • enter toggle • c copy url • q quit"))

	box := boxStyle
	if m.width > 4 {
		box = box.Width(m.width - 2)
	}
	return box.Render(b.String())
}

func renderList(s fx.State) string {
	shadow := Shadow(s)
	if len(shadow) == 0 {
		return matchStyle.Render("no scripts") + "\n"
	}

	selected, hasSelection := Selected(s)

	var b strings.Builder
	for _, entry := range shadow {
		script, ok := entry.Item.(scripts.Script)
		if !ok {
			continue
		}

		cursor := "  "
		style := rowStyle
		switch {
		case entry.Leaving:
			style = leavingStyle
		case entry.Entering:
			style = enteringStyle
		case hasSelection && script.ID == selected.ID:
			cursor = "> "
			style = selectedStyle
		case !script.Enabled:
			style = disabledStyle
		}
		if hasSelection && script.ID == selected.ID && !entry.Leaving && entry.Entering {
			cursor = "> "
		}

		mark := "●"
		if !script.Enabled {
			mark = "○"
		}
		name := script.Name
		if name == "" {
			name = script.ID
		}

		line := fmt.Sprintf("%s%s %s", cursor, mark, style.Render(name))
		if len(script.Matches) > 0 {
			line += " " + matchStyle.Render(strings.Join(script.Matches, ", "))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
