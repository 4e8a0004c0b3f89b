package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-kvs/pkg/kvs"
	"github.com/dd0wney/cluso-kvs/pkg/store"
)

// maxHistory bounds the scrollback kept by the shell.
const maxHistory = 200

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	promptEchoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFFF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)

	contentStyle = lipgloss.NewStyle().MarginLeft(2)
)

const shellHelp = `Commands:
  set KEY VALUE   store VALUE under KEY (VALUE may contain spaces)
  get KEY         print the value of KEY
  rm KEY          remove KEY
  stats           engine statistics (kvs engine only)
  clear           clear the scrollback
  help            this text
  exit            leave the shell`

type shellKeyMap struct {
	Enter key.Binding
	Clear key.Binding
	Quit  key.Binding
}

func (k shellKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Enter, k.Clear, k.Quit}
}

func (k shellKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Enter, k.Clear, k.Quit}}
}

var shellKeys = shellKeyMap{
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "execute"),
	),
	Clear: key.NewBinding(
		key.WithKeys("ctrl+l"),
		key.WithHelp("ctrl+l", "clear"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "ctrl+d", "esc"),
		key.WithHelp("esc", "quit"),
	),
}

type line struct {
	text  string
	isErr bool
}

type shellModel struct {
	store   store.Store
	engine  *kvs.Engine
	input   textinput.Model
	help    help.Model
	history []line
	width   int
}

func newShellModel(s store.Store, engine *kvs.Engine) shellModel {
	ti := textinput.New()
	ti.Placeholder = "set key value"
	ti.Prompt = "kvs> "
	ti.CharLimit = 4096
	ti.Focus()

	return shellModel{
		store:  s,
		engine: engine,
		input:  ti,
		help:   help.New(),
	}
}

func (m shellModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.input.Width = max(msg.Width-10, 10)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, shellKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, shellKeys.Clear):
			m.history = nil
			return m, nil
		case key.Matches(msg, shellKeys.Enter):
			input := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if input == "" {
				return m, nil
			}
			if strings.EqualFold(input, "clear") {
				m.history = nil
				return m, nil
			}
			m.push(line{text: promptEchoStyle.Render("kvs> " + input)})

			out, isErr, quit := m.execute(input)
			if quit {
				return m, tea.Quit
			}
			if out != "" {
				m.push(line{text: out, isErr: isErr})
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *shellModel) push(l line) {
	m.history = append(m.history, l)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}

// execute runs one shell line against the store. It reports whether the
// output is an error and whether the shell should exit.
func (m shellModel) execute(input string) (out string, isErr, quit bool) {
	fields := strings.SplitN(input, " ", 3)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}

	switch cmd {
	case "exit", "quit":
		return "", false, true

	case "help":
		return shellHelp, false, false

	case "set":
		if len(args) != 2 || args[0] == "" {
			return "usage: set KEY VALUE", true, false
		}
		if err := m.store.Set([]byte(args[0]), []byte(args[1])); err != nil {
			return err.Error(), true, false
		}
		return successStyle.Render("OK"), false, false

	case "get":
		if len(args) != 1 {
			return "usage: get KEY", true, false
		}
		value, found, err := m.store.Get([]byte(args[0]))
		if err != nil {
			return err.Error(), true, false
		}
		if !found {
			return keyNotFound, false, false
		}
		return string(value), false, false

	case "rm":
		if len(args) != 1 {
			return "usage: rm KEY", true, false
		}
		err := m.store.Remove([]byte(args[0]))
		if errors.Is(err, kvs.ErrKeyNotFound) {
			return keyNotFound, true, false
		}
		if err != nil {
			return err.Error(), true, false
		}
		return successStyle.Render("OK"), false, false

	case "stats":
		if m.engine == nil {
			return "stats needs -engine kvs", true, false
		}
		return renderStats(m.engine.Stats()), false, false

	default:
		return fmt.Sprintf("unknown command %q (try help)", cmd), true, false
	}
}

func (m shellModel) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("kvs shell"))
	s.WriteString("\n\n")

	for _, l := range m.history {
		text := l.text
		if l.isErr {
			text = errorStyle.Render(text)
		}
		s.WriteString(contentStyle.Render(text))
		s.WriteString("\n")
	}

	s.WriteString(contentStyle.Render(m.input.View()))
	s.WriteString("\n")
	s.WriteString(helpStyle.Render(m.help.View(shellKeys)))
	return s.String()
}

func cmdShell(e *env, _ []string) int {
	p := tea.NewProgram(newShellModel(e.store, e.engine), tea.WithOutput(e.stdout))
	if _, err := p.Run(); err != nil {
		return e.fail(err)
	}
	return exitOK
}
