package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	moduleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

type interactiveModel struct {
	err      error
	session  *session
	cfg      *fileConfig
	log      *zap.Logger
	result   string
	funcs    []funcEntry
	input    textinput.Model
	selected int
	state    modelState
}

type loadedMsg struct {
	err     error
	session *session
}

type callResultMsg struct {
	err    error
	result string
}

func newInteractiveModel(cfg *fileConfig, log *zap.Logger) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "42 2.5 str:text dtype:float32"
	ti.Prompt = "args: "
	ti.Width = 50

	return &interactiveModel{
		cfg:   cfg,
		log:   log,
		input: ti,
		state: stateSelectFunc,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	s, err := openSession(&m.cfg.Engine, m.log, m.cfg.Preload)
	return loadedMsg{session: s, err: err}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		if key == "ctrl+c" || (key == "q" && m.state != stateInputArgs) {
			m.shutdown()
			return m, tea.Quit
		}

		switch key {
		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}
		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					return m, nil
				}
				m.state = stateInputArgs
				m.input.SetValue("")
				return m, m.input.Focus()
			case stateInputArgs:
				m.input.Blur()
				return m, m.call
			case stateShowResult:
				m.reset()
			}
			return m, nil
		case "esc":
			if m.state != stateSelectFunc {
				m.input.Blur()
				m.reset()
			}
			return m, nil
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.funcs = msg.session.functions()

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) reset() {
	m.state = stateSelectFunc
	m.result = ""
	m.err = nil
}

func (m *interactiveModel) shutdown() {
	if m.session != nil {
		m.session.close()
		m.session = nil
	}
}

func (m *interactiveModel) call() tea.Msg {
	if m.session == nil {
		return callResultMsg{err: fmt.Errorf("runtime not loaded")}
	}
	args, err := parseArgs(strings.Fields(m.input.Value()))
	if err != nil {
		return callResultMsg{err: err}
	}
	result, err := m.session.call(m.funcs[m.selected].label(), args)
	return callResultMsg{result: result, err: err}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.session == nil {
		return "Loading runtime..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Packed Function Runner"))
	b.WriteString(fmt.Sprintf(" %d functions\n\n", len(m.funcs)))

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + f.label()))
			} else {
				b.WriteString("  " + formatEntry(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter choose • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", formatEntry(f)))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", formatEntry(f)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}
	return b.String()
}

func formatEntry(f funcEntry) string {
	if f.module == "" {
		return funcStyle.Render(f.name)
	}
	return moduleStyle.Render(f.module+".") + funcStyle.Render(f.name)
}

func runInteractive(cfg *fileConfig, log *zap.Logger) error {
	m := newInteractiveModel(cfg, log)
	defer m.shutdown()

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
