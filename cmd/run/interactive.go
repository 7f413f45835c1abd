package main

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/wast-runtime/runtime"
	"github.com/wippyai/wast-runtime/types"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
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

type funcInfo struct {
	name string
	sig  types.Function
}

type interactiveModel struct {
	err      error
	instance *runtime.Instance
	funcs    []funcInfo
	inputs   []textinput.Model
	result   string
	selected int
	focusIdx int
	width    int
	state    modelState
}

func newInteractiveModel(inst *runtime.Instance) *interactiveModel {
	module := inst.Module()
	var funcs []funcInfo
	for name, index := range module.Exports {
		funcs = append(funcs, funcInfo{
			name: name,
			sig:  module.Functions[index].Type,
		})
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].name < funcs[j].name })

	width := 80
	if w, _, err := term.GetSize(0); err == nil && w > 0 {
		width = w
	}

	return &interactiveModel{
		instance: inst,
		funcs:    funcs,
		width:    width,
		state:    stateSelectFunc,
	}
}

// runInteractive drives a loaded instance from a terminal UI: pick an
// export, enter its arguments, invoke it, see the result.
func runInteractive(inst *runtime.Instance) error {
	if inst.Module() == nil {
		return fmt.Errorf("interactive mode needs a text module")
	}
	_, err := tea.NewProgram(newInteractiveModel(inst)).Run()
	return err
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state != stateInputArgs || msg.String() == "ctrl+c" {
				return m, tea.Quit
			}

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
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs
			case stateInputArgs:
				return m, m.callFunction
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	sig := m.funcs[m.selected].sig
	m.inputs = make([]textinput.Model, len(sig.Parameters))
	for i, p := range sig.Parameters {
		ti := textinput.New()
		ti.Placeholder = p.String()
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	ctx := context.Background()
	f := m.funcs[m.selected]

	args := make([]uint64, len(m.inputs))
	for i, input := range m.inputs {
		word, err := encodeArg(input.Value(), f.sig.Parameters[i])
		if err != nil {
			return callResultMsg{err: fmt.Errorf("arg%d: %w", i, err)}
		}
		args[i] = word
	}

	results, err := m.instance.InvokeWithArgs(ctx, f.name, args)
	if err != nil {
		return callResultMsg{err: err}
	}
	if f.sig.Return == types.Void || len(results) == 0 {
		return callResultMsg{result: "void"}
	}
	return callResultMsg{result: formatResult(results[0], f.sig.Return)}
}

// encodeArg parses a textual argument into a raw call word.
func encodeArg(value string, t types.Type) (uint64, error) {
	switch t {
	case types.F32:
		v, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return 0, err
		}
		return uint64(math.Float32bits(float32(v))), nil
	case types.F64:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, err
		}
		return math.Float64bits(v), nil
	case types.I64:
		if v, err := strconv.ParseInt(value, 0, 64); err == nil {
			return uint64(v), nil
		}
		v, err := strconv.ParseUint(value, 0, 64)
		return v, err
	case types.Bool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return 0, err
		}
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		if v, err := strconv.ParseInt(value, 0, 32); err == nil {
			return uint64(uint32(int32(v))), nil
		}
		v, err := strconv.ParseUint(value, 0, 32)
		return uint64(uint32(v)), err
	}
}

func formatResult(word uint64, t types.Type) string {
	switch t {
	case types.F32:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(word))), 'g', -1, 32)
	case types.F64:
		return strconv.FormatFloat(math.Float64frombits(word), 'g', -1, 64)
	case types.I64:
		return fmt.Sprintf("%d (0x%x)", int64(word), word)
	case types.Bool:
		return strconv.FormatBool(word&1 != 0)
	default:
		return fmt.Sprintf("%d (0x%x)", int32(uint32(word)), uint32(word))
	}
}

func (m *interactiveModel) View() string {
	s := titleStyle.Render("wast-runtime") + "\n\n"

	if m.err != nil && m.state != stateShowResult {
		return s + errorStyle.Render("Error: "+m.err.Error()) + "\n" +
			helpStyle.Render("q: quit") + "\n"
	}

	switch m.state {
	case stateSelectFunc:
		if len(m.funcs) == 0 {
			s += "Module exports no functions.\n"
			break
		}
		s += "Exported functions:\n\n"
		for i, f := range m.funcs {
			var line string
			if i == m.selected {
				line = selectedStyle.Render("> " + f.name + " " + f.sig.String())
			} else {
				line = "  " + funcStyle.Render(f.name) + " " + typeStyle.Render(f.sig.String())
			}
			s += line + "\n"
		}
		s += "\n" + helpStyle.Render("↑/↓: select · enter: invoke · q: quit") + "\n"

	case stateInputArgs:
		s += funcStyle.Render(m.funcs[m.selected].name) + "\n\n"
		for i := range m.inputs {
			s += m.inputs[i].View() + "\n"
		}
		s += "\n" + helpStyle.Render("tab: next field · enter: invoke · esc: back") + "\n"

	case stateShowResult:
		s += funcStyle.Render(m.funcs[m.selected].name) + "\n\n"
		if m.err != nil {
			s += errorStyle.Render("Trap: "+m.err.Error()) + "\n"
		} else {
			s += resultStyle.Render("Result: "+m.result) + "\n"
		}
		s += "\n" + helpStyle.Render("enter/esc: back · q: quit") + "\n"
	}

	if m.width > 0 && m.width < 80 {
		s = lipgloss.NewStyle().MaxWidth(m.width).Render(s)
	}
	return s
}
