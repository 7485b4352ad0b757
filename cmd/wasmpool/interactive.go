package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-threads/coordinator"
	"github.com/wippyai/wasm-threads/engine"
	"github.com/wippyai/wasm-threads/runtime"
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

	tableStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#444444"))
)

type interactiveModel struct {
	ctx      context.Context
	err      error
	session  *session
	pool     *runtime.Pool
	filename string
	result   string
	funcs    []funcInfo
	inputs   []textinput.Model
	spinner  spinner.Model
	workers  table.Model
	threads  int
	selected int
	focusIdx int
	state    modelState
}

type funcInfo struct {
	sig    engine.Signature
	params []paramInfo
}

type paramInfo struct {
	name    string
	witType wit.Type
	typeStr string
}

type modelState int

const (
	stateStarting modelState = iota
	stateSelectFunc
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(ctx context.Context, s *session, opts options) *interactiveModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 4},
			{Title: "State", Width: 12},
			{Title: "Detail", Width: 40},
		}),
		table.WithHeight(opts.cfg.Threads+1),
	)

	m := &interactiveModel{
		ctx:      ctx,
		session:  s,
		filename: opts.cfg.Wasm,
		spinner:  sp,
		workers:  tbl,
		threads:  opts.cfg.Threads,
		state:    stateStarting,
	}
	for _, name := range s.module.Exports() {
		sig, err := s.module.Signature(name)
		if err != nil {
			continue
		}
		m.funcs = append(m.funcs, newFuncInfo(sig))
	}
	return m
}

func newFuncInfo(sig engine.Signature) funcInfo {
	fi := funcInfo{sig: sig}
	for i, p := range sig.Params {
		fi.params = append(fi.params, paramInfo{
			name:    fmt.Sprintf("p%d", i),
			witType: p,
			typeStr: witTypeStr(p),
		})
	}
	return fi
}

type poolStartedMsg struct {
	err  error
	pool *runtime.Pool
}

type callResultMsg struct {
	err    error
	result string
}

type refreshMsg struct{}

func refresh() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg { return refreshMsg{} })
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startPool)
}

func (m *interactiveModel) startPool() tea.Msg {
	p, err := m.session.module.StartPool(m.ctx, m.threads)
	return poolStartedMsg{err: err, pool: p}
}

func (m *interactiveModel) shutdown() {
	if m.pool != nil {
		m.pool.Close(context.WithoutCancel(m.ctx))
		m.pool = nil
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == stateInputArgs && msg.String() == "q" {
				break
			}
			m.shutdown()
			return m, tea.Quit

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

	case spinner.TickMsg:
		if m.state == stateStarting {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case poolStartedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.pool = msg.pool
		m.state = stateSelectFunc
		m.updateWorkers()
		return m, refresh()

	case refreshMsg:
		m.updateWorkers()
		return m, refresh()

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		m.updateWorkers()
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

func (m *interactiveModel) updateWorkers() {
	if m.pool == nil {
		return
	}
	m.workers.SetRows(workerRows(m.pool.Workers()))
}

func workerRows(statuses []coordinator.Status) []table.Row {
	rows := make([]table.Row, len(statuses))
	for i, s := range statuses {
		rows[i] = table.Row{strconv.Itoa(s.ID), s.State.String(), statusDetail(s)}
	}
	return rows
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.params))
	for i, p := range f.params {
		ti := textinput.New()
		ti.Placeholder = p.typeStr
		ti.Prompt = p.name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	if m.pool == nil {
		return callResultMsg{err: fmt.Errorf("pool not started")}
	}
	f := m.funcs[m.selected]
	args := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		args[i] = input.Value()
	}

	results, err := m.pool.CallStrings(m.ctx, f.sig.Name, args)
	if err != nil {
		return callResultMsg{err: err}
	}
	if len(results) == 0 {
		return callResultMsg{result: "(no results)"}
	}
	return callResultMsg{result: strings.Join(results, ", ")}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Pool"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateStarting:
		fmt.Fprintf(&b, "%s Starting %d workers...\n", m.spinner.View(), m.threads)
		return b.String()

	case stateSelectFunc:
		b.WriteString("Select a function to run on the pool:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatFunc(f)))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Calling %s\n\n", funcStyle.Render(f.sig.Name))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.params[i].typeStr))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Result of %s:\n\n", funcStyle.Render(f.sig.Name))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	b.WriteString("\n\n")
	b.WriteString(tableStyle.Render(m.workers.View()))
	return b.String()
}

func formatFunc(f funcInfo) string {
	var params []string
	for _, p := range f.params {
		params = append(params, p.name+": "+typeStyle.Render(p.typeStr))
	}
	var results []string
	for _, r := range f.sig.Results {
		results = append(results, typeStyle.Render(witTypeStr(r)))
	}
	out := funcStyle.Render(f.sig.Name) + "(" + strings.Join(params, ", ") + ")"
	if len(results) > 0 {
		out += " -> " + strings.Join(results, ", ")
	}
	return out
}

func witTypeStr(t wit.Type) string {
	switch t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	default:
		return fmt.Sprintf("%T", t)
	}
}

func runInteractive(ctx context.Context, s *session, opts options) error {
	m := newInteractiveModel(ctx, s, opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	m.shutdown()
	return err
}
