package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/continuations/vm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	stackStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const headerLines = 6

// lockedBuffer collects VM output written from step commands while the
// model reads it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type interactiveModel struct {
	ctx     context.Context
	err     error
	session *session
	sched   *vm.Scheduler
	out     *lockedBuffer
	view    viewport.Model
	last    string
	running bool
}

type stepMsg struct {
	err    error
	result vm.StepResult
}

func newInteractiveModel(ctx context.Context, s *session, out *lockedBuffer, width, height int) *interactiveModel {
	m := &interactiveModel{
		ctx:     ctx,
		session: s,
		sched:   vm.NewScheduler(s.cont, nil),
		out:     out,
		last:    "ready",
	}
	if s.resumed {
		m.last = fmt.Sprintf("restored from checkpoint %q", s.id)
	}
	m.view = viewport.New(width-2, max(height-headerLines-2, 3))
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) step() tea.Msg {
	sr, err := m.sched.Step(m.ctx)
	if err == nil && sr.Status == vm.StepContinue {
		err = m.session.save(m.ctx, m.session.cont, sr.Step)
	}
	if err == nil && sr.Status == vm.StepDone {
		err = m.session.finish(m.ctx)
	}
	return stepMsg{result: sr, err: err}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "enter", " ", "n":
			if m.running || m.session.cont.IsDone() {
				return m, nil
			}
			m.running = true
			m.last = "running..."
			return m, m.step
		}

	case tea.WindowSizeMsg:
		m.view.Width = msg.Width - 2
		m.view.Height = max(msg.Height-headerLines-2, 3)

	case stepMsg:
		m.running = false
		m.err = msg.err
		switch {
		case msg.err != nil:
			m.last = fmt.Sprintf("step %d failed (%s)", msg.result.Step, msg.result.ErrorKind)
		case msg.result.Status == vm.StepDone:
			m.last = fmt.Sprintf("done after %d steps", msg.result.Step)
		default:
			m.last = fmt.Sprintf("suspended at step %d", msg.result.Step)
		}
		m.view.SetContent(m.out.String())
		m.view.GotoBottom()
	}

	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	return m, cmd
}

// View does not touch the continuation while a step is in flight.
func (m *interactiveModel) View() string {
	c := m.session.cont
	state, stack, done := "running", "...", false
	if !m.running {
		state, stack, done = c.State().String(), stackSummary(c.Stack()), c.IsDone()
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Continuation Stepper"))
	b.WriteString(" ")
	b.WriteString(m.session.entry)
	b.WriteString("\n\n")
	b.WriteString("State: ")
	b.WriteString(stateStyle.Render(state))
	b.WriteString("  ")
	b.WriteString(m.last)
	b.WriteString("\n")
	b.WriteString("Shadow stack: ")
	b.WriteString(stackStyle.Render(stack))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}
	b.WriteString("\n")
	b.WriteString(paneStyle.Render(m.view.View()))
	b.WriteString("\n")
	help := "enter step • ↑/↓ scroll • q quit"
	if done {
		help = "finished • q quit"
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

func runInteractive(ctx context.Context, o runOptions) error {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("interactive mode needs a terminal")
	}
	width, height, err := term.GetSize(fd)
	if err != nil {
		width, height = 80, 24
	}

	out := &lockedBuffer{}
	s, err := newSession(ctx, o, out)
	if err != nil {
		return err
	}
	defer s.close()

	p := tea.NewProgram(newInteractiveModel(ctx, s, out, width, height), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(*interactiveModel); ok {
		fmt.Print(m.out.String())
		if c := m.session.cont; !c.IsDone() && m.session.store == nil {
			fmt.Fprintf(os.Stderr, "left %s while %s\n", m.session.entry, c.State())
		}
	}
	return nil
}
