package cli

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"encapsia.io/cli/internal/application/services"
)

// progress shows batch events while a service runs
type progress interface {
	Emit(e services.Event)
	// Close stops the display. It must be called before printing anything else.
	Close()
}

// startProgress picks the spinner display on a terminal and plain lines otherwise
func (c *CLIContainer) startProgress() progress {
	if c.interactive() {
		return newSpinnerProgress(c.stdout())
	}
	return &lineProgress{p: c.printer()}
}

func (c *CLIContainer) interactive() bool {
	if c.Interactive != nil {
		return *c.Interactive
	}
	f, ok := c.stdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// lineProgress prints one line per finished item
type lineProgress struct {
	p *printer
}

func (l *lineProgress) Emit(e services.Event) {
	if e.Stage != services.StageDone || e.Outcome == nil {
		return
	}
	fmt.Fprintln(l.p.out, styleOutcome(*e.Outcome))
}

func (l *lineProgress) Close() {}

// spinnerProgress runs a bubbletea program showing the current item behind a
// spinner, printing each finished item above it
type spinnerProgress struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once
}

func newSpinnerProgress(out io.Writer) *spinnerProgress {
	s := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(logStyle))
	program := tea.NewProgram(progressModel{spinner: s}, tea.WithOutput(out), tea.WithInput(nil))

	sp := &spinnerProgress{program: program, done: make(chan struct{})}
	go func() {
		defer close(sp.done)
		// A failed display must not fail the command
		_, _ = program.Run()
	}()
	return sp
}

func (s *spinnerProgress) Emit(e services.Event) {
	s.program.Send(eventMsg(e))
}

func (s *spinnerProgress) Close() {
	s.once.Do(func() {
		s.program.Send(finishedMsg{})
		<-s.done
	})
}

type eventMsg services.Event

type finishedMsg struct{}

// progressModel is the bubbletea model behind spinnerProgress
type progressModel struct {
	spinner  spinner.Model
	current  *services.Event
	finished bool
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		e := services.Event(msg)
		if e.Stage == services.StageDone {
			m.current = nil
			if e.Outcome != nil {
				return m, tea.Println(styleOutcome(*e.Outcome))
			}
			return m, nil
		}
		m.current = &e
		return m, nil

	case finishedMsg:
		m.finished = true
		m.current = nil
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.finished || m.current == nil {
		return ""
	}
	e := m.current
	return fmt.Sprintf("%s [%d/%d] %s %s\n", m.spinner.View(), e.Index+1, e.Total, e.Subject, dimStyle.Render(string(e.Stage)))
}
