package board

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bnema/hiddenprofile/internal/application"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Update is one recomputed board. Err is set when a feed could not be
// refreshed and Board holds the last known state.
type Update struct {
	Board application.Board
	Stale bool
	Err   error
}

type updateMsg Update

type feedClosedMsg struct{}

type watchModel struct {
	spinner spinner.Model
	styles  styles
	updates <-chan Update
	opts    RenderOptions
	now     func() time.Time
	current *Update
	closed  bool
}

func newWatchModel(updates <-chan Update, opts RenderOptions, now func() time.Time) watchModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return watchModel{
		spinner: s,
		styles:  newStyles(),
		updates: updates,
		opts:    opts,
		now:     now,
	}
}

func (m watchModel) waitForUpdate() tea.Msg {
	update, ok := <-m.updates
	if !ok {
		return feedClosedMsg{}
	}
	return updateMsg(update)
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdate)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.current != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case updateMsg:
		update := Update(msg)
		m.current = &update
		return m, m.waitForUpdate
	case feedClosedMsg:
		m.closed = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	default:
		return m, nil
	}
}

func (m watchModel) View() string {
	if m.current == nil {
		if m.closed {
			return ""
		}
		return fmt.Sprintf("%s %s", m.spinner.View(), "Waiting for session data...")
	}

	opts := m.opts
	opts.Now = m.now()
	opts.Stale = m.current.Stale
	return renderView(m.current.Board, opts, m.styles) + "\n"
}

// Watch redraws the board on output for every update until updates is
// closed, ctx is cancelled or the user quits.
func Watch(ctx context.Context, input io.Reader, output io.Writer, updates <-chan Update, opts RenderOptions) error {
	p := tea.NewProgram(
		newWatchModel(updates, opts, time.Now),
		tea.WithInput(input),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
