// Package tui renders a live training dashboard fed by trainer events.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/trainer"
)

// historyRows is the number of epochs kept in the table.
const historyRows = 8

// EventMsg carries one trainer event into the program.
type EventMsg trainer.Event

// DoneMsg ends the program with the result of training.
type DoneMsg struct {
	Report *model.Report
	Err    error
}

// Model is the Bubble Tea model of the training dashboard.
type Model struct {
	title    string
	state    trainer.State
	epoch    int
	epochs   int
	batch    int
	batches  int
	last     *model.EpochReport
	best     *model.EpochReport
	history  []model.EpochReport
	started  time.Time
	spinner  spinner.Model
	epochBar progress.Model
	batchBar progress.Model
	width    int
	done     bool
	err      error
	report   *model.Report
	cancel   context.CancelFunc
}

// New creates a dashboard. cancel is called when the user quits early.
func New(title string, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = accentStyle
	return Model{
		title:    title,
		started:  time.Now(),
		spinner:  sp,
		epochBar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		batchBar: progress.New(progress.WithSolidFill("6"), progress.WithWidth(40)),
		cancel:   cancel,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd { return m.spinner.Tick }

// Update handles trainer events, key presses and window resizes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := min(60, max(10, msg.Width-24))
		m.epochBar.Width, m.batchBar.Width = w, w
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case EventMsg:
		m.apply(trainer.Event(msg))
		return m, nil
	case DoneMsg:
		m.done, m.err, m.report = true, msg.Err, msg.Report
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(e trainer.Event) {
	switch e.Kind {
	case trainer.StateChanged:
		m.state = e.State
	case trainer.BatchDone:
		m.epoch, m.epochs = e.Epoch, e.Epochs
		m.batch, m.batches = e.Batch, e.Batches
	case trainer.EpochDone:
		if e.Report == nil {
			return
		}
		r := *e.Report
		m.epoch, m.epochs = e.Epoch, e.Epochs
		m.batch, m.batches = e.Batches, e.Batches
		m.last = &r
		if r.Improved {
			m.best = &r
		}
		m.history = append(m.history, r)
		if len(m.history) > historyRows {
			m.history = m.history[len(m.history)-historyRows:]
		}
	}
}

// Err returns the training error once the program has finished.
func (m Model) Err() error { return m.err }

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	status := m.state.String()
	if !m.done {
		status = m.spinner.View() + " " + status
	}
	fmt.Fprintf(&b, "%s %s   %s %s\n\n",
		labelStyle.Render("state"), status,
		labelStyle.Render("elapsed"), time.Since(m.started).Round(time.Second))

	fmt.Fprintf(&b, "%s %s %s\n", labelStyle.Render("epoch"), m.epochBar.ViewAs(ratio(m.epoch, m.epochs)), counter(m.epoch, m.epochs))
	fmt.Fprintf(&b, "%s %s %s\n\n", labelStyle.Render("batch"), m.batchBar.ViewAs(ratio(m.batch, m.batches)), counter(m.batch, m.batches))

	if len(m.history) > 0 {
		b.WriteString(tableStyle.Render(m.table()))
		b.WriteString("\n")
	}
	if m.best != nil && m.best.ValAccuracy != nil {
		fmt.Fprintf(&b, "%s epoch %d, val acc %.4f\n", labelStyle.Render("best"), m.best.Epoch, *m.best.ValAccuracy)
	}

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render("✗ " + m.err.Error()))
	case m.done && m.report != nil:
		b.WriteString(okStyle.Render(fmt.Sprintf("✓ %s after %d epochs", m.report.StopReason, len(m.report.Epochs))))
	default:
		b.WriteString(helpStyle.Render("q to stop"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) table() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%5s  %10s  %9s  %10s  %9s", "epoch", "train loss", "train acc", "val loss", "val acc")))
	for _, r := range m.history {
		valLoss, valAcc := "-", "-"
		if r.ValLoss != nil {
			valLoss = fmt.Sprintf("%.4f", *r.ValLoss)
		}
		if r.ValAccuracy != nil {
			valAcc = fmt.Sprintf("%.4f", *r.ValAccuracy)
		}
		line := fmt.Sprintf("%5d  %10.4f  %9.4f  %10s  %9s", r.Epoch, r.TrainLoss, r.TrainAccuracy, valLoss, valAcc)
		if r.Improved {
			line = improvedStyle.Render(line + " *")
		}
		b.WriteString("\n" + line)
	}
	return b.String()
}

func ratio(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func counter(n, total int) string {
	return helpStyle.Render(fmt.Sprintf("%d/%d", n, total))
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(8)
	accentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	improvedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	tableStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)
