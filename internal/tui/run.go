package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/trainer"
)

// TrainFunc runs training, reporting progress through onEvent.
type TrainFunc func(ctx context.Context, onEvent func(trainer.Event)) (*model.Report, error)

// Run shows the dashboard while train runs in the background and returns
// its result. Quitting the dashboard cancels ctx passed to train.
func Run(ctx context.Context, title string, train TrainFunc, opts ...tea.ProgramOption) (*model.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(title, cancel), opts...)
	result := make(chan DoneMsg, 1)
	go func() {
		report, err := train(ctx, func(e trainer.Event) { p.Send(EventMsg(e)) })
		msg := DoneMsg{Report: report, Err: err}
		result <- msg
		p.Send(msg)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-result
		return nil, err
	}
	cancel()
	done := <-result
	return done.Report, done.Err
}
