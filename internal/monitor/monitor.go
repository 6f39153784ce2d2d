package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"droneops-fleet/internal/hub"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// eventMsg carries one hub event into the model.
type eventMsg struct{ hub.Event }

// statsMsg reports the subscription counters.
type statsMsg struct{ hub.Stats }

// Run shows the terminal UI until the user quits or ctx is done. Events
// are read from sub. toggleChaos may be nil.
func Run(ctx context.Context, sub *hub.Subscription, clusterID string, toggleChaos func() bool) error {
	p := tea.NewProgram(newModel(clusterID, toggleChaos), tea.WithAltScreen(), tea.WithContext(ctx))
	go pump(ctx, sub, p)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// pump forwards events to the program until the subscription closes.
func pump(ctx context.Context, sub *hub.Subscription, p teaProgram) {
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			p.Send(eventMsg{ev})
			p.Send(statsMsg{sub.Stats()})
		case <-ctx.Done():
			return
		}
	}
}

// Print writes one line per event to w until the subscription closes or
// ctx is done.
func Print(ctx context.Context, sub *hub.Subscription, w io.Writer, color bool) error {
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			line := FormatEvent(ev)
			if !color {
				line = stripANSI(line)
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
