package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"sendertally/internal/gmail"
	"sendertally/internal/model"
	"sendertally/internal/progress"
)

// Hooks connect a running Job to the UI.
type Hooks struct {
	Prompter gmail.Prompter
	Progress progress.Reporter
	Account  func(model.Account)
	Sender   func(processed int, s model.Sender)
}

// Job authenticates, fetches and tallies. It returns a nil report when it
// fails before any message was fetched.
type Job func(ctx context.Context, h Hooks) (*model.Report, error)

// prompter shows the consent URL in the auth view and reads codes typed there.
type prompter struct {
	send  func(tea.Msg)
	codes <-chan string
}

func (p prompter) AuthURL(authURL string) { p.send(authURLMsg(authURL)) }

func (p prompter) ReadCode(ctx context.Context) (string, error) {
	select {
	case code := <-p.codes:
		return code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *AppModel) hooks() Hooks {
	return Hooks{
		Prompter: prompter{send: m.send, codes: m.codes},
		Progress: progress.Func(func(current, total int) {
			m.send(progressMsg{current: current, total: total})
		}),
		Account: func(a model.Account) { m.send(accountMsg(a)) },
		Sender: func(n int, s model.Sender) {
			m.send(senderMsg{n: n, sender: s})
		},
	}
}
