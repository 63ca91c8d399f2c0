// Package tui is the interactive front end: consent prompt, live fetch
// progress and a filterable ranking of senders.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"sendertally/internal/model"
	"sendertally/internal/progress"
	"sendertally/internal/report"
)

type viewState int

const (
	viewLoading  viewState = iota
	viewAuth               // waiting for auth code input
	viewFetching           // messages streaming in
	viewReport             // ranked senders
)

type AppModel struct {
	// Core state
	ctx     context.Context
	job     Job
	cancel  context.CancelFunc
	Report  *model.Report
	Err     error
	status  string
	account model.Account

	// Auth flow
	codes     chan string
	textInput textinput.Model
	authURL   string

	// Fetch progress
	current, total int
	lastSender     string
	spinner        spinner.Model
	bar            bprogress.Model

	// View state machine
	view        viewState
	showDomains bool
	senderList  list.Model

	// Layout
	width, height int

	// Program reference for sending messages from goroutines
	program *tea.Program
}

// SetProgram stores a reference to the tea.Program so the job can send
// progress messages back to the Update loop.
func (m *AppModel) SetProgram(p *tea.Program) {
	m.program = p
}

func NewAppModel(ctx context.Context, job Job) AppModel {
	ti := textinput.New()
	ti.Placeholder = "Paste auth code or redirect URL here"
	ti.Focus()

	sl := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	sl.KeyMap.Quit.SetKeys("q")

	return AppModel{
		ctx:        ctx,
		job:        job,
		status:     "Connecting...",
		view:       viewLoading,
		codes:      make(chan string, 1),
		textInput:  ti,
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:        bprogress.New(bprogress.WithDefaultGradient()),
		senderList: sl,
	}
}

func (m *AppModel) Init() tea.Cmd {
	return tea.Batch(m.runCmd(), m.spinner.Tick, textinput.Blink)
}

func (m *AppModel) send(msg tea.Msg) {
	if m.program != nil {
		m.program.Send(msg)
	}
}

func (m *AppModel) runCmd() tea.Cmd {
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	hooks := m.hooks()
	return func() tea.Msg {
		rep, err := m.job(ctx, hooks)
		return jobDoneMsg{report: rep, err: err}
	}
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.senderList.SetSize(msg.Width, msg.Height-5) // room for footer
		m.bar.Width = max(msg.Width-20, 10)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case authURLMsg:
		m.authURL = string(msg)
		m.view = viewAuth
		return m, nil

	case accountMsg:
		m.account = model.Account(msg)
		m.view = viewFetching
		m.status = ""
		return m, nil

	case progressMsg:
		m.view = viewFetching
		m.current, m.total = msg.current, msg.total
		return m, nil

	case senderMsg:
		m.lastSender = msg.sender.Address
		return m, nil

	case jobDoneMsg:
		if m.cancel != nil {
			m.cancel()
		}
		m.Err = msg.err
		if msg.report == nil {
			m.status = "Failed!"
			return m, tea.Quit
		}
		m.Report = msg.report
		m.showReport()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	// Delegate to active sub-model
	var cmd tea.Cmd
	switch m.view {
	case viewAuth:
		m.textInput, cmd = m.textInput.Update(msg)
	case viewReport:
		m.senderList, cmd = m.senderList.Update(msg)
	}
	return m, cmd
}

func (m *AppModel) showReport() {
	r := m.Report
	rows, what := r.Senders, "senders"
	if m.showDomains && len(r.Domains) > 0 {
		rows, what = r.Domains, "domains"
	}
	m.senderList.SetItems(sendersToItems(rows))
	title := fmt.Sprintf("Top %s of %s (%d)", what, r.Account.Email, len(rows))
	if r.Partial() {
		title += " (partial)"
	}
	m.senderList.Title = title
	m.view = viewReport
}

func (m *AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// Global keys
	if key == "ctrl+c" {
		if m.view == viewReport || m.cancel == nil {
			return m, tea.Quit
		}
		// Stop fetching; the job returns the partial report.
		m.cancel()
		m.status = "Stopping..."
		return m, nil
	}

	switch m.view {
	case viewAuth:
		switch key {
		case "enter":
			val := strings.TrimSpace(m.textInput.Value())
			m.textInput.Reset()
			if val == "" {
				return m, nil
			}
			select {
			case m.codes <- val:
			default:
			}
			m.status = "Exchanging code..."
			m.view = viewLoading
			return m, nil
		case "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd

	case viewReport:
		// When the list is filtering, let it handle all keys except ctrl+c
		if m.senderList.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.senderList, cmd = m.senderList.Update(msg)
			return m, cmd
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "d":
			m.showDomains = !m.showDomains
			m.showReport()
			return m, nil
		}
		var cmd tea.Cmd
		m.senderList, cmd = m.senderList.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the appropriate view based on current state.
func (m *AppModel) View() string {
	if m.view == viewAuth {
		return "Please open this URL in your browser to authorize read-only access:\n\n" +
			m.authURL + "\n\n" +
			m.textInput.View() + "\n"
	}

	if m.Err != nil && m.Report == nil {
		return "Error: " + m.Err.Error() + "\n"
	}

	var b strings.Builder
	switch m.view {
	case viewLoading:
		b.WriteString(m.spinner.View() + " " + m.status + "\n")
	case viewFetching:
		b.WriteString(accountHeader(m.account))
		b.WriteString("\n")
		if m.total > 0 {
			b.WriteString(m.bar.ViewAs(float64(m.current) / float64(m.total)))
		} else {
			b.WriteString(m.spinner.View())
		}
		b.WriteString(" " + progress.Format(m.current, m.total) + "\n")
		if m.lastSender != "" {
			b.WriteString("last: " + m.lastSender + "\n")
		}
		if m.status != "" {
			b.WriteString(warnStyle.Render(m.status) + "\n")
		}
		b.WriteString(fetchFooter())
	case viewReport:
		b.WriteString(m.senderList.View())
		b.WriteString("\n")
		summary := report.Summary(*m.Report)
		if m.Report.Err != "" {
			summary += "\n" + warnStyle.Render("error: "+m.Report.Err)
		}
		b.WriteString(reportFooter(summary))
	}
	return b.String()
}
