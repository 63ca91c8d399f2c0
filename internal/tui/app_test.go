package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"sendertally/internal/model"
)

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func sampleReport() *model.Report {
	return &model.Report{
		Account: model.Account{Email: "me@example.com", MessagesTotal: 10},
		Senders: []model.SenderCount{
			{Address: "b@x.com", DisplayName: "Bee", Count: 5},
			{Address: "a@y.com", Count: 3},
		},
		Domains:   []model.SenderCount{{Address: "x.com", Count: 5}, {Address: "y.com", Count: 3}},
		Processed: 9,
		Recorded:  8,
		Skipped:   1,
	}
}

func TestAppModel_Flow(t *testing.T) {
	m := NewAppModel(context.Background(), nil)

	m.Update(authURLMsg("https://accounts.example.com/auth?state=s"))
	if m.view != viewAuth || !strings.Contains(m.View(), "https://accounts.example.com/auth") {
		t.Fatalf("auth view not shown: %q", m.View())
	}

	m.textInput.SetValue("  4/code  ")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	select {
	case code := <-m.codes:
		if code != "4/code" {
			t.Fatalf("code = %q", code)
		}
	default:
		t.Fatal("code not forwarded")
	}
	if m.view != viewLoading {
		t.Fatalf("view = %v", m.view)
	}

	m.Update(accountMsg{Email: "me@example.com", MessagesTotal: 10})
	m.Update(progressMsg{current: 3, total: 10})
	m.Update(senderMsg{n: 3, sender: model.Sender{Address: "b@x.com"}})
	v := m.View()
	for _, want := range []string{"me@example.com", "[3/10]", "last: b@x.com"} {
		if !strings.Contains(v, want) {
			t.Errorf("fetch view missing %q:\n%s", want, v)
		}
	}

	m.Update(jobDoneMsg{report: sampleReport()})
	if m.view != viewReport || len(m.senderList.Items()) != 2 {
		t.Fatalf("view = %v items = %d", m.view, len(m.senderList.Items()))
	}
	first := m.senderList.Items()[0].(senderItem)
	if first.rank != 1 || first.Address != "b@x.com" {
		t.Fatalf("first item = %+v", first)
	}
	if !strings.Contains(m.View(), "9 messages processed") {
		t.Errorf("summary missing:\n%s", m.View())
	}

	m.Update(runes("d"))
	if !strings.Contains(m.senderList.Title, "domains") {
		t.Fatalf("title = %q", m.senderList.Title)
	}

	_, cmd := m.Update(runes("q"))
	if !isQuit(cmd) {
		t.Fatal("q should quit from the report view")
	}
}

func TestAppModel_JobFailure(t *testing.T) {
	m := NewAppModel(context.Background(), nil)
	_, cmd := m.Update(jobDoneMsg{err: errors.New("no OAuth client")})
	if !isQuit(cmd) {
		t.Fatal("expected quit")
	}
	if m.Err == nil || !strings.Contains(m.View(), "Error: no OAuth client") {
		t.Fatalf("view = %q", m.View())
	}
}

func TestAppModel_CtrlCStopsFetch(t *testing.T) {
	job := func(ctx context.Context, h Hooks) (*model.Report, error) {
		h.Progress.Report(1, 0)
		<-ctx.Done()
		r := sampleReport()
		r.Err = ctx.Err().Error()
		return r, ctx.Err()
	}
	m := NewAppModel(context.Background(), job)
	run := m.runCmd()
	done := make(chan tea.Msg, 1)
	go func() { done <- run() }()

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if isQuit(cmd) {
		t.Fatal("ctrl+c while fetching should not quit")
	}

	select {
	case msg := <-done:
		m.Update(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop")
	}
	if m.view != viewReport || !strings.Contains(m.senderList.Title, "(partial)") {
		t.Fatalf("view = %v title = %q", m.view, m.senderList.Title)
	}
	if !errors.Is(m.Err, context.Canceled) {
		t.Fatalf("Err = %v", m.Err)
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !isQuit(cmd) {
		t.Fatal("second ctrl+c should quit")
	}
}

func TestPrompter(t *testing.T) {
	codes := make(chan string, 1)
	var shown []tea.Msg
	p := prompter{send: func(msg tea.Msg) { shown = append(shown, msg) }, codes: codes}

	p.AuthURL("https://auth")
	if len(shown) != 1 || shown[0] != authURLMsg("https://auth") {
		t.Fatalf("sent = %v", shown)
	}

	codes <- "abc"
	got, err := p.ReadCode(context.Background())
	if err != nil || got != "abc" {
		t.Fatalf("ReadCode = %q, %v", got, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.ReadCode(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want Canceled, got %v", err)
	}
}
