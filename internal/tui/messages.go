package tui

import "sendertally/internal/model"

// Async message types sent from the running job.

type authURLMsg string

type accountMsg model.Account

type progressMsg struct {
	current, total int
}

type senderMsg struct {
	n      int
	sender model.Sender
}

type jobDoneMsg struct {
	report *model.Report
	err    error
}
