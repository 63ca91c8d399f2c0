package model

import "strings"

// Header is a single name/value pair from a message's metadata.
type Header struct {
	Name  string
	Value string
}

// MessageMeta holds the metadata we fetch for one message. It is never
// retained after its sender has been tallied.
type MessageMeta struct {
	ID      string
	Headers []Header
}

// Header returns the first header named name (case-insensitive).
func (m MessageMeta) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Sender is an extracted, normalized sender. Address is the aggregation key.
type Sender struct {
	Address     string
	DisplayName string
}

// SenderCount is one row of the ranked report. For domain rollups Address
// holds the domain and DisplayName is empty.
type SenderCount struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`
	Count       int    `json:"count"`
}

// Account describes the authenticated mailbox.
type Account struct {
	Email         string `json:"email"`
	MessagesTotal int    `json:"messages_total,omitempty"` // 0 when unknown
}

// Report is the final (or partial) outcome of a run.
type Report struct {
	Account   Account       `json:"account"`
	Senders   []SenderCount `json:"senders"`
	Domains   []SenderCount `json:"domains,omitempty"`
	Processed int           `json:"processed"`
	Recorded  int           `json:"recorded"`
	Skipped   int           `json:"skipped"`
	Excluded  int           `json:"excluded"`
	Err       string        `json:"error,omitempty"`
}

// Partial reports whether the run was cut short by an error.
func (r Report) Partial() bool { return r.Err != "" }
