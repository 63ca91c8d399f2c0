package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"

	"sendertally/internal/model"
)

// senderItem wraps SenderCount to customize list display.
type senderItem struct {
	rank int
	model.SenderCount
}

func (s senderItem) FilterValue() string { return s.Address + " " + s.DisplayName }
func (s senderItem) Title() string {
	return fmt.Sprintf("%3d. %s (%d)", s.rank, s.Address, s.Count)
}
func (s senderItem) Description() string {
	if s.DisplayName != "" {
		return "     " + s.DisplayName
	}
	return ""
}

var (
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			PaddingBottom(1)

	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func accountHeader(a model.Account) string {
	if a.Email == "" {
		return ""
	}
	return headerStyle.Render(fmt.Sprintf("Authenticated as: %s\nTotal messages: %d", a.Email, a.MessagesTotal))
}

func fetchFooter() string {
	return footerStyle.Render("ctrl+c: stop and show partial report")
}

func reportFooter(summary string) string {
	return footerStyle.Render(summary + "\n/: filter  d: toggle domains  q: quit")
}

func sendersToItems(rows []model.SenderCount) []list.Item {
	items := make([]list.Item, len(rows))
	for i, r := range rows {
		items[i] = senderItem{rank: i + 1, SenderCount: r}
	}
	return items
}
