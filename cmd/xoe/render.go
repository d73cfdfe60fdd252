package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"companion-chat/internal/chat"
	"companion-chat/internal/domain"
)

var (
	userNameStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	companionNameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	contentStyle          = lipgloss.NewStyle().PaddingLeft(2)
	pendingStyle          = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("243")).Italic(true)
	timestampStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	noticeTitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	destructiveTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle              = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	currentMarkerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
)

const typingIndicator = "Xoe is typing..."

func renderMessage(m domain.Message, userName string) string {
	if m.IsLoading() {
		return companionNameStyle.Render("Xoe") + "\n" + pendingStyle.Render(typingIndicator)
	}
	name := companionNameStyle.Render("Xoe")
	if m.Role == domain.RoleUser {
		name = userNameStyle.Render(userName)
	}
	header := name + " " + timestampStyle.Render(m.SentAt.Local().Format("15:04"))
	return header + "\n" + contentStyle.Render(m.Content)
}

func renderNotification(n chat.Notification) string {
	title := noticeTitleStyle.Render(n.Title)
	if n.Variant == chat.VariantDestructive {
		title = destructiveTitleStyle.Render(n.Title)
	}
	if n.Description == "" {
		return title
	}
	return title + " " + dimStyle.Render(n.Description)
}

// renderSessions lists sessions newest first, numbered from 1 for /select.
func renderSessions(sessions []domain.ChatSession, currentID string) string {
	if len(sessions) == 0 {
		return dimStyle.Render("No conversations yet.")
	}
	var b strings.Builder
	for i, s := range sessions {
		marker := "  "
		if s.ID == currentID {
			marker = currentMarkerStyle.Render("* ")
		}
		fmt.Fprintf(&b, "%s%2d. %s %s\n    %s\n", marker, i+1, s.Title,
			timestampStyle.Render(relativeTime(s.LastUpdated, time.Now())),
			dimStyle.Render(s.LastMessage))
	}
	return strings.TrimRight(b.String(), "\n")
}

func relativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("Jan 2")
	}
}

// transcript prints messages[from:] and returns the new count.
func transcript(w io.Writer, msgs []domain.Message, from int, userName string) int {
	if from > len(msgs) {
		from = 0
	}
	for _, m := range msgs[from:] {
		fmt.Fprintln(w, renderMessage(m, userName))
	}
	return len(msgs)
}
