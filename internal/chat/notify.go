package chat

import "log/slog"

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is a transient, dismissible message for the user.
type Notification struct {
	Title       string
	Description string
	Variant     Variant
}

type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// logNotifier is used when no Notifier is configured.
type logNotifier struct{}

func (logNotifier) Notify(n Notification) {
	slog.Info("chat: notification", "title", n.Title, "description", n.Description, "variant", string(n.Variant))
}

var (
	noticeSaveFailed = Notification{
		Title:       "Error saving message",
		Description: "Your message couldn't be saved",
		Variant:     VariantDestructive,
	}
	noticeReplySaveFailed = Notification{
		Title:       "Reply not saved",
		Description: "Xoe's reply is shown but couldn't be saved",
		Variant:     VariantDestructive,
	}
	noticeGenerateFailed = Notification{
		Title:       "Error",
		Description: "Failed to generate AI response. Please try again.",
		Variant:     VariantDestructive,
	}
	noticeCreateFailed = Notification{
		Title:       "Error",
		Description: "Failed to create new chat. Your chats are kept on this device for now.",
		Variant:     VariantDestructive,
	}
	noticeLoadSessionsFailed = Notification{
		Title:       "Error loading chat sessions",
		Description: "Please try refreshing the page",
		Variant:     VariantDestructive,
	}
	noticeLoadMessagesFailed = Notification{
		Title:       "Error loading messages",
		Description: "Please try refreshing the page",
		Variant:     VariantDestructive,
	}
	noticeSessionNotFound = Notification{
		Title:       "Error",
		Description: "Failed to load chat session. Please try again.",
		Variant:     VariantDestructive,
	}
)
