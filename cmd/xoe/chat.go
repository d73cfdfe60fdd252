package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"companion-chat/internal/app"
	"companion-chat/internal/chat"
	"companion-chat/internal/domain"
	"companion-chat/internal/speech"
)

const replHelp = `Commands:
  /new             start a new conversation
  /sessions        list your conversations
  /select <n|id>   open a conversation
  /voice [on|off]  toggle spoken replies
  /stop            stop speaking
  /record          dictate into the draft
  /send            send the draft
  /help            show this help
  /quit            leave
Anything else is sent to Xoe.`

func newChatCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk with Xoe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			rt, err := setup(ctx, c.cfg, out)
			if err != nil {
				return err
			}
			defer rt.Close()

			a, err := rt.buildApp(ctx)
			if err != nil {
				return err
			}
			if err := a.Init(ctx); err != nil {
				return err
			}
			defer a.Close()
			if a.Chat() == nil {
				return errNotSignedIn
			}
			r := &repl{app: a, out: out, notify: rt.notifier()}
			return r.run(ctx, cmd.InOrStdin())
		},
	}
}

// parseLine splits a slash command into its name and argument. ok is false
// for plain text.
func parseLine(line string) (name, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

// resolveSession maps a 1-based list position or an id onto a session id.
func resolveSession(sessions []domain.ChatSession, arg string) string {
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(sessions) {
		return sessions[n-1].ID
	}
	return arg
}

type repl struct {
	app    *app.App
	out    io.Writer
	notify chat.Notifier

	sessionID string
	shown     int
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	user := r.app.User()
	mode := r.app.Chat().Mode()
	fmt.Fprintf(r.out, "Signed in as %s (%s). Type /help for commands.\n", user.DisplayName(), mode)
	r.refresh(true)

	sc := bufio.NewScanner(in)
	fmt.Fprint(r.out, "> ")
	for sc.Scan() {
		quit, err := r.handle(ctx, sc.Text())
		if err != nil {
			fmt.Fprintln(r.out, destructiveTitleStyle.Render("Error")+" "+err.Error())
		}
		if quit || ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, "> ")
	}
	return sc.Err()
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	conv := r.app.Chat()
	if conv == nil {
		return true, errNotSignedIn
	}
	name, arg, isCmd := parseLine(line)
	if !isCmd {
		return false, r.send(ctx, line)
	}

	switch name {
	case "quit", "exit", "q":
		return true, nil
	case "help":
		fmt.Fprintln(r.out, replHelp)
	case "new":
		if err := conv.StartNewSession(ctx); err != nil {
			return false, err
		}
		r.refresh(true)
	case "sessions":
		cur, _ := conv.CurrentSession()
		fmt.Fprintln(r.out, renderSessions(conv.Sessions(), cur.ID))
	case "select":
		if arg == "" {
			return false, errors.New("usage: /select <n|id>")
		}
		err := conv.SelectSession(ctx, resolveSession(conv.Sessions(), arg))
		if errors.Is(err, chat.ErrSessionNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		r.refresh(true)
	case "voice":
		return false, r.toggleVoice(ctx, arg)
	case "stop":
		if s := r.app.Speaker(); s != nil {
			s.Stop()
		}
	case "record":
		r.record(ctx)
	case "send":
		return false, r.send(ctx, "")
	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
	return false, nil
}

// send joins any dictated draft with text and sends the result.
func (r *repl) send(ctx context.Context, text string) error {
	d := r.app.Dictation()
	if d != nil {
		d.SetDraft(strings.TrimSpace(d.Draft() + " " + text))
		text = d.Take()
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	fmt.Fprintln(r.out, pendingStyle.Render(typingIndicator))
	err := r.app.Send(ctx, text)
	if errors.Is(err, chat.ErrReplyInFlight) {
		r.notify.Notify(chat.Notification{Title: "Please wait", Description: "Xoe is still replying."})
		return nil
	}
	if err != nil {
		return err
	}
	r.refresh(false)
	return nil
}

func (r *repl) toggleVoice(ctx context.Context, arg string) error {
	s := r.app.Speaker()
	if s == nil {
		r.notify.Notify(chat.Notification{
			Title:       "Voice unavailable",
			Description: "Set a TTS key and XOE_PLAYER_CMD to hear Xoe.",
			Variant:     chat.VariantDestructive,
		})
		return nil
	}
	enable := !s.Enabled()
	switch strings.ToLower(arg) {
	case "on":
		enable = true
	case "off":
		enable = false
	}
	if err := s.SetEnabled(ctx, enable); err != nil {
		return err
	}
	if enable {
		r.notify.Notify(chat.Notification{Title: "Voice mode enabled", Description: "You can now have a voice conversation with Xoe"})
	} else {
		r.notify.Notify(chat.Notification{Title: "Voice mode disabled", Description: "Voice conversation has been disabled"})
	}
	return nil
}

func (r *repl) record(ctx context.Context) {
	d := r.app.Dictation()
	if d == nil {
		d = speech.NewDictation(nil, nil)
	}
	fmt.Fprintln(r.out, dimStyle.Render("Listening..."))
	draft, err := d.Record(ctx)
	var recErr *speech.RecognitionError
	switch {
	case err == nil:
		fmt.Fprintln(r.out, dimStyle.Render("Draft: ")+draft+dimStyle.Render("  (/send to send, or keep typing)"))
	case errors.Is(err, speech.ErrUnsupported):
		r.notify.Notify(chat.Notification{
			Title:       "Speech Recognition Not Supported",
			Description: "Set XOE_RECORDER_CMD to a command that records audio to stdout.",
			Variant:     chat.VariantDestructive,
		})
	case errors.Is(err, speech.ErrBusy):
		r.notify.Notify(chat.Notification{Title: "Xoe is speaking", Description: "Use /stop before recording."})
	case errors.As(err, &recErr) && errors.Is(err, speech.ErrNoSpeech):
		r.notify.Notify(chat.Notification{Title: "Speech Recognition Error", Description: "No speech was detected", Variant: chat.VariantDestructive})
	default:
		r.notify.Notify(chat.Notification{Title: "Speech Recognition Error", Description: "Error occurred during speech recognition", Variant: chat.VariantDestructive})
	}
}

// refresh prints the messages not shown yet, or the whole session when it
// changed or full is set.
func (r *repl) refresh(full bool) {
	conv := r.app.Chat()
	if conv == nil {
		return
	}
	cur, ok := conv.CurrentSession()
	if !ok {
		return
	}
	if full || cur.ID != r.sessionID {
		r.sessionID = cur.ID
		r.shown = 0
		fmt.Fprintln(r.out, currentMarkerStyle.Render("── "+cur.Title+" ──"))
	}
	name := "You"
	if u := r.app.User(); u != nil {
		name = u.DisplayName()
	}
	r.shown = transcript(r.out, conv.Messages(), r.shown, name)
}
