package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/VINIA6/CHATAI/internal/auth"
	"github.com/VINIA6/CHATAI/internal/backend"
	"github.com/VINIA6/CHATAI/internal/chat"
	"github.com/peterh/liner"
	"github.com/sirupsen/logrus"
)

const (
	historyFile   = ".chatai_history"
	loginAttempts = 3
)

var errQuit = errors.New("quit")

const helpText = `Commands:
  /talks              list saved conversations
  /open N             open conversation N
  /new                start a new conversation
  /rename N NAME      rename conversation N
  /delete N           delete conversation N
  /regen              regenerate the last answer
  /export FILE        write the conversation as JSON
  /login, /logout     switch account
  /help               show this help
  /quit               exit
`

type app struct {
	svc          *chat.Service
	sessions     *auth.Manager
	client       auth.LoginClient
	unauthorized <-chan struct{}
	log          logrus.FieldLogger

	line        *liner.State
	historyPath string
	out         io.Writer
	render      func(string) string
}

func newApp(svc *chat.Service, sessions *auth.Manager, client auth.LoginClient, unauthorized <-chan struct{}, log logrus.FieldLogger) *app {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	a := &app{
		svc:          svc,
		sessions:     sessions,
		client:       client,
		unauthorized: unauthorized,
		log:          log,
		line:         line,
		out:          os.Stdout,
		render:       newRenderer(),
	}
	if home, err := os.UserHomeDir(); err == nil {
		a.historyPath = filepath.Join(home, historyFile)
		if f, err := os.Open(a.historyPath); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	return a
}

// Close saves the prompt history and restores the terminal. It is safe to
// call more than once.
func (a *app) Close() {
	if a.line == nil {
		return
	}
	if a.historyPath != "" {
		if f, err := os.OpenFile(a.historyPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600); err == nil {
			_, _ = a.line.WriteHistory(f)
			f.Close()
		}
	}
	a.line.Close()
	a.line = nil
}

func (a *app) Run(ctx context.Context, email string) error {
	if err := a.ensureLogin(ctx, email); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Mode: %s. Type /help for commands.\n", a.svc.Mode())
	a.showTalks(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if a.sessionLost() {
			fmt.Fprintln(a.out, "Your session has expired. Please log in again.")
			a.svc.Reset()
			if err := a.ensureLogin(ctx, ""); err != nil {
				return err
			}
		}

		input, err := a.line.Prompt(a.prompt())
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		a.line.AppendHistory(input)

		cmd, ok := parseCommand(input)
		if !ok {
			a.exchange(ctx, func(ctx context.Context) error { return a.svc.Send(ctx, input) })
			continue
		}
		if err := a.dispatch(ctx, cmd); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintln(a.out, "Error:", describe(err))
		}
	}
}

func (a *app) prompt() string {
	st := a.svc.Snapshot()
	if st.TalkName != "" {
		return fmt.Sprintf("[%s] > ", st.TalkName)
	}
	return "> "
}

func (a *app) sessionLost() bool {
	select {
	case <-a.unauthorized:
		return true
	default:
		return false
	}
}

func (a *app) dispatch(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "help", "?":
		fmt.Fprint(a.out, helpText)
	case "quit", "exit", "q":
		return errQuit
	case "new":
		a.svc.NewChat()
		fmt.Fprintln(a.out, "Started a new conversation.")
	case "talks":
		a.showTalks(ctx)
	case "open":
		t, err := a.talkAt(cmd.arg(0))
		if err != nil {
			return err
		}
		if err := a.svc.SelectTalk(ctx, t.ID); err != nil {
			return err
		}
		a.showConversation()
	case "rename":
		t, err := a.talkAt(cmd.arg(0))
		if err != nil {
			return err
		}
		name := cmd.rest(1)
		if name == "" {
			return errors.New("usage: /rename N NAME")
		}
		if err := a.svc.RenameTalk(ctx, t.ID, name); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Renamed to %q.\n", name)
	case "delete":
		t, err := a.talkAt(cmd.arg(0))
		if err != nil {
			return err
		}
		if err := a.svc.DeleteTalk(ctx, t.ID); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Deleted %q.\n", t.Name)
	case "regen":
		idx := a.svc.LastBotIndex()
		if idx < 0 {
			return chat.ErrCannotRegenerate
		}
		a.exchange(ctx, func(ctx context.Context) error { return a.svc.Regenerate(ctx, idx) })
	case "export":
		path := cmd.rest(0)
		if path == "" {
			return errors.New("usage: /export FILE")
		}
		return a.export(path)
	case "login":
		a.svc.Reset()
		return a.login(ctx, cmd.arg(0))
	case "logout":
		if err := a.sessions.Logout(ctx); err != nil {
			return err
		}
		a.svc.Reset()
		fmt.Fprintln(a.out, "Logged out.")
		return a.login(ctx, "")
	default:
		return fmt.Errorf("unknown command /%s, type /help", cmd.name)
	}
	return nil
}

// exchange runs one send and prints the reply. In stream mode content is
// printed as it arrives.
func (a *app) exchange(ctx context.Context, send func(context.Context) error) {
	updates, cancel := a.svc.Subscribe()
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- send(ctx) }()

	streaming := a.svc.Mode() == chat.ModeStream
	var printed string
	if !streaming {
		fmt.Fprintln(a.out, "...")
	}
	for {
		select {
		case st := <-updates:
			if !streaming {
				continue
			}
			if delta, ok := streamDelta(printed, st); ok {
				fmt.Fprint(a.out, delta)
				printed += delta
			}
		case err := <-done:
			// Drain whatever arrived between the last update and completion.
			st := a.svc.Snapshot()
			if streaming {
				if delta, ok := streamDelta(printed, st); ok {
					fmt.Fprint(a.out, delta)
					printed += delta
				}
				if printed != "" {
					fmt.Fprintln(a.out)
				}
				a.printReplies(st, printed != "")
			} else {
				a.printReplies(st, false)
			}
			if err != nil {
				fmt.Fprintln(a.out, "Error:", describe(err))
			}
			return
		}
	}
}

// printReplies renders the bot messages after the last user message.
// Streamed content that was already printed is skipped.
func (a *app) printReplies(st chat.State, skipStreamed bool) {
	for i, m := range replyAfterLastUser(st.Messages) {
		if i == 0 && skipStreamed && !m.IsError {
			continue
		}
		fmt.Fprint(a.out, a.render(m.Content))
	}
}

func (a *app) showTalks(ctx context.Context) {
	talks, err := a.svc.ListTalks(ctx)
	if err != nil {
		fmt.Fprintln(a.out, "Could not load conversations:", describe(err))
		cached, cerr := a.svc.CachedTalks(ctx)
		if cerr != nil || len(cached) == 0 {
			return
		}
		fmt.Fprintln(a.out, "Showing cached list:")
		talks = cached
	}
	fmt.Fprint(a.out, formatTalks(talks, time.Now()))
}

func (a *app) showConversation() {
	st := a.svc.Snapshot()
	fmt.Fprintf(a.out, "== %s ==\n", st.TalkName)
	for _, m := range st.Messages {
		if m.IsTyping {
			continue
		}
		if m.Type == chat.TypeUser {
			fmt.Fprintf(a.out, "you> %s\n", m.Content)
			continue
		}
		fmt.Fprint(a.out, a.render(m.Content))
	}
}

func (a *app) talkAt(arg string) (chat.Talk, error) {
	return talkByNumber(a.svc.Talks(), arg)
}

func (a *app) export(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := a.svc.Export(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Exported to %s.\n", path)
	return nil
}

func (a *app) ensureLogin(ctx context.Context, email string) error {
	sess, err := a.sessions.Current(ctx)
	if err == nil {
		fmt.Fprintf(a.out, "Logged in as %s.\n", sess.User.Name)
		return nil
	}
	if !errors.Is(err, auth.ErrNoSession) {
		a.log.WithError(err).Warn("load session")
	}
	return a.login(ctx, email)
}

func (a *app) login(ctx context.Context, email string) error {
	for i := 0; i < loginAttempts; i++ {
		var err error
		if email == "" {
			if email, err = a.line.Prompt("Email: "); err != nil {
				return err
			}
		}
		password, err := a.line.PasswordPrompt("Password: ")
		if err != nil {
			return err
		}

		sess, err := a.sessions.Login(ctx, a.client, email, password)
		if err == nil {
			fmt.Fprintf(a.out, "Welcome, %s (%s).\n", sess.User.Name, sess.User.Role)
			return nil
		}
		var verr *auth.ValidationError
		switch {
		case errors.As(err, &verr):
			fmt.Fprintln(a.out, verr.Message)
			if verr.Field == "email" {
				email = ""
			}
		case errors.Is(err, backend.ErrInvalidCredentials):
			fmt.Fprintln(a.out, "Invalid email or password.")
		default:
			fmt.Fprintln(a.out, describe(err))
		}
	}
	return errors.New("login failed")
}

// command is a slash command typed at the prompt.
type command struct {
	name string
	args []string
}

func parseCommand(input string) (command, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || len(input) == 1 {
		return command{}, false
	}
	fields := strings.Fields(input[1:])
	return command{name: strings.ToLower(fields[0]), args: fields[1:]}, true
}

func (c command) arg(i int) string {
	if i < len(c.args) {
		return c.args[i]
	}
	return ""
}

// rest joins the arguments from i on.
func (c command) rest(i int) string {
	if i >= len(c.args) {
		return ""
	}
	return strings.Join(c.args[i:], " ")
}

// talkByNumber resolves a 1-based position in the listed talks.
func talkByNumber(talks []chat.Talk, arg string) (chat.Talk, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return chat.Talk{}, fmt.Errorf("expected a conversation number, got %q", arg)
	}
	if n < 1 || n > len(talks) {
		return chat.Talk{}, fmt.Errorf("no conversation %d, /talks lists %d", n, len(talks))
	}
	return talks[n-1], nil
}

// replyAfterLastUser returns the finished bot messages that follow the last
// user message.
func replyAfterLastUser(msgs []chat.Message) []chat.Message {
	start := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == chat.TypeUser {
			start = i + 1
			break
		}
	}
	var out []chat.Message
	for _, m := range msgs[start:] {
		if m.Type == chat.TypeBot && !m.IsTyping {
			out = append(out, m)
		}
	}
	return out
}

// streamDelta returns the part of the streaming reply not yet printed.
func streamDelta(printed string, st chat.State) (string, bool) {
	var content string
	if m, ok := st.Typing(); ok {
		content = m.Content
	} else if r := replyAfterLastUser(st.Messages); len(r) > 0 && !r[0].IsError {
		content = r[0].Content
	}
	if len(content) <= len(printed) || !strings.HasPrefix(content, printed) {
		return "", false
	}
	return content[len(printed):], true
}

func describe(err error) string {
	var be *backend.Error
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
