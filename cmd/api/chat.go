package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zhouzirui/novachat/backend/internal/model/chat"
	"github.com/zhouzirui/novachat/backend/internal/model/tier"
	chatService "github.com/zhouzirui/novachat/backend/internal/service/chat"
	"github.com/zhouzirui/novachat/backend/internal/service/conversation"
	"github.com/zhouzirui/novachat/backend/internal/service/transcript"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat from the terminal",
	Long: `Start an interactive session. Lines are sent to the model; commands:

  /new              start a new chat
  /list             list chats
  /select <id>      switch to a chat
  /delete <id>      delete a chat
  /model <tier>     switch model (fast or reasoning)
  /quit             exit`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	logOutput := io.Discard
	if verbose {
		logOutput = os.Stderr
	}
	a, err := bootstrap(logOutput)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return fmt.Errorf("create markdown renderer: %w", err)
	}

	r := &repl{
		ctrl:   a.ctrl,
		store:  a.store,
		out:    cmd.OutOrStdout(),
		render: renderer.Render,
		width:  80,
	}
	if f, ok := r.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.live = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			r.width = w
		}
	}
	return r.run(cmd.Context(), cmd.InOrStdin())
}

type repl struct {
	ctrl   *conversation.Controller
	store  *chatService.Store
	out    io.Writer
	render func(string) (string, error)

	// live echoes fragments while they stream; the echo is erased before the
	// rendered reply is printed. Only set when out is a terminal.
	live  bool
	width int
}

var errQuit = errors.New("quit")

func (r *repl) run(ctx context.Context, in io.Reader) error {
	r.printf("NovaChat (%s). Type /quit to exit.\n", r.ctrl.TierSpec().Name)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		r.printf("> ")
		if !scanner.Scan() {
			r.printf("\n")
			return scanner.Err()
		}
		if err := r.handle(ctx, scanner.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			r.printf("error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		r.send(ctx, line)
		return nil
	}

	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/quit", "/exit":
		return errQuit
	case "/new":
		r.ctrl.NewChat()
		r.printf("started a new chat\n")
	case "/list":
		r.list()
	case "/select":
		if err := r.ctrl.SelectSession(arg); err != nil {
			return err
		}
		r.printf("switched to %q\n", r.currentTitle())
	case "/delete":
		if err := r.ctrl.DeleteSession(arg); err != nil {
			return err
		}
		r.printf("deleted; current chat is %q\n", r.currentTitle())
	case "/model":
		selected, err := tier.Parse(arg)
		if err != nil {
			return err
		}
		if err := r.ctrl.SelectTier(selected); err != nil {
			return err
		}
		r.printf("model: %s\n", r.ctrl.TierSpec().Name)
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
	return nil
}

func (r *repl) list() {
	for _, s := range transcript.Sidebar(r.store.List(), r.store.CurrentID()) {
		marker := " "
		if s.Current {
			marker = "*"
		}
		r.printf("%s %s  %s (%d)\n", marker, s.ID, s.Title, s.MessageCount)
	}
}

// send runs one turn and prints the finalized reply rendered as markdown.
// In live mode fragments are echoed as the store changes and erased once the
// turn ends.
func (r *repl) send(ctx context.Context, text string) {
	events, unsubscribe := r.store.Subscribe()
	defer unsubscribe()

	turn, ok := r.ctrl.Begin(text)
	if !ok {
		return
	}

	done := make(chan conversation.Result, 1)
	go func() {
		done <- turn.Run(ctx)
	}()

	label := r.ctrl.TierSpec().Label + ":"
	shown := ""
	if r.live {
		r.printf("%s ", label)
	}
	echo := func() {
		if !r.live {
			return
		}
		reply, ok := r.reply(turn.SessionID)
		if !ok || !reply.Streaming || len(reply.Content) <= len(shown) {
			return
		}
		r.printf("%s", reply.Content[len(shown):])
		shown = reply.Content
	}

	for {
		select {
		case ev := <-events:
			if ev.SessionID == turn.SessionID && ev.Kind == chatService.EventUpdated {
				echo()
			}
		case res := <-done:
			if r.live {
				r.erase(label + " " + shown)
			}
			r.printf("%s\n", label)
			if res.State == conversation.StateFailed {
				r.printf("%s\n", res.Content)
				return
			}
			rendered, err := r.render(res.Content)
			if err != nil {
				rendered = res.Content + "\n"
			}
			r.printf("%s", rendered)
			return
		}
	}
}

// erase moves the cursor back over text, which was printed from the start of
// a line, and clears everything below it.
func (r *repl) erase(text string) {
	if rows := echoRows(text, r.width); rows > 1 {
		r.printf("\r\x1b[%dA\x1b[J", rows-1)
		return
	}
	r.printf("\r\x1b[J")
}

// echoRows counts the terminal rows text occupies at the given width.
func echoRows(text string, width int) int {
	if width <= 0 {
		width = 80
	}
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		n := (runewidth.StringWidth(line) + width - 1) / width
		rows += max(n, 1)
	}
	return rows
}

func (r *repl) reply(sessionID string) (chat.Message, bool) {
	session, ok := r.store.GetSession(sessionID)
	if !ok || len(session.Messages) == 0 {
		return chat.Message{}, false
	}
	last := session.Messages[len(session.Messages)-1]
	return last, last.Role == chat.RoleModel
}

func (r *repl) currentTitle() string {
	session, ok := r.store.Current()
	if !ok || session.Title == "" {
		return chat.DefaultTitle
	}
	return session.Title
}

func (r *repl) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}
