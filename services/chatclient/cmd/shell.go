package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chatsync/internal/model"
)

var errQuit = errors.New("quit")

// chatEngine is the part of engine.Engine the shell drives.
type chatEngine interface {
	Send(ctx context.Context, d model.Draft) (model.OptimisticMessage, error)
	Retry(tempID string) (model.OptimisticMessage, error)
	Dismiss(tempID string) bool
	React(ctx context.Context, messageID model.ID, emoji string, add bool) error
	LoadOlder(ctx context.Context, limit int) (int, error)
	Typing() bool
}

// moderator changes server-side message state. The change comes back as a
// realtime event.
type moderator interface {
	SetPinned(ctx context.Context, messageID model.ID, pinned bool) error
	DeleteMessage(ctx context.Context, messageID model.ID) error
	RestoreMessage(ctx context.Context, messageID model.ID) error
}

type shell struct {
	eng chatEngine
	mod moderator
	out io.Writer
}

const helpText = `commands:
  /reply <id> <text>      reply to a message
  /attach <path> [text]   send a file
  /retry <temp-id>        resend a failed message
  /dismiss <temp-id>      drop a failed message
  /react <id> <emoji>     add a reaction, /unreact removes it
  /pin <id>, /unpin <id>
  /delete <id>, /restore <id>
  /older [n]              load older messages
  /typing                 tell the others you are typing
  /quit
anything else is sent as a message`

// Loop executes lines until /quit, EOF or ctx ends.
func (sh *shell) Loop(ctx context.Context, in io.Reader) error {
	lines := readLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := sh.Exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(sh.out, "error: %v\n", err)
			}
		}
	}
}

// Exec runs one input line.
func (sh *shell) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := sh.eng.Send(ctx, model.Draft{Body: line})
		return err
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	args := strings.Fields(rest)
	switch name {
	case "quit", "exit":
		return errQuit
	case "help":
		fmt.Fprintln(sh.out, helpText)
		return nil
	case "reply":
		id, text, ok := strings.Cut(strings.TrimSpace(rest), " ")
		if !ok || strings.TrimSpace(text) == "" {
			return usage("/reply <id> <text>")
		}
		_, err := sh.eng.Send(ctx, model.Draft{Body: strings.TrimSpace(text), ReplyToMessageID: model.ID(id)})
		return err
	case "attach":
		path, caption, _ := strings.Cut(strings.TrimSpace(rest), " ")
		if path == "" {
			return usage("/attach <path> [text]")
		}
		att, err := localFile(path)
		if err != nil {
			return err
		}
		_, err = sh.eng.Send(ctx, model.Draft{Body: strings.TrimSpace(caption), Attachments: []model.LocalAttachment{att}})
		return err
	case "retry":
		if len(args) != 1 {
			return usage("/retry <temp-id>")
		}
		_, err := sh.eng.Retry(args[0])
		return err
	case "dismiss":
		if len(args) != 1 {
			return usage("/dismiss <temp-id>")
		}
		if !sh.eng.Dismiss(args[0]) {
			return fmt.Errorf("%s is not a failed message", args[0])
		}
		return nil
	case "react", "unreact":
		if len(args) != 2 {
			return usage("/" + name + " <id> <emoji>")
		}
		return sh.eng.React(ctx, model.ID(args[0]), args[1], name == "react")
	case "pin", "unpin":
		if len(args) != 1 {
			return usage("/" + name + " <id>")
		}
		return sh.mod.SetPinned(ctx, model.ID(args[0]), name == "pin")
	case "delete":
		if len(args) != 1 {
			return usage("/delete <id>")
		}
		return sh.mod.DeleteMessage(ctx, model.ID(args[0]))
	case "restore":
		if len(args) != 1 {
			return usage("/restore <id>")
		}
		return sh.mod.RestoreMessage(ctx, model.ID(args[0]))
	case "older":
		limit := historyLimit
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return usage("/older [n]")
			}
			limit = n
		}
		n, err := sh.eng.LoadOlder(ctx, limit)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(sh.out, "no older messages")
		}
		return nil
	case "typing":
		sh.eng.Typing()
		return nil
	}
	return fmt.Errorf("unknown command /%s, see /help", name)
}

func usage(s string) error { return fmt.Errorf("usage: %s", s) }

func localFile(path string) (model.LocalAttachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.LocalAttachment{}, fmt.Errorf("attach: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return model.NewLocalAttachment(filepath.Base(path), mimeType, data), nil
}
