// Package ui holds the terminal renditions of the notification and
// confirmation surfaces records talk to.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"recordsync/internal/client/entity"
)

// DefaultNotifyOptions is the style used when a write passes none.
var DefaultNotifyOptions = entity.NotifyOptions{
	Layout:  "topRight",
	Timeout: 3 * time.Second,
}

// Notifier prints notifications through a logger. It is the terminal
// stand-in for a toast.
type Notifier struct {
	logger *log.Logger
}

func NewNotifier(logger *log.Logger) *Notifier {
	return &Notifier{logger: logger}
}

func (n *Notifier) Notify(status entity.Status, action entity.Action, opts *entity.NotifyOptions) {
	if n.logger == nil {
		return
	}
	o := DefaultNotifyOptions
	if opts != nil {
		o = *opts
	}
	text, typ := o.Text, o.Type
	if text == "" {
		text = defaultText(status, action)
	}
	if typ == "" {
		typ = "success"
		if status != entity.StatusSuccess {
			typ = "error"
		}
	}
	n.logger.Printf("[%s] %s", typ, text)
}

func defaultText(status entity.Status, action entity.Action) string {
	switch {
	case action == entity.ActionSave && status == entity.StatusSuccess:
		return "Saved successfully"
	case action == entity.ActionSave:
		return "Save failed"
	case action == entity.ActionDelete && status == entity.StatusSuccess:
		return "Deleted successfully"
	default:
		return "Delete failed"
	}
}

// Confirmer asks on out and reads the answer from in. Only an explicit
// "y" or "yes" confirms.
type Confirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func NewConfirmer(in io.Reader, out io.Writer) *Confirmer {
	return &Confirmer{in: bufio.NewReader(in), out: out}
}

func (c *Confirmer) Confirm(ctx context.Context, prompt string) bool {
	if ctx.Err() != nil {
		return false
	}
	fmt.Fprintf(c.out, "%s [y/N]: ", prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
