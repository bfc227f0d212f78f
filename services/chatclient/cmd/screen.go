package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chatsync/internal/engine"
	"github.com/chatsync/internal/model"
)

// viewer marks rows as seen once they are printed.
type viewer interface {
	MarkVisible(ids ...model.ID) int
}

// screen prints the tail of the merged view. Engine callbacks only store the
// latest change; printing happens on the Run goroutine.
type screen struct {
	out  io.Writer
	self model.ID
	tail int

	mu      sync.Mutex
	latest  *engine.Change
	changed chan struct{}
}

func newScreen(out io.Writer, self model.ID, tail int) *screen {
	if tail <= 0 {
		tail = 20
	}
	return &screen{out: out, self: self, tail: tail, changed: make(chan struct{}, 1)}
}

func (s *screen) Update(c engine.Change) {
	s.mu.Lock()
	s.latest = &c
	s.mu.Unlock()
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *screen) Typing(_ model.ID, userName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "  %s is typing...\n", userName)
}

// Run prints every change until ctx ends.
func (s *screen) Run(ctx context.Context, v viewer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.changed:
			s.flush(v)
		}
	}
}

func (s *screen) flush(v viewer) {
	s.mu.Lock()
	c := s.latest
	s.latest = nil
	if c == nil {
		s.mu.Unlock()
		return
	}
	rows := c.View
	if len(rows) > s.tail {
		rows = rows[len(rows)-s.tail:]
	}
	fmt.Fprintf(s.out, "--- %s ---\n", c.Conversation)
	var seen []model.ID
	for i := range rows {
		fmt.Fprintln(s.out, formatRow(&rows[i], s.self))
		if !rows[i].IsOptimistic() {
			seen = append(seen, rows[i].ID)
		}
	}
	s.mu.Unlock()
	if len(seen) > 0 && v != nil {
		v.MarkVisible(seen...)
	}
}

// formatRow renders one row, e.g. "#12 10:04 Ann: hi [+1 x2] read".
func formatRow(d *model.DisplayMessage, self model.ID) string {
	var b strings.Builder
	if d.IsOptimistic() {
		fmt.Fprintf(&b, "~%s", d.TempID)
	} else {
		fmt.Fprintf(&b, "#%s", d.ID)
	}
	if !d.CreatedAt.IsZero() {
		fmt.Fprintf(&b, " %s", d.CreatedAt.Local().Format("15:04"))
	}
	name := d.SenderName
	if name == "" {
		name = d.SenderID.String()
	}
	fmt.Fprintf(&b, " %s:", name)
	if d.IsPinned {
		b.WriteString(" [pinned]")
	}
	if d.ReplyToMessageID != nil {
		fmt.Fprintf(&b, " (re #%s)", *d.ReplyToMessageID)
	}

	if d.IsDeleted() {
		b.WriteString(" [deleted]")
		return b.String()
	}
	if d.Body != "" {
		fmt.Fprintf(&b, " %s", d.Body)
	}
	for _, a := range d.Attachments {
		if a.DeletedAt != nil {
			continue
		}
		fmt.Fprintf(&b, " <%s", a.FileName)
		if a.ID != "" {
			fmt.Fprintf(&b, " #%s", a.ID)
		}
		b.WriteString(">")
	}
	if r := reactionSummary(d.Reactions); r != "" {
		fmt.Fprintf(&b, " [%s]", r)
	}

	switch d.Status {
	case model.StatusPending:
		b.WriteString(" sending...")
	case model.StatusSent:
		b.WriteString(" sent")
	case model.StatusFailed:
		fmt.Fprintf(&b, " FAILED (/retry %s or /dismiss %s)", d.TempID, d.TempID)
	default:
		if d.SenderID == self && readByOthers(&d.Message, self) {
			b.WriteString(" read")
		}
	}
	return b.String()
}

// reactionSummary counts reactions per emoji in first-seen order.
func reactionSummary(rs []model.Reaction) string {
	if len(rs) == 0 {
		return ""
	}
	counts := make(map[string]int, len(rs))
	var order []string
	for _, r := range rs {
		if counts[r.Emoji] == 0 {
			order = append(order, r.Emoji)
		}
		counts[r.Emoji]++
	}
	parts := make([]string, 0, len(order))
	for _, e := range order {
		if counts[e] == 1 {
			parts = append(parts, e)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s x%d", e, counts[e]))
	}
	return strings.Join(parts, " ")
}

func readByOthers(m *model.Message, self model.ID) bool {
	for _, r := range m.Reads {
		if r.UserID != self {
			return true
		}
	}
	return false
}
