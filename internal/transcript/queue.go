// Package transcript holds completed voice transcripts that are waiting for
// the wrapped CLI to become ready for input.
package transcript

import (
	"strings"
	"time"
)

// DefaultCapacity is the queue bound used when config does not override it.
const DefaultCapacity = 5

// SendMode controls how a transcript is injected into the PTY.
type SendMode int

const (
	// SendAuto injects the text followed by a newline so the CLI submits it.
	SendAuto SendMode = iota
	// SendInsert injects the text only; the user presses Enter themselves.
	SendInsert
)

// String returns the config spelling of the mode.
func (m SendMode) String() string {
	if m == SendInsert {
		return "insert"
	}
	return "auto"
}

// ParseSendMode parses the config spelling of a send mode.
func ParseSendMode(s string) (SendMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return SendAuto, true
	case "insert":
		return SendInsert, true
	}
	return SendAuto, false
}

// Pending is one transcript awaiting injection.
type Pending struct {
	Text      string
	Mode      SendMode
	CreatedAt time.Time
}

// Queue is a bounded FIFO of pending transcripts with a drop-oldest overflow
// policy. It is owned by the orchestrator goroutine and is not safe for
// concurrent use.
type Queue struct {
	entries  []Pending
	capacity int
	dropped  int
}

// NewQueue creates a queue with the given capacity (DefaultCapacity if <= 0).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity}
}

// Enqueue adds a transcript. If the newest queued entry has the same send
// mode, the text is merged into it instead of growing the queue. On overflow
// the oldest entry is discarded; the return value reports whether that
// happened so the caller can surface a status message.
func (q *Queue) Enqueue(p Pending) (dropped bool) {
	p.Text = strings.TrimSpace(p.Text)
	if p.Text == "" {
		return false
	}
	if n := len(q.entries); n > 0 && q.entries[n-1].Mode == p.Mode {
		q.entries[n-1].Text += " " + p.Text
		return false
	}
	if len(q.entries) >= q.capacity {
		q.entries = q.entries[1:]
		q.dropped++
		dropped = true
	}
	q.entries = append(q.entries, p)
	return dropped
}

// Dequeue removes and returns the oldest pending transcript.
func (q *Queue) Dequeue() (Pending, bool) {
	if len(q.entries) == 0 {
		return Pending{}, false
	}
	p := q.entries[0]
	q.entries = q.entries[1:]
	return p, true
}

// Peek returns the oldest entry without removing it.
func (q *Queue) Peek() (Pending, bool) {
	if len(q.entries) == 0 {
		return Pending{}, false
	}
	return q.entries[0], true
}

// Len returns the number of pending transcripts.
func (q *Queue) Len() int { return len(q.entries) }

// Dropped returns how many transcripts have been discarded by overflow.
func (q *Queue) Dropped() int { return q.dropped }
