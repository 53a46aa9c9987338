package overlay

import (
	"fmt"
	"io"
	"time"
)

// statusDebounce coalesces bursts of status updates into one repaint.
const statusDebounce = 25 * time.Millisecond

type messageKind int

const (
	msgPassthrough messageKind = iota
	msgStatus
	msgResize
	msgShutdown
)

// WriterMessage is one intent for the output goroutine. The writer is the
// sole owner of the real stdout; nothing else writes it while a session
// runs.
type WriterMessage struct {
	kind   messageKind
	data   []byte
	status string
	rows   int
	cols   int
}

func Passthrough(data []byte) WriterMessage { return WriterMessage{kind: msgPassthrough, data: data} }
func StatusUpdate(row string) WriterMessage { return WriterMessage{kind: msgStatus, status: row} }
func ResizeScreen(rows, cols int) WriterMessage {
	return WriterMessage{kind: msgResize, rows: rows, cols: cols}
}

// Writer serializes all terminal output: child passthrough verbatim inside
// the scroll region, plus a reserved bottom status row repainted with
// cursor save/restore. It never emits a bare newline of its own.
type Writer struct {
	out  io.Writer
	ch   chan WriterMessage
	done chan struct{}

	rows int
	cols int

	pendingStatus string
	lastStatus    string
	statusDirty   bool
	statusAt      time.Time
}

// NewWriter starts the writer goroutine. rows/cols describe the full
// terminal; the child owns rows 1..rows-1 and the status row is row rows.
func NewWriter(out io.Writer, capacity, rows, cols int) *Writer {
	if capacity < 1 {
		capacity = 1
	}
	w := &Writer{
		out:  out,
		ch:   make(chan WriterMessage, capacity),
		done: make(chan struct{}),
		rows: rows,
		cols: cols,
	}
	go w.run()
	return w
}

// Send queues a message. Blocks when the channel is full: output
// backpressure propagates to the producer instead of dropping bytes.
func (w *Writer) Send(m WriterMessage) {
	w.ch <- m
}

// Shutdown asks the writer to flush and stop, then waits up to timeout for
// it to finish. The terminal is left usable either way.
func (w *Writer) Shutdown(timeout time.Duration) error {
	w.ch <- WriterMessage{kind: msgShutdown}
	select {
	case <-w.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("writer did not drain within %s", timeout)
	}
}

func (w *Writer) run() {
	defer close(w.done)

	w.setupScreen()

	var debounce *time.Timer
	var fire <-chan time.Time
	stopDebounce := func() {
		if debounce != nil {
			debounce.Stop()
			debounce = nil
			fire = nil
		}
	}

	for {
		select {
		case m := <-w.ch:
			switch m.kind {
			case msgPassthrough:
				w.out.Write(m.data)
			case msgStatus:
				w.pendingStatus = m.status
				w.statusDirty = true
				if debounce == nil {
					debounce = time.NewTimer(statusDebounce)
					fire = debounce.C
				}
			case msgResize:
				w.rows, w.cols = m.rows, m.cols
				w.setupScreen()
				w.paintStatus(w.lastStatus)
			case msgShutdown:
				stopDebounce()
				if w.statusDirty {
					w.paintStatus(w.pendingStatus)
				}
				w.teardownScreen()
				return
			}
		case <-fire:
			debounce = nil
			fire = nil
			if w.statusDirty {
				w.statusDirty = false
				w.lastStatus = w.pendingStatus
				w.paintStatus(w.pendingStatus)
			}
		}
	}
}

// setupScreen restricts scrolling to the child's rows so its output can
// never plow through the status row.
func (w *Writer) setupScreen() {
	if w.rows < 2 {
		return
	}
	fmt.Fprintf(w.out, "\x1b7\x1b[1;%dr\x1b8", w.rows-1)
}

// teardownScreen resets the scroll region, clears the status row, and
// parks the cursor on it so the shell prompt lands in a sane spot.
func (w *Writer) teardownScreen() {
	fmt.Fprintf(w.out, "\x1b[r\x1b[%d;1H\x1b[2K", w.rows)
}

// paintStatus repaints the reserved row without disturbing the cursor.
func (w *Writer) paintStatus(content string) {
	fmt.Fprintf(w.out, "\x1b7\x1b[%d;1H\x1b[2K%s\x1b8", w.rows, content)
}
